package planner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-export/internal/domain"
	"trade-export/internal/planner"
	"trade-export/internal/tradestore"
)

func openStore(t *testing.T, tz string, trades []domain.Trade) *tradestore.Store {
	t.Helper()
	s, err := tradestore.Open(context.Background(), tradestore.Config{TimeZone: tz}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Insert(context.Background(), trades))
	return s
}

type bucketRow struct {
	bucket   int64
	sum, avg float64
}

func runAggregate(t *testing.T, s *tradestore.Store, p *planner.Plan) []bucketRow {
	t.Helper()
	rows, err := s.QueryContext(context.Background(), p.SQL, p.Args...)
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck

	var out []bucketRow
	for rows.Next() {
		var r bucketRow
		require.NoError(t, rows.Scan(&r.bucket, &r.sum, &r.avg))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestAggregate_HourBucketsUTC(t *testing.T) {
	base := time.Date(2021, 6, 1, 14, 0, 0, 0, time.UTC)
	s := openStore(t, "UTC", []domain.Trade{
		{Ticker: "A", Exchange: 12, ParticipantTimestamp: base.Add(5 * time.Minute).UnixNano(), Price: 10, Size: 1},
		{Ticker: "A", Exchange: 12, ParticipantTimestamp: base.Add(55 * time.Minute).UnixNano(), Price: 20, Size: 3},
		{Ticker: "A", Exchange: 12, ParticipantTimestamp: base.Add(65 * time.Minute).UnixNano(), Price: 7, Size: 1},
	})

	p, err := planner.Build(domain.QuerySpec{
		Operations:  []domain.Operation{{Expression: "PRICE * SIZE"}},
		AggregateBy: domain.GranularityHour,
	}, planner.Options{})
	require.NoError(t, err)

	got := runAggregate(t, s, p)
	require.Len(t, got, 2)
	assert.Equal(t, base.UnixNano(), got[0].bucket)
	assert.InDelta(t, 70.0, got[0].sum, 1e-9)
	assert.InDelta(t, 17.5, got[0].avg, 1e-9)
	assert.Equal(t, base.Add(time.Hour).UnixNano(), got[1].bucket)
	assert.InDelta(t, 7.0, got[1].sum, 1e-9)
}

func TestAggregate_PreEpochBucketsFloor(t *testing.T) {
	base := time.Date(1969, 12, 31, 23, 0, 0, 0, time.UTC)
	s := openStore(t, "UTC", []domain.Trade{
		{Ticker: "A", Exchange: 12, ParticipantTimestamp: base.Add(30 * time.Minute).UnixNano(), Price: 10, Size: 1},
		{Ticker: "A", Exchange: 12, ParticipantTimestamp: base.Add(90 * time.Minute).UnixNano(), Price: 7, Size: 1},
	})

	p, err := planner.Build(domain.QuerySpec{
		Operations:  []domain.Operation{{Expression: "PRICE"}},
		AggregateBy: domain.GranularityHour,
	}, planner.Options{})
	require.NoError(t, err)

	got := runAggregate(t, s, p)
	require.Len(t, got, 2)
	assert.Equal(t, base.UnixNano(), got[0].bucket)
	assert.Equal(t, base.Add(time.Hour).UnixNano(), got[1].bucket)
	for _, r := range got {
		assert.Equal(t, planner.TruncateLocal(r.bucket, domain.GranularityHour, time.UTC), r.bucket)
	}
}

func TestAggregate_DayBucketsFollowLocalCalendar(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 23:30 local on the 1st is already the 2nd in UTC.
	late := time.Date(2021, 6, 1, 23, 30, 0, 0, ny)
	early := time.Date(2021, 6, 1, 0, 30, 0, 0, ny)
	s := openStore(t, "America/New_York", []domain.Trade{
		{Ticker: "A", Exchange: 12, ParticipantTimestamp: early.UnixNano(), Price: 1, Size: 1},
		{Ticker: "A", Exchange: 12, ParticipantTimestamp: late.UnixNano(), Price: 2, Size: 1},
	})

	p, err := planner.Build(domain.QuerySpec{
		Operations:  []domain.Operation{{Expression: "PRICE"}},
		AggregateBy: domain.GranularityDay,
	}, planner.Options{Location: ny})
	require.NoError(t, err)

	got := runAggregate(t, s, p)
	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2021, 6, 1, 0, 0, 0, 0, ny).UnixNano(), got[0].bucket)
	assert.InDelta(t, 3.0, got[0].sum, 1e-9)
}

func TestRowPlan_Filters(t *testing.T) {
	day := time.Date(2020, 12, 8, 12, 0, 0, 0, time.UTC)
	var trades []domain.Trade
	for i := 0; i < 25; i++ {
		trades = append(trades, domain.Trade{
			Ticker:               "T",
			Exchange:             []int{2, 12, 17}[i%3],
			ParticipantTimestamp: day.Add(time.Duration(i) * time.Second).UnixNano(),
			Price:                float64(i),
			Size:                 int64(i * 10),
		})
	}
	trades = append(trades, domain.Trade{Ticker: "T", Exchange: 12, ParticipantTimestamp: day.AddDate(0, 0, 1).UnixNano(), Price: 1, Size: 1})
	s := openStore(t, "UTC", trades)

	p, err := planner.Build(domain.QuerySpec{
		Exchanges: []string{"Nasdaq"},
		DateLow:   "2020-12-08",
		DateHigh:  "2020-12-08",
		SortBy:    domain.SortPriceAsc,
	}, planner.Options{})
	require.NoError(t, err)

	rows, err := s.QueryContext(context.Background(), p.SQL, p.Args...)
	require.NoError(t, err)
	var prices []float64
	for rows.Next() {
		var (
			ticker string
			exch   int
			ts     int64
			price  float64
			size   int64
			delT   *int64
			delP   *float64
		)
		require.NoError(t, rows.Scan(&ticker, &exch, &ts, &price, &size, &delT, &delP))
		assert.Equal(t, 12, exch)
		prices = append(prices, price)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())

	// Exchange 12 rows are i = 1, 4, 7, ..., 22 on the 8th; the row on the 9th is excluded.
	assert.Equal(t, []float64{1, 4, 7, 10, 13, 16, 19, 22}, prices)
}
