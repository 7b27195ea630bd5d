package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-export/internal/domain"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func TestBuild_RowLevel(t *testing.T) {
	t.Parallel()

	p, err := Build(domain.QuerySpec{
		Exchanges:  []string{"Nasdaq", "Nasdaq OMX BX, Inc.", "Unknown"},
		PriceLow:   f64(1.5),
		SizeHigh:   i64(500),
		DateLow:    "2020-12-08",
		Operations: []domain.Operation{{Expression: "PRICE * SIZE"}, {Expression: "PRICE;"}},
		SortBy:     domain.SortSizeAsc,
	}, Options{PageSize: 10})
	require.NoError(t, err)

	assert.Equal(t, ModeRows, p.Mode)
	assert.Equal(t, []int{2, 12}, p.ExchangeIDs)
	assert.Equal(t, []string{"Unknown"}, p.UnknownExchanges)
	assert.Equal(t,
		"SELECT ticker, exchange, participant_timestamp, price, trade_size, del_t, del_p, "+
			"CAST(((price * CAST(trade_size AS FLOAT8))) AS FLOAT8) AS calc_0 "+
			`FROM "trades" WHERE exchange IN (?, ?) AND price >= ? AND trade_size <= ? AND participant_timestamp >= ? `+
			"ORDER BY trade_size ASC, participant_timestamp DESC, ticker, exchange, price, del_t, del_p",
		p.SQL)

	low := time.Date(2020, 12, 8, 0, 0, 0, 0, time.UTC).UnixNano()
	assert.Equal(t, []any{2, 12, 1.5, int64(500), low}, p.Args)

	assert.Equal(t, 10, p.PageSize)
	assert.NotContains(t, p.SQL, "LIMIT")

	require.Len(t, p.Operations, 2)
	assert.True(t, p.Operations[0].HasFragment())
	assert.False(t, p.Operations[1].HasFragment())
}

func TestBuild_DefaultSortAndNoFilters(t *testing.T) {
	t.Parallel()

	p, err := Build(domain.QuerySpec{}, Options{})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT ticker, exchange, participant_timestamp, price, trade_size, del_t, del_p FROM "trades" `+
			"ORDER BY participant_timestamp DESC, ticker, exchange, price, trade_size, del_t, del_p",
		p.SQL)
	assert.Empty(t, p.Args)
	assert.Equal(t, DefaultPageSize, p.PageSize)
}

func TestBuild_PostgresPlaceholders(t *testing.T) {
	t.Parallel()

	p, err := Build(domain.QuerySpec{
		PriceLow:  f64(1),
		PriceHigh: f64(2),
	}, Options{Dialect: Postgres, Table: "trades"})
	require.NoError(t, err)
	assert.Contains(t, p.SQL, "WHERE price >= $1 AND price <= $2")
}

func TestBuild_Aggregated(t *testing.T) {
	t.Parallel()

	p, err := Build(domain.QuerySpec{
		Operations:  []domain.Operation{{Expression: "PRICE"}, {Expression: "bad!"}},
		AggregateBy: domain.GranularityHour,
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, ModeAggregated, p.Mode)
	assert.Equal(t, domain.GranularityHour, p.Granularity)
	assert.Equal(t,
		"SELECT (participant_timestamp - (((participant_timestamp % 3600000000000) + 3600000000000) % 3600000000000)) AS time_bucket, "+
			"CAST(SUM(price) AS FLOAT8) AS calc_0_sum, "+
			"CAST(SUM(price) AS FLOAT8) / NULLIF(CAST(SUM(trade_size) AS FLOAT8), 0) AS calc_0_avg, "+
			"CAST(0 AS FLOAT8) AS calc_1_sum, CAST(0 AS FLOAT8) AS calc_1_avg "+
			`FROM "trades" GROUP BY 1 ORDER BY 1`,
		p.SQL)
}

func TestBuild_AggregationNeedsOperations(t *testing.T) {
	t.Parallel()

	p, err := Build(domain.QuerySpec{AggregateBy: domain.GranularityDay}, Options{})
	require.NoError(t, err)
	assert.Equal(t, ModeRows, p.Mode)
}

func TestBuild_OnlyUnknownExchangesAppliesNoFilter(t *testing.T) {
	t.Parallel()

	p, err := Build(domain.QuerySpec{Exchanges: []string{"NYSE", "Atlantis"}}, Options{})
	require.NoError(t, err)
	assert.Empty(t, p.ExchangeIDs)
	assert.Equal(t, []string{"Atlantis", "NYSE"}, p.UnknownExchanges)
	assert.NotContains(t, p.SQL, "exchange IN")
	assert.Empty(t, p.Args)
}

func TestBuild_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec domain.QuerySpec
		opts Options
	}{
		{"bad date", domain.QuerySpec{DateLow: "12/08/2020"}, Options{}},
		{"bad high date", domain.QuerySpec{DateHigh: "2020-13-01"}, Options{}},
		{"bad sort", domain.QuerySpec{SortBy: "random"}, Options{}},
		{"bad granularity", domain.QuerySpec{AggregateBy: "week", Operations: []domain.Operation{{Expression: "PRICE"}}}, Options{}},
		{"empty expression", domain.QuerySpec{Operations: []domain.Operation{{Expression: " "}}}, Options{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Build(tc.spec, tc.opts)
			require.Error(t, err)
			var ve *domain.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}

	_, err := Build(domain.QuerySpec{}, Options{Table: "trades; drop"})
	require.Error(t, err)
}

func TestDateRange(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	low, high, err := DateRange("2020-12-08", "2020-12-08", ny)
	require.NoError(t, err)
	require.NotNil(t, low)
	require.NotNil(t, high)

	assert.Equal(t, time.Date(2020, 12, 8, 0, 0, 0, 0, ny).UnixNano(), *low)
	assert.Equal(t, time.Date(2020, 12, 8, 23, 59, 59, 999999000, ny).UnixNano(), *high)
	assert.Equal(t, int64(24*time.Hour-time.Microsecond), *high-*low)

	low, high, err = DateRange("", "", nil)
	require.NoError(t, err)
	assert.Nil(t, low)
	assert.Nil(t, high)
}

func TestTimeBucket(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		g       domain.Granularity
		loc     *time.Location
		dialect Dialect
		want    string
	}{
		{domain.GranularityNanosecond, nil, DuckDB, "participant_timestamp"},
		{domain.GranularityMillisecond, nil, DuckDB, "(participant_timestamp - (((participant_timestamp % 1000000) + 1000000) % 1000000))"},
		{domain.GranularitySecond, ny, Postgres, "(participant_timestamp - (((participant_timestamp % 1000000000) + 1000000000) % 1000000000))"},
		{domain.GranularityMinute, ny, DuckDB, "(participant_timestamp - (((participant_timestamp % 60000000000) + 60000000000) % 60000000000))"},
		{domain.GranularityDay, time.UTC, DuckDB, "(participant_timestamp - (((participant_timestamp % 86400000000000) + 86400000000000) % 86400000000000))"},
		{domain.GranularityDay, ny, DuckDB,
			"(CAST(epoch(date_trunc('day', to_timestamp(((participant_timestamp - (((participant_timestamp % 1000000000) + 1000000000) % 1000000000)) // 1000000000)))) AS BIGINT) * 1000000000)"},
		{domain.GranularityHour, ny, Postgres,
			"(CAST(EXTRACT(EPOCH FROM date_trunc('hour', to_timestamp(((participant_timestamp - (((participant_timestamp % 1000000000) + 1000000000) % 1000000000)) / 1000000000)))) AS BIGINT) * 1000000000)"},
	}
	for _, tc := range tests {
		got, err := TimeBucket(tc.g, tc.loc, tc.dialect)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "granularity %s", tc.g)
	}

	_, err = TimeBucket("fortnight", nil, DuckDB)
	assert.Error(t, err)
}

func TestTruncateLocal(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	ts := time.Date(2021, 3, 4, 15, 42, 7, 123456789, ny).UnixNano()
	assert.Equal(t, time.Date(2021, 3, 4, 15, 0, 0, 0, ny).UnixNano(), TruncateLocal(ts, domain.GranularityHour, ny))
	assert.Equal(t, time.Date(2021, 3, 4, 0, 0, 0, 0, ny).UnixNano(), TruncateLocal(ts, domain.GranularityDay, ny))
	assert.Equal(t, time.Date(2021, 3, 4, 15, 42, 7, 123000000, ny).UnixNano(), TruncateLocal(ts, domain.GranularityMillisecond, ny))
	assert.Equal(t, ts, TruncateLocal(ts, domain.GranularityNanosecond, ny))

	preEpoch := time.Date(1969, 12, 31, 23, 59, 59, 500000000, time.UTC).UnixNano()
	assert.Equal(t, time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC).UnixNano(), TruncateLocal(preEpoch, domain.GranularitySecond, nil))
	assert.Equal(t, time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC).UnixNano(), TruncateLocal(preEpoch, domain.GranularityDay, time.UTC))
}

func TestDialectByName(t *testing.T) {
	t.Parallel()

	d, ok := DialectByName("postgres")
	require.True(t, ok)
	assert.Equal(t, "postgres", d.Name())

	d, ok = DialectByName("")
	require.True(t, ok)
	assert.Equal(t, "duckdb", d.Name())

	_, ok = DialectByName("mysql")
	assert.False(t, ok)
}
