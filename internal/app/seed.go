package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"trade-export/internal/domain"
	"trade-export/internal/exchange"
)

// seedBatchSize is the number of trades inserted per transaction.
const seedBatchSize = 1000

// TradeInserter is the write surface used by SeedTrades.
type TradeInserter interface {
	Insert(ctx context.Context, trades []domain.Trade) error
}

// SeedTrades loads trades from CSV into the backing relation. The first row
// is a header naming the columns of domain.TradeColumns in any order;
// del_t and del_p may be missing or empty. The exchange column accepts a
// numeric id or a registry name, and participant_timestamp accepts epoch
// nanoseconds or RFC 3339. It returns the number of trades inserted.
func SeedTrades(ctx context.Context, store TradeInserter, reg *exchange.Registry, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range domain.TradeColumns[:5] {
		if _, ok := cols[required]; !ok {
			return 0, domain.ErrValidation("missing column %q", required)
		}
	}

	var (
		batch    = make([]domain.Trade, 0, seedBatchSize)
		inserted int
		line     = 1
	)
	flush := func() error {
		if err := store.Insert(ctx, batch); err != nil {
			return err
		}
		inserted += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return inserted, fmt.Errorf("line %d: %w", line, err)
		}
		t, err := parseTrade(rec, cols, reg)
		if err != nil {
			return inserted, fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, t)
		if len(batch) == seedBatchSize {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

func parseTrade(rec []string, cols map[string]int, reg *exchange.Registry) (domain.Trade, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var t domain.Trade
	t.Ticker = field("ticker")
	if t.Ticker == "" {
		return t, domain.ErrValidation("ticker is required")
	}

	exch := field("exchange")
	if id, err := strconv.Atoi(exch); err == nil {
		t.Exchange = id
	} else {
		ids, _ := reg.Resolve([]string{exch})
		if len(ids) != 1 {
			return t, domain.ErrValidation("unknown exchange %q", exch)
		}
		t.Exchange = ids[0]
	}

	ts, err := parseTimestamp(field("participant_timestamp"))
	if err != nil {
		return t, err
	}
	t.ParticipantTimestamp = ts

	if t.Price, err = strconv.ParseFloat(field("price"), 64); err != nil {
		return t, domain.ErrValidation("invalid price %q", field("price"))
	}
	if t.Size, err = strconv.ParseInt(field("trade_size"), 10, 64); err != nil {
		return t, domain.ErrValidation("invalid trade_size %q", field("trade_size"))
	}

	if v := field("del_t"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return t, domain.ErrValidation("invalid del_t %q", v)
		}
		t.DelT = &n
	}
	if v := field("del_p"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return t, domain.ErrValidation("invalid del_p %q", v)
		}
		t.DelP = &f
	}
	return t, nil
}

func parseTimestamp(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, domain.ErrValidation("invalid participant_timestamp %q", s)
	}
	return ts.UnixNano(), nil
}
