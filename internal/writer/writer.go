// Package writer streams a planned query into CSV through a single cursor,
// flushing one page of records at a time.
package writer

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"time"

	"trade-export/internal/domain"
	"trade-export/internal/exchange"
	"trade-export/internal/expr"
	"trade-export/internal/planner"
)

// RowHeader is the fixed prefix of a row-level export header.
var RowHeader = []string{"ticker", "exchange", "date", "time", "price", "size", "del_t", "del_p"}

// AggregateHeader is the fixed prefix of an aggregated export header.
var AggregateHeader = []string{"date", "time"}

// Writer turns plan pages into CSV records.
type Writer struct {
	source    domain.TradeSource
	exchanges *exchange.Registry
	logger    *slog.Logger
}

// New creates a Writer reading from source. A nil registry uses the
// embedded exchange list.
func New(source domain.TradeSource, exchanges *exchange.Registry, logger *slog.Logger) *Writer {
	if exchanges == nil {
		exchanges = exchange.Default()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Writer{source: source, exchanges: exchanges, logger: logger.With("component", "writer")}
}

// Header returns the CSV header for plan.
func Header(plan *planner.Plan) []string {
	if plan.Mode == planner.ModeAggregated {
		h := append([]string(nil), AggregateHeader...)
		for _, op := range plan.Operations {
			h = append(h, op.Column+"_sum", op.Column+"_avg")
		}
		return h
	}
	h := append([]string(nil), RowHeader...)
	for _, op := range plan.Operations {
		h = append(h, op.Column)
	}
	return h
}

// Write streams plan's result to out and returns the number of data records
// written. The header is written even when no rows match.
func (w *Writer) Write(ctx context.Context, plan *planner.Plan, out io.Writer) (int64, error) {
	cw := csv.NewWriter(out)
	if err := cw.Write(Header(plan)); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	loc := plan.Location
	if loc == nil {
		loc = time.UTC
	}

	rows, err := w.source.QueryContext(ctx, plan.SQL, plan.Args...)
	if err != nil {
		return 0, fmt.Errorf("query export: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	pw := &pageWriter{ctx: ctx, cw: cw, size: plan.PageSize, mode: plan.Mode.String(), logger: w.logger}
	if plan.Mode == planner.ModeAggregated {
		err = w.writeBuckets(rows, plan, loc, pw)
	} else {
		err = w.writeRows(rows, plan, loc, pw)
	}
	if err != nil {
		return pw.total, err
	}
	if err := rows.Err(); err != nil {
		return pw.total, fmt.Errorf("read results: %w", err)
	}
	return pw.total, pw.flush()
}

// pageWriter flushes the CSV writer every size records.
type pageWriter struct {
	ctx     context.Context
	cw      *csv.Writer
	size    int
	mode    string
	logger  *slog.Logger
	page    int
	pending int
	total   int64
}

func (p *pageWriter) write(record []string) error {
	if err := p.cw.Write(record); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	p.total++
	p.pending++
	if p.size > 0 && p.pending >= p.size {
		return p.flush()
	}
	return nil
}

func (p *pageWriter) flush() error {
	p.cw.Flush()
	if err := p.cw.Error(); err != nil {
		return fmt.Errorf("flush page %d: %w", p.page, err)
	}
	if p.pending > 0 {
		p.logger.Debug("page written", "page", p.page, "rows", p.pending, "mode", p.mode)
		p.page++
		p.pending = 0
	}
	return p.ctx.Err()
}

func (w *Writer) writeRows(rows *sql.Rows, plan *planner.Plan, loc *time.Location, pw *pageWriter) error {
	var compiled int
	for _, op := range plan.Operations {
		if op.HasFragment() {
			compiled++
		}
	}

	var (
		ticker   string
		exch     int64
		ts       int64
		price    sql.NullFloat64
		size     int64
		delT     sql.NullInt64
		delP     sql.NullFloat64
		calcs    = make([]sql.NullFloat64, compiled)
		dest     = make([]any, 0, 7+compiled)
		record   = make([]string, 0, len(RowHeader)+len(plan.Operations))
	)
	dest = append(dest, &ticker, &exch, &ts, &price, &size, &delT, &delP)
	for i := range calcs {
		dest = append(dest, &calcs[i])
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		t := time.Unix(0, ts).In(loc)

		record = record[:0]
		record = append(record,
			ticker,
			w.exchanges.Code(int(exch)),
			t.Format(domain.DateLayout),
			t.Format("15:04:05.000000000"),
			formatNullReal(price),
			strconv.FormatInt(size, 10),
			formatNullInt(delT),
			formatNullReal(delP),
		)

		vals := expr.Values{Price: price.Float64, Size: float64(size)}
		if delT.Valid {
			v := float64(delT.Int64)
			vals.DelT = &v
		}
		if delP.Valid {
			v := delP.Float64
			vals.DelP = &v
		}
		next := 0
		for _, op := range plan.Operations {
			if op.HasFragment() {
				record = append(record, formatNumber(calcValue(calcs[next])))
				next++
				continue
			}
			record = append(record, formatNumber(expr.Evaluate(op.Expression, vals)))
		}

		if err := pw.write(record); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeBuckets(rows *sql.Rows, plan *planner.Plan, loc *time.Location, pw *pageWriter) error {
	var (
		bucket int64
		values = make([]sql.NullFloat64, 2*len(plan.Operations))
		dest   = make([]any, 0, 1+len(values))
		record = make([]string, 0, len(AggregateHeader)+len(values))
	)
	dest = append(dest, &bucket)
	for i := range values {
		dest = append(dest, &values[i])
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan bucket: %w", err)
		}
		t := time.Unix(0, bucket).In(loc)
		record = record[:0]
		record = append(record, t.Format(domain.DateLayout), BucketTime(t, plan.Granularity))
		for _, v := range values {
			record = append(record, formatNumber(calcValue(v)))
		}
		if err := pw.write(record); err != nil {
			return err
		}
	}
	return nil
}

// BucketTime renders the time-of-day column for a bucket start.
func BucketTime(t time.Time, g domain.Granularity) string {
	switch g {
	case domain.GranularityDay:
		return "00:00:00"
	case domain.GranularityHour:
		return fmt.Sprintf("%02d:00:00", t.Hour())
	case domain.GranularityMinute:
		return fmt.Sprintf("%02d:%02d:00", t.Hour(), t.Minute())
	case domain.GranularitySecond:
		return t.Format("15:04:05")
	case domain.GranularityMillisecond:
		return t.Format("15:04:05.000")
	default:
		return t.Format("15:04:05.000000000")
	}
}

// calcValue rounds a computed value to 6 places; NULL and non-finite become 0.
func calcValue(v sql.NullFloat64) float64 {
	if !v.Valid || math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) {
		return 0
	}
	return expr.Round6(v.Float64)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatNullReal prints REAL columns without float64 widening noise.
func formatNullReal(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	if f32 := float32(v.Float64); float64(f32) == v.Float64 {
		return strconv.FormatFloat(v.Float64, 'f', -1, 32)
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

func formatNullInt(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}
