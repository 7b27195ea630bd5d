// Package planner turns a QuerySpec into paged SQL over the trades relation.
package planner

import (
	"fmt"
	"strings"
	"time"

	"trade-export/internal/ddl"
	"trade-export/internal/domain"
	"trade-export/internal/exchange"
	"trade-export/internal/expr"
)

// DefaultPageSize is the number of records written between flushes.
const DefaultPageSize = 100_000

// Mode distinguishes row-level from aggregated output.
type Mode int

// Plan modes.
const (
	ModeRows Mode = iota
	ModeAggregated
)

func (m Mode) String() string {
	if m == ModeAggregated {
		return "aggregated"
	}
	return "rows"
}

// Options configure plan construction.
type Options struct {
	Table     string             // trades relation name (default "trades")
	Location  *time.Location     // calendar for date filters and buckets (default UTC)
	PageSize  int                // records per flush (default DefaultPageSize)
	Exchanges *exchange.Registry // name resolution (default registry when nil)
	Dialect   Dialect            // SQL dialect (default DuckDB)
}

func (o Options) withDefaults() Options {
	if o.Table == "" {
		o.Table = "trades"
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Exchanges == nil {
		o.Exchanges = exchange.Default()
	}
	if o.Dialect == nil {
		o.Dialect = DuckDB
	}
	return o
}

// Plan is a ready-to-run query. The writer streams it through one cursor and
// flushes output every PageSize records.
type Plan struct {
	Mode             Mode
	Granularity      domain.Granularity
	Operations       []expr.Compiled
	ExchangeIDs      []int
	UnknownExchanges []string
	SQL              string
	Args             []any
	PageSize         int
	Location         *time.Location
}

// Build validates spec and produces a row-level or aggregated plan.
func Build(spec domain.QuerySpec, opts Options) (*Plan, error) {
	opts = opts.withDefaults()
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := ddl.ValidateIdentifier(opts.Table); err != nil {
		return nil, fmt.Errorf("invalid trades table: %w", err)
	}

	// Unknown names are dropped. When none resolve, no exchange filter applies.
	ids, unknown := opts.Exchanges.Resolve(spec.Exchanges)

	lowNS, highNS, err := DateRange(spec.DateLow, spec.DateHigh, opts.Location)
	if err != nil {
		return nil, err
	}

	exprs := make([]string, len(spec.Operations))
	for i, op := range spec.Operations {
		exprs[i] = op.Expression
	}

	p := &Plan{
		Mode:             ModeRows,
		Operations:       expr.CompileAll(exprs),
		ExchangeIDs:      ids,
		UnknownExchanges: unknown,
		PageSize:         opts.PageSize,
		Location:         opts.Location,
	}

	w := &whereBuilder{dialect: opts.Dialect}
	if len(ids) > 0 {
		marks := make([]string, len(ids))
		for i, id := range ids {
			marks[i] = w.bind(id)
		}
		w.add("exchange IN (" + strings.Join(marks, ", ") + ")")
	}
	if spec.PriceLow != nil {
		w.add("price >= " + w.bind(*spec.PriceLow))
	}
	if spec.PriceHigh != nil {
		w.add("price <= " + w.bind(*spec.PriceHigh))
	}
	if spec.SizeLow != nil {
		w.add("trade_size >= " + w.bind(*spec.SizeLow))
	}
	if spec.SizeHigh != nil {
		w.add("trade_size <= " + w.bind(*spec.SizeHigh))
	}
	if lowNS != nil {
		w.add(tsColumn + " >= " + w.bind(*lowNS))
	}
	if highNS != nil {
		w.add(tsColumn + " <= " + w.bind(*highNS))
	}
	p.Args = w.args

	table := ddl.QuoteIdentifier(opts.Table)
	if spec.Aggregated() {
		bucket, err := TimeBucket(spec.AggregateBy, opts.Location, opts.Dialect)
		if err != nil {
			return nil, err
		}
		p.Mode = ModeAggregated
		p.Granularity = spec.AggregateBy
		p.SQL = aggregateSQL(table, bucket, p.Operations, w.clause())
		return p, nil
	}

	p.SQL = rowSQL(table, p.Operations, w.clause(), spec.SortBy)
	return p, nil
}

var sortColumns = map[domain.SortKey]string{
	domain.SortTimeNewest: tsColumn + " DESC",
	domain.SortTimeOldest: tsColumn + " ASC",
	domain.SortSizeDesc:   "trade_size DESC",
	domain.SortSizeAsc:    "trade_size ASC",
	domain.SortPriceDesc:  "price DESC",
	domain.SortPriceAsc:   "price ASC",
}

// tiebreak makes the row order deterministic: every base column participates.
var tiebreak = []string{
	tsColumn + " DESC", "ticker", "exchange", "price", "trade_size", "del_t", "del_p",
}

func rowSQL(table string, ops []expr.Compiled, where string, sortBy domain.SortKey) string {
	var b strings.Builder
	b.WriteString("SELECT ticker, exchange, participant_timestamp, price, trade_size, del_t, del_p")
	for i, op := range ops {
		if op.HasFragment() {
			fmt.Fprintf(&b, ", CAST((%s) AS FLOAT8) AS calc_%d", op.Fragment, i)
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(table)
	b.WriteString(where)

	primary := sortColumns[sortBy]
	primaryCol := strings.Fields(primary)[0]
	order := []string{primary}
	for _, col := range tiebreak {
		if strings.Fields(col)[0] != primaryCol {
			order = append(order, col)
		}
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(order, ", "))
	return b.String()
}

func aggregateSQL(table, bucket string, ops []expr.Compiled, where string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s AS time_bucket", bucket)
	for i, op := range ops {
		if !op.HasFragment() {
			fmt.Fprintf(&b, ", CAST(0 AS FLOAT8) AS calc_%d_sum, CAST(0 AS FLOAT8) AS calc_%d_avg", i, i)
			continue
		}
		sum := fmt.Sprintf("CAST(SUM(%s) AS FLOAT8)", op.Fragment)
		fmt.Fprintf(&b, ", %s AS calc_%d_sum", sum, i)
		fmt.Fprintf(&b, ", %s / NULLIF(CAST(SUM(trade_size) AS FLOAT8), 0) AS calc_%d_avg", sum, i)
	}
	b.WriteString(" FROM ")
	b.WriteString(table)
	b.WriteString(where)
	b.WriteString(" GROUP BY 1 ORDER BY 1")
	return b.String()
}

type whereBuilder struct {
	dialect Dialect
	conds   []string
	args    []any
}

func (w *whereBuilder) bind(v any) string {
	w.args = append(w.args, v)
	return w.dialect.Placeholder(len(w.args))
}

func (w *whereBuilder) add(cond string) { w.conds = append(w.conds, cond) }

func (w *whereBuilder) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
