package domain

import (
	"sort"
	"strings"
	"time"
)

// SortKey selects the row ordering of a row-level export.
type SortKey string

// Supported sort keys. The wire values match the public query API.
const (
	SortTimeNewest SortKey = "timenew"
	SortTimeOldest SortKey = "timeold"
	SortSizeDesc   SortKey = "sizedesc"
	SortSizeAsc    SortKey = "sizeasc"
	SortPriceDesc  SortKey = "pricedesc"
	SortPriceAsc   SortKey = "priceasc"
)

// Valid reports whether k is a known sort key.
func (k SortKey) Valid() bool {
	switch k {
	case SortTimeNewest, SortTimeOldest, SortSizeDesc, SortSizeAsc, SortPriceDesc, SortPriceAsc:
		return true
	}
	return false
}

// Granularity is a time-bucket width for aggregated exports.
type Granularity string

// Supported aggregation granularities.
const (
	GranularityNanosecond  Granularity = "ns"
	GranularityMillisecond Granularity = "ms"
	GranularitySecond      Granularity = "s"
	GranularityMinute      Granularity = "min"
	GranularityHour        Granularity = "hr"
	GranularityDay         Granularity = "day"
)

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityNanosecond, GranularityMillisecond, GranularitySecond,
		GranularityMinute, GranularityHour, GranularityDay:
		return true
	}
	return false
}

// DateLayout is the calendar date format accepted for DateLow and DateHigh.
const DateLayout = "2006-01-02"

// Operation is one user-supplied arithmetic expression over PRICE, SIZE,
// DEL_T and DEL_P.
type Operation struct {
	Expression string `json:"expression"`
}

// QuerySpec is the full description of one export request.
type QuerySpec struct {
	Exchanges   []string    `json:"exchanges,omitempty"`
	PriceLow    *float64    `json:"pricelow,omitempty"`
	PriceHigh   *float64    `json:"pricehigh,omitempty"`
	SizeLow     *int64      `json:"sizelow,omitempty"`
	SizeHigh    *int64      `json:"sizehigh,omitempty"`
	DateLow     string      `json:"datelow,omitempty"`
	DateHigh    string      `json:"datehigh,omitempty"`
	Operations  []Operation `json:"operations,omitempty"`
	SortBy      SortKey     `json:"sortby,omitempty"`
	AggregateBy Granularity `json:"aggregateby,omitempty"`
}

// Aggregated reports whether the spec produces a time-bucketed export.
// Aggregation without any Operation falls back to row-level output.
func (q *QuerySpec) Aggregated() bool {
	return q.AggregateBy != "" && len(q.Operations) > 0
}

// Normalize returns a copy with defaults applied: the default sort key, and
// the exchange set sorted and de-duplicated. Operation order is preserved.
func (q QuerySpec) Normalize() QuerySpec {
	out := q
	if out.SortBy == "" {
		out.SortBy = SortTimeNewest
	}
	out.DateLow = strings.TrimSpace(out.DateLow)
	out.DateHigh = strings.TrimSpace(out.DateHigh)

	if len(q.Exchanges) > 0 {
		seen := make(map[string]bool, len(q.Exchanges))
		ex := make([]string, 0, len(q.Exchanges))
		for _, name := range q.Exchanges {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			ex = append(ex, name)
		}
		sort.Strings(ex)
		out.Exchanges = ex
	}
	if len(q.Operations) > 0 {
		out.Operations = append([]Operation(nil), q.Operations...)
	}
	out.PriceLow = cloneFloat(q.PriceLow)
	out.PriceHigh = cloneFloat(q.PriceHigh)
	out.SizeLow = cloneInt(q.SizeLow)
	out.SizeHigh = cloneInt(q.SizeHigh)
	return out
}

// Validate checks enum values and date formats. It does not resolve
// exchange names; that is the planner's job.
func (q *QuerySpec) Validate() error {
	if q.SortBy != "" && !q.SortBy.Valid() {
		return ErrValidation("invalid sortby %q", q.SortBy)
	}
	if q.AggregateBy != "" && !q.AggregateBy.Valid() {
		return ErrValidation("invalid aggregateby %q", q.AggregateBy)
	}
	if q.DateLow != "" {
		if _, err := time.Parse(DateLayout, q.DateLow); err != nil {
			return ErrValidation("invalid datelow format, use YYYY-MM-DD (e.g. 2020-12-08)")
		}
	}
	if q.DateHigh != "" {
		if _, err := time.Parse(DateLayout, q.DateHigh); err != nil {
			return ErrValidation("invalid datehigh format, use YYYY-MM-DD (e.g. 2020-12-08)")
		}
	}
	for i, op := range q.Operations {
		if strings.TrimSpace(op.Expression) == "" {
			return ErrValidation("operation %d has an empty expression", i+1)
		}
	}
	return nil
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
