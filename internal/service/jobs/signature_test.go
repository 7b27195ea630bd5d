package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-export/internal/domain"
)

func f64(v float64) *float64 { return &v }

func TestSignature(t *testing.T) {
	t.Parallel()

	base := domain.QuerySpec{
		Exchanges:  []string{"XNAS", "XBOS"},
		PriceLow:   f64(10),
		DateLow:    "2021-01-01",
		Operations: []domain.Operation{{Expression: "PRICE * SIZE"}, {Expression: "SIZE"}},
	}
	sig := func(identity string, spec domain.QuerySpec) string {
		t.Helper()
		s, err := Signature(identity, spec)
		require.NoError(t, err)
		return s
	}
	ref := sig("alice", base)
	assert.Len(t, ref, 64)

	tests := []struct {
		name   string
		mutate func(q *domain.QuerySpec)
		ident  string
		same   bool
	}{
		{"identical", func(*domain.QuerySpec) {}, "alice", true},
		{"exchange order", func(q *domain.QuerySpec) { q.Exchanges = []string{"XBOS", "XNAS"} }, "alice", true},
		{"duplicate exchange", func(q *domain.QuerySpec) { q.Exchanges = []string{"XBOS", "XNAS", "XBOS"} }, "alice", true},
		{"explicit default sort", func(q *domain.QuerySpec) { q.SortBy = domain.SortTimeNewest }, "alice", true},
		{"other identity", func(*domain.QuerySpec) {}, "bob", false},
		{"operation order", func(q *domain.QuerySpec) {
			q.Operations = []domain.Operation{{Expression: "SIZE"}, {Expression: "PRICE * SIZE"}}
		}, "alice", false},
		{"price bound", func(q *domain.QuerySpec) { q.PriceLow = f64(11) }, "alice", false},
		{"absent vs zero bound", func(q *domain.QuerySpec) { q.PriceHigh = f64(0) }, "alice", false},
		{"aggregation", func(q *domain.QuerySpec) { q.AggregateBy = domain.GranularityDay }, "alice", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := base.Normalize()
			tc.mutate(&q)
			if tc.same {
				assert.Equal(t, ref, sig(tc.ident, q))
			} else {
				assert.NotEqual(t, ref, sig(tc.ident, q))
			}
		})
	}
}

func TestCanonicalize_SortedKeys(t *testing.T) {
	t.Parallel()
	out, err := Canonicalize("alice", domain.QuerySpec{})
	require.NoError(t, err)
	assert.Equal(t,
		`{"identity":"alice","query":{"aggregateby":null,"datehigh":null,"datelow":null,"exchanges":[],"operations":[],"pricehigh":null,"pricelow":null,"sizehigh":null,"sizelow":null,"sortby":"timenew"}}`,
		string(out))
}
