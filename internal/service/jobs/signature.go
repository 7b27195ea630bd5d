package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"trade-export/internal/domain"
)

// Canonicalize serializes (identity, spec) deterministically: defaults are
// applied, the exchange set is sorted and de-duplicated, object keys are
// sorted, and absent fields are explicit nulls. Operation order is kept.
func Canonicalize(identity string, spec domain.QuerySpec) ([]byte, error) {
	spec = spec.Normalize()

	exchanges := spec.Exchanges
	if exchanges == nil {
		exchanges = []string{}
	}
	ops := make([]map[string]any, len(spec.Operations))
	for i, op := range spec.Operations {
		ops[i] = map[string]any{"expression": op.Expression}
	}

	// encoding/json writes map keys in sorted order.
	doc := map[string]any{
		"identity": identity,
		"query": map[string]any{
			"exchanges":   exchanges,
			"pricelow":    spec.PriceLow,
			"pricehigh":   spec.PriceHigh,
			"sizelow":     spec.SizeLow,
			"sizehigh":    spec.SizeHigh,
			"datelow":     nullable(spec.DateLow),
			"datehigh":    nullable(spec.DateHigh),
			"operations":  ops,
			"sortby":      string(spec.SortBy),
			"aggregateby": nullable(string(spec.AggregateBy)),
		},
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("canonicalize query: %w", err)
	}
	return out, nil
}

// Signature returns the lowercase hex SHA-256 of the canonical form.
func Signature(identity string, spec domain.QuerySpec) (string, error) {
	canon, err := Canonicalize(identity, spec)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
