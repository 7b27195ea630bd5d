package expr

import (
	"regexp"
	"strings"
)

var (
	leadingNegation = regexp.MustCompile(`^-[\t\n\v\f\r ]*`)
	whitespaceRun   = regexp.MustCompile(`[\t\n\v\f\r ]+`)
	underscoreRun   = regexp.MustCompile(`_{2,}`)
)

var operatorNames = [][2]string{
	{" + ", "_PLUS_"},
	{" - ", "_MINUS_"},
	{" * ", "_MULT_"},
	{" / ", "_DIV_"},
	{" ^ ", "_POW_"},
}

// ColumnName derives a deterministic upper-case column identifier from an
// expression, e.g. "PRICE + SIZE" becomes "PRICE_PLUS_SIZE" and "-PRICE"
// becomes "NEG_PRICE".
func ColumnName(expression string) string {
	name := strings.ToUpper(expression)

	// Operators only get names when written with surrounding spaces.
	for _, pair := range operatorNames {
		name = strings.ReplaceAll(name, pair[0], pair[1])
	}

	name = leadingNegation.ReplaceAllString(name, "NEG_")
	name = strings.ReplaceAll(name, "(", "_OPEN_")
	name = strings.ReplaceAll(name, ")", "_CLOSE_")
	name = strings.ReplaceAll(name, ".", "DOT")
	name = whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
	name = underscoreRun.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")

	if name == "" {
		return "CUSTOM_CALC"
	}
	return name
}
