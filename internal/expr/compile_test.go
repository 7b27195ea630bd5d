package expr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"operand", "PRICE", "price"},
		{"lowercase operand", "price", "price"},
		{"size is cast", "SIZE", "CAST(trade_size AS FLOAT8)"},
		{"auxiliaries coalesce", "DEL_T + del_p", "(COALESCE(CAST(del_t AS FLOAT8), 0) + COALESCE(del_p, 0))"},
		{"power", "PRICE ^ 2", "POWER(price, 2.0)"},
		{"power without spaces", "PRICE^2", "POWER(price, 2.0)"},
		{"power is right associative", "2^3^2", "POWER(2.0, POWER(3.0, 2.0))"},
		{"power binds tighter than negation", "-PRICE^2", "(-POWER(price, 2.0))"},
		{"power of parenthesized", "(PRICE + 1) ^ 0.5", "POWER((price + 1.0), 0.5)"},
		{"precedence", "PRICE + SIZE * 2", "(price + (CAST(trade_size AS FLOAT8) * 2.0))"},
		{"left associative division", "PRICE / 2 / 4", "((price / NULLIF(2.0, 0)) / NULLIF(4.0, 0))"},
		{"unary plus dropped", "+PRICE", "price"},
		{"decimal literal", ".5 * PRICE", "(0.5 * price)"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := CompileSQL(tc.input)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompileSQL_Rejects(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"   ",
		"PRICE; DROP TABLE trades",
		"PRICE -- comment",
		"VOLUME * 2",
		"price)",
		"(price",
		"PRICE ** 2",
		"PRICE % 2",
		"PRICE + 'x'",
		"sleep(10)",
		"PRICE,SIZE",
		strings.Repeat("(", MaxDepth+1) + "1" + strings.Repeat(")", MaxDepth+1),
		strings.Repeat("-", MaxDepth+1) + "PRICE",
		strings.Repeat("1+", MaxLength) + "1",
	}
	for _, in := range inputs {
		_, ok := CompileSQL(in)
		assert.False(t, ok, "expected %q to be rejected", in)
	}
}

func TestCompile_FallbackOnlyWhenNoFragment(t *testing.T) {
	t.Parallel()

	good := Compile("PRICE * SIZE")
	assert.True(t, good.HasFragment())
	assert.Equal(t, "PRICE_MULT_SIZE", good.Column)

	bad := Compile("PRICE;1")
	assert.False(t, bad.HasFragment())
	assert.Equal(t, "PRICE;1", bad.Column)
}

func TestCompileAll_PreservesOrder(t *testing.T) {
	t.Parallel()

	got := CompileAll([]string{"SIZE", "PRICE"})
	require.Len(t, got, 2)
	assert.Equal(t, "SIZE", got[0].Column)
	assert.Equal(t, "PRICE", got[1].Column)
}
