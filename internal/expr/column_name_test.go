package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumnName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"PRICE + SIZE", "PRICE_PLUS_SIZE"},
		{"-PRICE", "NEG_PRICE"},
		{"- PRICE", "NEG_PRICE"},
		{"", "CUSTOM_CALC"},
		{"   ", "CUSTOM_CALC"},
		{"price * size", "PRICE_MULT_SIZE"},
		{"PRICE / SIZE", "PRICE_DIV_SIZE"},
		{"PRICE - SIZE", "PRICE_MINUS_SIZE"},
		{"PRICE ^ 2", "PRICE_POW_2"},
		{"(PRICE + SIZE) * 2", "OPEN_PRICE_PLUS_SIZE_CLOSE_MULT_2"},
		{"PRICE * 1.5", "PRICE_MULT_1DOT5"},
		{"PRICE+SIZE", "PRICE+SIZE"},
		{"DEL_T  +  DEL_P", "DEL_T_PLUS_DEL_P"},
		{"()", "OPEN_CLOSE"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ColumnName(tc.input))
		})
	}
}

func TestColumnName_Deterministic(t *testing.T) {
	t.Parallel()

	in := "(PRICE - DEL_P) / SIZE ^ 2"
	assert.Equal(t, ColumnName(in), ColumnName(in))
}
