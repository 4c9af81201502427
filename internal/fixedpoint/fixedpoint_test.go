package fixedpoint

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFixedPoint_Floors(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
	}{
		{"0", 0},
		{"1", 1_000_000},
		{"90.09", 90_090_000},
		{"0.0000019", 1},
		{"0.45", 450_000},
		{"13522.5", 13_522_500_000},
		{"1.9999999", 1_999_999},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ToFixedPoint(decimal.RequireFromString(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToFixedPoint_NegativeFloorsDown(t *testing.T) {
	got, err := ToFixedPoint(decimal.RequireFromString("-0.0000001"))
	require.NoError(t, err)
	assert.Equal(t, Amount(-1), got)
}

func TestToFixedPoint_Overflow(t *testing.T) {
	_, err := ToFixedPoint(decimal.RequireFromString("100000000000000"))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestRoundTrip_TruncatesToSixPlaces(t *testing.T) {
	inputs := []string{"0", "1", "0.1234567", "99.999999", "1234.5678919", "0.000001"}
	for _, in := range inputs {
		x := decimal.RequireFromString(in)
		a, err := ToFixedPoint(x)
		require.NoError(t, err)
		got := FromFixedPoint(a)
		assert.True(t, got.Equal(Truncate(x)), "%s: got %s want %s", in, got, Truncate(x))
		assert.True(t, got.LessThanOrEqual(x))
	}
}

func TestAmountJSON(t *testing.T) {
	b, err := json.Marshal(Amount(90_000_000))
	require.NoError(t, err)
	assert.Equal(t, `"90000000"`, string(b))

	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`"42"`), &a))
	assert.Equal(t, Amount(42), a)
	require.NoError(t, json.Unmarshal([]byte(`17`), &a))
	assert.Equal(t, Amount(17), a)
	assert.Error(t, json.Unmarshal([]byte(`"x"`), &a))
}
