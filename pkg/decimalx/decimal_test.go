package decimalx

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRoundUp(t *testing.T) {
	tests := []struct {
		name  string
		value string
		step  string
		want  string
	}{
		{"already multiple", "0.003", "0.001", "0.003"},
		{"rounds up", "0.0031", "0.001", "0.004"},
		{"min notional", "0.005018178", "0.001", "0.006"},
		{"integer step", "7", "5", "10"},
		{"zero step", "1.2345", "0", "1.2345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundUp(d(tt.value), d(tt.step))
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestIsMultipleOf(t *testing.T) {
	assert.True(t, IsMultipleOf(d("0.006"), d("0.001"), DefaultTolerance))
	assert.True(t, IsMultipleOf(d("10"), d("2.5"), DefaultTolerance))
	assert.False(t, IsMultipleOf(d("0.0065"), d("0.001"), DefaultTolerance))
	assert.False(t, IsMultipleOf(d("1"), decimal.Zero, DefaultTolerance))
}

func TestRoundPosition(t *testing.T) {
	got := RoundPosition(d("1.123456789"))
	assert.Equal(t, "1.1234568", got.String())
}

func TestMinMaxSign(t *testing.T) {
	assert.True(t, Max(d("1"), d("2")).Equal(d("2")))
	assert.True(t, Min(d("1"), d("2")).Equal(d("1")))
	assert.True(t, SameSign(d("-1"), d("-3")))
	assert.False(t, SameSign(d("1"), d("-3")))
	assert.False(t, SameSign(decimal.Zero, d("3")))
	assert.True(t, FromString("bad").IsZero())
}

func TestFromFloatAndAbs(t *testing.T) {
	assert.True(t, FromFloat(0.1).Equal(d("0.1")))
	assert.True(t, FromFloat(-2.5).Equal(d("-2.5")))
	assert.True(t, FromFloat(math.NaN()).IsZero())
	assert.True(t, FromFloat(math.Inf(1)).IsZero())

	assert.True(t, Abs(d("-3.25")).Equal(d("3.25")))
	assert.True(t, Abs(d("4")).Equal(d("4")))
}
