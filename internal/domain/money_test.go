package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(150_050) // 1500.50 NGN
	assert.Equal(t, "1500.5", m.ToDecimal().String())
}

func TestFromDecimal(t *testing.T) {
	d := decimal.RequireFromString("10.50")
	assert.Equal(t, int64(1_050), FromDecimal(d))
}

func TestFromDecimal_RoundsToNearestKobo(t *testing.T) {
	assert.Equal(t, int64(1_001), FromDecimal(decimal.RequireFromString("10.005")))
	assert.Equal(t, int64(1_000), FromDecimal(decimal.RequireFromString("10.004")))
}

func TestParseMajor(t *testing.T) {
	amount, err := ParseMajor("250000")
	require.NoError(t, err)
	assert.Equal(t, int64(25_000_000), amount)

	_, err = ParseMajor("abc")
	require.Error(t, err)
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "700.00 NGN", NewMoney(70_000).String())
}
