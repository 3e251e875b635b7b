package money

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsUnsupportedCurrency(t *testing.T) {
	_, err := New(100, Code("USD"))
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestAdd(t *testing.T) {
	a, err := New(5000, KRW)
	require.NoError(t, err)
	b, err := New(10000, KRW)
	require.NoError(t, err)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), sum.Amount())
	assert.Equal(t, KRW, sum.Currency())
}

func TestAdd_Overflow(t *testing.T) {
	a, _ := New(math.MaxInt64, KRW)
	b, _ := New(1, KRW)
	_, err := a.Add(b)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestAdd_CurrencyMismatch(t *testing.T) {
	a, _ := New(100, KRW)
	b, _ := New(100, KAUS)
	_, err := a.Add(b)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestSub_Overflow(t *testing.T) {
	a, _ := New(math.MinInt64, KRW)
	b, _ := New(1, KRW)
	_, err := a.Sub(b)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestNegate(t *testing.T) {
	a, _ := New(250, KAUS)
	assert.Equal(t, int64(-250), a.Negate().Amount())
	assert.True(t, a.Negate().IsNegative())
}

func TestGreaterThan(t *testing.T) {
	a, _ := New(10000, KRW)
	b, _ := New(5000, KRW)

	got, err := a.GreaterThan(b)
	require.NoError(t, err)
	assert.True(t, got)

	c, _ := New(5000, KAUS)
	_, err = a.GreaterThan(c)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}
