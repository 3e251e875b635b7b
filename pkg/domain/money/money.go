// Package money provides the Money value object used across the settlement
// core. Amounts are always integers in the smallest unit of their currency;
// floating point never touches a balance.
package money

import (
	"errors"
	"fmt"
	"math"
)

// Code identifies a fungible unit held on the ledger.
type Code string

const (
	// KRW is the fiat wallet unit. Korean won has no subunit, so one minor
	// unit is one won.
	KRW Code = "KRW"
	// KAUS is the platform's energy token, tracked in whole token units.
	KAUS Code = "KAUS"
)

// DefaultCurrency is the unit assumed when a request omits one.
const DefaultCurrency = KRW

var (
	// ErrUnsupportedCurrency is returned for a unit the ledger does not track.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrOverflow is returned when an arithmetic operation would exceed int64.
	ErrOverflow = errors.New("amount overflows maximum safe value")
	// ErrCurrencyMismatch is returned when two amounts of different units are combined.
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// IsSupported reports whether the given code is a unit the ledger tracks.
func IsSupported(code string) bool {
	switch Code(code) {
	case KRW, KAUS:
		return true
	}
	return false
}

// Money is an immutable amount of a single unit, in minor units.
type Money struct {
	amount   int64
	currency Code
}

// New creates a Money from an amount in minor units.
func New(amount int64, currency Code) (Money, error) {
	if !IsSupported(string(currency)) {
		return Money{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	return Money{amount: amount, currency: currency}, nil
}

// NewFromData hydrates a Money from stored values without validation.
// Only for mapping rows out of the data store.
func NewFromData(amount int64, currency string) Money {
	return Money{amount: amount, currency: Code(currency)}
}

// Amount returns the amount in minor units.
func (m Money) Amount() int64 { return m.amount }

// Currency returns the unit code.
func (m Money) Currency() Code { return m.currency }

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.amount > 0 }

// IsNegative reports whether the amount is strictly less than zero.
func (m Money) IsNegative() bool { return m.amount < 0 }

// IsSameCurrency reports whether other is denominated in the same unit.
func (m Money) IsSameCurrency(other Money) bool { return m.currency == other.currency }

// Equals reports amount and currency equality.
func (m Money) Equals(other Money) bool {
	return m.currency == other.currency && m.amount == other.amount
}

// Add returns m + other, failing on unit mismatch or int64 overflow.
func (m Money) Add(other Money) (Money, error) {
	if !m.IsSameCurrency(other) {
		return Money{}, ErrCurrencyMismatch
	}
	if (other.amount > 0 && m.amount > math.MaxInt64-other.amount) ||
		(other.amount < 0 && m.amount < math.MinInt64-other.amount) {
		return Money{}, ErrOverflow
	}
	return Money{amount: m.amount + other.amount, currency: m.currency}, nil
}

// Sub returns m - other, failing on unit mismatch or int64 overflow.
func (m Money) Sub(other Money) (Money, error) {
	if !m.IsSameCurrency(other) {
		return Money{}, ErrCurrencyMismatch
	}
	if (other.amount < 0 && m.amount > math.MaxInt64+other.amount) ||
		(other.amount > 0 && m.amount < math.MinInt64+other.amount) {
		return Money{}, ErrOverflow
	}
	return Money{amount: m.amount - other.amount, currency: m.currency}, nil
}

// Negate returns the amount with its sign flipped.
func (m Money) Negate() Money {
	return Money{amount: -m.amount, currency: m.currency}
}

// GreaterThan reports m > other for the same unit.
func (m Money) GreaterThan(other Money) (bool, error) {
	if !m.IsSameCurrency(other) {
		return false, ErrCurrencyMismatch
	}
	return m.amount > other.amount, nil
}

// String renders the amount with its unit, for logs only.
func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.amount, m.currency)
}
