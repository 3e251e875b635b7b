// Package mockpayment provides a configurable payment gateway double for
// tests and local development.
package mockpayment

import (
	"context"
	"sync"
	"time"

	"github.com/kausenergy/settlement/pkg/domain/money"
	"github.com/kausenergy/settlement/pkg/provider/payment"
)

// Provider is a scriptable payment.Gateway. The zero value confirms every
// payment at the expected amount.
type Provider struct {
	mu sync.Mutex

	// ConfirmFunc overrides Confirm entirely when set.
	ConfirmFunc func(ctx context.Context, paymentKey, orderID string, expected money.Money) (*payment.Confirmation, error)
	// Err is returned from Confirm when set (and ConfirmFunc is not).
	Err error
	// CapturedAmount overrides the confirmed amount when non-nil, to
	// exercise amount-mismatch handling.
	CapturedAmount *money.Money
	// FailuresBeforeSuccess makes the first N calls return ErrUnavailable.
	FailuresBeforeSuccess int

	calls int
}

// Name implements payment.Gateway.
func (p *Provider) Name() string { return "mock" }

// Confirm implements payment.Gateway.
func (p *Provider) Confirm(ctx context.Context, paymentKey, orderID string, expected money.Money) (*payment.Confirmation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	if p.ConfirmFunc != nil {
		return p.ConfirmFunc(ctx, paymentKey, orderID, expected)
	}
	if p.calls <= p.FailuresBeforeSuccess {
		return nil, payment.ErrUnavailable
	}
	if p.Err != nil {
		return nil, p.Err
	}
	amount := expected
	if p.CapturedAmount != nil {
		amount = *p.CapturedAmount
	}
	return &payment.Confirmation{
		PaymentKey: paymentKey,
		OrderID:    orderID,
		Amount:     amount,
		Method:     "card",
		ApprovedAt: time.Now(),
	}, nil
}

// Calls reports how many times Confirm ran.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var _ payment.Gateway = (*Provider)(nil)
