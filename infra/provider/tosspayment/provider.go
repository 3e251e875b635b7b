// Package tosspayment implements the payment gateway contract against the
// Toss Payments confirm API.
package tosspayment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/kausenergy/settlement/pkg/domain/money"
	"github.com/kausenergy/settlement/pkg/provider/payment"
)

const defaultBaseURL = "https://api.tosspayments.com"

// Provider confirms card payments through Toss. One confirm call both
// verifies and captures; Toss deduplicates on payment key, so re-confirming
// an already-confirmed key returns the original capture.
type Provider struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Toss provider. The timeout bounds the confirm call; an
// elapsed timeout is reported as an unknown outcome, not a failure.
func New(secretKey, baseURL string, timeout time.Duration, logger *slog.Logger) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		baseURL:    baseURL,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("provider", "toss"),
	}
}

// Name implements payment.Gateway.
func (p *Provider) Name() string { return "toss" }

type confirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type confirmResponse struct {
	PaymentKey  string    `json:"paymentKey"`
	OrderID     string    `json:"orderId"`
	Status      string    `json:"status"`
	TotalAmount int64     `json:"totalAmount"`
	Currency    string    `json:"currency"`
	Method      string    `json:"method"`
	ApprovedAt  time.Time `json:"approvedAt"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Confirm implements payment.Gateway.
func (p *Provider) Confirm(ctx context.Context, paymentKey, orderID string, expected money.Money) (*payment.Confirmation, error) {
	body, err := json.Marshal(confirmRequest{
		PaymentKey: paymentKey,
		OrderID:    orderID,
		Amount:     expected.Amount(),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/payments/confirm", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(p.secretKey+":")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// Once the request may have reached Toss, a missing response means
		// the charge could have gone through. Do not call that a failure.
		if isTimeout(err) {
			p.logger.Warn("confirm timed out, outcome unknown", "order_id", orderID)
			return nil, fmt.Errorf("%w: %v", payment.ErrUnknownOutcome, err)
		}
		p.logger.Warn("confirm request failed", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("%w: %v", payment.ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", payment.ErrUnknownOutcome, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		p.logger.Warn("confirm returned server error", "order_id", orderID, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: http %d", payment.ErrUnavailable, resp.StatusCode)
	default:
		var gwErr errorResponse
		_ = json.Unmarshal(raw, &gwErr)
		p.logger.Info("confirm rejected", "order_id", orderID, "code", gwErr.Code)
		return nil, fmt.Errorf("%w: %s %s", payment.ErrRejected, gwErr.Code, gwErr.Message)
	}

	var ok confirmResponse
	if err := json.Unmarshal(raw, &ok); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", payment.ErrUnknownOutcome, err)
	}
	if ok.Status != "DONE" {
		return nil, fmt.Errorf("%w: payment status %s", payment.ErrRejected, ok.Status)
	}

	currency := ok.Currency
	if currency == "" {
		currency = string(expected.Currency())
	}
	return &payment.Confirmation{
		PaymentKey: ok.PaymentKey,
		OrderID:    ok.OrderID,
		Amount:     money.NewFromData(ok.TotalAmount, currency),
		Method:     ok.Method,
		ApprovedAt: ok.ApprovedAt,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ payment.Gateway = (*Provider)(nil)
