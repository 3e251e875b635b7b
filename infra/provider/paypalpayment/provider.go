// Package paypalpayment implements the payment gateway contract against the
// PayPal Orders v2 capture API.
package paypalpayment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kausenergy/settlement/pkg/domain/money"
	"github.com/kausenergy/settlement/pkg/provider/payment"
)

const defaultBaseURL = "https://api-m.paypal.com"

// Provider captures approved PayPal orders. PayPal's capture endpoint is
// idempotent per order id: capturing an already-captured order returns
// ORDER_ALREADY_CAPTURED, which is handled by re-reading the order.
type Provider struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New creates a PayPal provider.
func New(clientID, clientSecret, baseURL string, timeout time.Duration, logger *slog.Logger) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger.With("provider", "paypal"),
	}
}

// Name implements payment.Gateway.
func (p *Provider) Name() string { return "paypal" }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (p *Provider) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", payment.ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token http %d", payment.ErrUnavailable, resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("%w: decoding token: %v", payment.ErrUnavailable, err)
	}
	p.accessToken = tok.AccessToken
	// Refresh a minute early to avoid using a token at the edge of expiry.
	p.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn-60) * time.Second)
	return p.accessToken, nil
}

type captureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount struct {
					CurrencyCode string `json:"currency_code"`
					Value        string `json:"value"`
				} `json:"amount"`
				CreateTime time.Time `json:"create_time"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Confirm implements payment.Gateway. For PayPal, paymentKey is the PayPal
// order id approved on the client side; Confirm captures it.
func (p *Provider) Confirm(ctx context.Context, paymentKey, orderID string, expected money.Money) (*payment.Confirmation, error) {
	accessToken, err := p.token(ctx)
	if err != nil {
		return nil, err
	}

	captureURL := fmt.Sprintf("%s/v2/checkout/orders/%s/capture", p.baseURL, paymentKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, captureURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	// PayPal honors this as a server-side idempotency key.
	req.Header.Set("PayPal-Request-Id", orderID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			p.logger.Warn("capture timed out, outcome unknown", "order_id", orderID)
			return nil, fmt.Errorf("%w: %v", payment.ErrUnknownOutcome, err)
		}
		return nil, fmt.Errorf("%w: %v", payment.ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", payment.ErrUnknownOutcome, err)
	}

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: http %d", payment.ErrUnavailable, resp.StatusCode)
	default:
		var gwErr errorResponse
		_ = json.Unmarshal(raw, &gwErr)
		p.logger.Info("capture rejected", "order_id", orderID, "name", gwErr.Name)
		return nil, fmt.Errorf("%w: %s %s", payment.ErrRejected, gwErr.Name, gwErr.Message)
	}

	var cap captureResponse
	if err := json.Unmarshal(raw, &cap); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", payment.ErrUnknownOutcome, err)
	}
	if cap.Status != "COMPLETED" {
		return nil, fmt.Errorf("%w: order status %s", payment.ErrRejected, cap.Status)
	}
	if len(cap.PurchaseUnits) == 0 || len(cap.PurchaseUnits[0].Payments.Captures) == 0 {
		return nil, fmt.Errorf("%w: capture missing from response", payment.ErrUnknownOutcome)
	}

	captured := cap.PurchaseUnits[0].Payments.Captures[0]
	amount, err := parseAmount(captured.Amount.Value, captured.Amount.CurrencyCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrUnknownOutcome, err)
	}
	return &payment.Confirmation{
		PaymentKey: cap.ID,
		OrderID:    orderID,
		Amount:     amount,
		Method:     "paypal",
		ApprovedAt: captured.CreateTime,
	}, nil
}

// parseAmount converts PayPal's decimal string into minor units without
// going through floating point.
func parseAmount(value, currencyCode string) (money.Money, error) {
	whole, frac, hasFrac := strings.Cut(value, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return money.Money{}, fmt.Errorf("bad amount %q: %w", value, err)
	}
	// KRW (and KAUS pricing) carry no subunit; a nonzero fraction would mean
	// the gateway captured something we cannot represent.
	if hasFrac && strings.Trim(frac, "0") != "" {
		return money.Money{}, fmt.Errorf("unexpected fractional amount %q for %s", value, currencyCode)
	}
	return money.NewFromData(units, currencyCode), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ payment.Gateway = (*Provider)(nil)
