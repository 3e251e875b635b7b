package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kausenergy/settlement/pkg/eventbus"
	"github.com/kausenergy/settlement/pkg/notify"
)

func TestWebhookDeliversEventPayload(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := notify.NewWebhookNotifier(srv.URL, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.Handle(context.Background(), eventbus.SettlementCredited{
		ReferenceID: "ord_hook",
		Amount:      50000,
		Currency:    "KRW",
	})

	select {
	case body := <-received:
		var got map[string]any
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "settlement.credited", got["event_type"])
		data := got["data"].(map[string]any)
		assert.Equal(t, "ord_hook", data["ReferenceID"])
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestWebhookFailureIsSwallowed(t *testing.T) {
	n := notify.NewWebhookNotifier("http://127.0.0.1:0/unreachable", 100*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NotPanics(t, func() {
		n.Handle(context.Background(), eventbus.WithdrawalCompleted{})
	})
}

func TestWebhookDisabledWithoutURL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	n := notify.NewWebhookNotifier("", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.Handle(context.Background(), eventbus.ReferralClaimed{})
	assert.Equal(t, int32(0), hits.Load())
}
