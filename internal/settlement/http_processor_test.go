package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
)

func TestHTTPProcessorAuthorize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/authorizations", r.URL.Path)
		assert.Equal(t, "bk:authorize", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(10_000), body["amount"])
		assert.Equal(t, false, body["capture"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"hold_123"}`))
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL+"/", "sk_test", time.Second)
	auth, err := p.Authorize(context.Background(), AuthorizeRequest{IdempotencyKey: "bk:authorize", AmountCents: 10_000, PaymentMethod: "pm_card"})
	require.NoError(t, err)
	assert.Equal(t, "hold_123", auth.HoldID)
	assert.Empty(t, auth.ChargeID)
}

func TestHTTPProcessorClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		code      string
		retryable bool
	}{
		{"declined", http.StatusPaymentRequired, `{"code":"card_declined","message":"insufficient funds"}`, "card_declined", false},
		{"bad request", http.StatusBadRequest, ``, "http_400", false},
		{"rate limited", http.StatusTooManyRequests, ``, "http_429", true},
		{"in flight", http.StatusConflict, `{"code":"idempotency_in_progress"}`, "idempotency_in_progress", true},
		{"outage", http.StatusBadGateway, ``, "http_502", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p := NewHTTPProcessor(srv.URL, "", time.Second)
			_, err := p.Capture(context.Background(), "k", "hold_1", 500)
			require.Error(t, err)

			var pe *apperr.PaymentError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.code, pe.Code)
			assert.Equal(t, tc.retryable, pe.Retryable)
			assert.ErrorIs(t, err, apperr.ErrPayment)
		})
	}
}

func TestHTTPProcessorNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewHTTPProcessor(url, "", time.Second)
	err := p.Void(context.Background(), "k", "hold_1")
	assert.True(t, apperr.IsRetryablePayment(err))
}

func TestHTTPProcessorRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"re_9","amount":2500}`))
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, "", time.Second)
	receipt, err := p.Refund(context.Background(), "k", "ch_1", 2_500)
	require.NoError(t, err)
	assert.Equal(t, Receipt{Reference: "re_9", AmountCents: 2_500}, receipt)
}
