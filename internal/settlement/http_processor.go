package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
)

// HTTPProcessor talks to a processor exposing a JSON REST API with
// Idempotency-Key support.
type HTTPProcessor struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPProcessor(baseURL, apiKey string, timeout time.Duration) *HTTPProcessor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProcessor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type processorError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p *HTTPProcessor) do(ctx context.Context, op, path, key string, body any, out any) error {
	ctx, span := tracer.Start(ctx, "processor."+op)
	defer span.End()
	span.SetAttributes(attribute.String("processor.path", path))

	payload, err := json.Marshal(body)
	if err != nil {
		return &apperr.PaymentError{Op: op, Code: "encode", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &apperr.PaymentError{Op: op, Code: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		// transport failures are safe to retry under the same idempotency key
		return &apperr.PaymentError{Op: op, Code: "network", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= http.StatusMultipleChoices {
		var pe processorError
		_ = json.Unmarshal(respBody, &pe)
		code := pe.Code
		if code == "" {
			code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		var cause error
		if msg := strings.TrimSpace(pe.Message); msg != "" {
			cause = errors.New(msg)
		}
		return &apperr.PaymentError{
			Op:        op,
			Code:      code,
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusConflict,
			Err:       cause,
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &apperr.PaymentError{Op: op, Code: "decode", Retryable: true, Err: err}
		}
	}
	return nil
}

func (p *HTTPProcessor) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	var out struct {
		ID       string `json:"id"`
		ChargeID string `json:"charge_id"`
	}
	err := p.do(ctx, "authorize", "/v1/authorizations", req.IdempotencyKey, map[string]any{
		"amount":         req.AmountCents,
		"currency":       "usd",
		"payment_method": req.PaymentMethod,
		"capture":        req.Capture,
	}, &out)
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{HoldID: out.ID, ChargeID: out.ChargeID}, nil
}

func (p *HTTPProcessor) Capture(ctx context.Context, key, holdID string, amountCents int64) (Receipt, error) {
	var out struct {
		ChargeID string `json:"charge_id"`
		Amount   int64  `json:"amount"`
	}
	path := "/v1/authorizations/" + url.PathEscape(holdID) + "/capture"
	if err := p.do(ctx, "capture", path, key, map[string]any{"amount": amountCents}, &out); err != nil {
		return Receipt{}, err
	}
	return Receipt{Reference: out.ChargeID, AmountCents: out.Amount}, nil
}

func (p *HTTPProcessor) Refund(ctx context.Context, key, chargeID string, amountCents int64) (Receipt, error) {
	var out struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
	}
	err := p.do(ctx, "refund", "/v1/refunds", key, map[string]any{
		"charge_id": chargeID,
		"amount":    amountCents,
	}, &out)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Reference: out.ID, AmountCents: out.Amount}, nil
}

func (p *HTTPProcessor) Void(ctx context.Context, key, holdID string) error {
	path := "/v1/authorizations/" + url.PathEscape(holdID) + "/void"
	return p.do(ctx, "void", path, key, map[string]any{}, nil)
}
