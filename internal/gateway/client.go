package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Client queries the external payment gateway. It is safe for
// concurrent use; every call is bounded by the configured timeout and
// never retried internally. Retry policy belongs to the caller.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *slog.Logger
}

type Config struct {
	BaseURL        string
	AccessToken    string
	RequestTimeout time.Duration
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

type paymentPayload struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	DateApproved      *time.Time      `json:"date_approved"`
}

type searchPayload struct {
	Results []paymentPayload `json:"results"`
}

type checkoutPayload struct {
	ID          json.Number `json:"id"`
	CheckoutURL string      `json:"checkout_url"`
	ExpiresAt   *time.Time  `json:"expires_at"`
}

// GetPayment fetches authoritative status by the gateway's own payment id.
func (c *Client) GetPayment(ctx context.Context, gatewayPaymentID string) (*PaymentInfo, error) {
	endpoint := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, url.PathEscape(gatewayPaymentID))

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var payload paymentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &TransientError{Op: "get payment", Err: fmt.Errorf("decode response: %w", err)}
	}

	return c.toPaymentInfo(payload), nil
}

// SearchByReference looks a payment up by the external reference the
// service attached at checkout creation. Used as a fallback before the
// gateway has assigned (or we have learned) a payment id.
func (c *Client) SearchByReference(ctx context.Context, externalReference string) (*PaymentInfo, error) {
	endpoint := fmt.Sprintf("%s/v1/payments/search?external_reference=%s&limit=5",
		c.baseURL, url.QueryEscape(externalReference))

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var payload searchPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &TransientError{Op: "search payments", Err: fmt.Errorf("decode response: %w", err)}
	}

	for _, result := range payload.Results {
		if result.ExternalReference == externalReference {
			return c.toPaymentInfo(result), nil
		}
	}

	return nil, ErrNotFound
}

// CreateCheckout creates a hosted checkout session. An idempotency key
// header protects against duplicate creation on ambiguous failures.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	payload := map[string]interface{}{
		"external_reference": req.ExternalReference,
		"description":        req.Description,
		"transaction_amount": req.Amount,
		"notification_url":   req.NotificationURL,
	}
	if req.PayerEmail != "" {
		payload["payer"] = map[string]string{"email": req.PayerEmail}
	}
	if !req.ExpiresAt.IsZero() {
		payload["date_of_expiration"] = req.ExpiresAt.UTC().Format(time.RFC3339)
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal checkout request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/checkouts", c.baseURL)
	body, err := c.do(ctx, http.MethodPost, endpoint, reqBody)
	if err != nil {
		return nil, err
	}

	var resp checkoutPayload
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransientError{Op: "create checkout", Err: fmt.Errorf("decode response: %w", err)}
	}

	return &CheckoutSession{
		GatewayPaymentID: resp.ID.String(),
		CheckoutURL:      resp.CheckoutURL,
		ExpiresAt:        resp.ExpiresAt,
	}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	if method == http.MethodPost {
		httpReq.Header.Set("X-Idempotency-Key", uuid.New().String())
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("gateway request failed", "method", method, "endpoint", endpoint, "error", err)
		return nil, &TransientError{Op: method + " " + endpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: method + " " + endpoint, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		c.logger.Warn("gateway returned server error",
			"method", method, "endpoint", endpoint, "status", resp.StatusCode)
		return nil, &TransientError{Op: method + " " + endpoint,
			Err: fmt.Errorf("gateway returned status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("gateway rejected request: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (c *Client) toPaymentInfo(payload paymentPayload) *PaymentInfo {
	return &PaymentInfo{
		ID:                payload.ID.String(),
		ExternalReference: payload.ExternalReference,
		Status:            MapRawStatus(payload.Status, c.logger),
		RawStatus:         payload.Status,
		Amount:            payload.TransactionAmount,
		ApprovedAt:        payload.DateApproved,
	}
}
