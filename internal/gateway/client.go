// Package gateway talks to the redirect-based payment provider: an auth
// token is exchanged for a remote order, which is exchanged for a hosted
// payment session the buyer's browser is redirected to. All three calls are
// plain network requests with no implicit retry; the injected http.Client
// carries the timeout.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/marketflow/checkout/internal/domain"
)

type Client struct {
	baseURL       string
	apiKey        string
	integrationID string
	iframeID      string
	httpClient    *http.Client
}

func NewClient(baseURL, apiKey, integrationID, iframeID string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		integrationID: integrationID,
		iframeID:      iframeID,
		httpClient:    httpClient,
	}
}

// BillingInfo is forwarded to the hosted payment page. Missing fields fall
// back to provider-accepted placeholders.
type BillingInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (c *Client) AuthToken(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}

	err := c.post(ctx, "/auth/tokens", map[string]string{"api_key": c.apiKey}, &resp)
	if err != nil {
		return "", &domain.ExternalServiceError{Service: "gateway auth", Err: err}
	}

	return resp.Token, nil
}

func (c *Client) CreateRemoteOrder(ctx context.Context, token string, amountCents int64) (string, error) {
	body := map[string]any{
		"auth_token":      token,
		"delivery_needed": false,
		"amount_cents":    amountCents,
		"currency":        "EGP",
		"items":           []any{},
	}

	var resp struct {
		ID int64 `json:"id"`
	}

	if err := c.post(ctx, "/ecommerce/orders", body, &resp); err != nil {
		return "", &domain.ExternalServiceError{Service: "gateway order", Err: err}
	}

	return fmt.Sprintf("%d", resp.ID), nil
}

func (c *Client) CreatePaymentSession(ctx context.Context, token, remoteOrderID string, amountCents int64, billing BillingInfo) (string, error) {
	if billing.Name == "" {
		billing.Name = "Customer"
	}
	if billing.Email == "" {
		billing.Email = "customer@example.com"
	}
	if billing.Phone == "" {
		billing.Phone = "0000000000"
	}

	body := map[string]any{
		"auth_token":     token,
		"amount_cents":   amountCents,
		"expiration":     3600,
		"order_id":       remoteOrderID,
		"currency":       "EGP",
		"integration_id": c.integrationID,
		"billing_data": map[string]string{
			"first_name":   billing.Name,
			"last_name":    "NA",
			"email":        billing.Email,
			"phone_number": billing.Phone,
			"apartment":    "NA",
			"floor":        "NA",
			"street":       "NA",
			"building":     "NA",
			"city":         "NA",
			"country":      "NA",
			"state":        "NA",
			"zip_code":     "00000",
		},
	}

	var resp struct {
		Token string `json:"token"`
	}

	if err := c.post(ctx, "/acceptance/payment_keys", body, &resp); err != nil {
		return "", &domain.ExternalServiceError{Service: "gateway session", Err: err}
	}

	return resp.Token, nil
}

// RedirectURL builds the hosted payment page URL for a session token.
func (c *Client) RedirectURL(sessionToken string) string {
	return fmt.Sprintf("%s/acceptance/iframes/%s?payment_token=%s", c.baseURL, c.iframeID, sessionToken)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
