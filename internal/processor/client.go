// Package processor wraps the card processor. Checkout creates an intent and
// hands its client secret to the buyer's app; settlement is confirmed by
// polling the intent for a terminal state.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/marketflow/checkout/internal/domain"
)

const StatusSucceeded = "succeeded"

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func NewClient(baseURL, secretKey string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		secretKey:  secretKey,
		httpClient: httpClient,
	}
}

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

func (c *Client) CreateIntent(ctx context.Context, amountCents int64, orderID, userID string) (*Intent, error) {
	body := map[string]any{
		"amount":   amountCents,
		"currency": "usd",
		"metadata": map[string]string{
			"order_id": orderID,
			"user_id":  userID,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create intent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	intent := &Intent{}
	if err := c.do(req, intent); err != nil {
		return nil, &domain.ExternalServiceError{Service: "card processor", Err: err}
	}

	return intent, nil
}

func (c *Client) GetIntent(ctx context.Context, id string) (*Intent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payment_intents/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("create intent request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	intent := &Intent{}
	if err := c.do(req, intent); err != nil {
		return nil, &domain.ExternalServiceError{Service: "card processor", Err: err}
	}

	return intent, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("processor returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
