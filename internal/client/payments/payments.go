// Package payments gates the tip flow on an external payment provider. Only
// the confirmation outcome matters to the rest of the client: a succeeded
// confirmation unlocks persisting the tip record, nothing else.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Card struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	CVC      string `json:"cvc"`
}

// Confirmation is the provider's verdict on a payment intent. TransactionID
// doubles as the tip record's idempotency key.
type Confirmation struct {
	TransactionID string `json:"transaction_id"`
	Succeeded     bool   `json:"succeeded"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Provider tokenizes card details and confirms server-issued payment
// intents.
type Provider interface {
	Tokenize(ctx context.Context, card Card) (string, error)
	ConfirmIntent(ctx context.Context, intentID, token string) (Confirmation, error)
}

// HTTPProvider talks to the provider's REST surface directly. The full SDK
// is out of scope; these two calls are all the tip flow consumes.
type HTTPProvider struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPProvider) Tokenize(ctx context.Context, card Card) (string, error) {
	var res struct {
		Token string `json:"token"`
	}
	if err := p.post(ctx, "/tokens", card, &res); err != nil {
		return "", err
	}
	return res.Token, nil
}

func (p *HTTPProvider) ConfirmIntent(ctx context.Context, intentID, token string) (Confirmation, error) {
	var conf Confirmation
	body := map[string]string{"intent_id": intentID, "token": token}
	if err := p.post(ctx, "/intents/confirm", body, &conf); err != nil {
		return Confirmation{}, err
	}
	return conf, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", p.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("payment provider returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
