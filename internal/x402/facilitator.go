package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Facilitator is the external service of record that performs real
// signature/ledger verification and broadcasts settlement transactions.
// Implementations must be safe for concurrent use.
type Facilitator interface {
	Verify(ctx context.Context, cred *PaymentCredential, reqs *PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, cred *PaymentCredential, reqs *PaymentRequirements) (*SettleResponse, error)
}

// FacilitatorClient talks to a remote facilitator over HTTPS JSON.
type FacilitatorClient struct {
	baseURL string
	http    *http.Client
}

func NewFacilitatorClient(baseURL string) *FacilitatorClient {
	return &FacilitatorClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *FacilitatorClient) Verify(ctx context.Context, cred *PaymentCredential, reqs *PaymentRequirements) (*VerifyResponse, error) {
	var out VerifyResponse
	err := c.post(ctx, "/verify", VerifyRequest{PaymentPayload: cred, PaymentRequirements: reqs}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *FacilitatorClient) Settle(ctx context.Context, cred *PaymentCredential, reqs *PaymentRequirements) (*SettleResponse, error) {
	var out SettleResponse
	err := c.post(ctx, "/settle", SettleRequest{PaymentPayload: cred, PaymentRequirements: reqs}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
