// Package inference calls the external impact-estimation provider through
// the resilience policy and refuses to return any result that does not carry
// a provider-issued proof.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/impactlabs/impact-oracle/internal/audit"
	"github.com/impactlabs/impact-oracle/internal/chain"
	"github.com/impactlabs/impact-oracle/internal/resilience"
)

// HeaderProof carries the provider's verifiability proof on every successful
// generation response. Its absence is a hard failure.
const HeaderProof = "X-Inference-Proof"

// HeaderRequestSignature is the optional audit signature stamped on outbound
// requests when a signing secret is configured.
const HeaderRequestSignature = "X-Request-Signature"

const healthTimeout = 5 * time.Second

// ImpactMetrics is the structured estimate returned by the provider.
type ImpactMetrics struct {
	LivesImpacted int    `json:"livesImpacted"`
	ResourceType  string `json:"resourceType"`
	Region        string `json:"region,omitempty"`
}

// Proof binds a report to the provider artifact and the exact prompt that
// produced it.
type Proof struct {
	OpaqueProof string `json:"opaqueProof"`
	ModelID     string `json:"modelId"`
	PromptHash  string `json:"promptHash"`
}

// Report is the validated result of one inference call. Immutable once built.
type Report struct {
	Metrics    ImpactMetrics `json:"metrics"`
	Confidence int           `json:"confidence"`
	Proof      Proof         `json:"proof"`
}

// Health is the non-critical provider status signal.
type Health struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Metrics    ImpactMetrics `json:"metrics"`
	Confidence int           `json:"confidence"`
	ModelID    string        `json:"modelId"`
}

// Client is an authenticated provider client. Safe for concurrent use; the
// resilience policy holds the only shared mutable state.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	signingKey string // empty disables request signatures
	policy     *resilience.Policy
	http       *http.Client
	log        *zap.Logger
}

func NewClient(baseURL, apiKey, model, signingKey string, policy *resilience.Policy, log *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		signingKey: signingKey,
		policy:     policy,
		http:       &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// BuildPrompt renders the fully-parameterized prompt for a donation record.
// Deterministic: identical records produce identical prompts (and therefore
// identical prompt hashes).
func BuildPrompt(rec *chain.DonationRecord) string {
	return fmt.Sprintf(
		"Estimate the humanitarian impact of the following on-chain donation.\n"+
			"Network: %s\n"+
			"Transaction: %s\n"+
			"Donor: %s\n"+
			"Recipient: %s\n"+
			"Token: %s\n"+
			"Amount (smallest unit): %s\n"+
			"Respond with JSON: {\"metrics\":{\"livesImpacted\":<int>,\"resourceType\":<string>,\"region\":<string>},\"confidence\":<0-100>,\"modelId\":<string>}",
		rec.Network, rec.TxHash, rec.Donor, rec.Recipient, rec.Token, rec.Amount.String(),
	)
}

// EstimateImpact builds the prompt, dispatches the call through the
// resilience policy, and returns the validated report with its proof.
func (c *Client) EstimateImpact(ctx context.Context, rec *chain.DonationRecord) (*Report, error) {
	prompt := BuildPrompt(rec)
	promptHash := audit.HashContent(prompt)

	var report *Report
	err := c.policy.Execute(ctx, func(ctx context.Context) error {
		r, err := c.generate(ctx, prompt, promptHash)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (c *Client) generate(ctx context.Context, prompt, promptHash string) (*Report, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.signingKey != "" {
		sig, err := audit.Sign(map[string]string{"promptHash": promptHash, "model": c.model}, c.signingKey)
		if err == nil {
			req.Header.Set(HeaderRequestSignature, sig)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{Kind: KindTransport, Status: resp.StatusCode, Message: string(detail)}
	}

	proof := resp.Header.Get(HeaderProof)
	if proof == "" {
		return nil, &Error{Kind: KindMissingProof, Message: "response lacks " + HeaderProof + " header"}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Kind: KindInvalidResult, Message: "malformed response body: " + err.Error()}
	}
	if err := validateResult(&out); err != nil {
		return nil, &Error{Kind: KindInvalidResult, Message: err.Error()}
	}

	return &Report{
		Metrics:    out.Metrics,
		Confidence: out.Confidence,
		Proof: Proof{
			OpaqueProof: proof,
			ModelID:     out.ModelID,
			PromptHash:  promptHash,
		},
	}, nil
}

func validateResult(r *generateResponse) error {
	if r.Metrics.LivesImpacted < 0 {
		return fmt.Errorf("negative livesImpacted %d", r.Metrics.LivesImpacted)
	}
	if r.Metrics.ResourceType == "" {
		return fmt.Errorf("empty resourceType")
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("confidence %d outside 0-100", r.Confidence)
	}
	if r.ModelID == "" {
		return fmt.Errorf("empty modelId")
	}
	return nil
}

// CheckHealth probes the provider with a bounded timeout. A failure is a
// status signal, not an error: the probe always returns a Health value.
func (c *Client) CheckHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return Health{Healthy: false, Error: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Health{Healthy: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{Healthy: false, Error: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return Health{Healthy: true}
}
