package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/impactlabs/impact-oracle/internal/audit"
	"github.com/impactlabs/impact-oracle/internal/chain"
	"github.com/impactlabs/impact-oracle/internal/inference"
	"github.com/impactlabs/impact-oracle/internal/resilience"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSigningKey = "handler-test-key"

type stubResolver struct {
	record *chain.DonationRecord
	err    error
}

func (s *stubResolver) ResolveDonation(ctx context.Context, txHash string) (*chain.DonationRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.record, nil
}

type stubEstimator struct {
	report *inference.Report
	err    error
	health inference.Health
}

func (s *stubEstimator) EstimateImpact(ctx context.Context, rec *chain.DonationRecord) (*inference.Report, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

func (s *stubEstimator) CheckHealth(ctx context.Context) inference.Health {
	return s.health
}

func testRecord() *chain.DonationRecord {
	return &chain.DonationRecord{
		TxHash:    "0x" + strings.Repeat("11", 32),
		Donor:     "0x" + strings.Repeat("22", 20),
		Recipient: "0x" + strings.Repeat("33", 20),
		Token:     "0x" + strings.Repeat("44", 20),
		Amount:    big.NewInt(1_000_000),
		Network:   "base-sepolia",
	}
}

func testReport() *inference.Report {
	return &inference.Report{
		Metrics:    inference.ImpactMetrics{LivesImpacted: 12, ResourceType: "meals", Region: "east-africa"},
		Confidence: 85,
		Proof:      inference.Proof{OpaqueProof: "proof-blob", ModelID: "impact-estimator-1", PromptHash: "0xabc"},
	}
}

func newImpactRouter(resolver DonationResolver, estimator Estimator) *gin.Engine {
	h := NewHandler(resolver, estimator, testSigningKey, zap.NewNop())
	r := gin.New()
	h.RegisterHealth(r)
	h.Register(r.Group("/api"))
	return r
}

func postImpact(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/impact", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleImpact_Success(t *testing.T) {
	rec := testRecord()
	r := newImpactRouter(&stubResolver{record: rec}, &stubEstimator{report: testReport()})

	w := postImpact(t, r, `{"txHash":"`+rec.TxHash+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp ImpactResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Donor != rec.Donor {
		t.Errorf("donor = %q, want %q", resp.Donor, rec.Donor)
	}
	if resp.Amount != "1000000" {
		t.Errorf("amount = %q, want 1000000", resp.Amount)
	}
	if resp.Report == nil || resp.Report.Metrics.LivesImpacted != 12 {
		t.Errorf("unexpected report: %+v", resp.Report)
	}

	sig := w.Header().Get(HeaderAuditSignature)
	if sig == "" {
		t.Fatal("audit signature header missing")
	}
	ok := audit.Verify(map[string]string{
		"txHash":     rec.TxHash,
		"payer":      "",
		"promptHash": "0xabc",
	}, sig, testSigningKey)
	if !ok {
		t.Error("audit signature does not verify")
	}
}

func TestHandleImpact_MissingTxHash(t *testing.T) {
	r := newImpactRouter(&stubResolver{record: testRecord()}, &stubEstimator{report: testReport()})

	w := postImpact(t, r, `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleImpact_DonationNotFound(t *testing.T) {
	r := newImpactRouter(&stubResolver{err: errors.New("no transfer event")}, &stubEstimator{report: testReport()})

	w := postImpact(t, r, `{"txHash":"0xdeadbeef"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if !strings.Contains(w.Body.String(), "donation not found") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandleImpact_CircuitOpen(t *testing.T) {
	est := &stubEstimator{err: &resilience.CircuitOpenError{Name: "inference-provider"}}
	r := newImpactRouter(&stubResolver{record: testRecord()}, est)

	w := postImpact(t, r, `{"txHash":"0x11"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "temporarily unavailable") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandleImpact_InferenceError(t *testing.T) {
	est := &stubEstimator{err: &inference.Error{Kind: inference.KindTransport, Status: 503, Message: "upstream down"}}
	r := newImpactRouter(&stubResolver{record: testRecord()}, est)

	w := postImpact(t, r, `{"txHash":"0x11"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	// Provider detail stays out of the response body.
	if strings.Contains(w.Body.String(), "upstream down") {
		t.Errorf("body leaks provider error: %s", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	r := newImpactRouter(&stubResolver{}, &stubEstimator{health: inference.Health{Healthy: true}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestProviderHealth_Degraded(t *testing.T) {
	r := newImpactRouter(&stubResolver{}, &stubEstimator{health: inference.Health{Healthy: false, Error: "connection refused"}})

	req := httptest.NewRequest(http.MethodGet, "/health/provider", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}

	var health inference.Health
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Healthy || health.Error == "" {
		t.Errorf("unexpected health payload: %+v", health)
	}
}
