// Package api wires the paid impact endpoint and health surfaces onto gin.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/impactlabs/impact-oracle/internal/audit"
	"github.com/impactlabs/impact-oracle/internal/chain"
	"github.com/impactlabs/impact-oracle/internal/inference"
	"github.com/impactlabs/impact-oracle/internal/resilience"
	"github.com/impactlabs/impact-oracle/internal/x402"
)

// HeaderAuditSignature stamps each successful response with an HMAC over the
// prompt hash, payer and transaction so responses can be correlated with
// server-side audit logs.
const HeaderAuditSignature = "X-Audit-Signature"

// Covers the full retry/backoff envelope of one inference call.
const impactDeadline = 60 * time.Second

// DonationResolver is satisfied by chain.Resolver. Decoupled so handler
// tests can use a stub.
type DonationResolver interface {
	ResolveDonation(ctx context.Context, txHash string) (*chain.DonationRecord, error)
}

// Estimator is satisfied by inference.Client.
type Estimator interface {
	EstimateImpact(ctx context.Context, rec *chain.DonationRecord) (*inference.Report, error)
	CheckHealth(ctx context.Context) inference.Health
}

type ImpactRequest struct {
	TxHash string `json:"txHash" binding:"required"`
}

type ImpactResponse struct {
	Report       *inference.Report `json:"report"`
	Donor        string            `json:"donor"`
	Amount       string            `json:"amount"`
	Payer        string            `json:"payer,omitempty"`
	SettlementTx string            `json:"settlementTx,omitempty"`
}

// Handler serves the payment-gated impact API.
type Handler struct {
	resolver   DonationResolver
	estimator  Estimator
	signingKey string
	log        *zap.Logger
}

func NewHandler(resolver DonationResolver, estimator Estimator, signingKey string, log *zap.Logger) *Handler {
	return &Handler{resolver: resolver, estimator: estimator, signingKey: signingKey, log: log}
}

// Register mounts the paid routes. The payment gate middleware should
// already be applied to the group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/impact", h.handleImpact)
}

// RegisterHealth mounts the unauthenticated health surfaces.
func (h *Handler) RegisterHealth(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/health/provider", h.handleProviderHealth)
}

func (h *Handler) handleImpact(c *gin.Context) {
	var req ImpactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "txHash is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), impactDeadline)
	defer cancel()

	donation, err := h.resolver.ResolveDonation(ctx, req.TxHash)
	if err != nil {
		h.log.Warn("donation resolution failed", zap.String("tx", req.TxHash), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "donation not found"})
		return
	}

	report, err := h.estimator.EstimateImpact(ctx, donation)
	if err != nil {
		var open *resilience.CircuitOpenError
		if errors.As(err, &open) {
			// Fast-rejected without attempting the call; distinguishable so
			// callers can apply their own fallback.
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "inference temporarily unavailable"})
			return
		}
		// Retry budget exhausted. Detail stays in server logs.
		h.log.Error("inference failed", zap.String("tx", req.TxHash), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "inference failed"})
		return
	}

	payer, _ := x402.PayerFromContext(c)
	settlementTx, _ := x402.SettlementTxFromContext(c)

	if h.signingKey != "" {
		sig, err := audit.Sign(map[string]string{
			"txHash":     donation.TxHash,
			"payer":      payer,
			"promptHash": report.Proof.PromptHash,
		}, h.signingKey)
		if err == nil {
			c.Header(HeaderAuditSignature, sig)
		}
	}

	h.log.Info("impact report served",
		zap.String("tx", donation.TxHash),
		zap.String("payer", payer),
		zap.String("promptHash", report.Proof.PromptHash),
	)

	c.JSON(http.StatusOK, ImpactResponse{
		Report:       report,
		Donor:        donation.Donor,
		Amount:       donation.Amount.String(),
		Payer:        payer,
		SettlementTx: settlementTx,
	})
}

func (h *Handler) handleProviderHealth(c *gin.Context) {
	health := h.estimator.CheckHealth(c.Request.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}
