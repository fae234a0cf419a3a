package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Gin context keys set on admission.
const (
	ctxKeyPayer        = "x402_payer"
	ctxKeyAmount       = "x402_amount"
	ctxKeySettlementTx = "x402_settlement_tx"
)

// Gate is the request-scoped payment state machine:
//
//	AwaitingCredential → Verifying → (Settling) → Admitted
//
// with every state able to fall through to a 402 challenge. The only shared
// state across requests is the Facilitator, which must be concurrency-safe.
type Gate struct {
	cfg    GateConfig
	codec  *Codec
	fac    Facilitator
	settle bool
	log    *zap.Logger
}

func NewGate(cfg GateConfig, codec *Codec, fac Facilitator, settle bool, log *zap.Logger) *Gate {
	return &Gate{cfg: cfg, codec: codec, fac: fac, settle: settle, log: log}
}

// Middleware enforces payment on every request of the group it is mounted on.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs := BuildRequirements(resourceURL(c), g.cfg)

		header := c.GetHeader(HeaderPayment)
		if header == "" {
			g.challenge(c, reqs, "")
			return
		}

		cred, err := g.codec.DecodePayment(header)
		if err != nil {
			g.challenge(c, reqs, fmt.Sprintf("%s: %v", ReasonInvalidPayload, err))
			return
		}

		// Local checks run in fixed order, stopping at the first failure.
		if !strings.EqualFold(cred.Authorization.To, g.cfg.PayTo) {
			g.challenge(c, reqs, string(ReasonInvalidRecipient))
			return
		}

		// Value is guaranteed numeric by DecodePayment.
		value, _ := new(big.Int).SetString(cred.Authorization.Value, 10)
		required := CentsToAtomic(g.cfg.PriceCents)
		if value.Cmp(required) < 0 {
			g.challenge(c, reqs, fmt.Sprintf("%s: required %s, received %s",
				ReasonInsufficientAmount, required.String(), value.String()))
			return
		}

		verdict, err := g.fac.Verify(c.Request.Context(), cred, &reqs)
		if err != nil {
			// Transport failures never propagate as unhandled faults; the
			// client sees a challenge it can retry, detail stays in logs.
			g.log.Error("facilitator verify failed",
				zap.String("payer", cred.Authorization.From),
				zap.Error(err),
			)
			g.challenge(c, reqs, string(ReasonVerificationFailed)+": internal error")
			return
		}
		if !verdict.Valid {
			reason := verdict.InvalidReason
			if reason == "" {
				reason = string(ReasonFacilitatorRejected)
			}
			g.challenge(c, reqs, reason)
			return
		}

		c.Set(ctxKeyPayer, verdict.Payer)
		c.Set(ctxKeyAmount, verdict.Amount)

		if g.settle {
			// Settlement must conclusively succeed before the response is
			// released; a failure rolls back admission even though
			// verification already passed.
			receipt, err := g.fac.Settle(c.Request.Context(), cred, &reqs)
			if err != nil {
				g.log.Error("facilitator settle failed",
					zap.String("payer", verdict.Payer),
					zap.Error(err),
				)
				g.challenge(c, reqs, fmt.Sprintf("%s: %v", ReasonSettlementFailed, err))
				return
			}
			if !receipt.Success {
				g.challenge(c, reqs, fmt.Sprintf("%s: %s", ReasonSettlementFailed, receipt.Error))
				return
			}

			c.Set(ctxKeySettlementTx, receipt.TxHash)
			setPaymentResponseHeader(c, PaymentResponseHeader{
				Success:     true,
				Transaction: receipt.TxHash,
				Payer:       verdict.Payer,
			})
			g.log.Info("payment settled",
				zap.String("payer", verdict.Payer),
				zap.String("tx", receipt.TxHash),
			)
		}

		c.Next()
	}
}

// challenge aborts the request with a 402 carrying the requirements and, for
// anything other than a plain missing header, the rejection reason.
func (g *Gate) challenge(c *gin.Context, reqs PaymentRequirements, reason string) {
	c.AbortWithStatusJSON(http.StatusPaymentRequired, ChallengeResponse{
		PaymentRequirements: reqs,
		Error:               reason,
	})
}

// PayerFromContext returns the verified payer address after admission.
func PayerFromContext(c *gin.Context) (string, bool) {
	payer := c.GetString(ctxKeyPayer)
	return payer, payer != ""
}

// AmountFromContext returns the verified payment amount after admission.
func AmountFromContext(c *gin.Context) (string, bool) {
	amount := c.GetString(ctxKeyAmount)
	return amount, amount != ""
}

// SettlementTxFromContext returns the settlement transaction hash, when
// settlement is enabled.
func SettlementTxFromContext(c *gin.Context) (string, bool) {
	tx := c.GetString(ctxKeySettlementTx)
	return tx, tx != ""
}

func setPaymentResponseHeader(c *gin.Context, pr PaymentResponseHeader) {
	if b, err := json.Marshal(pr); err == nil {
		c.Header(HeaderPaymentResponse, base64.StdEncoding.EncodeToString(b))
	}
}

func resourceURL(c *gin.Context) string {
	scheme := "https"
	if c.Request.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.Path
}
