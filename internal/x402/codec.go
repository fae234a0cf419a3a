package x402

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// centsScale converts a price in fiat cents (2 decimals) to the stablecoin's
// smallest unit (6 decimals): 10^(6-2).
const centsScale = 10_000

// CentsToAtomic converts a price in minor fiat units to the token's smallest
// unit using exact integer arithmetic.
func CentsToAtomic(cents int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(cents), big.NewInt(centsScale))
}

// Codec translates between the wire form of a payment credential and its
// validated in-memory form. The clock is injectable so the authorization
// time-window check is deterministic under test.
type Codec struct {
	now func() time.Time
}

func NewCodec() *Codec {
	return &Codec{now: time.Now}
}

// NewCodecWithClock builds a codec with a fixed clock source.
func NewCodecWithClock(now func() time.Time) *Codec {
	return &Codec{now: now}
}

// DecodePayment decodes and validates a base64(JSON) X-PAYMENT header value.
// All failures come back as errors; nothing escapes this boundary as a panic.
func (c *Codec) DecodePayment(raw string) (*PaymentCredential, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	var cred PaymentCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	if cred.X402Version != ProtocolVersion {
		return nil, fmt.Errorf("unsupported x402Version %d", cred.X402Version)
	}
	if cred.Scheme != SchemeExact {
		return nil, fmt.Errorf("unsupported scheme %q", cred.Scheme)
	}
	if cred.Network != NetworkBase && cred.Network != NetworkBaseSepolia {
		return nil, fmt.Errorf("unsupported network %q", cred.Network)
	}
	if err := validateHexBytes(cred.Signature, 65); err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	auth := &cred.Authorization
	if !common.IsHexAddress(auth.From) {
		return nil, fmt.Errorf("invalid from address %q", auth.From)
	}
	if !common.IsHexAddress(auth.To) {
		return nil, fmt.Errorf("invalid to address %q", auth.To)
	}
	if err := validateHexBytes(auth.Nonce, 32); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("non-numeric value %q", auth.Value)
	}

	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid validAfter %q", auth.ValidAfter)
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid validBefore %q", auth.ValidBefore)
	}

	now := c.now().Unix()
	if now < validAfter {
		return nil, errors.New("authorization not yet valid")
	}
	if now >= validBefore {
		return nil, errors.New("authorization expired")
	}

	return &cred, nil
}

// EncodePayment renders a credential as a base64(JSON) header value.
func EncodePayment(cred *PaymentCredential) (string, error) {
	data, err := json.Marshal(cred)
	if err != nil {
		return "", fmt.Errorf("marshal credential: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// GateConfig is the static payment configuration, read-only after startup.
type GateConfig struct {
	PayTo       string
	Network     string
	PriceCents  int64
	Description string
}

// BuildRequirements constructs the challenge payload for a resource URL.
// Pure function of the static configuration and the URL; not cached because
// the URL varies per request.
func BuildRequirements(resource string, gc GateConfig) PaymentRequirements {
	return PaymentRequirements{
		X402Version:       ProtocolVersion,
		AcceptedSchemes:   []string{SchemeExact},
		Network:           gc.Network,
		PayTo:             gc.PayTo,
		MinAmountRequired: CentsToAtomic(gc.PriceCents).String(),
		Resource:          resource,
		Description:       gc.Description,
	}
}

func validateHexBytes(s string, n int) error {
	trimmed := strings.TrimPrefix(s, "0x")
	if len(trimmed) == len(s) {
		return fmt.Errorf("missing 0x prefix in %q", s)
	}
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return fmt.Errorf("invalid hex %q", s)
	}
	if len(b) != n {
		return fmt.Errorf("expected %d bytes, got %d", n, len(b))
	}
	return nil
}
