// Package x402 implements the pay-per-call payment protocol used to gate the
// paid API surface: decoding the X-PAYMENT credential header, building 402
// challenge responses, and orchestrating verification and settlement through
// an external facilitator.
package x402

// ProtocolVersion is the only x402 version this service speaks.
const ProtocolVersion = 1

// SchemeExact is the only supported payment scheme.
const SchemeExact = "exact"

// HTTP header names.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// Supported network identifiers.
const (
	NetworkBase        = "base"
	NetworkBaseSepolia = "base-sepolia"
)

// PaymentAuthorization is the transfer authorization signed by the payer.
// Value is the amount in the token's smallest unit, as a decimal string.
// ValidAfter/ValidBefore are unix seconds; Nonce is a 0x-prefixed 32-byte
// hex value whose replay prevention is the facilitator's job.
type PaymentAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// PaymentCredential is the decoded X-PAYMENT header payload. Immutable once
// decoded; never persisted.
type PaymentCredential struct {
	X402Version   int                  `json:"x402Version"`
	Scheme        string               `json:"scheme"`
	Network       string               `json:"network"`
	Signature     string               `json:"signature"`
	Authorization PaymentAuthorization `json:"authorization"`
}

// PaymentRequirements is the challenge payload telling a client what payment
// is required. Built fresh per request: Resource varies with the URL.
type PaymentRequirements struct {
	X402Version       int      `json:"x402Version"`
	AcceptedSchemes   []string `json:"acceptedSchemes"`
	Network           string   `json:"network"`
	PayTo             string   `json:"payTo"`
	MinAmountRequired string   `json:"minAmountRequired"`
	Resource          string   `json:"resource"`
	Description       string   `json:"description,omitempty"`
}

// ChallengeResponse is the 402 body: the requirements plus, when the request
// carried a malformed or rejected credential, the reason.
type ChallengeResponse struct {
	PaymentRequirements
	Error string `json:"error,omitempty"`
}

// VerifyRequest is posted to the facilitator's /verify endpoint.
type VerifyRequest struct {
	PaymentPayload      *PaymentCredential   `json:"paymentPayload"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is the facilitator's verification verdict.
type VerifyResponse struct {
	Valid         bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
	Amount        string `json:"amount,omitempty"`
}

// SettleRequest is posted to the facilitator's /settle endpoint.
type SettleRequest struct {
	PaymentPayload      *PaymentCredential   `json:"paymentPayload"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements"`
}

// SettleResponse reports the on-chain settlement outcome.
type SettleResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PaymentResponseHeader is base64-encoded into X-PAYMENT-RESPONSE after a
// successful settlement.
type PaymentResponseHeader struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// RejectReason is the closed set of gate rejection codes. Every rejection is
// surfaced as a challenge-shaped 402 carrying one of these, never a bare 5xx.
type RejectReason string

const (
	ReasonMissingCredential   RejectReason = "missing_credential"
	ReasonInvalidPayload      RejectReason = "invalid_payload"
	ReasonInvalidRecipient    RejectReason = "invalid_recipient"
	ReasonInsufficientAmount  RejectReason = "insufficient_amount"
	ReasonFacilitatorRejected RejectReason = "facilitator_rejected"
	ReasonVerificationFailed  RejectReason = "verification_failed"
	ReasonSettlementFailed    RejectReason = "settlement_failed"
)
