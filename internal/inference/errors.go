package inference

import "fmt"

// ErrorKind is the closed set of provider failure classes. Transport errors
// are retried by the resilience policy; the other kinds describe responses
// that arrived but cannot be trusted.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindMissingProof
	KindInvalidResult
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindMissingProof:
		return "missing_proof"
	case KindInvalidResult:
		return "invalid_result"
	}
	return "unknown"
}

// Error is a typed provider failure.
type Error struct {
	Kind    ErrorKind
	Status  int // HTTP status for transport errors, 0 otherwise
	Message string
}

func (e *Error) Error() string {
	if e.Kind == KindTransport && e.Status != 0 {
		return fmt.Sprintf("provider %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}
