package core

import (
	"context"
	"time"
)

// VerificationEvent describes the outcome of one facade verification.
type VerificationEvent struct {
	At        time.Time
	TokenType TokenType
	Accepted  bool
	// Reason is empty for accepted requests.
	Reason  RejectReason
	Subject string
	Issuer  string
}

// VerificationEventLogger records verification outcomes to an external sink.
// Implementations should be non-blocking and best-effort.
type VerificationEventLogger interface {
	LogVerification(ctx context.Context, ev VerificationEvent) error
}
