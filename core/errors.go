package core

import (
	"errors"

	jwtkit "github.com/PaulFidika/tokengate/jwt"
)

// Verification failures. Callers of the facade only ever see a *Rejection; these kinds are
// visible to direct users of Verifier and ValidateToken and in debug logs.
var (
	ErrParse               = errors.New("parse_error")
	ErrUnknownKey          = jwtkit.ErrUnknownKey
	ErrSignatureInvalid    = errors.New("signature_invalid")
	ErrExpired             = errors.New("expired")
	ErrNotYetValid         = errors.New("not_yet_valid")
	ErrAudienceMismatch    = errors.New("audience_mismatch")
	ErrIssuerMismatch      = errors.New("issuer_mismatch")
	ErrAlgorithmNotAllowed = errors.New("algorithm_not_allowed")
)

var (
	ErrNoTokenFound         = errors.New("no_token_found")
	ErrUnsupportedTokenType = errors.New("unsupported_token_type")
	ErrInvalidToken         = errors.New("invalid_token")
	ErrTimeout              = errors.New("timeout")
	// ErrConfiguration is fatal at startup.
	ErrConfiguration = errors.New("configuration_error")
	// ErrRejected matches every *Rejection.
	ErrRejected = errors.New("rejected")
)

// RejectReason is the caller-visible reason of a Rejection.
type RejectReason string

const (
	ReasonNoTokenFound         RejectReason = "no_token_found"
	ReasonUnsupportedTokenType RejectReason = "unsupported_token_type"
	ReasonInvalidToken         RejectReason = "invalid_token"
	ReasonTimeout              RejectReason = "timeout"
)

// Rejection is the only error returned by Facade.Verify. It never carries verifier detail.
type Rejection struct {
	Reason RejectReason
}

func reject(reason RejectReason) *Rejection { return &Rejection{Reason: reason} }

func (r *Rejection) Error() string { return "rejected: " + string(r.Reason) }

func (r *Rejection) Is(target error) bool { return target == ErrRejected }

func (r *Rejection) Unwrap() error {
	switch r.Reason {
	case ReasonNoTokenFound:
		return ErrNoTokenFound
	case ReasonUnsupportedTokenType:
		return ErrUnsupportedTokenType
	case ReasonTimeout:
		return ErrTimeout
	default:
		return ErrInvalidToken
	}
}

var codedErrors = []error{
	ErrParse,
	ErrUnknownKey,
	ErrSignatureInvalid,
	ErrExpired,
	ErrNotYetValid,
	ErrAudienceMismatch,
	ErrIssuerMismatch,
	ErrAlgorithmNotAllowed,
	ErrNoTokenFound,
	ErrUnsupportedTokenType,
	ErrInvalidToken,
	ErrTimeout,
	ErrConfiguration,
	ErrRejected,
}

// ErrorCode returns the stable wire code for err, or "internal_error".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range codedErrors {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return "internal_error"
}

// ErrorFromCode maps a wire code back to its sentinel.
func ErrorFromCode(code string) error {
	for _, e := range codedErrors {
		if e.Error() == code {
			return e
		}
	}
	return errors.New(code)
}
