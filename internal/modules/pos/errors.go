package pos

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies adapter failures for callers and setup UIs.
type ErrorCode string

const (
	CodeNotInitialized             ErrorCode = "NOT_INITIALIZED"
	CodeConnectionValidationFailed ErrorCode = "CONNECTION_VALIDATION_FAILED"
	CodeTokenExchangeFailed        ErrorCode = "TOKEN_EXCHANGE_FAILED"
	CodeInvalidState               ErrorCode = "INVALID_STATE"
	CodeNotSupported               ErrorCode = "NOT_SUPPORTED"
	CodeInvalidSignature           ErrorCode = "INVALID_SIGNATURE"
	CodeRateLimited                ErrorCode = "RATE_LIMITED"
	CodeVendorUnavailable          ErrorCode = "VENDOR_UNAVAILABLE"
	CodeVendorRejected             ErrorCode = "VENDOR_REJECTED"
	CodeUnauthorized               ErrorCode = "UNAUTHORIZED"
	CodeNotFound                   ErrorCode = "NOT_FOUND"
)

// Error is the adapter layer's typed error. Retryable reflects the vendor
// HTTP classification: 429/502/503/504 and network failures are retryable,
// other 4xx are terminal.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Err       error

	// RetryAfter carries a vendor-provided backoff hint (Retry-After header)
	// when present on a 429.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Detail converts the error into the wire shape handed to setup UIs.
func (e *Error) Detail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message, Retryable: e.Retryable}
}

// ── constructors ──────────────────────────────────────────────────────────────

// ErrNotInitialized reports an adapter used before Initialize.
func ErrNotInitialized(provider Provider) *Error {
	return &Error{Code: CodeNotInitialized, Message: fmt.Sprintf("%s adapter not initialized", provider)}
}

// ErrNotSupported reports an operation the vendor capability set excludes.
// Surfacing this is a programming error; callers should check capabilities.
func ErrNotSupported(provider Provider, op string) *Error {
	return &Error{Code: CodeNotSupported, Message: fmt.Sprintf("%s does not support %s", provider, op)}
}

// ErrTokenExchange reports a rejected OAuth code exchange. Codes are
// single-use, so this is never retryable with the same code.
func ErrTokenExchange(provider Provider, err error) *Error {
	return &Error{Code: CodeTokenExchangeFailed, Message: fmt.Sprintf("%s rejected the authorization code", provider), Err: err}
}

// ErrInvalidSignature reports a webhook signature mismatch. Callers log it
// and reject silently; no detail about the expected signature leaks out.
func ErrInvalidSignature(provider Provider) *Error {
	return &Error{Code: CodeInvalidSignature, Message: fmt.Sprintf("%s webhook signature mismatch", provider)}
}

// ErrInvalidState reports an OAuth state mismatch or expiry.
func ErrInvalidState(reason string) *Error {
	return &Error{Code: CodeInvalidState, Message: "oauth state rejected: " + reason}
}

// ErrConnectionValidation wraps a failed credential check. Retryability
// follows the underlying vendor error.
func ErrConnectionValidation(provider Provider, err error) *Error {
	return &Error{
		Code:      CodeConnectionValidationFailed,
		Message:   fmt.Sprintf("could not validate %s connection", provider),
		Retryable: IsRetryable(err),
		Err:       err,
	}
}

// vendorError maps an HTTP status from a vendor API onto the taxonomy.
func vendorError(provider Provider, status int, body string) *Error {
	switch {
	case status == 429:
		return &Error{Code: CodeRateLimited, Message: fmt.Sprintf("%s rate limited", provider), Retryable: true}
	case status == 401 || status == 403:
		return &Error{Code: CodeUnauthorized, Message: fmt.Sprintf("%s rejected credentials", provider)}
	case status == 404:
		return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s resource not found", provider)}
	case status >= 500:
		return &Error{Code: CodeVendorUnavailable, Message: fmt.Sprintf("%s returned %d", provider, status), Retryable: status == 502 || status == 503 || status == 504}
	default:
		return &Error{Code: CodeVendorRejected, Message: fmt.Sprintf("%s returned %d: %s", provider, status, truncate(body, 200))}
	}
}

// networkError wraps a transport-level failure; always retryable.
func networkError(provider Provider, err error) *Error {
	return &Error{Code: CodeVendorUnavailable, Message: fmt.Sprintf("%s unreachable", provider), Retryable: true, Err: err}
}

// ── classification helpers ────────────────────────────────────────────────────

// IsRetryable reports whether err (or anything it wraps) is a retryable
// adapter error. Non-adapter errors are treated as terminal.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// AsDetail extracts the structured detail from any error, falling back to a
// generic non-retryable shape for errors outside the taxonomy.
func AsDetail(err error) *ErrorDetail {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Detail()
	}
	return &ErrorDetail{Code: CodeVendorRejected, Message: err.Error()}
}

// HasCode reports whether err carries the given adapter error code.
func HasCode(err error, code ErrorCode) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
