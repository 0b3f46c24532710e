package usecase

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type ErrorCode string

const (
	ErrorExtractionEmpty     ErrorCode = "EXTRACTION_EMPTY"
	ErrorMalformedResponse   ErrorCode = "MALFORMED_RESPONSE"
	ErrorServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorPayloadTooLarge     ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrorAmbiguousCorrection ErrorCode = "AMBIGUOUS_CORRECTION"
	ErrorStaleReference      ErrorCode = "STALE_REFERENCE"
	ErrorInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrorInternal            ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var coder httpStatusCoder
	if errors.As(err, &coder) {
		return coder.HTTPStatusCode(), true
	}
	return 0, false
}

// serviceReason names a failed completion or transcription call for logs
// and outcomes.
func serviceReason(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	}
	if status, ok := upstreamStatusCode(err); ok {
		if status == 429 {
			return "rate_limited"
		}
		return fmt.Sprintf("upstream_status_%d", status)
	}
	return "upstream_error"
}
