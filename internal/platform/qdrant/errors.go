package qdrant

import (
	"errors"
	"fmt"
)

type OperationErrorCode string

const (
	OperationErrorValidation      OperationErrorCode = "validation"
	OperationErrorEncodeFailed    OperationErrorCode = "encode_failed"
	OperationErrorDecodeFailed    OperationErrorCode = "decode_failed"
	OperationErrorTransportFailed OperationErrorCode = "transport_failed"
	OperationErrorTimeout         OperationErrorCode = "timeout"
	OperationErrorQueryFailed     OperationErrorCode = "query_failed"
)

type OperationError struct {
	Code       OperationErrorCode
	Operation  string
	StatusCode int
	Message    string
	Cause      error
}

func (e *OperationError) Error() string {
	if e == nil {
		return "qdrant operation failed"
	}
	if e.Cause != nil {
		return fmt.Sprintf("qdrant %s failed (code=%s): %s: %v", e.Operation, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("qdrant %s failed (code=%s): %s", e.Operation, e.Code, e.Message)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func opErr(op string, code OperationErrorCode, message string, cause error) *OperationError {
	return &OperationError{Code: code, Operation: op, Message: message, Cause: cause}
}

// IsUnavailable reports whether err is the transport/timeout/server class of
// failure the caller's retry-or-abort policy treats as "store unavailable".
func IsUnavailable(err error) bool {
	var oe *OperationError
	if !errors.As(err, &oe) {
		return false
	}
	switch oe.Code {
	case OperationErrorTransportFailed, OperationErrorTimeout:
		return true
	case OperationErrorQueryFailed:
		return oe.StatusCode >= 500
	default:
		return false
	}
}
