package retrieval

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure for the propagation policy: reranker
// failures are absorbed with a fallback, everything else aborts the stream.
type Kind string

const (
	KindEvidenceStoreUnavailable Kind = "evidence_store_unavailable"
	KindRerankerUnavailable      Kind = "reranker_unavailable"
	KindEmbeddingFailed          Kind = "embedding_failed"
	KindGenerationFailed         Kind = "generation_failed"
	KindSessionNotFound          Kind = "session_not_found"
	KindTimeout                  Kind = "timeout"
	KindInternal                 Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the pipeline kind from err, or KindInternal when err
// carries none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// UserMessage maps a pipeline failure to the single human-readable message
// surfaced across the stream boundary. Internal detail never leaks verbatim.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindEvidenceStoreUnavailable:
		return "The evidence index is temporarily unavailable. Please try again."
	case KindEmbeddingFailed:
		return "Failed to understand the question. Please try again."
	case KindGenerationFailed:
		return "Answer generation failed. Please try again."
	case KindSessionNotFound:
		return "The chat session could not be found."
	case KindTimeout:
		return "The request timed out before an answer was ready."
	default:
		return "Something went wrong while answering. Please try again."
	}
}
