package harness

import "errors"

// Failure kinds surfaced by HandleQuestion. Match with errors.Is.
var (
	ErrRetrieval         = errors.New("retrieval failed")
	ErrGeneration        = errors.New("generation failed")
	ErrGenerationTimeout = errors.New("generation timed out")
	ErrRateLimited       = errors.New("rate limited")
)

// Wire codes, one per failure kind.
const (
	CodeRetrievalFailed   = "retrieval_failed"
	CodeGenerationFailed  = "generation_failed"
	CodeGenerationTimeout = "generation_timeout"
	CodeRateLimited       = "rate_limited"
)

// ErrorCode maps err onto its wire code, or "" for nil and unclassified errors.
// The timeout kind is checked before the generic generation kind.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrRetrieval):
		return CodeRetrievalFailed
	case errors.Is(err, ErrGenerationTimeout):
		return CodeGenerationTimeout
	case errors.Is(err, ErrGeneration):
		return CodeGenerationFailed
	default:
		return ""
	}
}

// kindError joins a failure kind with its cause so both match errors.Is.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string { return e.kind.Error() + ": " + e.cause.Error() }

func (e *kindError) Unwrap() []error { return []error{e.kind, e.cause} }

func tagError(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return &kindError{kind: kind, cause: cause}
}
