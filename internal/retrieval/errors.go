package retrieval

import "errors"

var (
	// ErrGenerationTimeout indicates the answer-generation collaborator
	// exceeded the configured timeout. Never cached; single-flight waiters
	// receive this same error rather than a silent retry.
	ErrGenerationTimeout = errors.New("answer generation timed out")

	// ErrGenerationFailed indicates the answer-generation collaborator
	// failed. Surfaced to the caller; a failed generation never poisons the
	// query cache.
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrEmptyQuery indicates the query text is empty after normalization.
	ErrEmptyQuery = errors.New("empty query")
)
