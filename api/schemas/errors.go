// File: api/schemas/errors.go
package schemas

import "fmt"

// MalformedIncidentError reports an incident that fails construction-time
// validation. It is fatal to that incident only and is never retried.
type MalformedIncidentError struct {
	Reason string
}

func (e *MalformedIncidentError) Error() string {
	return fmt.Sprintf("malformed incident: %s", e.Reason)
}

// UnparsableSourceError reports a source file that the language parser could
// not produce a coherent syntax tree for. The incident is skipped; the error
// is non-retryable because re-prompting cannot repair the input file.
type UnparsableSourceError struct {
	FilePath string
	Reason   string
}

func (e *UnparsableSourceError) Error() string {
	return fmt.Sprintf("unparsable source %q: %s", e.FilePath, e.Reason)
}

// ModelTimeoutError is surfaced to the caller when a backend call exceeds its
// bounded timeout and retries are disabled for the run.
type ModelTimeoutError struct {
	ModelID string
}

func (e *ModelTimeoutError) Error() string {
	return fmt.Sprintf("model %q timed out", e.ModelID)
}

// ModelUnavailableError means every configured backend, including fallbacks,
// exhausted its retry budget. The incident transitions to Failed.
type ModelUnavailableError struct {
	Backends []string
	Last     error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("all model backends exhausted %v: %v", e.Backends, e.Last)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Last }

// CacheConsistencyError indicates a second Put with a different value for an
// existing cache key. Cache entries are immutable once written, so this is a
// programming or integrity error and aborts the whole run.
type CacheConsistencyError struct {
	Key string
}

func (e *CacheConsistencyError) Error() string {
	return fmt.Sprintf("response cache entry %q already exists with a different value", e.Key)
}

// RejectionReason classifies why the validator refused a candidate patch.
type RejectionReason string

const (
	ReasonUnparsable   RejectionReason = "PROPOSAL_UNPARSABLE"
	ReasonNoChange     RejectionReason = "NO_STRUCTURAL_CHANGE"
	ReasonOutOfScope   RejectionReason = "EDIT_OUTSIDE_CONTEXT"
	ReasonApplyFailed  RejectionReason = "DIFF_APPLY_FAILED"
	ReasonEmptyContent RejectionReason = "EMPTY_PROPOSAL"
)

// PatchRejectedError is the validator's verdict on an unacceptable candidate.
// It is retried with feedback appended to the attempt history, not fatal.
type PatchRejectedError struct {
	Reason RejectionReason
	Detail string
}

func (e *PatchRejectedError) Error() string {
	return fmt.Sprintf("patch rejected (%s): %s", e.Reason, e.Detail)
}

// StaleContextError means a context window's AST fingerprint no longer
// matches the file on disk; the window must be rebuilt before reuse.
type StaleContextError struct {
	FilePath string
}

func (e *StaleContextError) Error() string {
	return fmt.Sprintf("context window for %q is stale: file AST changed since it was built", e.FilePath)
}

// transientError marks backend failures worth retrying (timeouts, rate
// limits, 5xx-equivalents). The gateway unwraps it to drive backoff.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so the gateway treats it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked
// retryable by a backend client.
func IsTransient(err error) bool {
	for err != nil {
		if _, ok := err.(*transientError); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
