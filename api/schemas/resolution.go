// File: api/schemas/resolution.go
package schemas

import (
	"fmt"
	"time"
)

// ResolutionStatus is the lifecycle state of one incident's remediation.
type ResolutionStatus string

const (
	StatusPending    ResolutionStatus = "pending"
	StatusInProgress ResolutionStatus = "in_progress"
	StatusSolved     ResolutionStatus = "solved"
	StatusFailed     ResolutionStatus = "failed"
	StatusSkipped    ResolutionStatus = "skipped"
)

// Terminal reports whether the status admits no further transitions.
func (s ResolutionStatus) Terminal() bool {
	switch s {
	case StatusSolved, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// validTransitions encodes the only legal state moves. Terminal states have
// no successors; a run never demotes a resolution.
var validTransitions = map[ResolutionStatus][]ResolutionStatus{
	StatusPending:    {StatusInProgress, StatusSkipped},
	StatusInProgress: {StatusSolved, StatusFailed, StatusSkipped},
}

// Attempt records one prompt/response/validation round for an incident.
type Attempt struct {
	Number     int           `json:"number"`
	PromptHash string        `json:"prompt_hash"`
	ModelID    string        `json:"model_id"`
	Cached     bool          `json:"cached"`
	Rejection  string        `json:"rejection,omitempty"`
	Latency    time.Duration `json:"latency_ns"`
}

// Resolution tracks a single incident from discovery to a terminal state.
type Resolution struct {
	Incident *Incident        `json:"incident"`
	Status   ResolutionStatus `json:"status"`
	Attempts []Attempt        `json:"attempts,omitempty"`

	// Patch is set only when Status is Solved.
	Patch *ValidatedPatch `json:"patch,omitempty"`

	// FailureReason explains Failed and Skipped outcomes.
	FailureReason string `json:"failure_reason,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewResolution starts an incident's lifecycle in the Pending state.
func NewResolution(inc *Incident) *Resolution {
	return &Resolution{Incident: inc, Status: StatusPending, UpdatedAt: time.Now().UTC()}
}

// Reopen moves a Failed resolution back to InProgress for an explicit retry
// pass. It is the only path out of a terminal state.
func (r *Resolution) Reopen() error {
	if r.Status != StatusFailed {
		return fmt.Errorf("cannot reopen resolution %s in state %s", r.Incident.Key(), r.Status)
	}
	r.Status = StatusInProgress
	r.FailureReason = ""
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Transition moves the resolution to next, rejecting any move the lifecycle
// does not permit. Terminal states are final.
func (r *Resolution) Transition(next ResolutionStatus) error {
	for _, allowed := range validTransitions[r.Status] {
		if next == allowed {
			r.Status = next
			r.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("illegal resolution transition %s -> %s for %s", r.Status, next, r.Incident.Key())
}
