// File: api/schemas/patch.go
package schemas

// CandidatePatch is a model-proposed fix after extraction from the raw
// completion but before validation.
type CandidatePatch struct {
	IncidentKey IncidentKey `json:"incident_key"`
	TargetFile  string      `json:"target_file"`

	// Replacement is the proposed new text for the context window's slice.
	Replacement string `json:"replacement"`

	// Reasoning is the model's own explanation, kept for the report.
	Reasoning string `json:"reasoning,omitempty"`
}

// ValidatedPatch is a candidate the validator accepted: it reparses, changes
// the tree, stays inside the window, and applies cleanly to the file.
type ValidatedPatch struct {
	Candidate CandidatePatch `json:"candidate"`

	// UnifiedDiff is the canonical diff against the original file, with
	// stable headers, suitable for persistence and replay.
	UnifiedDiff string `json:"unified_diff"`

	// PatchedFile is the full post-application file content, used by the
	// dry-run apply check and by downstream windows on the same file.
	PatchedFile string `json:"-"`

	// NewFingerprint is the structural hash of the patched file.
	NewFingerprint string `json:"new_fingerprint"`
}
