// File: internal/validator/validator.go

// Package validator judges model-proposed patches: reparse, structural diff,
// scope containment and a dry-run apply.
package validator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/language"
)

// Validator applies the acceptance checks to candidate patches.
type Validator struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Validator {
	return &Validator{logger: logger.Named("validator")}
}

// Validate splices the candidate's replacement into the original file at the
// context window and runs the full acceptance pipeline. On success it
// returns the validated patch with its canonical unified diff; on rejection
// it returns a PatchRejectedError whose detail feeds the next attempt's
// prompt.
func (v *Validator) Validate(ctx context.Context, win *schemas.ContextWindow, original []byte, cand *schemas.CandidatePatch) (*schemas.ValidatedPatch, error) {
	if cand.TargetFile != win.FilePath {
		return nil, &schemas.PatchRejectedError{
			Reason: schemas.ReasonOutOfScope,
			Detail: fmt.Sprintf("proposal targets %q but the incident lives in %q", cand.TargetFile, win.FilePath),
		}
	}
	if cand.Replacement == "" {
		return nil, &schemas.PatchRejectedError{Reason: schemas.ReasonEmptyContent, Detail: "proposal is empty"}
	}
	if win.StartByte < 0 || win.EndByte > len(original) || win.StartByte > win.EndByte {
		return nil, &schemas.StaleContextError{FilePath: win.FilePath}
	}

	lang, err := language.ByName(win.Language)
	if err != nil {
		return nil, err
	}

	// The window must still describe the file it was cut from.
	origTree, err := language.Parse(ctx, lang, win.FilePath, original)
	if err != nil {
		if origTree != nil {
			origTree.Close()
		}
		return nil, err
	}
	defer origTree.Close()
	origFingerprint := language.Fingerprint(origTree.RootNode(), original, lang)
	if origFingerprint != win.ASTFingerprint {
		return nil, &schemas.StaleContextError{FilePath: win.FilePath}
	}

	// The proposal is either a unified diff against the whole file or a
	// replacement for the window's slice.
	var patched []byte
	if strings.HasPrefix(strings.TrimSpace(cand.Replacement), "--- ") {
		appliedText, err := ApplyUnifiedDiff(string(original), cand.Replacement)
		if err != nil {
			return nil, &schemas.PatchRejectedError{
				Reason: schemas.ReasonApplyFailed,
				Detail: fmt.Sprintf("proposed diff does not apply: %v", err),
			}
		}
		patched = []byte(appliedText)
		if line, ok := editOutsideWindow(string(original), appliedText, win); ok {
			return nil, &schemas.PatchRejectedError{
				Reason: schemas.ReasonOutOfScope,
				Detail: fmt.Sprintf("diff edits line %d, outside the %s context (lines %d-%d)", line, win.EnclosingSymbol, win.StartLine, win.EndLine),
			}
		}
	} else {
		patched = make([]byte, 0, len(original)-(win.EndByte-win.StartByte)+len(cand.Replacement))
		patched = append(patched, original[:win.StartByte]...)
		patched = append(patched, cand.Replacement...)
		patched = append(patched, original[win.EndByte:]...)
	}

	// Reparse: the patched file must be syntactically coherent.
	patchedTree, err := language.Parse(ctx, lang, win.FilePath, patched)
	if err != nil {
		if patchedTree != nil {
			patchedTree.Close()
		}
		return nil, &schemas.PatchRejectedError{
			Reason: schemas.ReasonUnparsable,
			Detail: "the patched file no longer parses; return the complete corrected slice",
		}
	}
	defer patchedTree.Close()

	// Structural diff: a proposal that only reshuffles formatting or
	// comments fixes nothing.
	newFingerprint := language.Fingerprint(patchedTree.RootNode(), patched, lang)
	if newFingerprint == origFingerprint {
		return nil, &schemas.PatchRejectedError{
			Reason: schemas.ReasonNoChange,
			Detail: "the proposal is structurally identical to the original code",
		}
	}

	// Canonical diff plus dry-run apply against a pristine copy.
	diff := UnifiedDiff(win.FilePath, string(original), string(patched))
	applied, err := ApplyUnifiedDiff(string(original), diff)
	if err != nil {
		return nil, &schemas.PatchRejectedError{
			Reason: schemas.ReasonApplyFailed,
			Detail: fmt.Sprintf("generated diff does not apply: %v", err),
		}
	}
	if applied != string(patched) {
		return nil, &schemas.PatchRejectedError{
			Reason: schemas.ReasonApplyFailed,
			Detail: "dry-run apply diverged from the patched file",
		}
	}

	v.logger.Debug("patch accepted",
		zap.String("incident", cand.IncidentKey.String()),
		zap.String("fingerprint", newFingerprint[:12]))

	return &schemas.ValidatedPatch{
		Candidate:      *cand,
		UnifiedDiff:    diff,
		PatchedFile:    string(patched),
		NewFingerprint: newFingerprint,
	}, nil
}
