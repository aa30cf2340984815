// File: internal/promptgen/renderer.go

// Package promptgen renders versioned prompt templates for the model gateway.
package promptgen

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/config"
)

// AttemptFeedback summarizes one rejected attempt for inclusion in the next
// prompt. Feedback is ordered by attempt number.
type AttemptFeedback struct {
	Number    int
	Rejection string
}

// Renderer binds a template version and produces deterministic prompt text.
// Rendering the same incident, window and history always yields the same
// bytes; any template error fails loudly rather than emitting a partial
// prompt.
type Renderer struct {
	version string
	system  string
	user    *template.Template
	logger  *zap.Logger
}

// promptData is the template's data contract. Every field referenced by a
// template must exist here; missing keys are render errors.
type promptData struct {
	RuleID          string
	Message         string
	FilePath        string
	StartLine       int
	EndLine         int
	Language        string
	EnclosingSymbol string
	EnclosingKind   string
	Imports         []string
	CodeSlice       string
	History         []AttemptFeedback
}

// NewRenderer loads the configured template version, or a template pair from
// cfg.TemplateDir when one is set.
func NewRenderer(cfg config.PromptsConfig, logger *zap.Logger) (*Renderer, error) {
	version := cfg.TemplateVersion
	var set templateSet

	if cfg.TemplateDir != "" {
		sys, err := os.ReadFile(filepath.Join(cfg.TemplateDir, "system.tmpl"))
		if err != nil {
			return nil, fmt.Errorf("loading system template: %w", err)
		}
		user, err := os.ReadFile(filepath.Join(cfg.TemplateDir, "user.tmpl"))
		if err != nil {
			return nil, fmt.Errorf("loading user template: %w", err)
		}
		set = templateSet{system: string(sys), user: string(user)}
		version = fmt.Sprintf("dir:%s", filepath.Base(cfg.TemplateDir))
	} else {
		var ok bool
		set, ok = templateVersions[version]
		if !ok {
			return nil, fmt.Errorf("unknown prompt template version %q", version)
		}
	}

	tmpl, err := template.New("user").Option("missingkey=error").Parse(set.user)
	if err != nil {
		return nil, fmt.Errorf("parsing user template %q: %w", version, err)
	}

	return &Renderer{
		version: version,
		system:  set.system,
		user:    tmpl,
		logger:  logger.Named("promptgen"),
	}, nil
}

// Version reports the active template version.
func (r *Renderer) Version() string { return r.version }

// Render produces the prompt record for one attempt. The attempt number is
// 1-based; history carries feedback from every prior rejected attempt.
func (r *Renderer) Render(inc *schemas.Incident, win *schemas.ContextWindow, history []AttemptFeedback) (*schemas.PromptRecord, error) {
	if win.IncidentKey != inc.Key() {
		return nil, fmt.Errorf("context window %s does not belong to incident %s", win.IncidentKey, inc.Key())
	}

	data := promptData{
		RuleID:          inc.RuleID,
		Message:         inc.Message,
		FilePath:        inc.FilePath,
		StartLine:       win.StartLine,
		EndLine:         win.EndLine,
		Language:        win.Language,
		EnclosingSymbol: win.EnclosingSymbol,
		EnclosingKind:   win.EnclosingKind,
		Imports:         win.ImportsInScope,
		CodeSlice:       win.CodeSlice,
		History:         history,
	}

	var b strings.Builder
	if err := r.user.Execute(&b, data); err != nil {
		return nil, fmt.Errorf("rendering prompt for %s: %w", inc.Key(), err)
	}

	return &schemas.PromptRecord{
		IncidentKey:     inc.Key(),
		TemplateVersion: r.version,
		SystemPrompt:    r.system,
		UserPrompt:      b.String(),
		Attempt:         len(history) + 1,
	}, nil
}
