package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/pkg/config"
)

// CitationValidator requires an attribution marker whenever evidence exists.
// A missing marker is patched by appending a reference to the most similar
// evidence item.
type CitationValidator struct {
	patch bool
}

func NewCitationValidator(cfg config.CitationConfig) *CitationValidator {
	return &CitationValidator{patch: cfg.Patch}
}

func (v *CitationValidator) Name() string   { return Citation }
func (v *CitationValidator) Critical() bool { return true }

func (v *CitationValidator) Check(ctx context.Context, in *Input) models.Verdict {
	if len(in.Evidence) == 0 || HasCitation(in.Candidate, in.Evidence) {
		return pass(Citation, true)
	}

	top := models.TopEvidence(in.Evidence)
	detail := fmt.Sprintf("no citation marker; top evidence is %q", in.Evidence[top].ID)
	if !v.patch || strings.TrimSpace(in.Candidate) == "" {
		return fail(Citation, true, ReasonMissingCitation, detail)
	}

	end := len(strings.TrimRight(in.Candidate, " \t\r\n"))
	marker := fmt.Sprintf(" [%d]", top+1)
	return patched(Citation, ReasonMissingCitation, detail, models.Edit{Start: end, End: end, Text: marker})
}
