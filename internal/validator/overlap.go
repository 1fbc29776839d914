package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/pkg/config"
)

// OverlapValidator measures how much of the candidate is contained in the
// evidence. Low overlap is critical only when the candidate claims support
// through a citation marker.
type OverlapValidator struct {
	threshold float64
	n         int
}

func NewOverlapValidator(cfg config.OverlapConfig) *OverlapValidator {
	n := cfg.NGram
	if n < 1 {
		n = 2
	}
	return &OverlapValidator{threshold: cfg.Threshold, n: n}
}

func (v *OverlapValidator) Name() string   { return Overlap }
func (v *OverlapValidator) Critical() bool { return true }

// CriticalFor is true only when the candidate cites the evidence; an uncited
// candidate can at most earn an advisory low_overlap.
func (v *OverlapValidator) CriticalFor(in *Input) bool {
	return len(in.Evidence) > 0 && HasCitation(in.Candidate, in.Evidence)
}

func (v *OverlapValidator) Check(ctx context.Context, in *Input) models.Verdict {
	if len(in.Evidence) == 0 {
		verdict := pass(Overlap, false)
		verdict.Reason = ReasonNoEvidence
		verdict.Detail = "no evidence to compare against"
		return verdict
	}

	texts := make([]string, len(in.Evidence))
	for i, e := range in.Evidence {
		texts[i] = e.Text
	}
	ratio := Containment(Tokenize(StripCitations(in.Candidate)), Tokenize(strings.Join(texts, " \n ")), v.n)

	cited := HasCitation(in.Candidate, in.Evidence)
	if ratio >= v.threshold {
		verdict := pass(Overlap, cited)
		verdict.Score = ratio
		return verdict
	}

	detail := fmt.Sprintf("overlap %.3f below threshold %.3f", ratio, v.threshold)
	var verdict models.Verdict
	if cited {
		verdict = fail(Overlap, true, ReasonUnsupportedCitation, detail)
	} else {
		verdict = fail(Overlap, false, ReasonLowOverlap, detail)
	}
	verdict.Score = ratio
	return verdict
}
