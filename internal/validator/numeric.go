package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/pkg/config"
)

// NumericValidator flags numbers in the candidate that cannot be traced to
// any evidence item within a relative tolerance.
type NumericValidator struct {
	tolerance float64
}

func NewNumericValidator(cfg config.NumericConfig) *NumericValidator {
	return &NumericValidator{tolerance: cfg.Tolerance}
}

func (v *NumericValidator) Name() string   { return Numeric }
func (v *NumericValidator) Critical() bool { return false }

func (v *NumericValidator) Check(ctx context.Context, in *Input) models.Verdict {
	claimed := ExtractNumbers(StripCitations(in.Candidate))
	if len(claimed) == 0 {
		return pass(Numeric, false)
	}

	var known []Number
	for _, e := range in.Evidence {
		known = append(known, ExtractNumbers(StripCitations(e.Text))...)
	}

	var missing []string
	for _, c := range claimed {
		if !v.traceable(c, known) {
			missing = append(missing, c.Raw)
		}
	}

	matched := len(claimed) - len(missing)
	if len(missing) == 0 {
		verdict := pass(Numeric, false)
		verdict.Score = 1
		return verdict
	}

	verdict := fail(Numeric, false, ReasonUntraceableNumber,
		fmt.Sprintf("not found in evidence: %s", strings.Join(missing, ", ")))
	verdict.Score = float64(matched) / float64(len(claimed))
	return verdict
}

func (v *NumericValidator) traceable(n Number, known []Number) bool {
	for _, k := range known {
		if NumbersMatch(n.Value, k.Value, v.tolerance) {
			return true
		}
	}
	return false
}
