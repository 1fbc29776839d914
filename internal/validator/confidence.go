package validator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/pkg/config"
)

// UncertaintyNotice is prefixed to confident answers that lack support.
const UncertaintyNotice = "Note: no supporting evidence was found for this answer, so it may be inaccurate. "

var (
	uncertaintyPattern = regexp.MustCompile(`(?i)\b(?:no supporting evidence|not (?:be )?(?:certain|sure)|uncertain|unclear|unknown|i (?:don't|do not) know|cannot (?:be )?(?:confirmed|verified)|may be inaccurate|insufficient (?:information|evidence))\b`)

	hedgePattern = regexp.MustCompile(`(?i)\b(?:may|might|could|possibly|perhaps|likely|unlikely|probably|appears?|seems?|suggests?|approximately|roughly|estimated|reportedly|generally|typically|often|usually|sometimes)\b`)

	absolutePattern = regexp.MustCompile(`(?i)\b(?:always|never|definitely|certainly|undoubtedly|guaranteed|absolutely|unquestionably|without (?:a |any )?doubt|proven|best|worst|everyone|nobody)\b`)
)

// ConfidenceValidator detects certainty that the evidence does not warrant.
type ConfidenceValidator struct {
	minRelevance float64
}

func NewConfidenceValidator(cfg config.ConfidenceConfig) *ConfidenceValidator {
	return &ConfidenceValidator{minRelevance: cfg.MinRelevance}
}

func (v *ConfidenceValidator) Name() string   { return Confidence }
func (v *ConfidenceValidator) Critical() bool { return true }

func (v *ConfidenceValidator) Check(ctx context.Context, in *Input) models.Verdict {
	if strings.TrimSpace(in.Candidate) == "" {
		return pass(Confidence, true)
	}
	best := models.MaxSimilarity(in.Evidence)
	if len(in.Evidence) > 0 && best >= v.minRelevance {
		return pass(Confidence, true)
	}
	if !v.certain(in.Candidate) {
		return pass(Confidence, true)
	}

	detail := "confident answer without evidence"
	if len(in.Evidence) > 0 {
		detail = fmt.Sprintf("confident answer with weak evidence (best similarity %.2f)", best)
	}
	return patched(Confidence, ReasonUnwarrantedCertainty, detail,
		models.Edit{Start: 0, End: 0, Text: UncertaintyNotice})
}

// certain is true when the text states no uncertainty and either uses an
// absolute marker or does not hedge at all.
func (v *ConfidenceValidator) certain(text string) bool {
	if uncertaintyPattern.MatchString(text) {
		return false
	}
	return absolutePattern.MatchString(text) || !hedgePattern.MatchString(text)
}
