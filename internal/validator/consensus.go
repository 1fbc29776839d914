package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/pkg/config"
)

// ConsensusValidator compares evidence items with each other. It never fails
// a candidate; contradictions are reported as an annotation on a passing
// verdict and feed the epistemic label.
type ConsensusValidator struct {
	tolerance float64
	minShared float64
}

func NewConsensusValidator(cfg config.ConsensusConfig) *ConsensusValidator {
	return &ConsensusValidator{tolerance: cfg.Tolerance, minShared: cfg.MinShared}
}

func (v *ConsensusValidator) Name() string   { return Consensus }
func (v *ConsensusValidator) Critical() bool { return false }

type claim struct {
	source  string
	tokens  map[string]struct{}
	numbers []Number
	negated bool
}

func (v *ConsensusValidator) Check(ctx context.Context, in *Input) models.Verdict {
	if len(in.Evidence) < 2 {
		return pass(Consensus, false)
	}

	claims := make([][]claim, len(in.Evidence))
	for i, e := range in.Evidence {
		source := e.ID
		if source == "" {
			source = fmt.Sprintf("#%d", i+1)
		}
		for _, s := range Sentences(e.Text) {
			tokens := make(map[string]struct{})
			for _, tok := range ContentTokens(s) {
				if !isNumeric(tok) {
					tokens[tok] = struct{}{}
				}
			}
			if len(tokens) < 2 {
				continue
			}
			claims[i] = append(claims[i], claim{source: source, tokens: tokens, numbers: ExtractNumbers(s), negated: Negated(s)})
		}
	}

	var conflicts []string
	for i := 0; i < len(claims); i++ {
		for j := i + 1; j < len(claims); j++ {
			if ctx.Err() != nil {
				return pass(Consensus, false)
			}
			if kind := v.firstConflict(claims[i], claims[j]); kind != "" {
				conflicts = append(conflicts, fmt.Sprintf("%s vs %s (%s)", claims[i][0].source, claims[j][0].source, kind))
			}
		}
	}

	verdict := pass(Consensus, false)
	if len(conflicts) > 0 {
		verdict.Reason = ReasonSourceContradiction
		verdict.Detail = strings.Join(conflicts, "; ")
		verdict.Score = float64(len(conflicts))
	}
	return verdict
}

func (v *ConsensusValidator) firstConflict(a, b []claim) string {
	for _, x := range a {
		for _, y := range b {
			if shared(x.tokens, y.tokens) < v.minShared {
				continue
			}
			if len(x.numbers) > 0 && len(y.numbers) > 0 && !v.anyNumberAgrees(x.numbers, y.numbers) {
				return "numbers disagree"
			}
			if x.negated != y.negated {
				return "opposite polarity"
			}
		}
	}
	return ""
}

func (v *ConsensusValidator) anyNumberAgrees(a, b []Number) bool {
	for _, x := range a {
		for _, y := range b {
			if NumbersMatch(x.Value, y.Value, v.tolerance) {
				return true
			}
		}
	}
	return false
}

// shared is the overlap coefficient |A∩B| / min(|A|,|B|).
func shared(a, b map[string]struct{}) float64 {
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	if len(small) == 0 {
		return 0
	}
	hits := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(small))
}

// isNumeric also catches suffixed forms such as "1m" left by tokenising "2.1M".
func isNumeric(tok string) bool {
	return tok != "" && tok[0] >= '0' && tok[0] <= '9'
}
