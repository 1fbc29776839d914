// Package epistemic labels how well an answer is grounded in its evidence.
// The label is informational and never changes a pass/fail decision.
package epistemic

import (
	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/internal/validator"
)

type Classifier struct {
	minRelevance float64
}

// NewClassifier uses minRelevance as the floor below which every evidence
// item is considered too weak to ground an answer.
func NewClassifier(minRelevance float64) *Classifier {
	return &Classifier{minRelevance: minRelevance}
}

func (c *Classifier) Classify(evidence []models.Evidence, verdicts []models.Verdict) models.EpistemicState {
	if len(evidence) == 0 {
		return models.Unsupported
	}

	var contradiction, lowOverlap bool
	for _, v := range verdicts {
		switch v.Validator {
		case validator.Confidence:
			if v.Status != models.StatusPass {
				return models.Unsupported
			}
		case validator.Consensus:
			contradiction = contradiction || v.Reason == validator.ReasonSourceContradiction
		case validator.Overlap:
			lowOverlap = lowOverlap || v.Status != models.StatusPass
		}
	}

	if contradiction || lowOverlap || models.MaxSimilarity(evidence) < c.minRelevance {
		return models.PartiallyGrounded
	}
	return models.Grounded
}
