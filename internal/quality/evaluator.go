// Package quality scores a validated candidate on a 0..1 scale from the
// verdicts already produced for it. It never runs validators itself.
package quality

import (
	"regexp"
	"strings"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/internal/validator"
	"github.com/aws-agent/verity/pkg/config"
)

const (
	advisoryWeight  = 0.3
	overlapWeight   = 0.3
	structureWeight = 0.4

	// Overlap ratios at or above this earn the full overlap component.
	overlapSaturation = 0.3
	neutralOverlap    = 0.5
)

var templatePattern = regexp.MustCompile(`(?i)lorem ipsum|as an ai language model|insert [a-z ]+ here|\[(?:placeholder|todo|insert|your)[^\]]*\]|\{\{[^}]*\}\}|^\s*(?:n/a|none|null|undefined)\s*\.?\s*$`)

type Scorer interface {
	Score(candidate, query string, evidence []models.Evidence, verdicts []models.Verdict) float64
}

type Evaluator struct {
	cfg config.QualityConfig
}

func NewEvaluator(cfg config.QualityConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Score = 0.3*advisory + 0.3*overlap + 0.4*structure - penalties, clamped to [0,1].
func (e *Evaluator) Score(candidate, query string, evidence []models.Evidence, verdicts []models.Verdict) float64 {
	score := advisoryWeight*advisoryPassRate(verdicts) +
		overlapWeight*overlapComponent(evidence, verdicts) +
		structureWeight*Structure(candidate)

	for _, v := range verdicts {
		if !v.Critical {
			continue
		}
		switch v.Status {
		case models.StatusFail:
			score -= e.cfg.CriticalPenalty
		case models.StatusPatched:
			score -= e.cfg.PatchedPenalty
		}
	}
	return clamp(score)
}

// Band places a score against the configured thresholds.
func Band(score float64, cfg config.QualityConfig) models.Band {
	switch {
	case score >= cfg.High:
		return models.BandHigh
	case score >= cfg.Medium:
		return models.BandMedium
	default:
		return models.BandLow
	}
}

func advisoryPassRate(verdicts []models.Verdict) float64 {
	total, passed := 0, 0
	for _, v := range verdicts {
		if v.Critical {
			continue
		}
		total++
		if v.Status == models.StatusPass {
			passed++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(passed) / float64(total)
}

func overlapComponent(evidence []models.Evidence, verdicts []models.Verdict) float64 {
	if len(evidence) == 0 {
		return neutralOverlap
	}
	for _, v := range verdicts {
		if v.Validator == validator.Overlap {
			return clamp(v.Score / overlapSaturation)
		}
	}
	return neutralOverlap
}

// Structure scores length and template heuristics on their own.
func Structure(text string) float64 {
	words := len(strings.Fields(text))
	var s float64
	switch {
	case words < 5:
		s = 0.2
	case words < 12:
		s = 0.6
	case words > 600:
		s = 0.8
	default:
		s = 1
	}

	if templatePattern.MatchString(text) {
		s *= 0.5
	}
	if hasRepeatedSentence(text) {
		s *= 0.5
	}
	return s
}

func hasRepeatedSentence(text string) bool {
	seen := make(map[string]bool)
	for _, s := range validator.Sentences(text) {
		key := strings.Join(validator.Tokenize(s), " ")
		if key == "" {
			continue
		}
		if seen[key] {
			return true
		}
		seen[key] = true
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
