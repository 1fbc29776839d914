// Package policy decides, after each validation round, whether to accept
// the answer, ask for a regenerated one, or give up with the fallback text.
package policy

import (
	"go.uber.org/zap"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/internal/quality"
	"github.com/aws-agent/verity/pkg/config"
	"github.com/aws-agent/verity/pkg/logger"
)

// Rule numbers reported on every decision.
const (
	RuleDeadline    = 0
	RuleAccept      = 1
	RuleEthics      = 2
	RuleRoundLimit  = 3
	RuleHighQuality = 4
	RuleMedium      = 5
	RuleLow         = 6
)

type Input struct {
	Mode models.Mode
	// Round is 1-based; round 1 is the caller's original candidate.
	Round   int
	Outcome *models.Outcome
	// History holds one entry per regeneration already performed.
	History []models.RewriteAttempt
	// InitialBand is the band of round 1 and fixes the round budget.
	InitialBand      models.Band
	DeadlineExceeded bool
}

type Decision struct {
	Action models.Action
	Rule   int
	Reason string
	// UseBest asks the caller to deliver the best non-rejected candidate
	// seen so far rather than the current one.
	UseBest bool
}

type Policy struct {
	quality config.QualityConfig
	rounds  config.PolicyConfig
	logger  *zap.Logger
}

func New(q config.QualityConfig, rounds config.PolicyConfig) *Policy {
	return &Policy{quality: q, rounds: rounds, logger: logger.Named("policy")}
}

// MaxRewrites is the number of regenerations a mode allows for a starting band.
func (p *Policy) MaxRewrites(mode models.Mode, band models.Band) int {
	switch mode {
	case models.ModeLight:
		if band == models.BandLow {
			return p.rounds.LightLowRounds
		}
		return p.rounds.LightMediumRounds
	case models.ModeAggressive:
		return p.rounds.AggressiveRounds
	default:
		return 0
	}
}

func (p *Policy) Band(score float64) models.Band {
	return quality.Band(score, p.quality)
}

// Decide applies the rules in order; the first match wins.
func (p *Policy) Decide(in Input) Decision {
	d := p.decide(in)

	fields := []zap.Field{
		zap.Int("round", in.Round),
		zap.Int("rule", d.Rule),
		zap.String("action", string(d.Action)),
		zap.String("mode", string(in.Mode)),
		zap.String("status", string(in.Outcome.Status)),
		zap.Float64("new_quality", in.Outcome.Quality),
		zap.String("reason", d.Reason),
	}
	if n := len(in.History); n > 0 {
		fields = append(fields, zap.Float64("previous_quality", in.History[n-1].QualityBefore))
	}
	p.logger.Info("Rewrite policy transition", fields...)
	return d
}

func (p *Policy) decide(in Input) Decision {
	out := in.Outcome
	rejected := out.Status == models.OutcomeRejected
	critical := out.HasCriticalIssues()

	if in.DeadlineExceeded {
		return Decision{Action: models.ActionFallback, Rule: RuleDeadline, Reason: "deadline exceeded"}
	}

	if in.Mode == models.ModeOff {
		switch {
		case out.EthicsFailed():
			return Decision{Action: models.ActionFallback, Rule: RuleEthics, Reason: "ethics violation"}
		case rejected:
			return Decision{Action: models.ActionFallback, Rule: RuleAccept, Reason: "rejected with rewriting off"}
		default:
			return Decision{Action: models.ActionAccept, Rule: RuleAccept, Reason: "rewriting off"}
		}
	}
	if out.Status == models.OutcomeAccepted && !critical {
		return Decision{Action: models.ActionAccept, Rule: RuleAccept, Reason: "accepted without critical issues"}
	}

	if out.EthicsFailed() {
		return Decision{Action: models.ActionFallback, Rule: RuleEthics, Reason: "ethics violation"}
	}

	used := in.Round - 1
	if limit := p.MaxRewrites(in.Mode, in.InitialBand); used >= limit {
		if rejected {
			return Decision{Action: models.ActionFallback, Rule: RuleRoundLimit, Reason: "round limit reached while rejected"}
		}
		return Decision{Action: models.ActionAccept, Rule: RuleRoundLimit, Reason: "round limit reached", UseBest: true}
	}

	q := out.Quality
	switch p.Band(q) {
	case models.BandHigh:
		if !rejected {
			return Decision{Action: models.ActionAccept, Rule: RuleHighQuality, Reason: "high quality"}
		}
		return Decision{Action: models.ActionRegenerate, Rule: RuleHighQuality, Reason: "high quality but rejected"}
	case models.BandMedium:
		if !critical && !rejected {
			return Decision{Action: models.ActionAccept, Rule: RuleMedium, Reason: "medium quality without critical issues"}
		}
		return Decision{Action: models.ActionRegenerate, Rule: RuleMedium, Reason: "medium quality with critical issues"}
	default:
		if n := len(in.History); n > 0 && in.History[n-1].Gain() < p.quality.MinImprovement {
			return Decision{Action: models.ActionFallback, Rule: RuleLow, Reason: "low quality and no meaningful improvement"}
		}
		return Decision{Action: models.ActionRegenerate, Rule: RuleLow, Reason: "low quality"}
	}
}
