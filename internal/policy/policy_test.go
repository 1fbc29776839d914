package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/pkg/config"
)

func newPolicy() *Policy {
	cfg := config.Default()
	return New(cfg.Quality, cfg.Policy)
}

func outcome(status models.OutcomeStatus, q float64, verdicts ...models.Verdict) *models.Outcome {
	return &models.Outcome{Status: status, Quality: q, Verdicts: verdicts}
}

var (
	ethicsFail   = models.Verdict{Validator: models.EthicsValidator, Critical: true, Status: models.StatusFail, Reason: "ethics_violation"}
	citationFail = models.Verdict{Validator: "citation", Critical: true, Status: models.StatusFail, Reason: "missing_citation"}
)

func TestMaxRewrites(t *testing.T) {
	p := newPolicy()
	assert.Equal(t, 0, p.MaxRewrites(models.ModeOff, models.BandLow))
	assert.Equal(t, 1, p.MaxRewrites(models.ModeLight, models.BandMedium))
	assert.Equal(t, 1, p.MaxRewrites(models.ModeLight, models.BandHigh))
	assert.Equal(t, 2, p.MaxRewrites(models.ModeLight, models.BandLow))
	assert.Equal(t, 2, p.MaxRewrites(models.ModeAggressive, models.BandMedium))
	assert.Equal(t, 2, p.MaxRewrites(models.ModeAggressive, models.BandLow))
}

func TestDecide(t *testing.T) {
	p := newPolicy()

	tests := []struct {
		name    string
		in      Input
		action  models.Action
		rule    int
		useBest bool
	}{
		{
			name:   "deadline",
			in:     Input{Mode: models.ModeAggressive, Round: 1, Outcome: outcome(models.OutcomeAccepted, 0.9), DeadlineExceeded: true},
			action: models.ActionFallback, rule: RuleDeadline,
		},
		{
			name:   "mode off accepts patched low quality",
			in:     Input{Mode: models.ModeOff, Round: 1, Outcome: outcome(models.OutcomePatched, 0.2), InitialBand: models.BandLow},
			action: models.ActionAccept, rule: RuleAccept,
		},
		{
			name:   "mode off falls back when rejected",
			in:     Input{Mode: models.ModeOff, Round: 1, Outcome: outcome(models.OutcomeRejected, 0.4, citationFail)},
			action: models.ActionFallback, rule: RuleAccept,
		},
		{
			name:   "mode off ethics",
			in:     Input{Mode: models.ModeOff, Round: 1, Outcome: outcome(models.OutcomeRejected, 0.4, ethicsFail)},
			action: models.ActionFallback, rule: RuleEthics,
		},
		{
			name:   "accepted without critical issues",
			in:     Input{Mode: models.ModeAggressive, Round: 1, Outcome: outcome(models.OutcomeAccepted, 0.3), InitialBand: models.BandLow},
			action: models.ActionAccept, rule: RuleAccept,
		},
		{
			name:   "ethics stops aggressive mode",
			in:     Input{Mode: models.ModeAggressive, Round: 1, Outcome: outcome(models.OutcomeRejected, 0.5, ethicsFail), InitialBand: models.BandMedium},
			action: models.ActionFallback, rule: RuleEthics,
		},
		{
			name:   "light medium band limit reached accepts best",
			in:     Input{Mode: models.ModeLight, Round: 2, Outcome: outcome(models.OutcomePatched, 0.45), InitialBand: models.BandMedium},
			action: models.ActionAccept, rule: RuleRoundLimit, useBest: true,
		},
		{
			name:   "limit reached while rejected",
			in:     Input{Mode: models.ModeAggressive, Round: 3, Outcome: outcome(models.OutcomeRejected, 0.4, citationFail), InitialBand: models.BandLow},
			action: models.ActionFallback, rule: RuleRoundLimit,
		},
		{
			name: "limit reached while rejected after a deliverable round",
			in: Input{
				Mode: models.ModeLight, Round: 2, InitialBand: models.BandMedium,
				Outcome: outcome(models.OutcomeRejected, 0.7, citationFail),
				History: []models.RewriteAttempt{{Round: 2, QualityBefore: 0.65, QualityAfter: 0.7}},
			},
			action: models.ActionFallback, rule: RuleRoundLimit,
		},
		{
			name:   "high quality patched",
			in:     Input{Mode: models.ModeLight, Round: 1, Outcome: outcome(models.OutcomePatched, 0.85), InitialBand: models.BandHigh},
			action: models.ActionAccept, rule: RuleHighQuality,
		},
		{
			name:   "medium without critical issue",
			in:     Input{Mode: models.ModeLight, Round: 1, Outcome: outcome(models.OutcomePatched, 0.6), InitialBand: models.BandMedium},
			action: models.ActionAccept, rule: RuleMedium,
		},
		{
			name:   "medium with critical issue",
			in:     Input{Mode: models.ModeLight, Round: 1, Outcome: outcome(models.OutcomeRejected, 0.6, citationFail), InitialBand: models.BandMedium},
			action: models.ActionRegenerate, rule: RuleMedium,
		},
		{
			name:   "low first round regenerates",
			in:     Input{Mode: models.ModeAggressive, Round: 1, Outcome: outcome(models.OutcomeRejected, 0.3, citationFail), InitialBand: models.BandLow},
			action: models.ActionRegenerate, rule: RuleLow,
		},
		{
			name: "low with no gain stops before the round limit",
			in: Input{
				Mode: models.ModeAggressive, Round: 2, InitialBand: models.BandLow,
				Outcome: outcome(models.OutcomeRejected, 0.32, citationFail),
				History: []models.RewriteAttempt{{Round: 2, QualityBefore: 0.3, QualityAfter: 0.32}},
			},
			action: models.ActionFallback, rule: RuleLow,
		},
		{
			name: "low with real gain continues",
			in: Input{
				Mode: models.ModeAggressive, Round: 2, InitialBand: models.BandLow,
				Outcome: outcome(models.OutcomeRejected, 0.45, citationFail),
				History: []models.RewriteAttempt{{Round: 2, QualityBefore: 0.3, QualityAfter: 0.45}},
			},
			action: models.ActionRegenerate, rule: RuleLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.in)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.rule, d.Rule)
			assert.Equal(t, tt.useBest, d.UseBest)
		})
	}
}
