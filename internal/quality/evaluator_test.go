package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/internal/validator"
	"github.com/aws-agent/verity/pkg/config"
)

func defaultEvaluator() *Evaluator {
	return NewEvaluator(config.Default().Quality)
}

func longAnswer() string {
	return "Paris is the capital of France and has been the seat of government for centuries, hosting most national institutions."
}

func TestScore_Components(t *testing.T) {
	e := defaultEvaluator()
	evidence := []models.Evidence{{ID: "E1", Text: "x", Similarity: 0.9}}

	tests := []struct {
		name     string
		text     string
		evidence []models.Evidence
		verdicts []models.Verdict
		want     float64
	}{
		{
			name:     "clean long answer with saturated overlap",
			text:     longAnswer(),
			evidence: evidence,
			verdicts: []models.Verdict{
				{Validator: validator.Overlap, Critical: true, Status: models.StatusPass, Score: 0.6},
				{Validator: validator.Numeric, Status: models.StatusPass},
			},
			want: 1.0,
		},
		{
			name:     "advisory failure halves advisory share",
			text:     longAnswer(),
			evidence: evidence,
			verdicts: []models.Verdict{
				{Validator: validator.Overlap, Critical: true, Status: models.StatusPass, Score: 0.15},
				{Validator: validator.Numeric, Status: models.StatusFail},
				{Validator: validator.Consensus, Status: models.StatusPass},
			},
			want: 0.3*0.5 + 0.3*0.5 + 0.4,
		},
		{
			name: "no evidence is neutral overlap",
			text: longAnswer(),
			want: 0.3 + 0.3*0.5 + 0.4,
		},
		{
			name: "critical failure and patch penalised",
			text: longAnswer(),
			verdicts: []models.Verdict{
				{Validator: validator.Citation, Critical: true, Status: models.StatusFail},
				{Validator: validator.Identity, Critical: true, Status: models.StatusPatched},
			},
			want: 0.3 + 0.15 + 0.4 - 0.25 - 0.1,
		},
		{
			name: "short answer",
			text: "Yes.",
			want: 0.3 + 0.15 + 0.4*0.2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Score(tt.text, "q", tt.evidence, tt.verdicts)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestScore_Clamped(t *testing.T) {
	e := defaultEvaluator()
	var verdicts []models.Verdict
	for i := 0; i < 8; i++ {
		verdicts = append(verdicts, models.Verdict{Critical: true, Status: models.StatusFail})
	}
	assert.Equal(t, 0.0, e.Score("Yes.", "q", nil, verdicts))
}

func TestScore_MoreCriticalFailuresNeverScoreHigher(t *testing.T) {
	e := defaultEvaluator()
	base := []models.Verdict{{Validator: validator.Numeric, Status: models.StatusPass}}
	worse := append(base, models.Verdict{Validator: validator.Citation, Critical: true, Status: models.StatusFail})

	assert.Less(t, e.Score(longAnswer(), "q", nil, worse), e.Score(longAnswer(), "q", nil, base))
}

func TestStructure(t *testing.T) {
	assert.Equal(t, 0.2, Structure("Too short."))
	assert.Equal(t, 0.6, Structure("This answer has exactly eight words in it."))
	assert.Equal(t, 1.0, Structure(longAnswer()))
	assert.Equal(t, 0.8, Structure(strings.Repeat("word ", 601)+"end."))
	assert.Equal(t, 0.5, Structure("As an AI language model I must note that "+longAnswer()))
	assert.Equal(t, 0.25, Structure("Lorem ipsum dolor sit amet consectetur adipiscing elit sed do eiusmod tempor. Lorem ipsum dolor sit amet consectetur adipiscing elit sed do eiusmod tempor."))
}

func TestBand(t *testing.T) {
	cfg := config.Default().Quality
	assert.Equal(t, models.BandHigh, Band(0.8, cfg))
	assert.Equal(t, models.BandMedium, Band(0.5, cfg))
	assert.Equal(t, models.BandMedium, Band(0.79, cfg))
	assert.Equal(t, models.BandLow, Band(0.49, cfg))
}
