package validator

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/internal/safety"
	"github.com/aws-agent/verity/pkg/config"
)

func parisEvidence() []models.Evidence {
	return []models.Evidence{{ID: "E1", Text: "Paris, capital of France, population ~2.1M", Similarity: 0.9}}
}

// applyEdits mirrors the chain's patch application for single-verdict tests.
func applyEdits(text string, v models.Verdict) string {
	require := func(b bool) {
		if !b {
			panic("verdict carries no patch")
		}
	}
	require(v.Patch != nil)
	edits := append([]models.Edit(nil), v.Patch.Edits...)
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].Start < edits[j].Start })
	out, last := "", 0
	for _, e := range edits {
		out += text[last:e.Start] + e.Text
		last = e.End
	}
	return out + text[last:]
}

func TestCitationValidator(t *testing.T) {
	ctx := context.Background()
	v := NewCitationValidator(config.CitationConfig{Enabled: true, Patch: true})

	tests := []struct {
		name      string
		candidate string
		evidence  []models.Evidence
		status    models.VerdictStatus
		patchedTo string
	}{
		{name: "no evidence", candidate: "Paris is the capital of France.", status: models.StatusPass},
		{name: "numeric marker", candidate: "Paris is the capital of France [1].", evidence: parisEvidence(), status: models.StatusPass},
		{name: "source marker", candidate: "Paris is the capital (Source: atlas).", evidence: parisEvidence(), status: models.StatusPass},
		{name: "evidence id marker", candidate: "Paris is the capital [E1].", evidence: parisEvidence(), status: models.StatusPass},
		{
			name:      "missing marker patched",
			candidate: "Paris is the capital of France.  ",
			evidence:  parisEvidence(),
			status:    models.StatusPatched,
			patchedTo: "Paris is the capital of France. [1]  ",
		},
		{
			name:      "references top evidence",
			candidate: "Paris is the capital of France.",
			evidence: []models.Evidence{
				{ID: "low", Text: "Lyon is a city.", Similarity: 0.3},
				{ID: "high", Text: "Paris is the capital.", Similarity: 0.8},
			},
			status:    models.StatusPatched,
			patchedTo: "Paris is the capital of France. [2]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Check(ctx, &Input{Candidate: tt.candidate, Evidence: tt.evidence})
			assert.Equal(t, tt.status, verdict.Status)
			assert.Equal(t, Citation, verdict.Validator)
			if tt.patchedTo != "" {
				assert.Equal(t, ReasonMissingCitation, verdict.Reason)
				assert.Equal(t, tt.patchedTo, applyEdits(tt.candidate, verdict))
			}
		})
	}
}

func TestCitationValidator_PatchDisabled(t *testing.T) {
	v := NewCitationValidator(config.CitationConfig{Enabled: true, Patch: false})
	verdict := v.Check(context.Background(), &Input{Candidate: "Paris is the capital.", Evidence: parisEvidence()})

	assert.Equal(t, models.StatusFail, verdict.Status)
	assert.True(t, verdict.CriticalFailure())
	assert.Nil(t, verdict.Patch)
}

func TestOverlapValidator(t *testing.T) {
	ctx := context.Background()
	v := NewOverlapValidator(config.OverlapConfig{Enabled: true, Threshold: 0.08, NGram: 2})

	t.Run("high overlap passes", func(t *testing.T) {
		verdict := v.Check(ctx, &Input{
			Candidate: "Paris is the capital of France with 10 million residents [1]",
			Evidence:  parisEvidence(),
		})
		assert.Equal(t, models.StatusPass, verdict.Status)
		assert.InDelta(t, 2.0/9.0, verdict.Score, 1e-9)
	})

	t.Run("cited but unsupported is critical", func(t *testing.T) {
		verdict := v.Check(ctx, &Input{Candidate: "Bananas grow in tropical climates [1]", Evidence: parisEvidence()})
		assert.Equal(t, models.StatusFail, verdict.Status)
		assert.True(t, verdict.Critical)
		assert.Equal(t, ReasonUnsupportedCitation, verdict.Reason)
	})

	t.Run("uncited low overlap is advisory", func(t *testing.T) {
		verdict := v.Check(ctx, &Input{Candidate: "Bananas grow in tropical climates", Evidence: parisEvidence()})
		assert.Equal(t, models.StatusFail, verdict.Status)
		assert.False(t, verdict.Critical)
		assert.Equal(t, ReasonLowOverlap, verdict.Reason)
	})

	t.Run("empty evidence passes", func(t *testing.T) {
		verdict := v.Check(ctx, &Input{Candidate: "Anything at all"})
		assert.Equal(t, models.StatusPass, verdict.Status)
		assert.Equal(t, ReasonNoEvidence, verdict.Reason)
	})

	t.Run("critical only when cited", func(t *testing.T) {
		assert.True(t, CriticalFor(v, &Input{Candidate: "Paris [1]", Evidence: parisEvidence()}))
		assert.False(t, CriticalFor(v, &Input{Candidate: "Paris", Evidence: parisEvidence()}))
		assert.False(t, CriticalFor(v, &Input{Candidate: "Paris [1]"}))
	})
}

func TestNumericValidator(t *testing.T) {
	ctx := context.Background()
	v := NewNumericValidator(config.NumericConfig{Enabled: true, Tolerance: 0.01})

	tests := []struct {
		name      string
		candidate string
		evidence  string
		status    models.VerdictStatus
	}{
		{"mismatched scale", "Paris has 10 million residents [1]", "population ~2.1M", models.StatusFail},
		{"scale word matches suffix", "Paris has 2.1 million residents", "population ~2.1M", models.StatusPass},
		{"thousands separators", "Paris has 2,100,000 residents", "population ~2.1M", models.StatusPass},
		{"within tolerance", "The tower is 330.5 m tall", "The tower is 330 m tall", models.StatusPass},
		{"percent forms", "Turnout was 15%", "turnout reached 15 percent", models.StatusPass},
		{"citation numbers ignored", "Paris is large [3]", "Paris is large", models.StatusPass},
		{"no numbers", "Paris is large", "", models.StatusPass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Check(ctx, &Input{
				Candidate: tt.candidate,
				Evidence:  []models.Evidence{{ID: "E1", Text: tt.evidence, Similarity: 0.9}},
			})
			assert.Equal(t, tt.status, verdict.Status)
			assert.False(t, verdict.Critical)
			if tt.status == models.StatusFail {
				assert.Equal(t, ReasonUntraceableNumber, verdict.Reason)
			}
		})
	}
}

func TestConfidenceValidator(t *testing.T) {
	ctx := context.Background()
	v := NewConfidenceValidator(config.ConfidenceConfig{Enabled: true, MinRelevance: 0.35})
	weak := []models.Evidence{{ID: "E1", Text: "unrelated", Similarity: 0.2}}

	tests := []struct {
		name      string
		candidate string
		evidence  []models.Evidence
		status    models.VerdictStatus
	}{
		{"certain without evidence", "The stock will definitely rise next year.", nil, models.StatusPatched},
		{"plain statement without evidence", "Democracy is a form of government.", nil, models.StatusPatched},
		{"hedged without evidence", "The stock may possibly rise next year.", nil, models.StatusPass},
		{"absolute overrides hedge", "It is probably always the best choice.", nil, models.StatusPatched},
		{"explicit uncertainty", "This cannot be verified with the sources at hand.", nil, models.StatusPass},
		{"weak evidence", "Paris is always the capital.", weak, models.StatusPatched},
		{"strong evidence", "Paris is always the capital.", parisEvidence(), models.StatusPass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Check(ctx, &Input{Candidate: tt.candidate, Evidence: tt.evidence})
			assert.Equal(t, tt.status, verdict.Status)
		})
	}
}

func TestConfidenceValidator_PatchedTextPasses(t *testing.T) {
	ctx := context.Background()
	v := NewConfidenceValidator(config.ConfidenceConfig{Enabled: true, MinRelevance: 0.35})
	candidate := "The stock will definitely rise next year."

	verdict := v.Check(ctx, &Input{Candidate: candidate})
	require.Equal(t, models.StatusPatched, verdict.Status)
	fixed := applyEdits(candidate, verdict)
	assert.Equal(t, UncertaintyNotice+candidate, fixed)

	again := v.Check(ctx, &Input{Candidate: fixed})
	assert.Equal(t, models.StatusPass, again.Status)
}

func TestIdentityValidator(t *testing.T) {
	ctx := context.Background()
	v := NewIdentityValidator()

	tests := []struct {
		name      string
		candidate string
		want      string
	}{
		{"opinion with superlative", "I feel that democracy is best", "Analysis suggests democracy is often favored"},
		{"opinion prefix", "In my opinion, Rust is superior.", "Based on the available information, Rust is often preferred."},
		{"emotion sentence removed", "I'm so happy to help! Paris is the capital of France.", "Paris is the capital of France."},
		{"consciousness claim removed", "Paris is the capital. I have feelings too.", "Paris is the capital. "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Check(ctx, &Input{Candidate: tt.candidate})
			require.Equal(t, models.StatusPatched, verdict.Status)
			assert.True(t, verdict.Critical)
			assert.Equal(t, ReasonAnthropomorphic, verdict.Reason)
			assert.Equal(t, tt.want, applyEdits(tt.candidate, verdict))
		})
	}

	t.Run("neutral text passes", func(t *testing.T) {
		verdict := v.Check(ctx, &Input{Candidate: "Democracy is often favored. The best option depends on context."})
		assert.Equal(t, models.StatusPass, verdict.Status)
	})
}

func TestLanguageValidator(t *testing.T) {
	ctx := context.Background()
	v := NewLanguageValidator(config.LanguageConfig{Enabled: true, MinChars: 40})
	query := "What is the capital city of France and how many people live there?"

	t.Run("different script", func(t *testing.T) {
		verdict := v.Check(ctx, &Input{
			Query:     query,
			Candidate: "Столица Франции это Париж, и в нём живёт около двух миллионов человек.",
		})
		assert.Equal(t, models.StatusFail, verdict.Status)
		assert.True(t, verdict.Regenerate)
		assert.Nil(t, verdict.Patch)
		assert.Equal(t, ReasonLanguageMismatch, verdict.Reason)
	})

	t.Run("same language", func(t *testing.T) {
		verdict := v.Check(ctx, &Input{
			Query:     query,
			Candidate: "The capital city of France is Paris, and about two million people live there.",
		})
		assert.Equal(t, models.StatusPass, verdict.Status)
	})

	english := "The capital of France is Paris, home to about two million people."
	mismatches := []struct {
		name  string
		query string
	}{
		{"short cyrillic query", "Какая столица Франции?"},
		{"short spanish query", "¿Cuál es la capital de Francia?"},
		{"one word in another script", "Столица?"},
	}
	for _, tt := range mismatches {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Check(ctx, &Input{Query: tt.query, Candidate: english})
			assert.Equal(t, models.StatusFail, verdict.Status)
			assert.True(t, verdict.Critical)
			assert.True(t, verdict.Regenerate)
			assert.Equal(t, ReasonLanguageMismatch, verdict.Reason)
		})
	}

	matches := []struct {
		name      string
		query     string
		candidate string
	}{
		{"short english query", "What is the capital of France?", english},
		{"short answer in the same script", "Quelle est la capitale de la France ?", "Paris."},
		{"query without letters", "2+2?", english},
	}
	for _, tt := range matches {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Check(ctx, &Input{Query: tt.query, Candidate: tt.candidate})
			assert.Equal(t, models.StatusPass, verdict.Status)
		})
	}
}

func TestConsensusValidator(t *testing.T) {
	ctx := context.Background()
	v := NewConsensusValidator(config.ConsensusConfig{Enabled: true, Tolerance: 0.1, MinShared: 0.5})

	tests := []struct {
		name   string
		a, b   string
		reason string
	}{
		{"numbers disagree", "The bridge is 300 meters long.", "The bridge is 450 meters long.", ReasonSourceContradiction},
		{"opposite polarity", "The museum opens on Mondays.", "The museum does not open on Mondays.", ReasonSourceContradiction},
		{"numbers agree", "The bridge is 300 meters long.", "Engineers measured the bridge at 301 meters long.", ""},
		{"unrelated", "The bridge is 300 meters long.", "Cats sleep for most of the day.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Check(ctx, &Input{Evidence: []models.Evidence{
				{ID: "A", Text: tt.a, Similarity: 0.8},
				{ID: "B", Text: tt.b, Similarity: 0.7},
			}})
			assert.Equal(t, models.StatusPass, verdict.Status)
			assert.Equal(t, tt.reason, verdict.Reason)
		})
	}
}

type stubChecker struct {
	res   safety.Result
	err   error
	delay time.Duration
}

func (s stubChecker) Check(ctx context.Context, text string) (safety.Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return safety.Result{}, ctx.Err()
		}
	}
	return s.res, s.err
}

func TestEthicsValidator(t *testing.T) {
	ctx := context.Background()
	lex, err := safety.NewLexiconChecker(nil)
	require.NoError(t, err)
	cfg := config.EthicsConfig{Enabled: true, Timeout: 50 * time.Millisecond}

	tests := []struct {
		name      string
		checker   safety.Checker
		candidate string
		status    models.VerdictStatus
		reason    string
	}{
		{"clean", lex, "Paris is the capital of France.", models.StatusPass, ""},
		{"hateful", lex, "Those people are vermin and should be exterminated.", models.StatusFail, ReasonEthicsViolation},
		{"checker error", stubChecker{err: errors.New("moderation down")}, "text", models.StatusFail, ReasonInternalError},
		{"checker timeout", stubChecker{delay: time.Second}, "text", models.StatusFail, ReasonTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := NewEthicsValidator(cfg, tt.checker).Check(ctx, &Input{Candidate: tt.candidate})
			assert.Equal(t, tt.status, verdict.Status)
			assert.Equal(t, tt.reason, verdict.Reason)
			assert.True(t, verdict.Critical)
			assert.Nil(t, verdict.Patch)
		})
	}
}
