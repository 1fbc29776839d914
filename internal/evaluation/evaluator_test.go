package evaluation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-agent/verity/internal/engine"
	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/pkg/config"
)

type stubRunner struct {
	answers map[string]*engine.FinalAnswer
	err     error
}

func (s *stubRunner) Evaluate(_ context.Context, req *engine.Request) (*engine.FinalAnswer, error) {
	if req.Mode != models.ModeOff {
		return nil, errors.New("unexpected mode " + string(req.Mode))
	}
	return s.answers[req.RequestID], s.err
}

func TestRunDatasetEvaluation_Summary(t *testing.T) {
	runner := &stubRunner{answers: map[string]*engine.FinalAnswer{
		"a": {Status: models.FinalAccepted, Epistemic: models.Grounded, Quality: 0.9},
		"b": {Status: models.FinalPatched, Epistemic: models.Unsupported, Quality: 0.5, Reasons: []string{"unwarranted_certainty"}},
		"c": {Status: models.FinalFallback, Epistemic: models.Unsupported, Quality: 0.1, Reasons: []string{"ethics_violation"}},
	}}
	ds := &EvaluationDataset{Name: "unit", Items: []DatasetItem{
		{ID: "a", ExpectedStatus: models.FinalAccepted},
		{ID: "b", ExpectedStatus: models.FinalAccepted},
		{ID: "c"},
	}}

	report, err := NewEvaluator(runner, 2).RunDatasetEvaluation(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalItems)
	assert.Equal(t, 2, report.Labelled)
	assert.Equal(t, 1, report.Matched)
	assert.InDelta(t, 50.0, report.Accuracy, 1e-9)
	assert.InDelta(t, 0.5, report.AvgQuality, 1e-9)
	assert.Equal(t, 1, report.StatusCounts[models.FinalFallback])
	assert.Equal(t, 2, report.EpistemicCounts[models.Unsupported])
	assert.Equal(t, 1, report.ReasonCounts["ethics_violation"])

	require.Len(t, report.Items, 3)
	assert.Equal(t, "b", report.Items[1].ID)
	assert.Nil(t, report.Items[2].Matched)

	text := GenerateReport(report)
	assert.Contains(t, text, "Expectation Match: 1 / 2 (50.0%)")
	assert.Contains(t, text, "- b: got PATCHED / UNSUPPORTED")
}

func TestEvaluateItem_RecordsEngineError(t *testing.T) {
	runner := &stubRunner{
		answers: map[string]*engine.FinalAnswer{"x": {Status: models.FinalGenerationUnavailable}},
		err:     engine.ErrGenerationUnavailable,
	}
	res := NewEvaluator(runner, 1).EvaluateItem(context.Background(), DatasetItem{ID: "x"})
	assert.Equal(t, models.FinalGenerationUnavailable, res.Status)
	assert.Contains(t, res.Error, "generation service unavailable")
}

func TestRunDatasetEvaluation_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEvaluator(&stubRunner{}, 1).RunDatasetEvaluation(ctx, &EvaluationDataset{Items: []DatasetItem{{ID: "a"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadDataset(t *testing.T) {
	ds, err := LoadDataset(filepath.Join("testdata", "sample.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sample", ds.Name)
	require.Len(t, ds.Items, 3)
	assert.Equal(t, 0.9, ds.Items[0].Evidence[0].Similarity)
	assert.Equal(t, models.Unsupported, ds.Items[1].ExpectedEpistemic)

	jsonPath := filepath.Join(t.TempDir(), "set.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"items":[{"id":"j","query":"q","candidate":"c"}]}`), 0o644))
	ds, err = LoadDataset(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "set", ds.Name)
	assert.Equal(t, "j", ds.Items[0].ID)

	_, err = LoadDataset(filepath.Join(t.TempDir(), "set.csv"))
	assert.Error(t, err)
}

func TestRunDatasetEvaluation_AgainstEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Chain.ValidatorTimeout = 2 * time.Second
	e, err := engine.New(cfg)
	require.NoError(t, err)

	ds, err := LoadDataset(filepath.Join("testdata", "sample.yaml"))
	require.NoError(t, err)

	report, err := NewEvaluator(e, 2).RunDatasetEvaluation(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Labelled)
	assert.Equal(t, 3, report.Matched, GenerateReport(report))
	assert.Zero(t, report.Errors)
}
