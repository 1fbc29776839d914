// Package evaluation replays a labelled dataset through the engine and
// reports how often the engine reached the expected verdict.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/aws-agent/verity/internal/engine"
	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/pkg/logger"
)

// Runner is the part of the engine the harness needs.
type Runner interface {
	Evaluate(ctx context.Context, req *engine.Request) (*engine.FinalAnswer, error)
}

type Evaluator struct {
	runner  Runner
	workers int
}

type EvaluationDataset struct {
	Name  string        `json:"name" yaml:"name"`
	Items []DatasetItem `json:"items" yaml:"items"`
}

type DatasetItem struct {
	ID        string            `json:"id" yaml:"id"`
	Category  string            `json:"category,omitempty" yaml:"category,omitempty"`
	Query     string            `json:"query" yaml:"query"`
	Candidate string            `json:"candidate" yaml:"candidate"`
	Evidence  []models.Evidence `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	// Mode defaults to off; regeneration is not available offline.
	Mode              models.Mode           `json:"mode,omitempty" yaml:"mode,omitempty"`
	ExpectedStatus    models.FinalStatus    `json:"expected_status,omitempty" yaml:"expected_status,omitempty"`
	ExpectedEpistemic models.EpistemicState `json:"expected_epistemic,omitempty" yaml:"expected_epistemic,omitempty"`
}

type ItemResult struct {
	ID        string                `json:"id"`
	Category  string                `json:"category,omitempty"`
	Status    models.FinalStatus    `json:"status"`
	Epistemic models.EpistemicState `json:"epistemic"`
	Quality   float64               `json:"quality"`
	Reasons   []string              `json:"reasons,omitempty"`
	Text      string                `json:"text"`
	// Matched is nil when the item carries no expectation.
	Matched *bool  `json:"matched,omitempty"`
	Error   string `json:"error,omitempty"`
}

type EvaluationReport struct {
	Dataset         string                        `json:"dataset"`
	TotalItems      int                           `json:"total_items"`
	StatusCounts    map[models.FinalStatus]int    `json:"status_counts"`
	EpistemicCounts map[models.EpistemicState]int `json:"epistemic_counts"`
	ReasonCounts    map[string]int                `json:"reason_counts"`
	AvgQuality      float64                       `json:"avg_quality"`
	Labelled        int                           `json:"labelled"`
	Matched         int                           `json:"matched"`
	Accuracy        float64                       `json:"accuracy"`
	Errors          int                           `json:"errors"`
	Items           []ItemResult                  `json:"items"`
}

func NewEvaluator(runner Runner, workers int) *Evaluator {
	if workers < 1 {
		workers = 1
	}
	return &Evaluator{runner: runner, workers: workers}
}

// EvaluateItem runs one dataset item. Engine errors are recorded on the
// result, never returned.
func (e *Evaluator) EvaluateItem(ctx context.Context, item DatasetItem) ItemResult {
	mode := item.Mode
	if mode == "" {
		mode = models.ModeOff
	}

	res := ItemResult{ID: item.ID, Category: item.Category}
	answer, err := e.runner.Evaluate(ctx, &engine.Request{
		RequestID: item.ID,
		Query:     item.Query,
		Candidate: item.Candidate,
		Evidence:  item.Evidence,
		Mode:      mode,
	})
	if err != nil {
		res.Error = err.Error()
	}
	if answer != nil {
		res.Status = answer.Status
		res.Epistemic = answer.Epistemic
		res.Quality = answer.Quality
		res.Reasons = answer.Reasons
		res.Text = answer.Text
	}

	if item.ExpectedStatus != "" || item.ExpectedEpistemic != "" {
		ok := (item.ExpectedStatus == "" || item.ExpectedStatus == res.Status) &&
			(item.ExpectedEpistemic == "" || item.ExpectedEpistemic == res.Epistemic)
		res.Matched = &ok
	}
	return res
}

func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *EvaluationDataset) (*EvaluationReport, error) {
	logger.Info("Running dataset evaluation",
		zap.String("dataset", dataset.Name),
		zap.Int("items", len(dataset.Items)),
	)

	results := make([]ItemResult, len(dataset.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, item := range dataset.Items {
		i, item := i, item
		if item.ID == "" {
			item.ID = fmt.Sprintf("item_%d", i+1)
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.EvaluateItem(gctx, item)
			logger.Debug("Item evaluated",
				zap.String("id", item.ID),
				zap.String("status", string(results[i].Status)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dataset evaluation interrupted: %w", err)
	}

	report := summarize(dataset.Name, results)

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalItems),
		zap.Int("matched", report.Matched),
		zap.Int("labelled", report.Labelled),
		zap.Float64("avg_quality", report.AvgQuality),
	)
	return report, nil
}

func summarize(name string, results []ItemResult) *EvaluationReport {
	report := &EvaluationReport{
		Dataset:         name,
		TotalItems:      len(results),
		StatusCounts:    make(map[models.FinalStatus]int),
		EpistemicCounts: make(map[models.EpistemicState]int),
		ReasonCounts:    make(map[string]int),
		Items:           results,
	}

	var totalQuality float64
	for _, r := range results {
		if r.Error != "" {
			report.Errors++
		}
		report.StatusCounts[r.Status]++
		if r.Epistemic != "" {
			report.EpistemicCounts[r.Epistemic]++
		}
		for _, reason := range r.Reasons {
			report.ReasonCounts[reason]++
		}
		totalQuality += r.Quality
		if r.Matched != nil {
			report.Labelled++
			if *r.Matched {
				report.Matched++
			}
		}
	}

	if report.TotalItems > 0 {
		report.AvgQuality = totalQuality / float64(report.TotalItems)
	}
	if report.Labelled > 0 {
		report.Accuracy = float64(report.Matched) / float64(report.Labelled) * 100
	}
	return report
}

func LoadDatasetFromJSON(data []byte) (*EvaluationDataset, error) {
	var dataset EvaluationDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	return &dataset, nil
}

func LoadDatasetFromYAML(data []byte) (*EvaluationDataset, error) {
	var dataset EvaluationDataset
	if err := yaml.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	return &dataset, nil
}

// LoadDataset picks the decoder from the file extension.
func LoadDataset(path string) (*EvaluationDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var dataset *EvaluationDataset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dataset, err = LoadDatasetFromJSON(data)
	case ".yaml", ".yml":
		dataset, err = LoadDatasetFromYAML(data)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if dataset.Name == "" {
		dataset.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return dataset, nil
}

func GenerateReport(report *EvaluationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, `
Evaluation Report: %s
==================

Total Items: %d
Errors: %d
Average Quality: %.3f

Expectation Match: %d / %d (%.1f%%)

Final Status:
`, report.Dataset, report.TotalItems, report.Errors, report.AvgQuality,
		report.Matched, report.Labelled, report.Accuracy)

	for _, status := range []models.FinalStatus{
		models.FinalAccepted, models.FinalPatched, models.FinalFallback, models.FinalGenerationUnavailable,
	} {
		n := report.StatusCounts[status]
		fmt.Fprintf(&b, "- %s: %d (%.1f%%)\n", status, n, percent(n, report.TotalItems))
	}

	b.WriteString("\nEpistemic State:\n")
	for _, state := range []models.EpistemicState{models.Grounded, models.PartiallyGrounded, models.Unsupported} {
		n := report.EpistemicCounts[state]
		fmt.Fprintf(&b, "- %s: %d (%.1f%%)\n", state, n, percent(n, report.TotalItems))
	}

	if len(report.ReasonCounts) > 0 {
		b.WriteString("\nReasons:\n")
		reasons := make([]string, 0, len(report.ReasonCounts))
		for r := range report.ReasonCounts {
			reasons = append(reasons, r)
		}
		sort.Slice(reasons, func(i, j int) bool {
			ci, cj := report.ReasonCounts[reasons[i]], report.ReasonCounts[reasons[j]]
			if ci != cj {
				return ci > cj
			}
			return reasons[i] < reasons[j]
		})
		for _, r := range reasons {
			fmt.Fprintf(&b, "- %s: %d\n", r, report.ReasonCounts[r])
		}
	}

	var mismatches []ItemResult
	for _, item := range report.Items {
		if item.Matched != nil && !*item.Matched {
			mismatches = append(mismatches, item)
		}
	}
	if len(mismatches) > 0 {
		b.WriteString("\nMismatches:\n")
		for _, item := range mismatches {
			fmt.Fprintf(&b, "- %s: got %s / %s\n", item.ID, item.Status, item.Epistemic)
		}
	}
	return b.String()
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
