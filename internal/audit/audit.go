// Package audit defines the decision-trail event emitted once per
// evaluation and the sinks that consume it.
package audit

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/aws-agent/verity/internal/models"
)

// Transition is one policy decision in the trail.
type Transition struct {
	Round           int           `json:"round"`
	Rule            int           `json:"rule"`
	Action          models.Action `json:"action"`
	Reason          string        `json:"reason"`
	PreviousQuality float64       `json:"previous_quality"`
	NewQuality      float64       `json:"new_quality"`
}

type Event struct {
	RequestID    string                `json:"request_id"`
	Mode         models.Mode           `json:"mode"`
	QueryHash    string                `json:"query_hash"`
	StartedAt    time.Time             `json:"started_at"`
	Duration     time.Duration         `json:"duration"`
	Rounds       []*models.Outcome     `json:"rounds"`
	Transitions  []Transition          `json:"transitions"`
	FinalStatus  models.FinalStatus    `json:"final_status"`
	FinalQuality float64               `json:"final_quality"`
	Epistemic    models.EpistemicState `json:"epistemic"`
	RoundsUsed   int                   `json:"rounds_used"`
	ReasonCounts map[string]int        `json:"reason_counts"`
	Error        string                `json:"error,omitempty"`
}

// CountReasons builds the reason_code -> count histogram over every round.
func (e *Event) CountReasons() {
	counts := make(map[string]int)
	for _, r := range e.Rounds {
		for _, reason := range r.Reasons() {
			counts[reason]++
		}
		for _, reason := range r.Discarded {
			counts["discarded:"+reason]++
		}
		for _, name := range r.Skipped {
			counts["skipped:"+name]++
		}
	}
	e.ReasonCounts = counts
}

// SortedReasons returns histogram keys in a stable order.
func (e *Event) SortedReasons() []string {
	keys := make([]string, 0, len(e.ReasonCounts))
	for k := range e.ReasonCounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type Sink interface {
	Record(ctx context.Context, event *Event) error
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, event *Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Record(context.Context, *Event) error { return nil }

// LogSink writes one structured line per evaluation.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, e *Event) error {
	fields := []zap.Field{
		zap.String("request_id", e.RequestID),
		zap.String("mode", string(e.Mode)),
		zap.String("query_hash", e.QueryHash),
		zap.String("final_status", string(e.FinalStatus)),
		zap.Float64("final_quality", e.FinalQuality),
		zap.String("epistemic", string(e.Epistemic)),
		zap.Int("rounds_used", e.RoundsUsed),
		zap.Duration("duration", e.Duration),
		zap.Any("reason_counts", e.ReasonCounts),
		zap.Any("transitions", e.Transitions),
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	s.logger.Info("Evaluation completed", fields...)
	return nil
}
