// Package chain fans a candidate out to every registered validator and folds
// the verdicts into one round outcome.
package chain

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/internal/validator"
	"github.com/aws-agent/verity/pkg/config"
	"github.com/aws-agent/verity/pkg/logger"
)

var tracer = otel.Tracer("verity.chain")

// Orchestrator is safe for concurrent use. It holds no per-request state.
type Orchestrator struct {
	registry     *validator.Registry
	timeout      time.Duration
	workers      int
	fallbackText string
	logger       *zap.Logger
}

func New(registry *validator.Registry, cfg config.ChainConfig, fallbackText string) *Orchestrator {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		registry:     registry,
		timeout:      cfg.ValidatorTimeout,
		workers:      workers,
		fallbackText: fallbackText,
		logger:       logger.Named("chain"),
	}
}

func (o *Orchestrator) Registry() *validator.Registry { return o.registry }

type slot struct {
	verdict models.Verdict
	skipped bool
}

// Run evaluates one candidate. Verdicts come back in registry order whatever
// order the validators finish in. Quality and epistemic state are left for
// the caller to fill in.
func (o *Orchestrator) Run(ctx context.Context, in *validator.Input) *models.Outcome {
	ctx, span := tracer.Start(ctx, "chain.Run", trace.WithAttributes(
		attribute.Int("round", in.Round),
		attribute.Int("validators", o.registry.Len()),
		attribute.Int("evidence", len(in.Evidence)),
	))
	defer span.End()

	validators := o.registry.Validators()
	slots := make([]slot, len(validators))

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, v := range validators {
		i, v := i, v
		g.Go(func() error {
			slots[i] = o.runOne(ctx, v, in)
			return nil
		})
	}
	_ = g.Wait()

	outcome := &models.Outcome{Round: in.Round, Candidate: in.Candidate}
	for i, s := range slots {
		if s.skipped {
			outcome.Skipped = append(outcome.Skipped, validators[i].Name())
			continue
		}
		outcome.Verdicts = append(outcome.Verdicts, s.verdict)
	}

	patch := ApplyPatches(in.Candidate, outcome.Verdicts)
	for _, idx := range patch.Discarded {
		outcome.Discarded = append(outcome.Discarded, outcome.Verdicts[idx].Reason)
	}

	switch {
	case hasCriticalFailure(outcome.Verdicts):
		outcome.Status = models.OutcomeRejected
		outcome.FinalText = o.fallbackText
	case patch.Text != in.Candidate:
		outcome.Status = models.OutcomePatched
		outcome.FinalText = patch.Text
	default:
		outcome.Status = models.OutcomeAccepted
		outcome.FinalText = in.Candidate
	}

	span.SetAttributes(
		attribute.String("status", string(outcome.Status)),
		attribute.StringSlice("reasons", outcome.Reasons()),
	)
	o.logger.Debug("Validation round complete",
		zap.Int("round", in.Round),
		zap.String("status", string(outcome.Status)),
		zap.Strings("reasons", outcome.Reasons()),
		zap.Strings("skipped", outcome.Skipped),
		zap.Strings("discarded", outcome.Discarded),
	)
	return outcome
}

func hasCriticalFailure(verdicts []models.Verdict) bool {
	for _, v := range verdicts {
		if v.CriticalFailure() {
			return true
		}
	}
	return false
}

// runOne runs a validator under its timeout and converts panics and
// overruns into verdicts. A validator that overruns keeps running in its
// goroutine until it returns; its late result is dropped.
func (o *Orchestrator) runOne(ctx context.Context, v validator.Validator, in *validator.Input) slot {
	timeout := o.timeout
	if t, ok := v.(validator.Timed); ok && t.Timeout() > 0 {
		timeout = t.Timeout() + o.timeout
	}

	ctx, span := tracer.Start(ctx, "validator."+v.Name())
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan models.Verdict, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("Validator panicked",
					zap.String("validator", v.Name()),
					zap.Any("panic", r),
				)
				done <- validator.Failure(v, validator.ReasonInternalError, fmt.Sprintf("panic: %v", r))
			}
		}()
		done <- v.Check(ctx, in)
	}()

	select {
	case verdict := <-done:
		verdict = normalize(v, verdict)
		span.SetAttributes(
			attribute.String("status", string(verdict.Status)),
			attribute.String("reason", verdict.Reason),
		)
		if verdict.Reason == validator.ReasonInternalError {
			span.SetStatus(codes.Error, verdict.Detail)
		}
		return slot{verdict: verdict}
	case <-ctx.Done():
		span.SetStatus(codes.Error, "timeout")
		if !validator.CriticalFor(v, in) {
			o.logger.Warn("Advisory validator skipped after timeout",
				zap.String("validator", v.Name()),
				zap.Duration("timeout", timeout),
			)
			return slot{skipped: true}
		}
		o.logger.Warn("Critical validator timed out",
			zap.String("validator", v.Name()),
			zap.Duration("timeout", timeout),
		)
		return slot{verdict: validator.Failure(v, validator.ReasonTimeout, fmt.Sprintf("no verdict within %s", timeout))}
	}
}

// normalize fills identity fields and turns patches from validators that may
// not edit text into plain failures.
func normalize(v validator.Validator, verdict models.Verdict) models.Verdict {
	verdict.Validator = v.Name()
	if verdict.Status == "" {
		verdict.Status = models.StatusPass
	}
	if verdict.Status == models.StatusPatched {
		if _, ok := priorityOf(v.Name()); !ok || verdict.Patch.Empty() {
			verdict.Status = models.StatusFail
			verdict.Patch = nil
		}
	}
	if verdict.Status == models.StatusFail && !v.Critical() {
		verdict.Critical = false
	}
	return verdict
}
