// Package engine is the entry point for validating and self-correcting a
// generated answer. It runs validation rounds, consults the rewrite policy
// and asks the caller's generator for new candidates when the policy says so.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aws-agent/verity/internal/audit"
	"github.com/aws-agent/verity/internal/chain"
	"github.com/aws-agent/verity/internal/epistemic"
	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/internal/policy"
	"github.com/aws-agent/verity/internal/quality"
	"github.com/aws-agent/verity/internal/safety"
	"github.com/aws-agent/verity/internal/telemetry"
	"github.com/aws-agent/verity/internal/validator"
	"github.com/aws-agent/verity/pkg/circuitbreaker"
	"github.com/aws-agent/verity/pkg/config"
	"github.com/aws-agent/verity/pkg/logger"
	"github.com/aws-agent/verity/pkg/retry"
	"github.com/aws-agent/verity/pkg/utils"
)

var (
	ErrGenerationUnavailable = errors.New("generation service unavailable")
	ErrNoRegenerator         = errors.New("no regenerate function supplied")
	ErrEmptyGeneration       = errors.New("generator returned an empty answer")
)

// RegenerationRequest is everything the generator gets to produce the next
// candidate. The engine never builds prompts; Reasons is offered as context.
type RegenerationRequest struct {
	RequestID      string
	Query          string
	Evidence       []models.Evidence
	Round          int
	PreviousAnswer string
	PriorAttempts  []models.RewriteAttempt
	Reasons        []string
}

type RegenerateFunc func(ctx context.Context, req *RegenerationRequest) (string, error)

// RoundObserver is called after every round with the policy's decision.
type RoundObserver func(requestID string, outcome *models.Outcome, decision policy.Decision)

type Request struct {
	RequestID  string
	Query      string
	Candidate  string
	Evidence   []models.Evidence
	Mode       models.Mode
	Regenerate RegenerateFunc
	OnRound    RoundObserver
}

type FinalAnswer struct {
	RequestID  string                `json:"request_id"`
	Text       string                `json:"text"`
	Status     models.FinalStatus    `json:"status"`
	Quality    float64               `json:"quality_score"`
	Epistemic  models.EpistemicState `json:"epistemic_state"`
	Reasons    []string              `json:"reasons"`
	RoundsUsed int                   `json:"rounds_used"`
}

// snapshot is everything derived from one configuration. It is replaced as
// a whole on reload and never modified.
type snapshot struct {
	cfg          *config.Config
	orchestrator *chain.Orchestrator
	scorer       quality.Scorer
	classifier   *epistemic.Classifier
	policy       *policy.Policy
}

type Engine struct {
	snap    atomic.Pointer[snapshot]
	sink    audit.Sink
	breaker *circuitbreaker.CircuitBreaker
	safety  safety.Checker
	scorer  quality.Scorer
	logger  *zap.Logger
}

type Option func(*Engine)

func WithSink(sink audit.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithSafetyChecker replaces the lexicon checker behind the ethics validator.
func WithSafetyChecker(c safety.Checker) Option {
	return func(e *Engine) { e.safety = c }
}

// WithScorer overrides the quality evaluator.
func WithScorer(s quality.Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(e *Engine) { e.breaker = cb }
}

// IsGenerationFailure reports whether err should count against the
// regeneration breaker. Cancellation is the caller's doing, not the generator's.
func IsGenerationFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// New validates cfg and builds the engine. Configuration errors surface
// here, never at request time.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{sink: audit.Nop{}, logger: logger.Named("engine")}
	for _, opt := range opts {
		opt(e)
	}
	if e.breaker == nil {
		e.breaker = circuitbreaker.NewCircuitBreaker("regenerate", circuitbreaker.Config{
			FailureThreshold: cfg.Generation.BreakerFailures,
			Timeout:          cfg.Generation.BreakerTimeout,
			IsFailure:        IsGenerationFailure,
			Logger:           e.logger,
		})
	}
	if err := e.Reload(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload builds a new snapshot from cfg and swaps it in. Requests already
// running keep the snapshot they started with.
func (e *Engine) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	registry, err := validator.Build(cfg, validator.Deps{Safety: e.safety})
	if err != nil {
		return fmt.Errorf("build validator registry: %w", err)
	}

	scorer := e.scorer
	if scorer == nil {
		scorer = quality.NewEvaluator(cfg.Quality)
	}
	e.snap.Store(&snapshot{
		cfg:          cfg,
		orchestrator: chain.New(registry, cfg.Chain, cfg.Engine.FallbackText),
		scorer:       scorer,
		classifier:   epistemic.NewClassifier(cfg.Validators.Confidence.MinRelevance),
		policy:       policy.New(cfg.Quality, cfg.Policy),
	})
	e.logger.Info("Engine configuration loaded", zap.Strings("validators", registry.Names()))
	return nil
}

func (e *Engine) Config() *config.Config {
	return e.snap.Load().cfg
}

func (e *Engine) Breaker() *circuitbreaker.CircuitBreaker {
	return e.breaker
}

// run carries the state of one Evaluate call.
type run struct {
	snap     *snapshot
	req      *Request
	id       string
	mode     models.Mode
	evidence []models.Evidence
	event    *audit.Event
	history  []models.RewriteAttempt
	reasons  []string
	best     *models.Outcome
}

// Evaluate validates req.Candidate and, depending on the mode, regenerates
// it until the policy accepts or gives up. The only error returned wraps
// ErrGenerationUnavailable; every other problem becomes a status or reason.
func (e *Engine) Evaluate(ctx context.Context, req *Request) (*FinalAnswer, error) {
	snap := e.snap.Load()
	start := time.Now()

	mode := req.Mode
	if mode == "" {
		mode = models.Mode(snap.cfg.Engine.DefaultMode)
	}
	mode, err := models.ParseMode(string(mode))
	if err != nil {
		return nil, err
	}

	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	ctx, span := telemetry.StartSpan(ctx, "verity.evaluate",
		attribute.String("request_id", id),
		attribute.String("mode", string(mode)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, snap.cfg.Engine.Deadline)
	defer cancel()

	r := &run{
		snap:     snap,
		req:      req,
		id:       id,
		mode:     mode,
		evidence: validator.CleanEvidence(req.Evidence),
		event: &audit.Event{
			RequestID: id,
			Mode:      mode,
			QueryHash: utils.ShortHash(req.Query),
			StartedAt: start,
		},
	}

	answer, err := e.loop(ctx, r)
	r.event.Duration = time.Since(start)
	if answer != nil {
		span.SetAttributes(
			attribute.String("status", string(answer.Status)),
			attribute.Float64("quality", answer.Quality),
			attribute.Int("rounds_used", answer.RoundsUsed),
		)
	}
	telemetry.RecordError(span, err)
	e.emit(ctx, r, answer, err)
	return answer, err
}

func (e *Engine) loop(ctx context.Context, r *run) (*FinalAnswer, error) {
	candidate := r.req.Candidate
	var prev *models.Outcome
	var initialBand models.Band

	for round := 1; ; round++ {
		out := e.evaluateRound(ctx, r, candidate, round)
		if round == 1 {
			initialBand = r.snap.policy.Band(out.Quality)
		} else {
			r.history = append(r.history, models.RewriteAttempt{
				Round:          round,
				QualityBefore:  prev.Quality,
				QualityAfter:   out.Quality,
				CriticalIssues: prev.CriticalIssues(),
			})
		}
		if out.Status != models.OutcomeRejected && (r.best == nil || out.Quality > r.best.Quality) {
			r.best = out
		}
		r.addReasons(out.Reasons())

		d := r.snap.policy.Decide(policy.Input{
			Mode:             r.mode,
			Round:            round,
			Outcome:          out,
			History:          r.history,
			InitialBand:      initialBand,
			DeadlineExceeded: ctx.Err() != nil,
		})
		e.record(r, out, prev, d)

		switch d.Action {
		case models.ActionAccept:
			chosen := out
			if d.UseBest && r.best != nil {
				chosen = r.best
			}
			return r.accept(chosen), nil

		case models.ActionFallback:
			return r.fallback(out, models.FinalFallback), nil

		default:
			next, err := e.regenerate(ctx, r, candidate, round)
			if err != nil {
				if ctx.Err() != nil {
					d := policy.Decision{Action: models.ActionFallback, Rule: policy.RuleDeadline, Reason: "deadline exceeded during regeneration"}
					e.record(r, out, prev, d)
					return r.fallback(out, models.FinalFallback), nil
				}
				e.logger.Warn("Regeneration failed",
					zap.String("request_id", r.id),
					zap.Int("round", round),
					zap.Error(err),
				)
				answer := r.fallback(out, models.FinalGenerationUnavailable)
				answer.Reasons = appendUnique(answer.Reasons, "generation_unavailable")
				return answer, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
			}
			prev = out
			candidate = next
		}
	}
}

func (e *Engine) evaluateRound(ctx context.Context, r *run, candidate string, round int) *models.Outcome {
	ctx, span := telemetry.StartSpan(ctx, "verity.round", attribute.Int("round", round))
	defer span.End()

	out := r.snap.orchestrator.Run(ctx, &validator.Input{
		Query:     r.req.Query,
		Candidate: candidate,
		Round:     round,
		Evidence:  r.evidence,
	})

	scored := out.FinalText
	if out.Status == models.OutcomeRejected {
		scored = out.Candidate
	}
	out.Quality = r.snap.scorer.Score(scored, r.req.Query, r.evidence, out.Verdicts)
	out.Epistemic = r.snap.classifier.Classify(r.evidence, out.Verdicts)
	span.SetAttributes(
		attribute.String("outcome", string(out.Status)),
		attribute.Float64("quality", out.Quality),
	)
	return out
}

func (e *Engine) record(r *run, out, prev *models.Outcome, d policy.Decision) {
	if len(r.event.Rounds) == 0 || r.event.Rounds[len(r.event.Rounds)-1] != out {
		r.event.Rounds = append(r.event.Rounds, out)
	}
	t := audit.Transition{
		Round:      out.Round,
		Rule:       d.Rule,
		Action:     d.Action,
		Reason:     d.Reason,
		NewQuality: out.Quality,
	}
	if prev != nil {
		t.PreviousQuality = prev.Quality
	}
	r.event.Transitions = append(r.event.Transitions, t)

	if r.req.OnRound != nil {
		r.req.OnRound(r.id, out, d)
	}
}

func (e *Engine) emit(ctx context.Context, r *run, answer *FinalAnswer, err error) {
	ev := r.event
	ev.RoundsUsed = len(r.history)
	if answer != nil {
		ev.FinalStatus = answer.Status
		ev.FinalQuality = answer.Quality
		ev.Epistemic = answer.Epistemic
	}
	if err != nil {
		ev.Error = err.Error()
	}
	ev.CountReasons()

	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if serr := e.sink.Record(sinkCtx, ev); serr != nil {
		e.logger.Warn("Audit sink failed", zap.String("request_id", r.id), zap.Error(serr))
	}
}

func (r *run) addReasons(reasons []string) {
	for _, reason := range reasons {
		r.reasons = appendUnique(r.reasons, reason)
	}
}

func (r *run) accept(out *models.Outcome) *FinalAnswer {
	status := models.FinalAccepted
	switch out.Status {
	case models.OutcomePatched:
		status = models.FinalPatched
	case models.OutcomeRejected:
		return r.fallback(out, models.FinalFallback)
	}
	return &FinalAnswer{
		RequestID:  r.id,
		Text:       out.FinalText,
		Status:     status,
		Quality:    out.Quality,
		Epistemic:  out.Epistemic,
		Reasons:    dedupe(out.Reasons()),
		RoundsUsed: len(r.history),
	}
}

func (r *run) fallback(out *models.Outcome, status models.FinalStatus) *FinalAnswer {
	return &FinalAnswer{
		RequestID:  r.id,
		Text:       r.snap.cfg.Engine.FallbackText,
		Status:     status,
		Quality:    out.Quality,
		Epistemic:  out.Epistemic,
		Reasons:    dedupe(append(out.Reasons(), out.Discarded...)),
		RoundsUsed: len(r.history),
	}
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

func dedupe(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = appendUnique(out, s)
	}
	return out
}

// regenerate asks the caller's generator for the next candidate, retrying
// transient errors behind the engine's circuit breaker.
func (e *Engine) regenerate(ctx context.Context, r *run, previous string, round int) (string, error) {
	if r.req.Regenerate == nil {
		return "", ErrNoRegenerator
	}

	req := &RegenerationRequest{
		RequestID:      r.id,
		Query:          r.req.Query,
		Evidence:       r.evidence,
		Round:          round + 1,
		PreviousAnswer: previous,
		PriorAttempts:  append([]models.RewriteAttempt(nil), r.history...),
		Reasons:        append([]string(nil), r.reasons...),
	}

	ctx, span := telemetry.StartSpan(ctx, "verity.regenerate", attribute.Int("round", round+1))
	defer span.End()

	gen := r.snap.cfg.Generation
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = gen.MaxAttempts
	cfg.InitialDelay = gen.InitialDelay
	cfg.Logger = e.logger

	text, err := retry.DoWithResult(ctx, cfg, func() (string, error) {
		text, err := circuitbreaker.ExecuteWithResult(ctx, e.breaker, func() (string, error) {
			text, err := r.req.Regenerate(ctx, req)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(text) == "" {
				return "", ErrEmptyGeneration
			}
			return text, nil
		})
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return "", retry.Permanent(err)
		}
		return text, err
	})
	telemetry.RecordError(span, err)
	return text, err
}
