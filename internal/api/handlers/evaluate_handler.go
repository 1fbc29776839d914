package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aws-agent/verity/internal/engine"
	"github.com/aws-agent/verity/internal/middleware/validation"
	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/pkg/logger"
)

// Evaluator is the engine as seen by the HTTP layer.
type Evaluator interface {
	Evaluate(ctx context.Context, req *engine.Request) (*engine.FinalAnswer, error)
}

type EvaluateHandler struct {
	engine     Evaluator
	regenerate engine.RegenerateFunc
	validation validation.Config
}

// NewEvaluateHandler builds the handler. regenerate may be nil, in which case
// requests that ask for regeneration get GENERATION_UNAVAILABLE when the
// policy wants a new candidate.
func NewEvaluateHandler(e Evaluator, regenerate engine.RegenerateFunc, cfg validation.Config) *EvaluateHandler {
	return &EvaluateHandler{engine: e, regenerate: regenerate, validation: cfg}
}

func (h *EvaluateHandler) HandleEvaluate(c *fiber.Ctx) error {
	req, ok := c.Locals(validation.LocalsKey).(*validation.EvaluateRequest)
	if !ok {
		req = &validation.EvaluateRequest{}
		if err := json.Unmarshal(c.Body(), req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if err := validation.Validate(h.validation, req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "Invalid request",
				"fields": err,
			})
		}
	}

	answer, err := h.engine.Evaluate(c.UserContext(), h.buildRequest(req, nil))
	return h.respond(c, answer, err)
}

func (h *EvaluateHandler) buildRequest(req *validation.EvaluateRequest, onRound engine.RoundObserver) *engine.Request {
	r := &engine.Request{
		RequestID: req.RequestID,
		Query:     req.Query,
		Candidate: req.Candidate,
		Evidence:  req.Evidence,
		Mode:      models.Mode(req.Mode),
		OnRound:   onRound,
	}
	if req.Regenerate {
		r.Regenerate = h.regenerate
	}
	return r
}

func (h *EvaluateHandler) respond(c *fiber.Ctx, answer *engine.FinalAnswer, err error) error {
	switch {
	case err == nil:
		return c.JSON(answer)
	case errors.Is(err, engine.ErrGenerationUnavailable):
		logger.Warn("Generation unavailable", zap.String("request_id", answer.RequestID), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(answer)
	default:
		logger.Error("Failed to evaluate answer", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
