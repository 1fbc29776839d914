package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aws-agent/verity/internal/storage/models"
	"github.com/aws-agent/verity/internal/storage/sqlite"
	"github.com/aws-agent/verity/pkg/logger"
)

type HistoryStore interface {
	ListEvaluations(ctx context.Context, f models.EvaluationFilter) ([]models.EvaluationRecord, error)
	GetEvaluation(ctx context.Context, id string) (*models.EvaluationRecord, error)
	GetRounds(ctx context.Context, evaluationID string) ([]models.RoundRecord, error)
	ReasonTotals(ctx context.Context) ([]models.ReasonCount, error)
}

type HistoryHandler struct {
	store HistoryStore
}

func NewHistoryHandler(store HistoryStore) *HistoryHandler {
	return &HistoryHandler{store: store}
}

// ListEvaluations serves GET /evaluations?status=&mode=&since=&limit=.
func (h *HistoryHandler) ListEvaluations(c *fiber.Ctx) error {
	filter := models.EvaluationFilter{
		Status: c.Query("status"),
		Mode:   c.Query("mode"),
		Limit:  c.QueryInt("limit", 50),
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 500",
		})
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "since must be an RFC3339 timestamp",
			})
		}
		filter.Since = t
	}

	records, err := h.store.ListEvaluations(c.UserContext(), filter)
	if err != nil {
		logger.Error("Failed to list evaluations", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list evaluations",
		})
	}
	if records == nil {
		records = []models.EvaluationRecord{}
	}

	return c.JSON(fiber.Map{
		"evaluations": records,
		"count":       len(records),
	})
}

func (h *HistoryHandler) GetEvaluation(c *fiber.Ctx) error {
	id := c.Params("id")

	record, err := h.store.GetEvaluation(c.UserContext(), id)
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Evaluation not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get evaluation", zap.String("id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get evaluation",
		})
	}

	rounds, err := h.store.GetRounds(c.UserContext(), id)
	if err != nil {
		logger.Error("Failed to get rounds", zap.String("id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get evaluation",
		})
	}

	return c.JSON(fiber.Map{
		"evaluation": record,
		"rounds":     rounds,
	})
}

func (h *HistoryHandler) ReasonTotals(c *fiber.Ctx) error {
	totals, err := h.store.ReasonTotals(c.UserContext())
	if err != nil {
		logger.Error("Failed to aggregate reasons", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to aggregate reasons",
		})
	}
	return c.JSON(fiber.Map{"reasons": totals})
}
