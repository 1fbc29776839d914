package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aws-agent/verity/pkg/logger"
)

// FleetCounters exposes counters aggregated across every replica.
type FleetCounters interface {
	ReasonCounts(ctx context.Context) (map[string]int64, error)
	StatusCounts(ctx context.Context) (map[string]int64, error)
}

type StatsHandler struct {
	counters FleetCounters
}

func NewStatsHandler(counters FleetCounters) *StatsHandler {
	return &StatsHandler{counters: counters}
}

func (h *StatsHandler) GetStats(c *fiber.Ctx) error {
	reasons, err := h.counters.ReasonCounts(c.UserContext())
	if err != nil {
		logger.Error("Failed to read reason counters", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read stats",
		})
	}
	statuses, err := h.counters.StatusCounts(c.UserContext())
	if err != nil {
		logger.Error("Failed to read status counters", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read stats",
		})
	}

	return c.JSON(fiber.Map{
		"reasons":  reasons,
		"statuses": statuses,
	})
}
