package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/aws-agent/verity/internal/engine"
	"github.com/aws-agent/verity/internal/middleware/validation"
	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/internal/policy"
	"github.com/aws-agent/verity/pkg/logger"
)

type jsonConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
}

// WebSocketHandler streams each validation round to the client as it
// completes, followed by the final answer.
type WebSocketHandler struct {
	evaluate *EvaluateHandler
	timeout  time.Duration
}

func NewWebSocketHandler(evaluate *EvaluateHandler, timeout time.Duration) *WebSocketHandler {
	return &WebSocketHandler{evaluate: evaluate, timeout: timeout}
}

type wsMessage struct {
	Type    string                     `json:"type"`
	Request validation.EvaluateRequest `json:"request"`
}

type roundMessage struct {
	Type      string                `json:"type"`
	RequestID string                `json:"request_id"`
	Round     int                   `json:"round"`
	Status    models.OutcomeStatus  `json:"status"`
	Quality   float64               `json:"quality"`
	Epistemic models.EpistemicState `json:"epistemic"`
	Reasons   []string              `json:"reasons,omitempty"`
	Action    models.Action         `json:"action"`
	Rule      int                   `json:"rule"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	h.serve(c)
}

func (h *WebSocketHandler) serve(c jsonConn) {
	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		if msg.Type != "evaluate" {
			h.sendError(c, "unsupported message type")
			continue
		}

		if err := h.stream(c, &msg.Request); err != nil {
			logger.Error("Failed to stream evaluation", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) stream(c jsonConn, req *validation.EvaluateRequest) error {
	if err := validation.Validate(h.evaluate.validation, req); err != nil {
		return h.sendError(c, err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	// Rounds are reported synchronously from inside Evaluate, so writes never
	// race with the final message.
	var writeErr error
	onRound := func(requestID string, out *models.Outcome, d policy.Decision) {
		if writeErr != nil {
			return
		}
		writeErr = c.WriteJSON(roundMessage{
			Type:      "round",
			RequestID: requestID,
			Round:     out.Round,
			Status:    out.Status,
			Quality:   out.Quality,
			Epistemic: out.Epistemic,
			Reasons:   out.Reasons(),
			Action:    d.Action,
			Rule:      d.Rule,
		})
	}

	answer, err := h.evaluate.engine.Evaluate(ctx, h.evaluate.buildRequest(req, onRound))
	if writeErr != nil {
		return writeErr
	}
	if err != nil && !errors.Is(err, engine.ErrGenerationUnavailable) {
		return h.sendError(c, err.Error())
	}

	return c.WriteJSON(map[string]any{
		"type":   "complete",
		"answer": answer,
	})
}

func (h *WebSocketHandler) sendError(c jsonConn, errorMsg string) error {
	return c.WriteJSON(map[string]any{
		"type":  "error",
		"error": errorMsg,
	})
}
