package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aws-agent/verity/internal/models"
)

// LocalsKey is where Middleware stores the parsed *EvaluateRequest.
const LocalsKey = "evaluate_request"

type Config struct {
	MaxQueryLength     int
	MaxCandidateLength int
	MaxEvidenceItems   int
	MaxEvidenceLength  int
	Logger             *zap.Logger
}

func (cfg *Config) defaults() {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxCandidateLength == 0 {
		cfg.MaxCandidateLength = 20000
	}
	if cfg.MaxEvidenceItems == 0 {
		cfg.MaxEvidenceItems = 50
	}
	if cfg.MaxEvidenceLength == 0 {
		cfg.MaxEvidenceLength = 20000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// EvaluateRequest is the wire form of an evaluation request.
type EvaluateRequest struct {
	RequestID string            `json:"request_id,omitempty"`
	Query     string            `json:"query"`
	Candidate string            `json:"candidate"`
	Evidence  []models.Evidence `json:"evidence"`
	Mode      string            `json:"mode,omitempty"`
	// Regenerate lets the server call its own generator when the policy
	// asks for a new candidate.
	Regenerate bool `json:"regenerate,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Errors []FieldError

func (errs Errors) Error() string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Field + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

// Validate checks req against cfg limits and normalises it in place.
func Validate(cfg Config, req *EvaluateRequest) error {
	cfg.defaults()
	var errs Errors
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	req.Query = sanitizeString(req.Query)
	req.Candidate = sanitizeString(req.Candidate)

	if req.Query == "" {
		add("query", "is required")
	} else if utf8.RuneCountInString(req.Query) > cfg.MaxQueryLength {
		add("query", "exceeds %d characters", cfg.MaxQueryLength)
	}
	if utf8.RuneCountInString(req.Candidate) > cfg.MaxCandidateLength {
		add("candidate", "exceeds %d characters", cfg.MaxCandidateLength)
	}
	if req.Candidate == "" {
		add("candidate", "is required")
	}

	if len(req.Evidence) > cfg.MaxEvidenceItems {
		add("evidence", "at most %d items allowed", cfg.MaxEvidenceItems)
	}
	for i := range req.Evidence {
		e := &req.Evidence[i]
		e.Text = sanitizeString(e.Text)
		if e.Similarity < 0 || e.Similarity > 1 {
			add(fmt.Sprintf("evidence[%d].similarity", i), "must be within [0,1]")
		}
		if utf8.RuneCountInString(e.Text) > cfg.MaxEvidenceLength {
			add(fmt.Sprintf("evidence[%d].text", i), "exceeds %d characters", cfg.MaxEvidenceLength)
		}
	}

	if req.Mode != "" {
		mode, err := models.ParseMode(req.Mode)
		if err != nil {
			add("mode", "must be off, light or aggressive")
		} else {
			req.Mode = string(mode)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Middleware parses and validates evaluation bodies on POST requests.
func Middleware(cfg Config) fiber.Handler {
	cfg.defaults()

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		if ct := c.Get(fiber.HeaderContentType); ct != "" && !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		var req EvaluateRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if err := Validate(cfg, &req); err != nil {
			cfg.Logger.Debug("Rejected evaluation request",
				zap.String("ip", c.IP()),
				zap.Error(err),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "Invalid request",
				"fields": err,
			})
		}

		c.Locals(LocalsKey, &req)
		return c.Next()
	}
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
