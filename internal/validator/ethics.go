package validator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/internal/safety"
	"github.com/aws-agent/verity/pkg/config"
)

// EthicsValidator delegates to a content-safety checker. Its failures are
// never patched and always end the evaluation with the fallback answer.
type EthicsValidator struct {
	checker safety.Checker
	timeout time.Duration
}

func NewEthicsValidator(cfg config.EthicsConfig, checker safety.Checker) *EthicsValidator {
	return &EthicsValidator{checker: checker, timeout: cfg.Timeout}
}

func (v *EthicsValidator) Name() string           { return Ethics }
func (v *EthicsValidator) Critical() bool         { return true }
func (v *EthicsValidator) Timeout() time.Duration { return v.timeout }

func (v *EthicsValidator) Check(ctx context.Context, in *Input) models.Verdict {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	res, err := v.checker.Check(ctx, in.Candidate)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fail(Ethics, true, ReasonTimeout, "content safety check timed out")
		}
		return fail(Ethics, true, ReasonInternalError, err.Error())
	}
	if res.Flagged {
		return fail(Ethics, true, ReasonEthicsViolation,
			res.Provider+": "+strings.Join(res.Categories, ", "))
	}
	return pass(Ethics, true)
}
