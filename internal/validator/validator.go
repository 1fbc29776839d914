// Package validator holds the individual answer checks and the registry that
// builds them from a configuration snapshot.
//
// Every validator is pure over its Input: it reads the candidate, query and
// evidence, returns one Verdict and never mutates shared state, so the chain
// can run them concurrently without locks.
package validator

import (
	"context"
	"time"

	"github.com/aws-agent/verity/internal/models"
)

const (
	Citation   = "citation"
	Overlap    = "overlap"
	Numeric    = "numeric"
	Confidence = "confidence"
	Identity   = "identity"
	Language   = "language"
	Consensus  = "consensus"
	Ethics     = models.EthicsValidator
)

// Reason codes carried on verdicts. They are stable identifiers consumed by
// the audit trail and metrics.
const (
	ReasonMissingCitation      = "missing_citation"
	ReasonUnsupportedCitation  = "unsupported_citation"
	ReasonLowOverlap           = "low_overlap"
	ReasonNoEvidence           = "no_evidence"
	ReasonUntraceableNumber    = "untraceable_number"
	ReasonUnwarrantedCertainty = "unwarranted_certainty"
	ReasonAnthropomorphic      = "anthropomorphic_claim"
	ReasonLanguageMismatch     = "language_mismatch"
	ReasonSourceContradiction  = "source_contradiction"
	ReasonEthicsViolation      = "ethics_violation"
	ReasonTimeout              = "validator_timeout"
	ReasonInternalError        = "validator_internal_error"
)

// Input is shared read-only by every validator in a round.
type Input struct {
	Query     string
	Candidate string
	Round     int
	Evidence  []models.Evidence
}

type Validator interface {
	Name() string
	// Critical reports whether a failure of this validator can reject the
	// candidate. Unless the validator implements Conditional, it also decides
	// timeout handling: critical validators fail closed, advisory ones are
	// skipped.
	Critical() bool
	Check(ctx context.Context, in *Input) models.Verdict
}

// Conditional is implemented by validators that are critical only for some
// inputs. The chain asks it when the validator times out.
type Conditional interface {
	CriticalFor(in *Input) bool
}

// CriticalFor reports whether a missing verdict from v on in must reject.
func CriticalFor(v Validator, in *Input) bool {
	if c, ok := v.(Conditional); ok {
		return c.CriticalFor(in)
	}
	return v.Critical()
}

// Timed is implemented by validators that need a budget other than the
// chain's per-validator timeout.
type Timed interface {
	Timeout() time.Duration
}

func pass(name string, critical bool) models.Verdict {
	return models.Verdict{Validator: name, Critical: critical, Status: models.StatusPass}
}

func fail(name string, critical bool, reason, detail string) models.Verdict {
	return models.Verdict{
		Validator: name,
		Critical:  critical,
		Status:    models.StatusFail,
		Reason:    reason,
		Detail:    detail,
	}
}

func patched(name, reason, detail string, edits ...models.Edit) models.Verdict {
	return models.Verdict{
		Validator: name,
		Critical:  true,
		Status:    models.StatusPatched,
		Reason:    reason,
		Detail:    detail,
		Patch:     &models.Patch{Edits: edits},
	}
}

// Failure builds the verdict the chain records when a validator cannot
// produce one of its own.
func Failure(v Validator, reason, detail string) models.Verdict {
	return fail(v.Name(), v.Critical(), reason, detail)
}
