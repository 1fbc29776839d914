package models

import (
	"fmt"
	"strings"
)

// Evidence is one retrieved passage. Evidence is shared read-only across
// validators and rounds.
type Evidence struct {
	ID          string  `json:"id" yaml:"id"`
	Text        string  `json:"text" yaml:"text"`
	Similarity  float64 `json:"similarity" yaml:"similarity"`
	SourceLabel string  `json:"source_label,omitempty" yaml:"source_label,omitempty"`
}

// MaxSimilarity returns the highest similarity in the set, or 0 when empty.
func MaxSimilarity(evidence []Evidence) float64 {
	best := 0.0
	for _, e := range evidence {
		if e.Similarity > best {
			best = e.Similarity
		}
	}
	return best
}

// TopEvidence returns the index of the most similar item, or -1.
func TopEvidence(evidence []Evidence) int {
	idx := -1
	for i, e := range evidence {
		if idx < 0 || e.Similarity > evidence[idx].Similarity {
			idx = i
		}
	}
	return idx
}

type VerdictStatus string

const (
	StatusPass    VerdictStatus = "PASS"
	StatusFail    VerdictStatus = "FAIL"
	StatusPatched VerdictStatus = "PATCHED"
)

// Edit replaces candidate[Start:End] with Text. Start == End is an insertion.
// Offsets are byte offsets into the candidate the verdict was produced for.
type Edit struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

func (e Edit) IsInsertion() bool { return e.Start == e.End }

type Patch struct {
	Edits []Edit `json:"edits"`
}

func (p *Patch) Empty() bool { return p == nil || len(p.Edits) == 0 }

type Verdict struct {
	Validator  string        `json:"validator"`
	Critical   bool          `json:"critical"`
	Status     VerdictStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Score      float64       `json:"score,omitempty"`
	Patch      *Patch        `json:"patch,omitempty"`
	Regenerate bool          `json:"regenerate,omitempty"`
}

func (v Verdict) Failed() bool { return v.Status == StatusFail }

func (v Verdict) CriticalFailure() bool { return v.Critical && v.Status == StatusFail }

func (v Verdict) String() string {
	if v.Reason == "" {
		return fmt.Sprintf("%s:%s", v.Validator, v.Status)
	}
	return fmt.Sprintf("%s:%s(%s)", v.Validator, v.Status, v.Reason)
}

type OutcomeStatus string

const (
	OutcomeAccepted OutcomeStatus = "ACCEPTED"
	OutcomePatched  OutcomeStatus = "PATCHED"
	OutcomeRejected OutcomeStatus = "REJECTED"
)

type EpistemicState string

const (
	Grounded          EpistemicState = "GROUNDED"
	PartiallyGrounded EpistemicState = "PARTIALLY_GROUNDED"
	Unsupported       EpistemicState = "UNSUPPORTED"
)

// Outcome is the aggregated result of one validation round.
type Outcome struct {
	Round     int            `json:"round"`
	Candidate string         `json:"candidate"`
	Verdicts  []Verdict      `json:"verdicts"`
	Status    OutcomeStatus  `json:"status"`
	FinalText string         `json:"final_text"`
	Quality   float64        `json:"quality"`
	Epistemic EpistemicState `json:"epistemic"`
	// Discarded holds reason codes of patches dropped because a higher
	// priority patch covered the same span.
	Discarded []string `json:"discarded,omitempty"`
	// Skipped holds advisory validators that did not finish in time.
	Skipped []string `json:"skipped,omitempty"`
}

func (o *Outcome) Verdict(validator string) (Verdict, bool) {
	for _, v := range o.Verdicts {
		if v.Validator == validator {
			return v, true
		}
	}
	return Verdict{}, false
}

// CriticalIssues lists reason codes of critical failures left unresolved by patching.
func (o *Outcome) CriticalIssues() []string {
	var issues []string
	for _, v := range o.Verdicts {
		if v.CriticalFailure() {
			issues = append(issues, v.Reason)
		}
	}
	return append(issues, o.Discarded...)
}

func (o *Outcome) HasCriticalIssues() bool {
	return len(o.CriticalIssues()) > 0
}

func (o *Outcome) EthicsFailed() bool {
	v, ok := o.Verdict(EthicsValidator)
	return ok && v.Failed()
}

// Reasons returns the reason codes of failed or patched verdicts, in verdict
// order. Informational codes on passing verdicts are left out.
func (o *Outcome) Reasons() []string {
	var reasons []string
	for _, v := range o.Verdicts {
		if v.Reason != "" && v.Status != StatusPass {
			reasons = append(reasons, v.Reason)
		}
	}
	return reasons
}

// EthicsValidator is referenced by name because an ethics failure can never be
// patched or accepted.
const EthicsValidator = "ethics"

type Mode string

const (
	ModeOff        Mode = "off"
	ModeLight      Mode = "light"
	ModeAggressive Mode = "aggressive"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOff:
		return ModeOff, nil
	case ModeLight:
		return ModeLight, nil
	case ModeAggressive:
		return ModeAggressive, nil
	}
	return "", fmt.Errorf("unknown rewrite mode %q", s)
}

type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// RewriteAttempt records one regeneration round.
type RewriteAttempt struct {
	Round          int      `json:"round"`
	QualityBefore  float64  `json:"quality_before"`
	QualityAfter   float64  `json:"quality_after"`
	CriticalIssues []string `json:"critical_issues,omitempty"`
}

func (a RewriteAttempt) Gain() float64 { return a.QualityAfter - a.QualityBefore }

type Action string

const (
	ActionAccept     Action = "ACCEPT"
	ActionRegenerate Action = "REGENERATE"
	ActionFallback   Action = "FALLBACK"
)

type FinalStatus string

const (
	FinalAccepted              FinalStatus = "ACCEPTED"
	FinalPatched               FinalStatus = "PATCHED"
	FinalFallback              FinalStatus = "FALLBACK"
	FinalGenerationUnavailable FinalStatus = "GENERATION_UNAVAILABLE"
)
