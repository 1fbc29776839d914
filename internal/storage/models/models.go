// Package models holds the rows persisted for each evaluation.
package models

import "time"

type EvaluationRecord struct {
	ID           string    `json:"id"`
	Mode         string    `json:"mode"`
	QueryHash    string    `json:"query_hash"`
	FinalStatus  string    `json:"final_status"`
	FinalQuality float64   `json:"final_quality"`
	Epistemic    string    `json:"epistemic"`
	RoundsUsed   int       `json:"rounds_used"`
	DurationMS   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RoundRecord is one validation round together with the policy decision
// taken on it.
type RoundRecord struct {
	EvaluationID string  `json:"evaluation_id"`
	Round        int     `json:"round"`
	Status       string  `json:"status"`
	Quality      float64 `json:"quality"`
	Epistemic    string  `json:"epistemic"`
	Rule         int     `json:"rule"`
	Action       string  `json:"action"`
	Reason       string  `json:"reason"`
	// Verdicts is the JSON encoding of the round's verdict list.
	Verdicts string `json:"verdicts"`
}

type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

type EvaluationFilter struct {
	Status string
	Mode   string
	Since  time.Time
	Limit  int
}
