package repositories

import (
	"context"
	"errors"
)

// ErrInterpreterUnavailable marks a transient interpreter outage. Callers may
// retry within a bounded window; every other interpreter error is final.
var ErrInterpreterUnavailable = errors.New("interpretation service unavailable")

// ActionInterpretation is the structured action derived from a transcript.
type ActionInterpretation struct {
	ActionType           string            `json:"action_type"`
	Operation            string            `json:"operation"`
	Parameters           map[string]string `json:"parameters"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
}

// Interpreter abstracts the external natural-language command
// interpretation service.
type Interpreter interface {
	// Interpret maps a transcript (with recent history for context) to an
	// action. Returns ErrInterpreterUnavailable when the service cannot be
	// reached.
	Interpret(ctx context.Context, transcript string, recentHistory []string) (ActionInterpretation, error)
}
