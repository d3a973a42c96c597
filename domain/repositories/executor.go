package repositories

import "context"

// ActionResult is the terminal outcome of executing one action.
type ActionResult struct {
	Success       bool   `json:"success"`
	ResultMessage string `json:"result_message"`
	Retryable     bool   `json:"retryable"`
}

// ActionExecutor abstracts the host-side executor that carries out an
// interpreted action. Implementations must respect the context deadline;
// the agent caps execution at a fixed timeout.
type ActionExecutor interface {
	Execute(ctx context.Context, action ActionInterpretation) (ActionResult, error)
}
