package entities

import "time"

// ActiveConnection is the single caller currently holding the host's
// admission slot.
type ActiveConnection struct {
	ID          string    `json:"id"`
	CallerLabel string    `json:"caller_label"`
	AcquiredAt  time.Time `json:"acquired_at"`
}

// QueuedConnection is a caller waiting for the admission slot. Entries are
// destroyed on timeout, cancellation, or promotion to active.
type QueuedConnection struct {
	ID            string        `json:"id"`
	CallerLabel   string        `json:"caller_label"`
	QueuePosition int           `json:"queue_position"`
	QueuedAt      time.Time     `json:"queued_at"`
	MaxWait       time.Duration `json:"max_wait_ms"`
}

// WaitExceeded reports whether the entry has been queued past its max wait.
func (q *QueuedConnection) WaitExceeded(now time.Time) bool {
	return q.MaxWait > 0 && now.Sub(q.QueuedAt) > q.MaxWait
}
