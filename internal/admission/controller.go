package admission

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
)

// Config holds admission settings.
type Config struct {
	// MaxWait is the default time a queued caller may wait before eviction.
	MaxWait time.Duration `yaml:"max_wait"`
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// PerSlotEstimate is the fixed per-queue-entry wait estimate.
	PerSlotEstimate time.Duration `yaml:"per_slot_estimate"`
}

// DefaultConfig returns the standard admission settings.
func DefaultConfig() Config {
	return Config{
		MaxWait:         10 * time.Minute,
		SweepInterval:   time.Second,
		PerSlotEstimate: 30 * time.Second,
	}
}

// EventType classifies an admission notification.
type EventType string

const (
	// EventGranted tells a queued caller the slot is now available. The
	// controller never connects on the caller's behalf.
	EventGranted EventType = "granted"
	// EventEvicted tells a queued caller its max wait elapsed.
	EventEvicted EventType = "evicted"
	// EventPosition reports an updated queue standing.
	EventPosition EventType = "position"
)

// Event is one admission notification delivered to a waiting caller.
type Event struct {
	Type          EventType
	Position      int
	EstimatedWait time.Duration
}

// Admission is the result of a slot request: either the active slot, or a
// queued entry whose Events channel reports standing, promotion, and
// eviction.
type Admission struct {
	ID       string
	Active   bool
	Position int
	Events   <-chan Event
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	QueueLength   int           `json:"queue_length"`
	ActiveCount   int           `json:"active_count"`
	EstimatedWait time.Duration `json:"estimated_wait_ms"`
	Served        uint64        `json:"served"`
	Rejections    uint64        `json:"rejections"`
}

type waiter struct {
	entry  entities.QueuedConnection
	events chan Event
}

// Controller arbitrates the single active session per host. Arrival,
// departure, and the periodic sweep race concurrently, so all state is
// guarded by one mutex.
type Controller struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	active     *entities.ActiveConnection
	queue      []*waiter
	served     uint64
	rejections uint64

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewController creates an admission controller.
func NewController(cfg Config, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background eviction sweep.
func (c *Controller) Start() {
	go c.sweepLoop()
}

// Stop halts the sweep. Queued callers are not notified; the process is
// going down with them.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// RequestSlot asks for the active slot with the default max wait. If the
// slot is free the caller gets it immediately; otherwise it is appended to
// the FIFO queue.
func (c *Controller) RequestSlot(callerLabel string) (*Admission, error) {
	return c.RequestSlotWithWait(callerLabel, c.cfg.MaxWait)
}

// RequestSlotWithWait is RequestSlot with an explicit max wait. A negative
// max wait means the caller declines to queue: if the slot is busy the
// request is rejected with a slot-busy error.
func (c *Controller) RequestSlotWithWait(callerLabel string, maxWait time.Duration) (*Admission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		c.active = &entities.ActiveConnection{
			ID:          uuid.NewString(),
			CallerLabel: callerLabel,
			AcquiredAt:  time.Now(),
		}
		c.served++
		c.logger.Info("Admission slot granted", zap.String("caller", callerLabel))
		return &Admission{ID: c.active.ID, Active: true}, nil
	}

	if maxWait < 0 {
		c.rejections++
		return nil, entities.NewCommandError(entities.ErrCodeSlotBusy,
			"Another device is using this host", true)
	}

	w := &waiter{
		entry: entities.QueuedConnection{
			ID:            uuid.NewString(),
			CallerLabel:   callerLabel,
			QueuePosition: len(c.queue) + 1,
			QueuedAt:      time.Now(),
			MaxWait:       maxWait,
		},
		events: make(chan Event, 8),
	}
	c.queue = append(c.queue, w)

	c.logger.Info("Caller queued for admission slot",
		zap.String("caller", callerLabel),
		zap.Int("position", w.entry.QueuePosition))

	return &Admission{
		ID:       w.entry.ID,
		Position: w.entry.QueuePosition,
		Events:   w.events,
	}, nil
}

// Release gives up the active slot (or removes a queued entry). When the
// active holder leaves, the queue head is promoted and notified.
func (c *Controller) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.ID == id {
		c.logger.Info("Admission slot released", zap.String("caller", c.active.CallerLabel))
		c.active = nil
		c.promoteHeadLocked()
		return
	}
	c.removeQueuedLocked(id, nil)
}

// Status reports queue length, active count, and the estimated wait for a
// new requester.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		QueueLength:   len(c.queue),
		ActiveCount:   c.activeCountLocked(),
		EstimatedWait: c.estimateLocked(len(c.queue)),
		Served:        c.served,
		Rejections:    c.rejections,
	}
}

func (c *Controller) activeCountLocked() int {
	if c.active != nil {
		return 1
	}
	return 0
}

// estimateLocked is the simple heuristic: queue length times the per-slot
// estimate, capped at the maximum wait.
func (c *Controller) estimateLocked(queueLength int) time.Duration {
	estimate := time.Duration(queueLength) * c.cfg.PerSlotEstimate
	if estimate > c.cfg.MaxWait {
		estimate = c.cfg.MaxWait
	}
	return estimate
}

func (c *Controller) promoteHeadLocked() {
	if len(c.queue) == 0 {
		return
	}
	head := c.queue[0]
	c.queue = c.queue[1:]

	c.active = &entities.ActiveConnection{
		ID:          head.entry.ID,
		CallerLabel: head.entry.CallerLabel,
		AcquiredAt:  time.Now(),
	}
	c.served++
	sendTerminalLocked(head, Event{Type: EventGranted})

	c.logger.Info("Queued caller promoted", zap.String("caller", head.entry.CallerLabel))
	c.renumberLocked()
}

func (c *Controller) removeQueuedLocked(id string, notify *Event) {
	for i, w := range c.queue {
		if w.entry.ID != id {
			continue
		}
		c.queue = append(c.queue[:i], c.queue[i+1:]...)
		if notify != nil {
			sendTerminalLocked(w, *notify)
		} else {
			close(w.events)
		}
		c.renumberLocked()
		return
	}
}

// renumberLocked refreshes positions and pushes standing updates to every
// remaining waiter.
func (c *Controller) renumberLocked() {
	for i, w := range c.queue {
		position := i + 1
		if w.entry.QueuePosition == position {
			continue
		}
		w.entry.QueuePosition = position
		select {
		case w.events <- Event{
			Type:          EventPosition,
			Position:      position,
			EstimatedWait: c.estimateLocked(position),
		}:
		default:
		}
	}
}

// sendTerminalLocked delivers a waiter's final event and closes its channel
// without ever blocking under the controller mutex. The controller is the
// only sender, so draining stale standing updates guarantees buffer room;
// a consumer that has not read them is superseded by the terminal event
// anyway.
func sendTerminalLocked(w *waiter, ev Event) {
	for {
		select {
		case <-w.events:
		default:
			w.events <- ev
			close(w.events)
			return
		}
	}
}

func (c *Controller) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Controller) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(c.queue); {
		w := c.queue[i]
		if !w.entry.WaitExceeded(now) {
			i++
			continue
		}
		c.queue = append(c.queue[:i], c.queue[i+1:]...)
		sendTerminalLocked(w, Event{Type: EventEvicted})
		c.logger.Info("Queued caller evicted after max wait",
			zap.String("caller", w.entry.CallerLabel))
	}
	c.renumberLocked()
}
