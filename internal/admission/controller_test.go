package admission

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
)

func newTestController(cfg Config) *Controller {
	return NewController(cfg, zap.NewNop())
}

func TestFirstRequestGetsSlot(t *testing.T) {
	c := newTestController(DefaultConfig())

	adm, err := c.RequestSlot("phone-a")
	if err != nil {
		t.Fatalf("RequestSlot() error = %v", err)
	}
	if !adm.Active {
		t.Fatal("first requester must get the slot immediately")
	}

	status := c.Status()
	if status.ActiveCount != 1 || status.QueueLength != 0 {
		t.Errorf("expected 1 active / 0 queued, got %d/%d", status.ActiveCount, status.QueueLength)
	}
}

func TestSecondRequestIsQueuedNotRejected(t *testing.T) {
	c := newTestController(DefaultConfig())

	first, _ := c.RequestSlot("phone-a")
	if !first.Active {
		t.Fatal("setup: first requester should be active")
	}

	second, err := c.RequestSlot("phone-b")
	if err != nil {
		t.Fatalf("second request must be queued, got error %v", err)
	}
	if second.Active {
		t.Fatal("second requester must not be active")
	}
	if second.Position != 1 {
		t.Errorf("expected position 1 (queue length 0 + 1), got %d", second.Position)
	}

	third, _ := c.RequestSlot("phone-c")
	if third.Position != 2 {
		t.Errorf("expected position 2, got %d", third.Position)
	}
}

func TestOptOutRequestIsRejectedWhenBusy(t *testing.T) {
	c := newTestController(DefaultConfig())
	c.RequestSlot("phone-a")

	_, err := c.RequestSlotWithWait("phone-b", -1)
	var cmdErr *entities.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Code != entities.ErrCodeSlotBusy {
		t.Fatalf("expected slot_busy, got %v", err)
	}
	if got := c.Status().Rejections; got != 1 {
		t.Errorf("expected 1 rejection, got %d", got)
	}
}

func TestReleasePromotesHead(t *testing.T) {
	c := newTestController(DefaultConfig())

	first, _ := c.RequestSlot("phone-a")
	second, _ := c.RequestSlot("phone-b")

	c.Release(first.ID)

	select {
	case ev := <-second.Events:
		if ev.Type != EventGranted {
			t.Fatalf("expected granted event, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("queued caller was not notified of promotion")
	}

	status := c.Status()
	if status.ActiveCount != 1 || status.QueueLength != 0 {
		t.Errorf("expected promoted holder, got %d active / %d queued", status.ActiveCount, status.QueueLength)
	}
}

func TestSweepEvictsExpiredEntry(t *testing.T) {
	cfg := DefaultConfig()
	c := newTestController(cfg)

	c.RequestSlot("phone-a")
	queued, _ := c.RequestSlotWithWait("phone-b", 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	c.evictExpired()

	select {
	case ev := <-queued.Events:
		if ev.Type != EventEvicted {
			t.Fatalf("expected evicted event, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expired entry was not evicted")
	}

	if got := c.Status().QueueLength; got != 0 {
		t.Errorf("expected empty queue after eviction, got %d", got)
	}
}

func TestEstimatedWaitHeuristic(t *testing.T) {
	cfg := Config{
		MaxWait:         10 * time.Minute,
		SweepInterval:   time.Second,
		PerSlotEstimate: 30 * time.Second,
	}
	c := newTestController(cfg)

	c.RequestSlot("phone-a")
	c.RequestSlot("phone-b")
	c.RequestSlot("phone-c")

	if got := c.Status().EstimatedWait; got != time.Minute {
		t.Errorf("expected 2 queued x 30s = 1m, got %v", got)
	}
}

func TestEstimatedWaitCappedAtMaxWait(t *testing.T) {
	cfg := Config{
		MaxWait:         time.Minute,
		SweepInterval:   time.Second,
		PerSlotEstimate: 30 * time.Second,
	}
	c := newTestController(cfg)

	c.RequestSlot("phone-a")
	for i := 0; i < 5; i++ {
		c.RequestSlot("queued")
	}

	if got := c.Status().EstimatedWait; got != time.Minute {
		t.Errorf("estimate must cap at max wait, got %v", got)
	}
}

func TestPositionUpdatesAfterPromotion(t *testing.T) {
	c := newTestController(DefaultConfig())

	first, _ := c.RequestSlot("phone-a")
	c.RequestSlot("phone-b")
	third, _ := c.RequestSlot("phone-c")

	c.Release(first.ID) // promotes b, c moves to position 1

	select {
	case ev := <-third.Events:
		if ev.Type != EventPosition || ev.Position != 1 {
			t.Fatalf("expected position update to 1, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("remaining waiter did not receive a standing update")
	}
}

func TestPromotionDoesNotBlockOnStalledWaiter(t *testing.T) {
	c := newTestController(DefaultConfig())

	first, _ := c.RequestSlot("phone-a")
	second, _ := c.RequestSlot("phone-b")

	// The waiter has stopped reading and its buffer is full of stale
	// standing updates.
	c.mu.Lock()
	w := c.queue[0]
	c.mu.Unlock()
	for i := 0; i < cap(w.events); i++ {
		w.events <- Event{Type: EventPosition, Position: 1}
	}

	released := make(chan struct{})
	go func() {
		c.Release(first.ID)
		close(released)
	}()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("Release blocked on a stalled waiter's event channel")
	}

	// The terminal event supersedes the stale updates and still arrives.
	var last Event
	for ev := range second.Events {
		last = ev
	}
	if last.Type != EventGranted {
		t.Fatalf("expected granted as the final event, got %+v", last)
	}

	if st := c.Status(); st.ActiveCount != 1 || st.QueueLength != 0 {
		t.Fatalf("controller wedged: %+v", st)
	}
}

func TestEvictionDoesNotBlockOnStalledWaiter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWait = time.Millisecond
	c := newTestController(cfg)

	c.RequestSlot("phone-a")
	queued, _ := c.RequestSlot("phone-b")

	c.mu.Lock()
	w := c.queue[0]
	c.mu.Unlock()
	for i := 0; i < cap(w.events); i++ {
		w.events <- Event{Type: EventPosition, Position: 1}
	}

	time.Sleep(5 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		c.evictExpired()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("eviction sweep blocked on a stalled waiter's event channel")
	}

	var last Event
	for ev := range queued.Events {
		last = ev
	}
	if last.Type != EventEvicted {
		t.Fatalf("expected evicted as the final event, got %+v", last)
	}
}
