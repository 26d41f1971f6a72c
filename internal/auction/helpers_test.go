package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// recorder captures notifications and escalations.
type recorder struct {
	mu        sync.Mutex
	notes     []Notification
	escalated []AuctionDelivery
	fail      error
}

func (r *recorder) Notify(_ context.Context, memberID string, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) DeliveryExpired(_ context.Context, d AuctionDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.escalated = append(r.escalated, d)
	return nil
}

func (r *recorder) ofType(typ string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.notes {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

// fakeSub is a push subscriber that records messages.
type fakeSub struct {
	mu     sync.Mutex
	msgs   []Update
	closed bool
	fail   bool
}

func (s *fakeSub) Send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	var u Update
	if err := json.Unmarshal(msg, &u); err != nil {
		return err
	}
	s.msgs = append(s.msgs, u)
	return nil
}

func (s *fakeSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSub) updates() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.msgs...)
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type harness struct {
	store  *MemoryStore
	clock  *fakeClock
	rec    *recorder
	engine *Engine
}

func seqIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: NewMemoryStore(),
		clock: &fakeClock{now: t0.Add(-time.Minute)},
		rec:   &recorder{},
	}
	h.engine = NewEngine(h.store, Options{
		GracePeriod:      72 * time.Hour,
		HeartbeatTimeout: 30 * time.Second,
		Notifier:         h.rec,
		Escalator:        h.rec,
		Clock:            h.clock.Now,
		NewID:            seqIDs(),
	})
	return h
}

// schedule creates the standard item: 1000 start, 100 unit, [t0, t0+60s).
func (h *harness) schedule(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.engine.Schedule(context.Background(), ScheduleRequest{
		CatalogItemID: "pet-42",
		StartPrice:    1000,
		BidUnit:       100,
		StartTime:     t0,
		EndTime:       t0.Add(60 * time.Second),
	})
	assert.NoError(t, err)
	return snap
}

func (h *harness) bidAt(at time.Duration, itemID, member string, amount int64) (BidResult, error) {
	h.clock.Set(t0.Add(at))
	return h.engine.SubmitBid(context.Background(), itemID, member, amount)
}
