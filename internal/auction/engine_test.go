package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type memCache struct {
	mu   sync.Mutex
	data map[string]Snapshot
	puts int
}

func (c *memCache) Put(_ context.Context, s Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if cur, ok := c.data[s.ItemID]; ok && cur.CurrentPrice > s.CurrentPrice {
		return nil
	}
	c.data[s.ItemID] = s
	return nil
}

func (c *memCache) Get(_ context.Context, itemID string) (Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.data[itemID]
	return s, ok, nil
}

type names map[string]string

func (n names) DisplayName(_ context.Context, id string) string { return n[id] }

func TestEngineSnapshotUsesCache(t *testing.T) {
	store := NewMemoryStore()
	clk := &fakeClock{now: t0.Add(-time.Minute)}
	cache := &memCache{data: map[string]Snapshot{}}
	e := NewEngine(store, Options{Clock: clk.Now, Cache: cache, Directory: names{"alice": "Alice K."}})
	ctx := context.Background()

	snap, err := e.Schedule(ctx, ScheduleRequest{
		CatalogItemID: "pet-7", StartPrice: 500, BidUnit: 50, StartTime: t0, EndTime: t0.Add(time.Minute),
	})
	assert.NoError(t, err)
	check.Equal(t, 1, cache.puts)

	clk.Set(t0.Add(time.Second))
	_, err = e.SubmitBid(ctx, snap.ItemID, "alice", 600)
	assert.NoError(t, err)

	got, err := e.Snapshot(ctx, snap.ItemID)
	assert.NoError(t, err)
	check.Equal(t, int64(600), got.CurrentPrice)
	check.Equal(t, int64(650), got.MinNextBid)
	check.Equal(t, "Alice K.", got.WinnerName)

	// past the end the cache is bypassed and the session settles
	clk.Set(t0.Add(2 * time.Minute))
	got, err = e.Snapshot(ctx, snap.ItemID)
	assert.NoError(t, err)
	check.Equal(t, SessionSettled, got.Status)

	_, err = e.Snapshot(ctx, "missing")
	check.True(t, errors.Is(err, ErrItemNotFound))
}

func TestEngineSnapshotSkipsStaleStatus(t *testing.T) {
	store := NewMemoryStore()
	clk := &fakeClock{now: t0.Add(-time.Minute)}
	cache := &memCache{data: map[string]Snapshot{}}
	e := NewEngine(store, Options{Clock: clk.Now, Cache: cache})
	ctx := context.Background()

	snap, err := e.Schedule(ctx, ScheduleRequest{
		CatalogItemID: "pet-8", StartPrice: 500, BidUnit: 50, StartTime: t0, EndTime: t0.Add(time.Minute),
	})
	assert.NoError(t, err)
	check.Equal(t, SessionScheduled, snap.Status)

	// a quiet auction opens by the ticker only
	clk.Set(t0.Add(10 * time.Second))
	e.Sessions.Tick(ctx, clk.Now())
	sess, err := store.GetSessionByItem(ctx, snap.ItemID)
	assert.NoError(t, err)
	check.Equal(t, SessionActive, sess.Status)

	got, err := e.Snapshot(ctx, snap.ItemID)
	assert.NoError(t, err)
	check.Equal(t, SessionActive, got.Status)

	cached, ok, err := cache.Get(ctx, snap.ItemID)
	assert.NoError(t, err)
	assert.True(t, ok)
	check.Equal(t, SessionActive, cached.Status)
	check.True(t, cached.current(clk.Now()))
	check.False(t, cached.current(t0.Add(time.Minute)))
}

func TestEngineHistoryView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.schedule(t).ItemID

	_, err := h.engine.History(ctx, item)
	check.True(t, errors.Is(err, ErrHistoryNotReady))

	_, err = h.bidAt(time.Second, item, "alice", 1100)
	assert.NoError(t, err)
	_, err = h.bidAt(2*time.Second, item, "bob", 1200)
	assert.NoError(t, err)
	_, err = h.bidAt(3*time.Second, item, "alice", 1400)
	assert.NoError(t, err)

	h.clock.Set(t0.Add(time.Minute))
	view, err := h.engine.History(ctx, item)
	assert.NoError(t, err)
	check.Equal(t, "al***", view.WinnerName)
	check.Equal(t, int64(1400), view.FinalPrice)
	check.Equal(t, []BidderOutcome{
		{Name: "al***", HighestBid: 1400, IsWinner: true},
		{Name: "bo***", HighestBid: 1200},
	}, view.Bidders)

	_, err = h.engine.History(ctx, "missing")
	check.True(t, errors.Is(err, ErrItemNotFound))
}

func TestEngineJoinSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.schedule(t)

	got, err := h.engine.JoinSession(ctx, snap.ItemID, "alice")
	assert.NoError(t, err)
	check.Equal(t, snap.SessionKey, got.SessionKey)
	check.Equal(t, int64(1000), got.CurrentPrice)
	check.Equal(t, "", got.WinnerName)

	_, err = h.engine.JoinSession(ctx, snap.ItemID, "")
	var verr ValidationErrors
	check.True(t, errors.As(err, &verr))

	_, err = h.engine.JoinSession(ctx, "missing", "alice")
	check.True(t, errors.Is(err, ErrItemNotFound))
}

func TestEngineRunClosesQuietAuctions(t *testing.T) {
	h := newHarness(t)
	item := h.schedule(t).ItemID
	h.clock.Set(t0.Add(2 * time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.engine.Run(ctx, Intervals{
			SessionTick:   5 * time.Millisecond,
			PresenceSweep: 5 * time.Millisecond,
			DeliverySweep: 5 * time.Millisecond,
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := h.store.GetSessionByItem(context.Background(), item)
		assert.NoError(t, err)
		if sess.Status == SessionSettled {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	assert.NoError(t, <-done)

	sess, err := h.store.GetSessionByItem(context.Background(), item)
	assert.NoError(t, err)
	check.Equal(t, SessionSettled, sess.Status)
}
