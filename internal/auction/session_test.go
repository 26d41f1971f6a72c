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

func TestCanTransition(t *testing.T) {
	check.True(t, CanTransition(SessionScheduled, SessionActive))
	check.True(t, CanTransition(SessionActive, SessionClosed))
	check.True(t, CanTransition(SessionClosed, SessionSettled))
	check.False(t, CanTransition(SessionScheduled, SessionClosed))
	check.False(t, CanTransition(SessionSettled, SessionActive))
	check.False(t, CanTransition(SessionActive, SessionActive))
}

func TestSessionFollowsSchedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.schedule(t)
	check.Equal(t, SessionScheduled, snap.Status)
	check.Equal(t, int64(1100), snap.MinNextBid)

	h.clock.Set(t0)
	sess, err := h.engine.Sessions.Refresh(ctx, snap.ItemID, h.clock.Now())
	assert.NoError(t, err)
	check.Equal(t, SessionActive, sess.Status)

	it, err := h.store.GetItem(ctx, snap.ItemID)
	assert.NoError(t, err)
	check.True(t, it.Started)
	check.False(t, it.Ended)

	// no traffic until well after the end
	h.clock.Set(t0.Add(5 * time.Minute))
	check.Equal(t, 1, h.engine.Sessions.Tick(ctx, h.clock.Now()))
	check.Equal(t, 0, h.engine.Sessions.Tick(ctx, h.clock.Now()))

	sess, err = h.store.GetSessionByItem(ctx, snap.ItemID)
	assert.NoError(t, err)
	check.Equal(t, SessionSettled, sess.Status)
	it, err = h.store.GetItem(ctx, snap.ItemID)
	assert.NoError(t, err)
	check.True(t, it.Ended)
	check.False(t, it.HasWinner())
}

func TestSettleIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.schedule(t).ItemID
	_, err := h.bidAt(time.Second, item, "alice", 1100)
	assert.NoError(t, err)
	_, err = h.bidAt(2*time.Second, item, "bob", 1500)
	assert.NoError(t, err)

	// settle refuses an active session
	err = h.engine.Sessions.Settle(ctx, item, h.clock.Now())
	check.True(t, errors.Is(err, ErrAuctionNotActive))

	h.clock.Set(t0.Add(time.Minute))
	unlock := h.engine.Sessions.locks.lock(item)
	_, closed, err := h.engine.Sessions.advanceLocked(ctx, item, h.clock.Now())
	unlock()
	assert.NoError(t, err)
	check.True(t, closed)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			check.NoError(t, h.engine.Sessions.Settle(ctx, item, h.clock.Now()))
		}()
	}
	wg.Wait()
	assert.NoError(t, h.engine.Sessions.Settle(ctx, item, h.clock.Now()))

	hist, err := h.store.ListHistory(ctx, item)
	assert.NoError(t, err)
	check.Equal(t, 2, len(hist))
	check.Equal(t, 1, len(h.rec.ofType(EventAuctionWon)))
	check.Equal(t, 1, len(h.rec.ofType(EventAuctionLost)))
	check.Equal(t, 1, len(h.rec.ofType(EventDeliveryRequested)))
}

func TestScheduleValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Schedule(context.Background(), ScheduleRequest{
		CatalogItemID: " ",
		StartPrice:    -1,
		BidUnit:       0,
		StartTime:     t0,
		EndTime:       t0,
	})
	var verr ValidationErrors
	assert.True(t, errors.As(err, &verr))
	fields := map[string]bool{}
	for _, fe := range verr {
		fields[fe.Field] = true
	}
	check.True(t, fields["catalogItemId"])
	check.True(t, fields["startPrice"])
	check.True(t, fields["bidUnit"])
	check.True(t, fields["endTime"])

	_, err = h.engine.Schedule(context.Background(), ScheduleRequest{
		CatalogItemID: "pet-1", StartPrice: 0, BidUnit: 10,
		StartTime: t0.Add(-2 * time.Hour), EndTime: t0.Add(-time.Hour),
	})
	check.True(t, errors.As(err, &verr))
}
