package auction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestPresenceJoinLeaveCounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.schedule(t)

	a, b := &fakeSub{}, &fakeSub{}
	_, err := h.engine.Connect(ctx, snap.SessionKey, "alice", "c1", a)
	assert.NoError(t, err)
	got, err := h.engine.Connect(ctx, snap.SessionKey, "bob", "c2", b)
	assert.NoError(t, err)
	check.Equal(t, 2, got.ParticipantCount)

	// reconnecting the same connection does not count twice
	_, err = h.engine.Connect(ctx, snap.SessionKey, "bob", "c2", b)
	assert.NoError(t, err)
	check.Equal(t, 2, h.engine.Presence.Count(snap.SessionKey))

	sess, err := h.store.GetSessionByItem(ctx, snap.ItemID)
	assert.NoError(t, err)
	check.Equal(t, 2, sess.ParticipantCount)

	h.engine.Disconnect(ctx, snap.SessionKey, "c1")
	check.Equal(t, 1, h.engine.Presence.Count(snap.SessionKey))
	h.engine.Disconnect(ctx, snap.SessionKey, "c1")
	check.Equal(t, 1, h.engine.Presence.Count(snap.SessionKey))

	last := b.updates()[len(b.updates())-1]
	check.Equal(t, PresenceUpdate, last.Type)
	check.Equal(t, 1, last.ParticipantCount)

	rows := h.store.Participants(sess.ID)
	assert.Equal(t, 2, len(rows))
	for _, p := range rows {
		check.Equal(t, p.ConnectionID == "c2", p.Active)
	}

	check.True(t, errors.Is(h.engine.Heartbeat(snap.SessionKey, "c1"), ErrParticipantNotFound))
	check.NoError(t, h.engine.Heartbeat(snap.SessionKey, "c2"))
	check.True(t, errors.Is(h.engine.Heartbeat("nope", "c2"), ErrSessionNotFound))
}

func TestPresenceBroadcastsBids(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.schedule(t)

	good, broken := &fakeSub{}, &fakeSub{fail: true}
	_, err := h.engine.Connect(ctx, snap.SessionKey, "watcher", "c1", good)
	assert.NoError(t, err)
	_, err = h.engine.Connect(ctx, snap.SessionKey, "other", "c2", broken)
	assert.NoError(t, err)

	_, err = h.bidAt(time.Second, snap.ItemID, "alice", 1100)
	assert.NoError(t, err)
	_, err = h.bidAt(2*time.Second, snap.ItemID, "bob", 1250)
	assert.NoError(t, err)

	var prices []int64
	for _, u := range good.updates() {
		if u.Type == PriceUpdate {
			prices = append(prices, u.Price)
			check.NotEqual(t, "alice", u.WinnerName)
			check.NotEqual(t, "bob", u.WinnerName)
		}
	}
	check.Equal(t, []int64{1100, 1250}, prices)
	last := good.updates()[len(good.updates())-1]
	check.Equal(t, "bo***", last.WinnerName)
	check.Equal(t, 2, last.ParticipantCount)

	// a failing subscriber does not roll the bid back
	it, err := h.store.GetItem(ctx, snap.ItemID)
	assert.NoError(t, err)
	check.Equal(t, int64(1250), it.CurrentPrice)
}

func TestBroadcastNeverGoesBackwards(t *testing.T) {
	store := NewMemoryStore()
	p := NewPresence(store, store, time.Minute)
	sess := AuctionSession{ID: "s1", ItemID: "i1", SessionKey: "k1", Status: SessionActive}
	sub := &fakeSub{}
	_, err := p.Join(context.Background(), sess, "m1", "c1", sub, t0)
	assert.NoError(t, err)

	check.Equal(t, 1, p.Broadcast("k1", Update{Type: PriceUpdate, Price: 1300, WinnerName: "da***"}))
	check.Equal(t, 0, p.Broadcast("k1", Update{Type: PriceUpdate, Price: 1100, WinnerName: "bo***"}))
	check.Equal(t, 1, p.Broadcast("k1", Update{Type: PresenceUpdate, Price: 1100, WinnerName: "bo***", ParticipantCount: 1}))

	ups := sub.updates()
	assert.Equal(t, 2, len(ups))
	check.Equal(t, int64(1300), ups[1].Price)
	check.Equal(t, "da***", ups[1].WinnerName)
	check.Equal(t, 0, p.Broadcast("unknown", Update{Type: PriceUpdate, Price: 1}))
}

func TestPresenceExpiresIdleParticipants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.schedule(t)

	a, b := &fakeSub{}, &fakeSub{}
	h.clock.Set(t0)
	_, err := h.engine.Connect(ctx, snap.SessionKey, "alice", "c1", a)
	assert.NoError(t, err)
	_, err = h.engine.Connect(ctx, snap.SessionKey, "bob", "c2", b)
	assert.NoError(t, err)

	h.clock.Set(t0.Add(20 * time.Second))
	assert.NoError(t, h.engine.Heartbeat(snap.SessionKey, "c2"))

	changed := h.engine.Presence.ExpireIdle(ctx, t0.Add(31*time.Second))
	check.Equal(t, map[string]int{snap.SessionKey: 1}, changed)
	check.True(t, a.isClosed())
	check.False(t, b.isClosed())
	check.Equal(t, 0, len(h.engine.Presence.ExpireIdle(ctx, t0.Add(40*time.Second))))
}

func TestBidCountsAsActivity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.schedule(t)

	a, b := &fakeSub{}, &fakeSub{}
	h.clock.Set(t0)
	_, err := h.engine.Connect(ctx, snap.SessionKey, "alice", "c1", a)
	assert.NoError(t, err)
	_, err = h.engine.Connect(ctx, snap.SessionKey, "bob", "c2", b)
	assert.NoError(t, err)

	_, err = h.bidAt(20*time.Second, snap.ItemID, "alice", 1100)
	assert.NoError(t, err)
	// a rejected bid still counts
	_, err = h.bidAt(25*time.Second, snap.ItemID, "alice", 1100)
	check.True(t, errors.Is(err, ErrInvalidBidAmount))

	changed := h.engine.Presence.ExpireIdle(ctx, t0.Add(45*time.Second))
	check.Equal(t, map[string]int{snap.SessionKey: 1}, changed)
	check.False(t, a.isClosed())
	check.True(t, b.isClosed())
	check.Equal(t, 0, h.engine.Presence.Touch(snap.SessionKey, "bob", t0.Add(46*time.Second)))
	check.Equal(t, 0, h.engine.Presence.Touch("nope", "alice", t0))
}

func TestClosedSessionRefusesJoins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	snap := h.schedule(t)

	sub := &fakeSub{}
	h.clock.Set(t0)
	_, err := h.engine.Connect(ctx, snap.SessionKey, "alice", "c1", sub)
	assert.NoError(t, err)

	h.clock.Set(t0.Add(61 * time.Second))
	h.engine.Sessions.Tick(ctx, h.clock.Now())
	check.True(t, sub.isClosed())
	check.Equal(t, 0, h.engine.Presence.Count(snap.SessionKey))

	_, err = h.engine.Connect(ctx, snap.SessionKey, "bob", "c2", &fakeSub{})
	check.True(t, errors.Is(err, ErrSessionClosed))
	_, err = h.engine.JoinSession(ctx, snap.ItemID, "bob")
	check.True(t, errors.Is(err, ErrSessionClosed))

	// a stale session value cannot reopen the room
	stale := AuctionSession{ID: "x", ItemID: snap.ItemID, SessionKey: snap.SessionKey, Status: SessionActive}
	_, err = h.engine.Presence.Join(ctx, stale, "carol", "c3", &fakeSub{}, h.clock.Now())
	check.True(t, errors.Is(err, ErrSessionClosed))
}
