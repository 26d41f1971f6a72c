package auction

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestBidScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.schedule(t).ItemID

	res, err := h.bidAt(time.Second, item, "alice", 1050)
	check.True(t, errors.Is(err, ErrInvalidBidAmount))
	check.Equal(t, BidRejected, res.Bid.Status)
	check.Equal(t, ReasonInvalidAmount, res.Bid.Reason)

	res, err = h.bidAt(2*time.Second, item, "bob", 1100)
	assert.NoError(t, err)
	check.True(t, res.Accepted())
	check.Equal(t, int64(1100), res.Item.CurrentPrice)

	res, err = h.bidAt(3*time.Second, item, "carol", 1100)
	check.True(t, errors.Is(err, ErrInvalidBidAmount))
	check.False(t, res.Accepted())

	res, err = h.bidAt(4*time.Second, item, "dave", 1300)
	assert.NoError(t, err)
	check.True(t, res.Accepted())
	check.Equal(t, "bob", res.PreviousWinner)
	check.Equal(t, int64(1100), res.PreviousPrice)

	it, err := h.store.GetItem(ctx, item)
	assert.NoError(t, err)
	check.Equal(t, int64(1300), it.CurrentPrice)
	check.Equal(t, "dave", it.CurrentWinner)

	bids, err := h.store.ListBids(ctx, item)
	assert.NoError(t, err)
	assert.Equal(t, 4, len(bids))
	var statuses []BidStatus
	for _, b := range bids {
		statuses = append(statuses, b.Status)
	}
	check.Equal(t, []BidStatus{BidRejected, BidSuccess, BidRejected, BidSuccess}, statuses)

	// bob was displaced once
	outbid := h.rec.ofType(EventOutbid)
	assert.Equal(t, 1, len(outbid))
	check.Equal(t, "bob", outbid[0].MemberID)
	check.Equal(t, int64(1300), outbid[0].Amount)

	// the session closes at end time with no traffic
	h.clock.Set(t0.Add(60 * time.Second))
	check.Equal(t, 1, h.engine.Sessions.Tick(ctx, h.clock.Now()))

	sess, err := h.store.GetSessionByItem(ctx, item)
	assert.NoError(t, err)
	check.Equal(t, SessionSettled, sess.Status)

	hist, err := h.store.ListHistory(ctx, item)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(hist))
	check.Equal(t, "dave", hist[0].MemberID)
	check.True(t, hist[0].IsWinner)
	check.Equal(t, int64(1300), hist[0].MyHighestBid)
	check.Equal(t, "bob", hist[1].MemberID)
	check.False(t, hist[1].IsWinner)

	requested := h.rec.ofType(EventDeliveryRequested)
	assert.Equal(t, 1, len(requested))
	d, err := h.store.GetDelivery(ctx, requested[0].DeliveryID)
	assert.NoError(t, err)
	check.Equal(t, "dave", d.MemberID)
	check.Equal(t, hist[0].ID, d.HistoryID)
	check.True(t, d.DeliveryDeadline.Equal(t0.Add(60*time.Second).Add(72*time.Hour)))
}

func TestBidOutsideWindowIsNotActive(t *testing.T) {
	h := newHarness(t)
	item := h.schedule(t).ItemID

	res, err := h.bidAt(-time.Second, item, "alice", 5000)
	check.True(t, errors.Is(err, ErrAuctionNotActive))
	check.Equal(t, ReasonNotActive, res.Bid.Reason)

	res, err = h.bidAt(60*time.Second, item, "alice", 5000)
	check.True(t, errors.Is(err, ErrAuctionNotActive))
	check.True(t, res.SessionClosed)

	// the late bid closed and settled the session with no winner
	sess, err := h.store.GetSessionByItem(context.Background(), item)
	assert.NoError(t, err)
	check.Equal(t, SessionSettled, sess.Status)
	hist, err := h.store.ListHistory(context.Background(), item)
	assert.NoError(t, err)
	check.Equal(t, 0, len(hist))
	check.Equal(t, 0, len(h.rec.ofType(EventDeliveryRequested)))

	_, err = h.bidAt(61*time.Second, item, "alice", 9000)
	check.True(t, errors.Is(err, ErrAuctionNotActive))
}

func TestBidAtPriceCeilingIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.schedule(t).ItemID

	res, err := h.bidAt(time.Second, item, "alice", math.MaxInt64)
	assert.NoError(t, err)
	check.True(t, res.Accepted())
	check.Equal(t, int64(math.MaxInt64), res.Item.MinNextBid())

	for _, amount := range []int64{1200, math.MaxInt64} {
		res, err = h.bidAt(2*time.Second, item, "bob", amount)
		check.True(t, errors.Is(err, ErrInvalidBidAmount))
		check.Equal(t, BidRejected, res.Bid.Status)
		check.Equal(t, ReasonInvalidAmount, res.Bid.Reason)
	}

	bids, err := h.store.ListBids(ctx, item)
	assert.NoError(t, err)
	check.Equal(t, 3, len(bids))
	it, err := h.store.GetItem(ctx, item)
	assert.NoError(t, err)
	check.Equal(t, "alice", it.CurrentWinner)
}

func TestBidUnknownItem(t *testing.T) {
	h := newHarness(t)
	_, err := h.bidAt(time.Second, "missing", "alice", 1100)
	check.True(t, errors.Is(err, ErrItemNotFound))

	_, err = h.bidAt(time.Second, "missing", "", 1100)
	var verr ValidationErrors
	check.True(t, errors.As(err, &verr))
}

func TestConcurrentBidsSerialize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.schedule(t).ItemID
	h.clock.Set(t0.Add(10 * time.Second))

	const bidders = 50
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every bidder races for the same two price levels
			amount := int64(1100 + 100*(i%2))
			_, _ = h.engine.SubmitBid(ctx, item, memberName(i), amount)
		}(i)
	}
	wg.Wait()

	bids, err := h.store.ListBids(ctx, item)
	assert.NoError(t, err)
	assert.Equal(t, bidders, len(bids))

	seen := map[int64]bool{}
	last := int64(1000)
	for _, b := range bids {
		if b.Status != BidSuccess {
			continue
		}
		check.False(t, seen[b.Amount])
		seen[b.Amount] = true
		check.True(t, b.Amount >= last+100)
		last = b.Amount
	}
	check.True(t, len(seen) >= 1 && len(seen) <= 2)

	it, err := h.store.GetItem(ctx, item)
	assert.NoError(t, err)
	check.Equal(t, last, it.CurrentPrice)
}

func memberName(i int) string { return string(rune('a'+i%26)) + "-member-" + string(rune('0'+i/26)) }

// racyItems loses the first compare-and-swap to simulate a concurrent writer.
type racyItems struct {
	*Registry
	lost int
}

func (r *racyItems) TryUpdatePrice(ctx context.Context, id string, newPrice int64, newWinner string, expected int64) (bool, error) {
	if r.lost > 0 {
		r.lost--
		return false, nil
	}
	return r.Registry.TryUpdatePrice(ctx, id, newPrice, newWinner, expected)
}

func TestCoordinatorRetriesPriceConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	items := &racyItems{Registry: store.Registry, lost: 2}
	locks := newItemLocks()
	sessions := &SessionManager{items: items, sessions: store, locks: locks, newID: seqIDs()}
	c := &Coordinator{items: items, bids: store, sessions: sessions, locks: locks, newID: seqIDs()}

	it, _, err := sessions.Schedule(ctx, ScheduleRequest{
		CatalogItemID: "pet-1", StartPrice: 1000, BidUnit: 100, StartTime: t0, EndTime: t0.Add(time.Minute),
	}, t0.Add(-time.Second))
	assert.NoError(t, err)

	res, err := c.SubmitBid(ctx, it.ID, "alice", 1100, t0.Add(time.Second))
	assert.NoError(t, err)
	check.True(t, res.Accepted())

	items.lost = maxPriceRetries + 1
	_, err = c.SubmitBid(ctx, it.ID, "bob", 1200, t0.Add(2*time.Second))
	check.True(t, errors.Is(err, ErrPriceConflict))

	got, err := store.GetItem(ctx, it.ID)
	assert.NoError(t, err)
	check.Equal(t, int64(1100), got.CurrentPrice)
}
