package auction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

const maxPriceRetries = 3

// PriceCommitter is implemented by stores that can swap the price and append
// the winning bid in one transaction.
type PriceCommitter interface {
	CommitBid(ctx context.Context, bid AuctionBid, expectedPrice int64) (bool, error)
}

// Coordinator decides bids. Submissions for one item are evaluated one at a
// time inside the item's section; different items never contend.
type Coordinator struct {
	items    ItemStore
	bids     BidStore
	sessions *SessionManager
	locks    *itemLocks
	newID    func() string
}

type BidResult struct {
	Bid            AuctionBid
	Item           AuctionItem // state after the decision
	PreviousWinner string
	PreviousPrice  int64
	// SessionClosed is set when this submission observed the end time and
	// closed the session; the caller starts settlement.
	SessionClosed bool
}

func (r BidResult) Accepted() bool { return r.Bid.Status == BidSuccess }

// SubmitBid evaluates one bid at now. Rejections are recorded and returned as
// ErrAuctionNotActive or ErrInvalidBidAmount together with the recorded bid.
func (c *Coordinator) SubmitBid(ctx context.Context, itemID, memberID string, amount int64, now time.Time) (BidResult, error) {
	unlock := c.locks.lock(itemID)
	defer unlock()
	return c.decide(ctx, itemID, memberID, amount, now)
}

func (c *Coordinator) decide(ctx context.Context, itemID, memberID string, amount int64, now time.Time) (BidResult, error) {
	sess, closed, err := c.sessions.advanceLocked(ctx, itemID, now)
	if errors.Is(err, ErrSessionNotFound) {
		return BidResult{}, ErrItemNotFound
	}
	if err != nil {
		return BidResult{}, err
	}
	res := BidResult{SessionClosed: closed}

	item, err := c.items.GetItem(ctx, itemID)
	if err != nil {
		return res, err
	}
	res.Item = item

	if sess.Status != SessionActive || !item.OpenAt(now) {
		return c.reject(ctx, res, itemID, memberID, amount, now, ReasonNotActive, ErrAuctionNotActive)
	}

	bid := AuctionBid{
		ID:       c.newID(),
		ItemID:   itemID,
		MemberID: memberID,
		Amount:   amount,
		BidTime:  now,
		Status:   BidSuccess,
	}
	for attempt := 0; ; attempt++ {
		res.PreviousWinner = item.CurrentWinner
		res.PreviousPrice = item.CurrentPrice
		if err := checkAmount(item, amount); err != nil {
			return c.reject(ctx, res, itemID, memberID, amount, now, ReasonInvalidAmount, err)
		}

		ok, err := c.commit(ctx, bid, item.CurrentPrice)
		if errors.Is(err, ErrAuctionNotActive) {
			return c.reject(ctx, res, itemID, memberID, amount, now, ReasonNotActive, err)
		}
		if err != nil {
			return res, fmt.Errorf("commit bid on item %s: %w", itemID, err)
		}
		if ok {
			break
		}
		if attempt >= maxPriceRetries {
			return res, fmt.Errorf("item %s: %w", itemID, ErrPriceConflict)
		}
		if item, err = c.items.GetItem(ctx, itemID); err != nil {
			return res, err
		}
		res.Item = item
	}

	res.Bid = bid
	res.Item.CurrentPrice = amount
	res.Item.CurrentWinner = memberID
	return res, nil
}

func (c *Coordinator) commit(ctx context.Context, bid AuctionBid, expected int64) (bool, error) {
	if pc, ok := c.items.(PriceCommitter); ok {
		return pc.CommitBid(ctx, bid, expected)
	}
	ok, err := c.items.TryUpdatePrice(ctx, bid.ItemID, bid.Amount, bid.MemberID, expected)
	if err != nil || !ok {
		return ok, err
	}
	if err := c.bids.AppendBid(ctx, bid); err != nil {
		// the price is already committed; settlement falls back to the item state
		log.Printf("CRITICAL bid %s on item %s committed without audit row: %v", bid.ID, bid.ItemID, err)
	}
	return true, nil
}

func (c *Coordinator) reject(ctx context.Context, res BidResult, itemID, memberID string, amount int64, now time.Time, reason string, cause error) (BidResult, error) {
	res.Bid = AuctionBid{
		ID:       c.newID(),
		ItemID:   itemID,
		MemberID: memberID,
		Amount:   amount,
		BidTime:  now,
		Status:   BidRejected,
		Reason:   reason,
	}
	if err := c.bids.AppendBid(ctx, res.Bid); err != nil {
		log.Printf("record rejected bid item=%s member=%s: %v", itemID, memberID, err)
	}
	return res, cause
}
