package auction

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"
)

// Settlement turns a closed item's bid log into history rows and, when there
// is a winner, a delivery request.
type Settlement struct {
	items       ItemStore
	bids        BidStore
	store       SettlementStore
	notifier    Notifier
	gracePeriod time.Duration
	newID       func() string
}

type SettlementResult struct {
	ItemID     string
	Winner     string
	FinalPrice int64
	Histories  []AuctionHistory
	Delivery   *AuctionDelivery
}

// Settle writes the outcome of itemID at now. It returns ErrAlreadySettled
// when an earlier run already wrote it; notifications are sent only by the
// run that wrote the rows.
func (s *Settlement) Settle(ctx context.Context, itemID string, now time.Time) (SettlementResult, error) {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return SettlementResult{}, err
	}
	bids, err := s.bids.ListBids(ctx, itemID)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("list bids: %w", err)
	}

	res := SettlementResult{ItemID: itemID, Winner: item.CurrentWinner, FinalPrice: item.CurrentPrice}
	highest := highestBids(bids)
	if item.HasWinner() && highest[item.CurrentWinner] < item.CurrentPrice {
		log.Printf("settle item=%s: winner %s has no audit row for %d, using item price",
			itemID, item.CurrentWinner, item.CurrentPrice)
		highest[item.CurrentWinner] = item.CurrentPrice
	}
	if len(highest) == 0 {
		log.Printf("settle item=%s: no successful bids, ended without winner", itemID)
		return res, nil
	}

	res.Histories = buildHistories(itemID, item.CurrentWinner, highest, now, s.newID)
	for _, h := range res.Histories {
		if !h.IsWinner {
			continue
		}
		d := &AuctionDelivery{
			ID:               s.newID(),
			HistoryID:        h.ID,
			ItemID:           itemID,
			MemberID:         h.MemberID,
			DeliveryDeadline: now.Add(s.gracePeriod),
		}
		d.touch(now)
		res.Delivery = d
	}

	if err := s.store.SaveSettlement(ctx, res.Histories, res.Delivery); err != nil {
		return res, err
	}
	log.Printf("settled item=%s winner=%s price=%d bidders=%d", itemID, res.Winner, res.FinalPrice, len(res.Histories))
	s.notify(ctx, res, now)
	return res, nil
}

// highestBids maps each bidder to their highest successful amount.
func highestBids(bids []AuctionBid) map[string]int64 {
	out := make(map[string]int64)
	for _, b := range bids {
		if b.Status != BidSuccess {
			continue
		}
		if b.Amount > out[b.MemberID] {
			out[b.MemberID] = b.Amount
		}
	}
	return out
}

func buildHistories(itemID, winner string, highest map[string]int64, now time.Time, newID func() string) []AuctionHistory {
	out := make([]AuctionHistory, 0, len(highest))
	for member, amount := range highest {
		h := AuctionHistory{
			ID:           newID(),
			ItemID:       itemID,
			MemberID:     member,
			MyHighestBid: amount,
			IsWinner:     member == winner,
		}
		h.touch(now)
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MyHighestBid != out[j].MyHighestBid {
			return out[i].MyHighestBid > out[j].MyHighestBid
		}
		return out[i].MemberID < out[j].MemberID
	})
	return out
}

func (s *Settlement) notify(ctx context.Context, res SettlementResult, now time.Time) {
	if s.notifier == nil {
		return
	}
	send := func(memberID string, n Notification) {
		if err := s.notifier.Notify(ctx, memberID, n); err != nil {
			log.Printf("settle item=%s notify member=%s type=%s: %v", res.ItemID, memberID, n.Type, err)
		}
	}
	for _, h := range res.Histories {
		n := Notification{ItemID: res.ItemID, MemberID: h.MemberID, Amount: h.MyHighestBid, OccurredAt: now}
		if !h.IsWinner {
			n.Type = EventAuctionLost
			send(h.MemberID, n)
			continue
		}
		n.Type = EventAuctionWon
		send(h.MemberID, n)
		if res.Delivery != nil {
			deadline := res.Delivery.DeliveryDeadline
			send(h.MemberID, Notification{
				Type:       EventDeliveryRequested,
				ItemID:     res.ItemID,
				MemberID:   h.MemberID,
				Amount:     h.MyHighestBid,
				DeliveryID: res.Delivery.ID,
				Deadline:   &deadline,
				OccurredAt: now,
			})
		}
	}
}
