package auction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"
)

// SessionManager drives SCHEDULED -> ACTIVE -> CLOSED -> SETTLED. The first two
// steps follow the item's schedule and are taken inside the item's section;
// settlement runs outside it, once per item.
type SessionManager struct {
	items    ItemStore
	sessions SessionStore
	locks    *itemLocks
	settler  *Settlement
	presence *Presence
	newID    func() string
	group    singleflight.Group
}

// Schedule registers a new item and its SCHEDULED session.
func (m *SessionManager) Schedule(ctx context.Context, req ScheduleRequest, now time.Time) (AuctionItem, AuctionSession, error) {
	if err := ValidateSchedule(req, now); err != nil {
		return AuctionItem{}, AuctionSession{}, err
	}
	item := AuctionItem{
		ID:            m.newID(),
		CatalogItemID: req.CatalogItemID,
		StartPrice:    req.StartPrice,
		BidUnit:       req.BidUnit,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		CurrentPrice:  req.StartPrice,
	}
	item.touch(now)
	sess := AuctionSession{
		ID:         m.newID(),
		ItemID:     item.ID,
		SessionKey: m.newID(),
		Status:     SessionScheduled,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
	}
	sess.touch(now)

	if err := m.items.CreateItem(ctx, item); err != nil {
		return AuctionItem{}, AuctionSession{}, fmt.Errorf("create item: %w", err)
	}
	if err := m.sessions.CreateSession(ctx, sess); err != nil {
		return AuctionItem{}, AuctionSession{}, fmt.Errorf("create session: %w", err)
	}
	log.Printf("auction scheduled item=%s session=%s start=%s end=%s",
		item.ID, sess.ID, item.StartTime.Format(time.RFC3339), item.EndTime.Format(time.RFC3339))
	return item, sess, nil
}

// Refresh applies any transition that is due at now and settles a closed session.
func (m *SessionManager) Refresh(ctx context.Context, itemID string, now time.Time) (AuctionSession, error) {
	unlock := m.locks.lock(itemID)
	sess, _, err := m.advanceLocked(ctx, itemID, now)
	unlock()
	if err != nil {
		return AuctionSession{}, err
	}
	if sess.Status != SessionClosed {
		return sess, nil
	}
	if err := m.Settle(ctx, itemID, now); err != nil {
		return sess, err
	}
	return m.sessions.GetSessionByItem(ctx, itemID)
}

// advanceLocked must be called inside the item's section. closed reports
// whether this call moved the session to CLOSED.
func (m *SessionManager) advanceLocked(ctx context.Context, itemID string, now time.Time) (sess AuctionSession, closed bool, err error) {
	sess, err = m.sessions.GetSessionByItem(ctx, itemID)
	if err != nil {
		return sess, false, err
	}
	for sess.Status.Before(sess.dueStatus(now)) {
		next := SessionActive
		if sess.Status == SessionActive {
			next = SessionClosed
		}
		ok, err := m.sessions.AdvanceStatus(ctx, itemID, sess.Status, next, now)
		if err != nil {
			return sess, closed, fmt.Errorf("advance session %s: %w", sess.ID, err)
		}
		if !ok {
			if sess, err = m.sessions.GetSessionByItem(ctx, itemID); err != nil {
				return sess, closed, err
			}
			continue
		}
		switch next {
		case SessionActive:
			err = m.items.MarkStarted(ctx, itemID, now)
		case SessionClosed:
			err = m.items.MarkEnded(ctx, itemID, now)
			closed = true
		}
		if err != nil {
			return sess, closed, fmt.Errorf("mark item %s: %w", itemID, err)
		}
		log.Printf("session item=%s %s -> %s", itemID, sess.Status, next)
		sess.Status = next
		sess.UpdatedAt = now
	}
	return sess, closed, nil
}

// Settle moves a CLOSED session to SETTLED. Concurrent and repeated calls
// are no-ops once the first one finished.
func (m *SessionManager) Settle(ctx context.Context, itemID string, now time.Time) error {
	_, err, _ := m.group.Do(itemID, func() (any, error) {
		return nil, m.settle(ctx, itemID, now)
	})
	return err
}

func (m *SessionManager) settle(ctx context.Context, itemID string, now time.Time) error {
	sess, err := m.sessions.GetSessionByItem(ctx, itemID)
	if err != nil {
		return err
	}
	switch sess.Status {
	case SessionSettled:
		return nil
	case SessionClosed:
	default:
		return fmt.Errorf("settle item %s: session is %s: %w", itemID, sess.Status, ErrAuctionNotActive)
	}

	if _, err := m.settler.Settle(ctx, itemID, now); err != nil && !errors.Is(err, ErrAlreadySettled) {
		return fmt.Errorf("settle item %s: %w", itemID, err)
	}
	ok, err := m.sessions.AdvanceStatus(ctx, itemID, SessionClosed, SessionSettled, now)
	if err != nil {
		return fmt.Errorf("advance session %s: %w", sess.ID, err)
	}
	if ok {
		log.Printf("session item=%s %s -> %s", itemID, SessionClosed, SessionSettled)
		m.presence.CloseSession(ctx, sess.SessionKey, now)
	}
	return nil
}

// Tick closes and settles every session whose schedule is due, so an auction
// without traffic still ends on time.
func (m *SessionManager) Tick(ctx context.Context, now time.Time) int {
	sessions, err := m.sessions.ListUnsettledSessions(ctx)
	if err != nil {
		log.Printf("session tick: list sessions: %v", err)
		return 0
	}
	n := 0
	for _, s := range sessions {
		if s.Status != SessionClosed && !s.Status.Before(s.dueStatus(now)) {
			continue
		}
		if _, err := m.Refresh(ctx, s.ItemID, now); err != nil {
			log.Printf("session tick item=%s: %v", s.ItemID, err)
			continue
		}
		n++
	}
	return n
}

// Run ticks until ctx is done.
func (m *SessionManager) Run(ctx context.Context, interval time.Duration, clock func() time.Time) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Tick(ctx, clock())
		}
	}
}
