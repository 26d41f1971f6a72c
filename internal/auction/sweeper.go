package auction

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Sweeper reports delivery requests whose deadline passed without input.
// Rows are marked, never deleted.
type Sweeper struct {
	store     SettlementStore
	notifier  Notifier
	escalator Escalator
}

// SweepOnce marks every newly expired delivery and returns how many it marked.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.ListExpiredDeliveries(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired deliveries: %w", err)
	}
	n := 0
	for _, d := range expired {
		ok, err := s.store.MarkDeliveryExpired(ctx, d.ID, now)
		if err != nil {
			log.Printf("sweep delivery=%s: %v", d.ID, err)
			continue
		}
		if !ok {
			continue
		}
		n++
		at := now
		d.ExpiredAt = &at
		s.report(ctx, d, now)
	}
	return n, nil
}

func (s *Sweeper) report(ctx context.Context, d AuctionDelivery, now time.Time) {
	if s.notifier != nil {
		deadline := d.DeliveryDeadline
		err := s.notifier.Notify(ctx, d.MemberID, Notification{
			Type:       EventDeliveryExpired,
			ItemID:     d.ItemID,
			MemberID:   d.MemberID,
			DeliveryID: d.ID,
			Deadline:   &deadline,
			OccurredAt: now,
		})
		if err != nil {
			log.Printf("sweep delivery=%s notify member: %v", d.ID, err)
		}
	}
	if s.escalator != nil {
		if err := s.escalator.DeliveryExpired(ctx, d); err != nil {
			log.Printf("sweep delivery=%s escalate: %v", d.ID, err)
		}
	}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration, clock func() time.Time) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n, err := s.SweepOnce(ctx, clock()); err != nil {
				log.Printf("delivery sweep: %v", err)
			} else if n > 0 {
				log.Printf("delivery sweep: %d expired", n)
			}
		}
	}
}
