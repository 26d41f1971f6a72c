package notifier

import (
	"context"
	"fmt"
	"log"

	"github.com/ariefcatur/pet-auction/internal/auction"
	kafkax "github.com/ariefcatur/pet-auction/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
)

// Deduper claims an event id once; Release gives it back after a failure.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Sender delivers one message to a member over an outside channel.
type Sender interface {
	Send(ctx context.Context, memberID, title, body string) error
}

// Service consumes auction events and turns them into member messages.
type Service struct {
	Dedup  Deduper
	Sender Sender
}

// HandleNotification dipasang sebagai handler consumer auction.notifications.
func (s *Service) HandleNotification(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		log.Printf("notifier: drop malformed message: %v", err)
		return nil
	}
	n, err := kafkax.UnwrapPayload[auction.Notification](env.Payload)
	if err != nil {
		log.Printf("notifier: drop event=%s: %v", env.EventID, err)
		return nil
	}
	title, body, ok := render(n)
	if !ok {
		return nil // ignore
	}
	return s.deliver(ctx, env.EventID, n.MemberID, title, body)
}

// HandleDeliveryExpired dipasang sebagai handler consumer auction.delivery.expired.
func (s *Service) HandleDeliveryExpired(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		log.Printf("notifier: drop malformed message: %v", err)
		return nil
	}
	if env.EventType != auction.EventDeliveryExpired {
		return nil
	}
	p, err := kafkax.UnwrapPayload[auction.DeliveryExpiredPayload](env.Payload)
	if err != nil {
		log.Printf("notifier: drop event=%s: %v", env.EventID, err)
		return nil
	}
	log.Printf("ESCALATION delivery=%s item=%s member=%s deadline=%s: winner did not submit shipping details",
		p.DeliveryID, p.ItemID, p.MemberID, p.Deadline.Format("2006-01-02 15:04"))
	return nil
}

func (s *Service) deliver(ctx context.Context, eventID, memberID, title, body string) error {
	// dedup via Redis (pakai event_id)
	first, err := s.Dedup.Claim(ctx, eventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", eventID, err)
	}
	if !first {
		return nil
	}
	if err := s.Sender.Send(ctx, memberID, title, body); err != nil {
		if rerr := s.Dedup.Release(ctx, eventID); rerr != nil {
			log.Printf("notifier: release %s: %v", eventID, rerr)
		}
		return err
	}
	return nil
}

func render(n auction.Notification) (title, body string, ok bool) {
	switch n.Type {
	case auction.EventOutbid:
		return "You have been outbid", fmt.Sprintf("Someone bid %d on item %s.", n.Amount, n.ItemID), true
	case auction.EventAuctionWon:
		return "You won the auction", fmt.Sprintf("Your bid of %d won item %s.", n.Amount, n.ItemID), true
	case auction.EventAuctionLost:
		return "Auction ended", fmt.Sprintf("Item %s went to another bidder. Your highest bid was %d.", n.ItemID, n.Amount), true
	case auction.EventDeliveryRequested:
		deadline := ""
		if n.Deadline != nil {
			deadline = " before " + n.Deadline.Format("2006-01-02 15:04 MST")
		}
		return "Shipping details needed", fmt.Sprintf("Submit shipping details for delivery %s%s.", n.DeliveryID, deadline), true
	case auction.EventDeliveryExpired:
		return "Delivery request expired", fmt.Sprintf("The shipping deadline for delivery %s has passed.", n.DeliveryID), true
	}
	return "", "", false
}

// LogSender writes messages to the process log.
type LogSender struct{}

func (LogSender) Send(_ context.Context, memberID, title, body string) error {
	log.Printf("message member=%s title=%q body=%q", memberID, title, body)
	return nil
}
