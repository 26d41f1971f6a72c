package kafka

import (
	"context"
	"time"

	"github.com/ariefcatur/pet-auction/internal/auction"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// publisher is the part of Producer the notifier needs.
type publisher interface {
	Publish(key, value []byte, headers ...kafka.Header) bool
}

// Notifier publishes member notifications and delivery escalations as
// versioned envelopes. Publishing never blocks the auction path.
type Notifier struct {
	Notifications publisher
	Expired       publisher
	Service       string
}

var (
	_ auction.Notifier  = (*Notifier)(nil)
	_ auction.Escalator = (*Notifier)(nil)
)

func NewNotifier(notifications, expired *Producer, service string) *Notifier {
	return &Notifier{Notifications: notifications, Expired: expired, Service: service}
}

func (n *Notifier) Notify(_ context.Context, memberID string, note auction.Notification) error {
	ev := n.envelope(note.Type, note.ItemID, MustMarshal(note))
	if !n.Notifications.Publish(auction.PartitionKey(memberID), MustMarshal(ev), headers(note.Type)...) {
		return ErrNotQueued
	}
	return nil
}

func (n *Notifier) DeliveryExpired(_ context.Context, d auction.AuctionDelivery) error {
	p := auction.DeliveryExpiredPayload{
		DeliveryID: d.ID,
		ItemID:     d.ItemID,
		MemberID:   d.MemberID,
		Deadline:   d.DeliveryDeadline,
	}
	if d.ExpiredAt != nil {
		p.ExpiredAt = *d.ExpiredAt
	}
	ev := n.envelope(auction.EventDeliveryExpired, d.ItemID, MustMarshal(p))
	if !n.Expired.Publish(auction.PartitionKey(d.MemberID), MustMarshal(ev), headers(auction.EventDeliveryExpired)...) {
		return ErrNotQueued
	}
	return nil
}

func (n *Notifier) envelope(eventType, itemID string, payload []byte) auction.Envelope {
	return auction.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      n.Service,
		CorrelationID: itemID,
		Payload:       payload,
	}
}

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

func headers(eventType string) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderEventType, Value: []byte(eventType)},
		{Key: HeaderEventVersion, Value: []byte("1")},
	}
}
