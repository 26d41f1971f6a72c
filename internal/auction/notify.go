package auction

import (
	"context"
	"log"
)

// Notifier hands an event to the member notification pipeline. Delivery is
// fire-and-forget; an error only means the hand-off failed.
type Notifier interface {
	Notify(ctx context.Context, memberID string, n Notification) error
}

// Escalator reports expired delivery requests to order fulfillment.
type Escalator interface {
	DeliveryExpired(ctx context.Context, d AuctionDelivery) error
}

// MemberDirectory resolves the public display name of a member.
type MemberDirectory interface {
	DisplayName(ctx context.Context, memberID string) string
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, memberID string, n Notification) error {
	log.Printf("notify member=%s type=%s item=%s amount=%d", memberID, n.Type, n.ItemID, n.Amount)
	return nil
}

func (LogNotifier) DeliveryExpired(_ context.Context, d AuctionDelivery) error {
	log.Printf("delivery expired delivery=%s item=%s member=%s deadline=%s",
		d.ID, d.ItemID, d.MemberID, d.DeliveryDeadline.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

// MaskedDirectory shows the first two characters of the member id.
type MaskedDirectory struct{}

func (MaskedDirectory) DisplayName(_ context.Context, memberID string) string {
	return maskMember(memberID)
}

func maskMember(id string) string {
	if id == "" {
		return ""
	}
	r := []rune(id)
	if len(r) <= 2 {
		return string(r[:1]) + "***"
	}
	return string(r[:2]) + "***"
}
