package auction

import (
	"encoding/json"
	"time"
)

const (
	EventOutbid            = "Outbid"
	EventAuctionWon        = "AuctionWon"
	EventAuctionLost       = "AuctionLost"
	EventDeliveryRequested = "DeliveryRequested"
	EventDeliveryExpired   = "DeliveryExpired"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // item id
	Payload       json.RawMessage `json:"payload"`
}

// Notification is the payload of every member-facing event.
type Notification struct {
	Type       string     `json:"type"`
	ItemID     string     `json:"item_id"`
	MemberID   string     `json:"member_id"`
	Amount     int64      `json:"amount,omitempty"`
	DeliveryID string     `json:"delivery_id,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// DeliveryExpiredPayload goes to the fulfillment side when a winner missed the deadline.
type DeliveryExpiredPayload struct {
	DeliveryID string    `json:"delivery_id"`
	ItemID     string    `json:"item_id"`
	MemberID   string    `json:"member_id"`
	Deadline   time.Time `json:"deadline"`
	ExpiredAt  time.Time `json:"expired_at"`
}

const (
	TopicNotifications   = "auction.notifications"
	TopicDeliveryExpired = "auction.delivery.expired"
)

// PartitionKey keeps one member's notifications in order.
func PartitionKey(memberID string) []byte { return []byte(memberID) }
