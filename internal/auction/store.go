package auction

import (
	"context"
	"time"
)

// ItemStore owns AuctionItem rows. TryUpdatePrice is a compare-and-swap against
// the price the caller observed.
type ItemStore interface {
	CreateItem(ctx context.Context, item AuctionItem) error
	GetItem(ctx context.Context, id string) (AuctionItem, error)
	TryUpdatePrice(ctx context.Context, id string, newPrice int64, newWinner string, expectedPrice int64) (bool, error)
	MarkStarted(ctx context.Context, id string, at time.Time) error
	MarkEnded(ctx context.Context, id string, at time.Time) error
}

// BidStore is the append-only bid log. ListBids returns bids in acceptance order.
type BidStore interface {
	AppendBid(ctx context.Context, bid AuctionBid) error
	ListBids(ctx context.Context, itemID string) ([]AuctionBid, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, s AuctionSession) error
	GetSessionByItem(ctx context.Context, itemID string) (AuctionSession, error)
	GetSessionByKey(ctx context.Context, key string) (AuctionSession, error)
	// AdvanceStatus moves the session from -> to, returning false when the
	// session was not in from any more.
	AdvanceStatus(ctx context.Context, itemID string, from, to SessionStatus, at time.Time) (bool, error)
	SetParticipantCount(ctx context.Context, itemID string, n int) error
	ListUnsettledSessions(ctx context.Context) ([]AuctionSession, error)
}

type ParticipantStore interface {
	// SaveParticipant upserts by (session, connection).
	SaveParticipant(ctx context.Context, p AuctionParticipant) error
	DeactivateParticipants(ctx context.Context, sessionID string, connIDs []string, at time.Time) error
}

type SettlementStore interface {
	// SaveSettlement writes all histories and the optional delivery atomically.
	// It returns ErrAlreadySettled when histories for the item exist.
	SaveSettlement(ctx context.Context, histories []AuctionHistory, delivery *AuctionDelivery) error
	ListHistory(ctx context.Context, itemID string) ([]AuctionHistory, error)
	GetDelivery(ctx context.Context, id string) (AuctionDelivery, error)
	// SubmitDelivery sets the shipping fields once. It returns
	// ErrDeliveryAlreadySubmitted when DeliveryInputAt is already set.
	SubmitDelivery(ctx context.Context, id string, in DeliveryInput, at time.Time) error
	// ListExpiredDeliveries returns deliveries with no input, a deadline before
	// now and no expiry mark.
	ListExpiredDeliveries(ctx context.Context, now time.Time) ([]AuctionDelivery, error)
	MarkDeliveryExpired(ctx context.Context, id string, at time.Time) (bool, error)
}

type Store interface {
	ItemStore
	BidStore
	SessionStore
	ParticipantStore
	SettlementStore
}
