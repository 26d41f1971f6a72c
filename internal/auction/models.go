package auction

import (
	"math"
	"time"
)

// Temporal holds the audit timestamps shared by every persisted record.
type Temporal struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (t *Temporal) touch(now time.Time) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

// AuctionItem is the scheduling and pricing state of one auctioned catalog item.
// CurrentWinner is empty until the first accepted bid.
type AuctionItem struct {
	ID            string    `json:"id"`
	CatalogItemID string    `json:"catalogItemId"`
	StartPrice    int64     `json:"startPrice"`
	BidUnit       int64     `json:"bidUnit"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
	CurrentPrice  int64     `json:"currentPrice"`
	CurrentWinner string    `json:"currentWinner,omitempty"`
	Started       bool      `json:"started"`
	Ended         bool      `json:"ended"`
	Temporal
}

// MinNextBid is the lowest amount the next bid has to reach. It saturates at
// math.MaxInt64 once the ceiling is reached.
func (it AuctionItem) MinNextBid() int64 {
	if it.AtCeiling() {
		return math.MaxInt64
	}
	return it.CurrentPrice + it.BidUnit
}

// AtCeiling reports whether no further bid can be represented.
func (it AuctionItem) AtCeiling() bool {
	return it.BidUnit > 0 && it.CurrentPrice > math.MaxInt64-it.BidUnit
}

// OpenAt reports whether now falls in [StartTime, EndTime) of a not yet ended item.
func (it AuctionItem) OpenAt(now time.Time) bool {
	return !it.Ended && !now.Before(it.StartTime) && now.Before(it.EndTime)
}

func (it AuctionItem) HasWinner() bool { return it.CurrentWinner != "" }

type BidStatus string

const (
	BidSuccess  BidStatus = "SUCCESS"
	BidRejected BidStatus = "REJECTED"
)

// Rejection reasons stored on REJECTED bids and returned to bidders.
const (
	ReasonNotActive     = "AUCTION_NOT_ACTIVE"
	ReasonInvalidAmount = "INVALID_BID_AMOUNT"
)

// AuctionBid is an append-only audit record of one bid submission.
type AuctionBid struct {
	ID       string    `json:"id"`
	ItemID   string    `json:"itemId"`
	MemberID string    `json:"memberId"`
	Amount   int64     `json:"amount"`
	BidTime  time.Time `json:"bidTime"`
	Status   BidStatus `json:"status"`
	Reason   string    `json:"reason,omitempty"`
}

// AuctionSession is the live session of an item; one per item.
type AuctionSession struct {
	ID               string        `json:"id"`
	ItemID           string        `json:"itemId"`
	SessionKey       string        `json:"sessionKey"`
	Status           SessionStatus `json:"status"`
	ParticipantCount int           `json:"participantCount"`
	StartTime        time.Time     `json:"startTime"`
	EndTime          time.Time     `json:"endTime"`
	Temporal
}

// AcceptsJoins reports whether new participants may connect.
func (s AuctionSession) AcceptsJoins() bool {
	return s.Status == SessionScheduled || s.Status == SessionActive
}

// dueStatus is the status the schedule calls for at now, ignoring settlement.
func (s AuctionSession) dueStatus(now time.Time) SessionStatus {
	switch {
	case !now.Before(s.EndTime):
		return SessionClosed
	case !now.Before(s.StartTime):
		return SessionActive
	default:
		return SessionScheduled
	}
}

// AuctionParticipant is the presence record of one connection to a session.
type AuctionParticipant struct {
	SessionID    string    `json:"sessionId"`
	MemberID     string    `json:"memberId"`
	ConnectionID string    `json:"connectionId"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastActivity time.Time `json:"lastActivity"`
	Active       bool      `json:"active"`
}

// AuctionHistory is the permanent per-bidder outcome written at settlement.
type AuctionHistory struct {
	ID           string `json:"id"`
	ItemID       string `json:"itemId"`
	MemberID     string `json:"memberId"`
	MyHighestBid int64  `json:"myHighestBid"`
	IsWinner     bool   `json:"isWinner"`
	Temporal
}

// AuctionDelivery collects the winner's shipping details until DeliveryDeadline.
type AuctionDelivery struct {
	ID               string     `json:"id"`
	HistoryID        string     `json:"historyId"`
	ItemID           string     `json:"itemId"`
	MemberID         string     `json:"memberId"`
	ReceiverName     string     `json:"receiverName"`
	ReceiverPhone    string     `json:"receiverPhone"`
	Address          string     `json:"address"`
	AddressDetail    string     `json:"addressDetail"`
	DeliveryInputAt  *time.Time `json:"deliveryInputAt"`
	DeliveryDeadline time.Time  `json:"deliveryDeadline"`
	ExpiredAt        *time.Time `json:"expiredAt,omitempty"`
	Temporal
}

func (d AuctionDelivery) Submitted() bool { return d.DeliveryInputAt != nil }

// DeliveryInput is what the winner submits for shipping.
type DeliveryInput struct {
	ReceiverName  string `json:"receiverName"`
	ReceiverPhone string `json:"receiverPhone"`
	Address       string `json:"address"`
	AddressDetail string `json:"addressDetail"`
}

// ScheduleRequest describes a new auction.
type ScheduleRequest struct {
	CatalogItemID string    `json:"catalogItemId"`
	StartPrice    int64     `json:"startPrice"`
	BidUnit       int64     `json:"bidUnit"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
}
