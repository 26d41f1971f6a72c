package auction

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SnapshotCache is a read model of the live auction state. Put must never
// replace a snapshot with a lower price.
type SnapshotCache interface {
	Put(ctx context.Context, s Snapshot) error
	Get(ctx context.Context, itemID string) (Snapshot, bool, error)
}

type Options struct {
	GracePeriod      time.Duration
	HeartbeatTimeout time.Duration
	Notifier         Notifier
	Escalator        Escalator
	Directory        MemberDirectory
	Cache            SnapshotCache
	Clock            func() time.Time
	NewID            func() string
}

// Engine wires the components together and runs the post-commit effects
// (broadcast, notifications, cache) outside the item sections.
type Engine struct {
	store       Store
	Coordinator *Coordinator
	Sessions    *SessionManager
	Presence    *Presence
	Settlement  *Settlement
	Sweeper     *Sweeper

	notifier  Notifier
	directory MemberDirectory
	cache     SnapshotCache
	now       func() time.Time
}

func NewEngine(store Store, opts Options) *Engine {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 72 * time.Hour
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 30 * time.Second
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	if opts.Escalator == nil {
		opts.Escalator = LogNotifier{}
	}
	if opts.Directory == nil {
		opts.Directory = MaskedDirectory{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	locks := newItemLocks()
	presence := NewPresence(store, store, opts.HeartbeatTimeout)
	settlement := &Settlement{
		items:       store,
		bids:        store,
		store:       store,
		notifier:    opts.Notifier,
		gracePeriod: opts.GracePeriod,
		newID:       opts.NewID,
	}
	sessions := &SessionManager{
		items:    store,
		sessions: store,
		locks:    locks,
		settler:  settlement,
		presence: presence,
		newID:    opts.NewID,
	}
	return &Engine{
		store: store,
		Coordinator: &Coordinator{
			items:    store,
			bids:     store,
			sessions: sessions,
			locks:    locks,
			newID:    opts.NewID,
		},
		Sessions:   sessions,
		Presence:   presence,
		Settlement: settlement,
		Sweeper:    &Sweeper{store: store, notifier: opts.Notifier, escalator: opts.Escalator},
		notifier:   opts.Notifier,
		directory:  opts.Directory,
		cache:      opts.Cache,
		now:        opts.Clock,
	}
}

// Snapshot is the public view of a live auction.
type Snapshot struct {
	ItemID           string        `json:"itemId"`
	SessionKey       string        `json:"sessionKey"`
	Status           SessionStatus `json:"status"`
	StartPrice       int64         `json:"startPrice"`
	BidUnit          int64         `json:"bidUnit"`
	CurrentPrice     int64         `json:"currentPrice"`
	MinNextBid       int64         `json:"minNextBid"`
	WinnerName       string        `json:"winnerName"`
	ParticipantCount int           `json:"participantCount"`
	StartTime        time.Time     `json:"startTime"`
	EndTime          time.Time     `json:"endTime"`
}

// current reports whether a cached snapshot still shows the status the
// schedule calls for at now. Transitions do not rewrite the cache.
func (s Snapshot) current(now time.Time) bool {
	if s.Status == SessionSettled {
		return false
	}
	due := AuctionSession{StartTime: s.StartTime, EndTime: s.EndTime}.dueStatus(now)
	return due != SessionClosed && !s.Status.Before(due)
}

type BidderOutcome struct {
	Name       string `json:"name"`
	HighestBid int64  `json:"highestBid"`
	IsWinner   bool   `json:"isWinner"`
}

// HistoryView is the settled outcome of an item.
type HistoryView struct {
	ItemID     string          `json:"itemId"`
	WinnerName string          `json:"winnerName"`
	FinalPrice int64           `json:"finalPrice"`
	Bidders    []BidderOutcome `json:"bidders"`
}

func (e *Engine) Now() time.Time { return e.now() }

// Schedule creates an auction and returns its first snapshot.
func (e *Engine) Schedule(ctx context.Context, req ScheduleRequest) (Snapshot, error) {
	now := e.now()
	item, _, err := e.Sessions.Schedule(ctx, req, now)
	if err != nil {
		return Snapshot{}, err
	}
	return e.build(ctx, item.ID)
}

// SubmitBid runs one bid through the coordinator and, when it wins, pushes
// the new price to the session and tells the displaced winner.
func (e *Engine) SubmitBid(ctx context.Context, itemID, memberID string, amount int64) (BidResult, error) {
	if err := ValidateBidRequest(itemID, memberID); err != nil {
		return BidResult{}, err
	}
	now := e.now()
	res, err := e.Coordinator.SubmitBid(ctx, itemID, memberID, amount, now)
	if res.SessionClosed {
		if serr := e.Sessions.Settle(context.WithoutCancel(ctx), itemID, now); serr != nil {
			log.Printf("settle item=%s after late bid: %v", itemID, serr)
		}
	}
	if res.Bid.ID == "" {
		return res, err
	}

	sess, serr := e.store.GetSessionByItem(ctx, itemID)
	if serr != nil {
		log.Printf("bid item=%s: load session: %v", itemID, serr)
		return res, err
	}
	// any recorded bid counts as activity of the bidder's connections
	e.Presence.Touch(sess.SessionKey, memberID, now)
	if err != nil || !res.Accepted() {
		return res, err
	}
	e.publish(ctx, sess, PriceUpdate, res.Item)
	if res.PreviousWinner != "" && res.PreviousWinner != memberID {
		n := Notification{Type: EventOutbid, ItemID: itemID, MemberID: res.PreviousWinner, Amount: amount, OccurredAt: now}
		if nerr := e.notifier.Notify(ctx, res.PreviousWinner, n); nerr != nil {
			log.Printf("bid item=%s notify outbid member=%s: %v", itemID, res.PreviousWinner, nerr)
		}
	}
	return res, nil
}

// JoinSession returns the session key and the current snapshot while the
// session still accepts joins.
func (e *Engine) JoinSession(ctx context.Context, itemID, memberID string) (Snapshot, error) {
	if memberID == "" {
		return Snapshot{}, ValidationErrors{{Field: "memberId", Message: "required"}}
	}
	sess, err := e.refresh(ctx, itemID)
	if err != nil {
		return Snapshot{}, err
	}
	if !sess.AcceptsJoins() {
		return Snapshot{}, ErrSessionClosed
	}
	return e.build(ctx, itemID)
}

// Connect registers a push connection for sessionKey.
func (e *Engine) Connect(ctx context.Context, sessionKey, memberID, connID string, sub Subscriber) (Snapshot, error) {
	sess, err := e.store.GetSessionByKey(ctx, sessionKey)
	if err != nil {
		return Snapshot{}, err
	}
	if sess, err = e.refresh(ctx, sess.ItemID); err != nil {
		return Snapshot{}, err
	}
	if _, err := e.Presence.Join(ctx, sess, memberID, connID, sub, e.now()); err != nil {
		return Snapshot{}, err
	}
	item, err := e.store.GetItem(ctx, sess.ItemID)
	if err != nil {
		return Snapshot{}, err
	}
	e.publish(ctx, sess, PresenceUpdate, item)
	return e.build(ctx, sess.ItemID)
}

func (e *Engine) Heartbeat(sessionKey, connID string) error {
	return e.Presence.Heartbeat(sessionKey, connID, e.now())
}

// Disconnect deactivates connID and tells the remaining participants.
func (e *Engine) Disconnect(ctx context.Context, sessionKey, connID string) {
	if _, changed := e.Presence.Leave(ctx, sessionKey, connID, e.now()); !changed {
		return
	}
	e.publishPresence(ctx, sessionKey)
}

func (e *Engine) publishPresence(ctx context.Context, sessionKey string) {
	sess, err := e.store.GetSessionByKey(ctx, sessionKey)
	if err != nil {
		log.Printf("presence session=%s: %v", sessionKey, err)
		return
	}
	item, err := e.store.GetItem(ctx, sess.ItemID)
	if err != nil {
		log.Printf("presence item=%s: %v", sess.ItemID, err)
		return
	}
	e.publish(ctx, sess, PresenceUpdate, item)
}

// Snapshot returns the cached view while it is still current, else builds it
// from the stores.
func (e *Engine) Snapshot(ctx context.Context, itemID string) (Snapshot, error) {
	if e.cache != nil {
		s, ok, err := e.cache.Get(ctx, itemID)
		if err != nil {
			log.Printf("snapshot cache item=%s: %v", itemID, err)
		} else if ok && s.current(e.now()) {
			return s, nil
		}
	}
	if _, err := e.refresh(ctx, itemID); err != nil {
		return Snapshot{}, err
	}
	return e.build(ctx, itemID)
}

// History returns the settled outcome; ErrHistoryNotReady before settlement.
func (e *Engine) History(ctx context.Context, itemID string) (HistoryView, error) {
	sess, err := e.refresh(ctx, itemID)
	if err != nil {
		return HistoryView{}, err
	}
	if sess.Status != SessionSettled {
		return HistoryView{}, ErrHistoryNotReady
	}
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return HistoryView{}, err
	}
	rows, err := e.store.ListHistory(ctx, itemID)
	if err != nil {
		return HistoryView{}, err
	}
	view := HistoryView{
		ItemID:     itemID,
		WinnerName: e.displayName(ctx, item.CurrentWinner),
		FinalPrice: item.CurrentPrice,
		Bidders:    make([]BidderOutcome, 0, len(rows)),
	}
	for _, h := range rows {
		view.Bidders = append(view.Bidders, BidderOutcome{
			Name:       e.displayName(ctx, h.MemberID),
			HighestBid: h.MyHighestBid,
			IsWinner:   h.IsWinner,
		})
	}
	return view, nil
}

// Delivery returns the delivery request of its owner.
func (e *Engine) Delivery(ctx context.Context, deliveryID, memberID string) (AuctionDelivery, error) {
	d, err := e.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return AuctionDelivery{}, err
	}
	if d.MemberID != memberID {
		return AuctionDelivery{}, ErrNotDeliveryOwner
	}
	return d, nil
}

// SubmitDelivery stores the winner's shipping details once, before the deadline.
func (e *Engine) SubmitDelivery(ctx context.Context, deliveryID, memberID string, in DeliveryInput) (AuctionDelivery, error) {
	if err := ValidateDeliveryInput(in); err != nil {
		return AuctionDelivery{}, err
	}
	d, err := e.Delivery(ctx, deliveryID, memberID)
	if err != nil {
		return AuctionDelivery{}, err
	}
	now := e.now()
	if d.Submitted() {
		return d, ErrDeliveryAlreadySubmitted
	}
	if !now.Before(d.DeliveryDeadline) {
		return d, ErrDeliveryDeadlineExpired
	}
	if err := e.store.SubmitDelivery(ctx, deliveryID, in, now); err != nil {
		return d, err
	}
	log.Printf("delivery submitted delivery=%s item=%s member=%s", d.ID, d.ItemID, memberID)
	return e.store.GetDelivery(ctx, deliveryID)
}

type Intervals struct {
	SessionTick   time.Duration
	PresenceSweep time.Duration
	DeliverySweep time.Duration
}

// Run drives the periodic tasks until ctx is done.
func (e *Engine) Run(ctx context.Context, iv Intervals) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Sessions.Run(ctx, iv.SessionTick, e.now) })
	g.Go(func() error {
		return e.Presence.Run(ctx, iv.PresenceSweep, e.now, func(changed map[string]int) {
			for key := range changed {
				e.publishPresence(ctx, key)
			}
		})
	})
	g.Go(func() error { return e.Sweeper.Run(ctx, iv.DeliverySweep, e.now) })
	return g.Wait()
}

func (e *Engine) refresh(ctx context.Context, itemID string) (AuctionSession, error) {
	sess, err := e.Sessions.Refresh(ctx, itemID, e.now())
	if errors.Is(err, ErrSessionNotFound) {
		return sess, ErrItemNotFound
	}
	return sess, err
}

func (e *Engine) build(ctx context.Context, itemID string) (Snapshot, error) {
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return Snapshot{}, err
	}
	sess, err := e.store.GetSessionByItem(ctx, itemID)
	if err != nil {
		return Snapshot{}, err
	}
	s := e.snapshotOf(ctx, sess, item)
	e.putCache(ctx, s)
	return s, nil
}

func (e *Engine) snapshotOf(ctx context.Context, sess AuctionSession, item AuctionItem) Snapshot {
	return Snapshot{
		ItemID:           item.ID,
		SessionKey:       sess.SessionKey,
		Status:           sess.Status,
		StartPrice:       item.StartPrice,
		BidUnit:          item.BidUnit,
		CurrentPrice:     item.CurrentPrice,
		MinNextBid:       item.MinNextBid(),
		WinnerName:       e.displayName(ctx, item.CurrentWinner),
		ParticipantCount: e.Presence.Count(sess.SessionKey),
		StartTime:        item.StartTime,
		EndTime:          item.EndTime,
	}
}

func (e *Engine) publish(ctx context.Context, sess AuctionSession, typ UpdateType, item AuctionItem) {
	s := e.snapshotOf(ctx, sess, item)
	e.Presence.Broadcast(sess.SessionKey, Update{
		Type:             typ,
		Price:            s.CurrentPrice,
		WinnerName:       s.WinnerName,
		ParticipantCount: s.ParticipantCount,
	})
	e.putCache(ctx, s)
}

func (e *Engine) putCache(ctx context.Context, s Snapshot) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Put(ctx, s); err != nil {
		log.Printf("snapshot cache put item=%s: %v", s.ItemID, err)
	}
}

func (e *Engine) displayName(ctx context.Context, memberID string) string {
	if memberID == "" {
		return ""
	}
	return e.directory.DisplayName(ctx, memberID)
}
