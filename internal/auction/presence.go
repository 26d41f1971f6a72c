package auction

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Subscriber is one push connection. Send must not block.
type Subscriber interface {
	Send(msg []byte) error
	Close()
}

type UpdateType string

const (
	PriceUpdate    UpdateType = "PRICE_UPDATE"
	PresenceUpdate UpdateType = "PRESENCE_UPDATE"
)

// Update is the push message of a session. WinnerName is a display name,
// never the member id.
type Update struct {
	Type             UpdateType `json:"type"`
	Price            int64      `json:"price"`
	WinnerName       string     `json:"winnerName"`
	ParticipantCount int        `json:"participantCount"`
}

// closedRoomRetention is how long a closed room stays registered to refuse
// late joins before the reaper drops it.
const closedRoomRetention = 10 * time.Minute

// Presence tracks connected participants per session key and fans out updates.
type Presence struct {
	store    ParticipantStore
	sessions SessionStore
	timeout  time.Duration

	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	sessionID string
	itemID    string

	mu      sync.RWMutex
	members  map[string]*member // by connection id
	closed   bool
	closedAt time.Time

	// sendMu orders broadcasts; last is the newest price sent.
	sendMu sync.Mutex
	last   Update
}

type member struct {
	p   AuctionParticipant
	sub Subscriber
}

func NewPresence(store ParticipantStore, sessions SessionStore, timeout time.Duration) *Presence {
	return &Presence{
		store:    store,
		sessions: sessions,
		timeout:  timeout,
		rooms:    make(map[string]*room),
	}
}

func (p *Presence) room(key string) *room {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rooms[key]
}

func (p *Presence) roomFor(sess AuctionSession) *room {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rooms[sess.SessionKey]
	if !ok {
		r = &room{sessionID: sess.ID, itemID: sess.ItemID, members: make(map[string]*member)}
		p.rooms[sess.SessionKey] = r
	}
	return r
}

// Join creates or reactivates the participant of connID and returns the new
// participant count. Re-joining an active connection does not count twice.
func (p *Presence) Join(ctx context.Context, sess AuctionSession, memberID, connID string, sub Subscriber, now time.Time) (int, error) {
	if !sess.AcceptsJoins() {
		return 0, ErrSessionClosed
	}
	r := p.roomFor(sess)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrSessionClosed
	}
	m, ok := r.members[connID]
	if !ok {
		m = &member{p: AuctionParticipant{
			SessionID:    sess.ID,
			MemberID:     memberID,
			ConnectionID: connID,
			JoinedAt:     now,
		}}
		r.members[connID] = m
	}
	if !m.p.Active {
		m.p.JoinedAt = now
	}
	m.p.MemberID = memberID
	m.p.LastActivity = now
	m.p.Active = true
	m.sub = sub
	rec := m.p
	count := r.activeLocked()
	r.mu.Unlock()

	p.persist(ctx, rec)
	p.persistCount(ctx, r.itemID, count)
	return count, nil
}

// Heartbeat refreshes lastActivity of an active connection.
func (p *Presence) Heartbeat(sessionKey, connID string, now time.Time) error {
	r := p.room(sessionKey)
	if r == nil {
		return ErrSessionNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[connID]
	if !ok || !m.p.Active {
		return ErrParticipantNotFound
	}
	m.p.LastActivity = now
	return nil
}

// Touch refreshes lastActivity of every active connection memberID holds in
// the session. It returns how many were refreshed.
func (p *Presence) Touch(sessionKey, memberID string, now time.Time) int {
	r := p.room(sessionKey)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.members {
		if m.p.Active && m.p.MemberID == memberID {
			m.p.LastActivity = now
			n++
		}
	}
	return n
}

// Leave deactivates connID. changed is false when it was not active.
func (p *Presence) Leave(ctx context.Context, sessionKey, connID string, now time.Time) (count int, changed bool) {
	r := p.room(sessionKey)
	if r == nil {
		return 0, false
	}
	r.mu.Lock()
	m, ok := r.members[connID]
	if !ok || !m.p.Active {
		count = r.activeLocked()
		r.mu.Unlock()
		return count, false
	}
	m.p.Active = false
	m.p.LastActivity = now
	m.sub = nil
	count = r.activeLocked()
	r.mu.Unlock()

	p.deactivate(ctx, r.sessionID, []string{connID}, now)
	p.persistCount(ctx, r.itemID, count)
	return count, true
}

// ExpireIdle deactivates participants whose last activity is older than the
// heartbeat timeout and drops rooms closed longer than closedRoomRetention.
// It returns the new counts of the sessions that changed.
func (p *Presence) ExpireIdle(ctx context.Context, now time.Time) map[string]int {
	p.dropClosed(now)

	p.mu.RLock()
	rooms := make(map[string]*room, len(p.rooms))
	for k, r := range p.rooms {
		rooms[k] = r
	}
	p.mu.RUnlock()

	changed := make(map[string]int)
	for key, r := range rooms {
		var expired []string
		var subs []Subscriber
		r.mu.Lock()
		for id, m := range r.members {
			if m.p.Active && now.Sub(m.p.LastActivity) > p.timeout {
				m.p.Active = false
				expired = append(expired, id)
				if m.sub != nil {
					subs = append(subs, m.sub)
					m.sub = nil
				}
			}
		}
		count := r.activeLocked()
		r.mu.Unlock()

		if len(expired) == 0 {
			continue
		}
		for _, s := range subs {
			s.Close()
		}
		p.deactivate(ctx, r.sessionID, expired, now)
		p.persistCount(ctx, r.itemID, count)
		changed[key] = count
		log.Printf("presence session=%s expired=%d active=%d", r.sessionID, len(expired), count)
	}
	return changed
}

func (p *Presence) dropClosed(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, r := range p.rooms {
		r.mu.RLock()
		stale := r.closed && now.Sub(r.closedAt) > closedRoomRetention
		r.mu.RUnlock()
		if stale {
			delete(p.rooms, key)
		}
	}
}

// Count is the number of active participants of a session.
func (p *Presence) Count(sessionKey string) int {
	r := p.room(sessionKey)
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

// Broadcast sends u to every active participant of the session and returns
// how many sends succeeded. A failing subscriber does not affect the others.
// A price update older than one already sent is dropped, and a presence
// update carries the newest price, so subscribers never see the price go down.
func (p *Presence) Broadcast(sessionKey string, u Update) int {
	r := p.room(sessionKey)
	if r == nil {
		return 0
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if u.Price < r.last.Price {
		if u.Type == PriceUpdate {
			return 0
		}
		u.Price = r.last.Price
		u.WinnerName = r.last.WinnerName
	}
	r.last = u

	payload, err := json.Marshal(u)
	if err != nil {
		log.Printf("broadcast session=%s: marshal: %v", r.sessionID, err)
		return 0
	}

	r.mu.RLock()
	subs := make([]Subscriber, 0, len(r.members))
	for _, m := range r.members {
		if m.p.Active && m.sub != nil {
			subs = append(subs, m.sub)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, s := range subs {
		if err := s.Send(payload); err != nil {
			log.Printf("broadcast session=%s: %v", r.sessionID, err)
			continue
		}
		sent++
	}
	return sent
}

// CloseSession deactivates every participant and disconnects subscribers.
// The room stays registered as closed so late joins are refused.
func (p *Presence) CloseSession(ctx context.Context, sessionKey string, now time.Time) {
	p.mu.Lock()
	r, ok := p.rooms[sessionKey]
	if !ok {
		p.rooms[sessionKey] = &room{members: make(map[string]*member), closed: true, closedAt: now}
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	var ids []string
	var subs []Subscriber
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		r.closedAt = now
	}
	for id, m := range r.members {
		if m.p.Active {
			m.p.Active = false
			ids = append(ids, id)
		}
		if m.sub != nil {
			subs = append(subs, m.sub)
			m.sub = nil
		}
	}
	r.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	if len(ids) > 0 {
		p.deactivate(ctx, r.sessionID, ids, now)
	}
	p.persistCount(ctx, r.itemID, 0)
}

func (r *room) activeLocked() int {
	n := 0
	for _, m := range r.members {
		if m.p.Active {
			n++
		}
	}
	return n
}

func (p *Presence) persist(ctx context.Context, rec AuctionParticipant) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveParticipant(ctx, rec); err != nil {
		log.Printf("presence save participant conn=%s: %v", rec.ConnectionID, err)
	}
}

func (p *Presence) deactivate(ctx context.Context, sessionID string, ids []string, now time.Time) {
	if p.store == nil {
		return
	}
	if err := p.store.DeactivateParticipants(ctx, sessionID, ids, now); err != nil {
		log.Printf("presence deactivate session=%s: %v", sessionID, err)
	}
}

func (p *Presence) persistCount(ctx context.Context, itemID string, n int) {
	if p.sessions == nil {
		return
	}
	if err := p.sessions.SetParticipantCount(ctx, itemID, n); err != nil {
		log.Printf("presence count item=%s: %v", itemID, err)
	}
}

// Run expires idle participants until ctx is done. onExpire gets the
// sessions whose count changed.
func (p *Presence) Run(ctx context.Context, interval time.Duration, clock func() time.Time, onExpire func(map[string]int)) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if changed := p.ExpireIdle(ctx, clock()); len(changed) > 0 && onExpire != nil {
				onExpire(changed)
			}
		}
	}
}
