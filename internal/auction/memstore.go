package auction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps every table in process memory. It backs tests and the
// STORE_DRIVER=memory mode of cmd/api.
type MemoryStore struct {
	*Registry

	mu           sync.RWMutex
	bids         map[string][]AuctionBid
	sessions     map[string]*AuctionSession // by item id
	sessionKeys  map[string]string          // session key -> item id
	participants map[string]map[string]*AuctionParticipant
	histories    map[string][]AuctionHistory
	deliveries   map[string]*AuctionDelivery
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Registry:     NewRegistry(),
		bids:         make(map[string][]AuctionBid),
		sessions:     make(map[string]*AuctionSession),
		sessionKeys:  make(map[string]string),
		participants: make(map[string]map[string]*AuctionParticipant),
		histories:    make(map[string][]AuctionHistory),
		deliveries:   make(map[string]*AuctionDelivery),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) AppendBid(_ context.Context, bid AuctionBid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bids[bid.ItemID] = append(m.bids[bid.ItemID], bid)
	return nil
}

func (m *MemoryStore) ListBids(_ context.Context, itemID string) ([]AuctionBid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AuctionBid, len(m.bids[itemID]))
	copy(out, m.bids[itemID])
	return out, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, s AuctionSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ItemID]; ok {
		return fmt.Errorf("session for item %s already exists", s.ItemID)
	}
	if _, ok := m.sessionKeys[s.SessionKey]; ok {
		return fmt.Errorf("session key %s already in use", s.SessionKey)
	}
	cp := s
	m.sessions[s.ItemID] = &cp
	m.sessionKeys[s.SessionKey] = s.ItemID
	return nil
}

func (m *MemoryStore) GetSessionByItem(_ context.Context, itemID string) (AuctionSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[itemID]
	if !ok {
		return AuctionSession{}, ErrSessionNotFound
	}
	return *s, nil
}

func (m *MemoryStore) GetSessionByKey(_ context.Context, key string) (AuctionSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	itemID, ok := m.sessionKeys[key]
	if !ok {
		return AuctionSession{}, ErrSessionNotFound
	}
	return *m.sessions[itemID], nil
}

func (m *MemoryStore) AdvanceStatus(_ context.Context, itemID string, from, to SessionStatus, at time.Time) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("invalid session transition %s -> %s", from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[itemID]
	if !ok {
		return false, ErrSessionNotFound
	}
	if s.Status != from {
		return false, nil
	}
	s.Status = to
	s.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) SetParticipantCount(_ context.Context, itemID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[itemID]
	if !ok {
		return ErrSessionNotFound
	}
	s.ParticipantCount = n
	return nil
}

func (m *MemoryStore) ListUnsettledSessions(_ context.Context) ([]AuctionSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AuctionSession
	for _, s := range m.sessions {
		if s.Status != SessionSettled {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

func (m *MemoryStore) SaveParticipant(_ context.Context, p AuctionParticipant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns, ok := m.participants[p.SessionID]
	if !ok {
		conns = make(map[string]*AuctionParticipant)
		m.participants[p.SessionID] = conns
	}
	cp := p
	conns[p.ConnectionID] = &cp
	return nil
}

func (m *MemoryStore) DeactivateParticipants(_ context.Context, sessionID string, connIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range connIDs {
		if p, ok := m.participants[sessionID][id]; ok {
			p.Active = false
			p.LastActivity = at
		}
	}
	return nil
}

// Participants returns the stored presence rows of a session.
func (m *MemoryStore) Participants(sessionID string) []AuctionParticipant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AuctionParticipant, 0, len(m.participants[sessionID]))
	for _, p := range m.participants[sessionID] {
		out = append(out, *p)
	}
	return out
}

func (m *MemoryStore) SaveSettlement(_ context.Context, histories []AuctionHistory, delivery *AuctionDelivery) error {
	if len(histories) == 0 {
		return nil
	}
	itemID := histories[0].ItemID
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.histories[itemID]) > 0 {
		return ErrAlreadySettled
	}
	m.histories[itemID] = append([]AuctionHistory(nil), histories...)
	if delivery != nil {
		d := *delivery
		m.deliveries[d.ID] = &d
	}
	return nil
}

func (m *MemoryStore) ListHistory(_ context.Context, itemID string) ([]AuctionHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuctionHistory(nil), m.histories[itemID]...), nil
}

func (m *MemoryStore) GetDelivery(_ context.Context, id string) (AuctionDelivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[id]
	if !ok {
		return AuctionDelivery{}, ErrDeliveryNotFound
	}
	return *d, nil
}

func (m *MemoryStore) SubmitDelivery(_ context.Context, id string, in DeliveryInput, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrDeliveryNotFound
	}
	if d.DeliveryInputAt != nil {
		return ErrDeliveryAlreadySubmitted
	}
	d.ReceiverName = in.ReceiverName
	d.ReceiverPhone = in.ReceiverPhone
	d.Address = in.Address
	d.AddressDetail = in.AddressDetail
	t := at
	d.DeliveryInputAt = &t
	d.UpdatedAt = at
	return nil
}

func (m *MemoryStore) ListExpiredDeliveries(_ context.Context, now time.Time) ([]AuctionDelivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AuctionDelivery
	for _, d := range m.deliveries {
		if d.DeliveryInputAt == nil && d.ExpiredAt == nil && d.DeliveryDeadline.Before(now) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeliveryDeadline.Before(out[j].DeliveryDeadline) })
	return out, nil
}

func (m *MemoryStore) MarkDeliveryExpired(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return false, ErrDeliveryNotFound
	}
	if d.ExpiredAt != nil || d.DeliveryInputAt != nil {
		return false, nil
	}
	t := at
	d.ExpiredAt = &t
	d.UpdatedAt = at
	return true, nil
}
