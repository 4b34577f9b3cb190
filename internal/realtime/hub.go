package realtime

import (
	"sync"

	"github.com/miravel/transit-seat-engine/internal/inventory"
)

type scopeKey struct {
	routeID uint64
	date    string
}

// Hub tracks channel membership and fans seat events out to viewers.
// There is one canonical topic per (route, date); viewers who join
// without a date register route-wide and receive events for every
// date on that route. The hub implements inventory.Broadcaster for
// the engine and inventory.ScopeLister for the sweeper.
//
// Fan-out never blocks: each session has a bounded send buffer, and a
// session that cannot keep up is closed rather than stalling the hub.
type Hub struct {
	mu      sync.RWMutex
	byScope map[scopeKey]map[*Session]struct{}
	byRoute map[uint64]map[*Session]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		byScope: make(map[scopeKey]map[*Session]struct{}),
		byRoute: make(map[uint64]map[*Session]struct{}),
	}
}

// Join attaches a session to a channel, detaching it from any
// previous one first (a connection belongs to at most one scope).
// Returns the member count of the joined channel including the new
// member.
func (h *Hub) Join(s *Session, routeID uint64, date string) int {
	h.mu.Lock()
	h.detachLocked(s)
	s.routeID = routeID
	s.date = date
	s.joined = true
	if date == "" {
		set := h.byRoute[routeID]
		if set == nil {
			set = make(map[*Session]struct{})
			h.byRoute[routeID] = set
		}
		set[s] = struct{}{}
	} else {
		key := scopeKey{routeID: routeID, date: date}
		set := h.byScope[key]
		if set == nil {
			set = make(map[*Session]struct{})
			h.byScope[key] = set
		}
		set[s] = struct{}{}
	}
	count := h.memberCountLocked(routeID, date)
	h.mu.Unlock()
	return count
}

// Leave detaches the session from its channel. It returns the scope
// the session was in so the caller can release holds and notify the
// remaining members. ok is false when the session was not joined.
func (h *Hub) Leave(s *Session) (routeID uint64, date string, ok bool) {
	h.mu.Lock()
	routeID, date, ok = s.routeID, s.date, s.joined
	h.detachLocked(s)
	h.mu.Unlock()
	return routeID, date, ok
}

func (h *Hub) detachLocked(s *Session) {
	if !s.joined {
		return
	}
	if s.date == "" {
		if set := h.byRoute[s.routeID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(h.byRoute, s.routeID)
			}
		}
	} else {
		key := scopeKey{routeID: s.routeID, date: s.date}
		if set := h.byScope[key]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(h.byScope, key)
			}
		}
	}
	s.joined = false
	s.routeID = 0
	s.date = ""
}

// MemberCount reports how many sessions share the given channel.
func (h *Hub) MemberCount(routeID uint64, date string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.memberCountLocked(routeID, date)
}

func (h *Hub) memberCountLocked(routeID uint64, date string) int {
	if date == "" {
		return len(h.byRoute[routeID])
	}
	return len(h.byScope[scopeKey{routeID: routeID, date: date}])
}

// SeatStatus implements inventory.Broadcaster. The event is delivered
// to the (route, date) channel and to route-wide viewers of the same
// route; delivery is best-effort per session.
func (h *Hub) SeatStatus(ev inventory.SeatEvent) {
	frame := marshalFrame(struct {
		Event string `json:"event"`
		inventory.SeatEvent
	}{Event: "seat_status", SeatEvent: ev})
	if frame == nil {
		return
	}
	h.mu.RLock()
	targets := make([]*Session, 0, 8)
	for s := range h.byScope[scopeKey{routeID: ev.RouteID, date: ev.DepartureDate}] {
		targets = append(targets, s)
	}
	for s := range h.byRoute[ev.RouteID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	for _, s := range targets {
		s.enqueue(frame)
	}
}

// NotifyMemberCount broadcasts the channel's current size to its
// members, including route-wide viewers of the same route.
func (h *Hub) NotifyMemberCount(routeID uint64, date string) {
	count := h.MemberCount(routeID, date)
	frame := marshalFrame(MemberCountEvent{Event: "member_count", RouteID: routeID, Date: date, Count: count})
	if frame == nil {
		return
	}
	h.mu.RLock()
	targets := make([]*Session, 0, 8)
	if date != "" {
		for s := range h.byScope[scopeKey{routeID: routeID, date: date}] {
			targets = append(targets, s)
		}
	}
	for s := range h.byRoute[routeID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	for _, s := range targets {
		s.enqueue(frame)
	}
}

// ActiveScopes implements inventory.ScopeLister: every channel that
// currently has at least one viewer, route-wide channels included.
func (h *Hub) ActiveScopes() []inventory.Scope {
	h.mu.RLock()
	defer h.mu.RUnlock()
	scopes := make([]inventory.Scope, 0, len(h.byScope)+len(h.byRoute))
	for key := range h.byScope {
		scopes = append(scopes, inventory.Scope{RouteID: key.routeID, Date: key.date})
	}
	for routeID := range h.byRoute {
		scopes = append(scopes, inventory.Scope{RouteID: routeID})
	}
	return scopes
}
