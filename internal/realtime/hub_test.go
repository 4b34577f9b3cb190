package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miravel/transit-seat-engine/internal/inventory"
)

func newBufferedSession(userID uint64) *Session {
	return &Session{userID: userID, send: make(chan []byte, sendBufferSize), done: make(chan struct{})}
}

func drain(s *Session) [][]byte {
	var frames [][]byte
	for {
		select {
		case f := <-s.send:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestHub_JoinCountsMembers(t *testing.T) {
	h := NewHub()
	a := newBufferedSession(1)
	b := newBufferedSession(2)

	assert.Equal(t, 1, h.Join(a, 3, "2026-09-01"))
	assert.Equal(t, 2, h.Join(b, 3, "2026-09-01"))
	assert.Equal(t, 2, h.MemberCount(3, "2026-09-01"))
	assert.Equal(t, 0, h.MemberCount(3, "2026-09-02"))
}

func TestHub_RejoinMovesSession(t *testing.T) {
	h := NewHub()
	s := newBufferedSession(1)

	h.Join(s, 3, "2026-09-01")
	h.Join(s, 3, "2026-09-02")

	assert.Equal(t, 0, h.MemberCount(3, "2026-09-01"))
	assert.Equal(t, 1, h.MemberCount(3, "2026-09-02"))
}

func TestHub_LeaveReportsScope(t *testing.T) {
	h := NewHub()
	s := newBufferedSession(1)

	h.Join(s, 3, "2026-09-01")
	routeID, date, ok := h.Leave(s)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), routeID)
	assert.Equal(t, "2026-09-01", date)
	assert.Equal(t, 0, h.MemberCount(3, "2026-09-01"))

	_, _, ok = h.Leave(s)
	assert.False(t, ok)
}

func TestHub_SeatStatusReachesScopeAndRouteWide(t *testing.T) {
	h := NewHub()
	dated := newBufferedSession(1)
	routeWide := newBufferedSession(2)
	otherDate := newBufferedSession(3)
	otherRoute := newBufferedSession(4)

	h.Join(dated, 3, "2026-09-01")
	h.Join(routeWide, 3, "")
	h.Join(otherDate, 3, "2026-09-02")
	h.Join(otherRoute, 9, "2026-09-01")

	h.SeatStatus(inventory.SeatEvent{
		RouteID:       3,
		VehicleID:     7,
		DepartureDate: "2026-09-01",
		SeatLabel:     "12A",
		Status:        "held",
	})

	require.Len(t, drain(dated), 1)
	require.Len(t, drain(routeWide), 1)
	assert.Empty(t, drain(otherDate))
	assert.Empty(t, drain(otherRoute))
}

func TestHub_SeatStatusFramePayload(t *testing.T) {
	h := NewHub()
	s := newBufferedSession(1)
	h.Join(s, 3, "2026-09-01")

	h.SeatStatus(inventory.SeatEvent{
		RouteID:       3,
		VehicleID:     7,
		DepartureDate: "2026-09-01",
		SeatLabel:     "12A",
		Status:        "booked",
	})

	frames := drain(s)
	require.Len(t, frames, 1)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(frames[0], &payload))
	assert.Equal(t, "seat_status", payload["event"])
	assert.Equal(t, "12A", payload["seat_label"])
	assert.Equal(t, "booked", payload["status"])
}

func TestHub_NotifyMemberCount(t *testing.T) {
	h := NewHub()
	dated := newBufferedSession(1)
	routeWide := newBufferedSession(2)
	h.Join(dated, 3, "2026-09-01")
	h.Join(routeWide, 3, "")

	h.NotifyMemberCount(3, "2026-09-01")

	for _, s := range []*Session{dated, routeWide} {
		frames := drain(s)
		require.Len(t, frames, 1)
		var ev MemberCountEvent
		require.NoError(t, json.Unmarshal(frames[0], &ev))
		assert.Equal(t, "member_count", ev.Event)
		assert.Equal(t, 1, ev.Count)
	}
}

func TestHub_ActiveScopes(t *testing.T) {
	h := NewHub()
	h.Join(newBufferedSession(1), 3, "2026-09-01")
	h.Join(newBufferedSession(2), 3, "")
	h.Join(newBufferedSession(3), 9, "2026-09-02")

	scopes := h.ActiveScopes()
	assert.ElementsMatch(t, []inventory.Scope{
		{RouteID: 3, Date: "2026-09-01"},
		{RouteID: 3},
		{RouteID: 9, Date: "2026-09-02"},
	}, scopes)
}

func TestSession_SlowConsumerClosed(t *testing.T) {
	h := NewHub()
	s := &Session{userID: 1, send: make(chan []byte, 1), done: make(chan struct{})}
	h.Join(s, 3, "2026-09-01")

	ev := inventory.SeatEvent{RouteID: 3, DepartureDate: "2026-09-01", SeatLabel: "12A", Status: "held"}
	h.SeatStatus(ev) // fills the buffer
	h.SeatStatus(ev) // overflows: the session is closed

	select {
	case <-s.done:
	default:
		t.Fatal("overflowing the buffer should close the session")
	}

	// the session is still registered until its connection tears down;
	// later fan-out must be dropped, not delivered or panicked on
	h.SeatStatus(ev)
	h.NotifyMemberCount(3, "2026-09-01")
	require.Len(t, drain(s), 1)
}
