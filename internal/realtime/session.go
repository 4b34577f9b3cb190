package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/miravel/transit-seat-engine/internal/inventory"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 32
	opTimeout      = 10 * time.Second
)

// Session is one authenticated websocket connection. It belongs to at
// most one channel at a time; membership fields are owned by the hub
// and guarded by its mutex. A dropped connection is treated as an
// implicit best-effort release of the connection's holds, never as a
// fatal condition.
type Session struct {
	hub    *Hub
	engine *inventory.Engine
	conn   *websocket.Conn
	userID uint64

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// channel membership, guarded by hub.mu
	routeID uint64
	date    string
	joined  bool
}

// NewSession wraps an upgraded connection for the given user.
func NewSession(hub *Hub, engine *inventory.Engine, conn *websocket.Conn, userID uint64) *Session {
	return &Session{
		hub:    hub,
		engine: engine,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Run services the connection until it closes, then tears down
// membership and releases the connection's holds. It blocks; callers
// run it on the connection's goroutine.
func (s *Session) Run() {
	go s.writePump()
	s.readPump()
	s.teardown()
}

// enqueue hands a frame to the write pump without blocking. A session
// whose buffer is full is falling behind a fire-and-forget stream; it
// is closed so it can reconnect and resync from a fresh snapshot.
// The send channel itself is never closed: the hub may still hold the
// session in a broadcast target list, so frames arriving after close
// are dropped here instead.
func (s *Session) enqueue(frame []byte) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- frame:
	default:
		s.close()
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Session) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("realtime: read from user %d: %v", s.userID, err)
			}
			return
		}
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			s.ack(Ack{OK: false, Error: &ErrorInfo{Code: inventory.CodeInvalidInput, Message: "malformed frame"}})
			continue
		}
		s.handle(&req)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown runs when the connection is gone for any reason: detach
// from the channel, release every hold this connection owned within
// it (each release broadcasts an availability-restored event), then
// tell the remaining members the new count.
func (s *Session) teardown() {
	routeID, date, wasJoined := s.hub.Leave(s)
	s.close()
	if !wasJoined {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	s.engine.ReleaseAllForUser(ctx, s.userID, routeID, date)
	s.hub.NotifyMemberCount(routeID, date)
}

func (s *Session) handle(req *Request) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch req.Op {
	case "join":
		s.handleJoin(ctx, req)
	case "leave":
		s.handleLeave(ctx, req)
	case "hold":
		s.handleHold(ctx, req)
	case "release":
		s.handleRelease(ctx, req)
	case "confirm":
		s.handleConfirm(ctx, req)
	default:
		s.ack(Ack{RequestID: req.RequestID, OK: false, Error: &ErrorInfo{Code: inventory.CodeInvalidInput, Message: "unknown op"}})
	}
}

// handleJoin attaches the session to (route, date). The scope is
// swept first so the snapshot never shows a lapsed hold, then the
// snapshot and member count are acknowledged directly to the joiner
// (join is not broadcast as a state change). Route-wide joins receive
// today's departure as their snapshot.
func (s *Session) handleJoin(ctx context.Context, req *Request) {
	if req.RouteID == 0 {
		s.ack(Ack{RequestID: req.RequestID, OK: false, Error: &ErrorInfo{Code: inventory.CodeInvalidInput, Message: "route_id is required"}})
		return
	}
	if err := s.engine.SweepScope(ctx, req.RouteID, req.Date); err != nil {
		// sweep failures are repaired next tick, never surfaced
		log.Printf("realtime: join sweep route=%d date=%q: %v", req.RouteID, req.Date, err)
	}
	snapshotDate := req.Date
	if snapshotDate == "" {
		snapshotDate = time.Now().UTC().Format("2006-01-02")
	}
	snapshot, err := s.engine.Availability(ctx, req.RouteID, snapshotDate, s.userID)
	if err != nil {
		s.ackErr(req.RequestID, err)
		return
	}
	count := s.hub.Join(s, req.RouteID, req.Date)
	s.ack(Ack{RequestID: req.RequestID, OK: true, Data: JoinReply{Snapshot: snapshot, MemberCount: count}})
	s.hub.NotifyMemberCount(req.RouteID, req.Date)
}

func (s *Session) handleLeave(ctx context.Context, req *Request) {
	routeID, date, wasJoined := s.hub.Leave(s)
	if !wasJoined {
		s.ack(Ack{RequestID: req.RequestID, OK: false, Error: &ErrorInfo{Code: inventory.CodeInvalidInput, Message: "not joined"}})
		return
	}
	released := s.engine.ReleaseAllForUser(ctx, s.userID, routeID, date)
	s.ack(Ack{RequestID: req.RequestID, OK: true, Data: map[string]interface{}{"released": len(released)}})
	s.hub.NotifyMemberCount(routeID, date)
}

func (s *Session) handleHold(ctx context.Context, req *Request) {
	if req.VehicleID == 0 || req.SeatLabel == "" || req.Date == "" {
		s.ack(Ack{RequestID: req.RequestID, OK: false, Error: &ErrorInfo{Code: inventory.CodeInvalidInput, Message: "vehicle_id, seat_label and date are required"}})
		return
	}
	override := time.Duration(req.DurationSecs) * time.Second
	res, err := s.engine.HoldSeat(ctx, s.userID, req.VehicleID, req.SeatLabel, req.Date, override)
	if err != nil {
		s.ackErr(req.RequestID, err)
		return
	}
	s.ack(Ack{RequestID: req.RequestID, OK: true, Data: map[string]interface{}{
		"status":     "selected",
		"expires_at": res.ExpiresAt.Format(time.RFC3339),
		"extended":   res.Extended,
	}})
}

func (s *Session) handleRelease(ctx context.Context, req *Request) {
	if req.VehicleID == 0 || req.SeatLabel == "" || req.Date == "" {
		s.ack(Ack{RequestID: req.RequestID, OK: false, Error: &ErrorInfo{Code: inventory.CodeInvalidInput, Message: "vehicle_id, seat_label and date are required"}})
		return
	}
	if err := s.engine.ReleaseSeat(ctx, s.userID, req.VehicleID, req.SeatLabel, req.Date); err != nil {
		s.ackErr(req.RequestID, err)
		return
	}
	s.ack(Ack{RequestID: req.RequestID, OK: true, Data: map[string]interface{}{"status": "available"}})
}

func (s *Session) handleConfirm(ctx context.Context, req *Request) {
	if req.VehicleID == 0 || req.Date == "" || len(req.SeatLabels) == 0 {
		s.ack(Ack{RequestID: req.RequestID, OK: false, Error: &ErrorInfo{Code: inventory.CodeInvalidInput, Message: "vehicle_id, date and seat_labels are required"}})
		return
	}
	outbound := inventory.ConfirmRequest{
		UserID:     s.userID,
		VehicleID:  req.VehicleID,
		Date:       req.Date,
		SeatLabels: req.SeatLabels,
		Passengers: req.Passengers,
		GroupRef:   req.GroupRef,
		Deferred:   req.Deferred,
	}

	if req.Return == nil {
		res, err := s.engine.ConfirmBooking(ctx, outbound)
		if err != nil {
			s.ackErr(req.RequestID, err)
			return
		}
		s.ack(Ack{RequestID: req.RequestID, OK: true, Data: res})
		return
	}

	returnLeg := inventory.ConfirmRequest{
		UserID:     s.userID,
		VehicleID:  req.Return.VehicleID,
		Date:       req.Return.Date,
		SeatLabels: req.Return.SeatLabels,
		Passengers: req.Return.Passengers,
		Deferred:   req.Deferred,
	}
	legs, err := s.engine.ConfirmRoundTrip(ctx, outbound, returnLeg)
	if err != nil {
		var partial *inventory.PartialConfirmError
		if errors.As(err, &partial) {
			s.ack(Ack{RequestID: req.RequestID, OK: false, Error: &ErrorInfo{
				Code:               inventory.ReasonCode(partial.Err),
				Message:            "return leg failed; outbound leg " + partial.Confirmed.BookingRef + " stands",
				PartiallyConfirmed: partial.Confirmed.ConfirmedSeats,
			}})
			return
		}
		s.ackErr(req.RequestID, err)
		return
	}
	s.ack(Ack{RequestID: req.RequestID, OK: true, Data: map[string]interface{}{"legs": legs}})
}

func (s *Session) ack(a Ack) {
	if frame := marshalFrame(a); frame != nil {
		s.enqueue(frame)
	}
}

func (s *Session) ackErr(requestID string, err error) {
	code := inventory.ReasonCode(err)
	msg := ""
	if code == inventory.CodeServerError {
		// log the real failure, hand the client an opaque code
		log.Printf("realtime: op failed for user %d: %v", s.userID, err)
	} else {
		msg = err.Error()
	}
	s.ack(Ack{RequestID: requestID, OK: false, Error: &ErrorInfo{Code: code, Message: msg}})
}
