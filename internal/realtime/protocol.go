// Package realtime implements the synchronization layer: websocket
// sessions, (route, date) broadcast channels and the ack-based
// request/response protocol. Every client-initiated operation gets a
// direct acknowledgement; successful state changes additionally fan
// out to every channel member. Broadcasts are fire-and-forget.
package realtime

import "encoding/json"

// Request is a client frame. Op selects the operation; the remaining
// fields are read per-op and ignored otherwise. RequestID is echoed
// on the ack so clients can correlate concurrent requests.
type Request struct {
	Op        string `json:"op"`
	RequestID string `json:"request_id"`

	// join / leave
	RouteID uint64 `json:"route_id,omitempty"`
	Date    string `json:"date,omitempty"`

	// hold / release
	VehicleID    uint64 `json:"vehicle_id,omitempty"`
	SeatLabel    string `json:"seat_label,omitempty"`
	DurationSecs int    `json:"duration_secs,omitempty"`

	// confirm
	SeatLabels []string    `json:"seat_labels,omitempty"`
	Passengers []string    `json:"passengers,omitempty"`
	GroupRef   string      `json:"group_ref,omitempty"`
	Deferred   bool        `json:"deferred,omitempty"`
	Return     *ConfirmLeg `json:"return,omitempty"`
}

// ConfirmLeg is the return leg of a round-trip confirmation. The two
// legs run as independent bookings linked by a shared group
// reference.
type ConfirmLeg struct {
	VehicleID  uint64   `json:"vehicle_id"`
	Date       string   `json:"date"`
	SeatLabels []string `json:"seat_labels"`
	Passengers []string `json:"passengers,omitempty"`
}

// Ack is the direct reply to a request. Exactly one of Data or Error
// is set.
type Ack struct {
	RequestID string      `json:"request_id"`
	OK        bool        `json:"ok"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo carries a protocol reason code. PartiallyConfirmed is set
// when a round trip's first leg settled before the second failed.
type ErrorInfo struct {
	Code               string   `json:"code"`
	Message            string   `json:"message,omitempty"`
	PartiallyConfirmed []string `json:"partially_confirmed,omitempty"`
}

// JoinReply is the ack payload for a join: the full availability
// snapshot plus the current member count of the joined channel.
type JoinReply struct {
	Snapshot    map[string]string `json:"snapshot"`
	MemberCount int               `json:"member_count"`
}

// MemberCountEvent is broadcast to remaining members whenever channel
// membership changes.
type MemberCountEvent struct {
	Event   string `json:"event"`
	RouteID uint64 `json:"route_id"`
	Date    string `json:"date,omitempty"`
	Count   int    `json:"count"`
}

func marshalFrame(v interface{}) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return body
}
