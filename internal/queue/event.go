// Package queue defines message payloads exchanged over the message broker.
package queue

// SeatBookedEvent is published when seats are permanently booked on a
// departure. It contains enough information for downstream consumers
// to log, notify, or trigger analytics without querying the primary
// database.
type SeatBookedEvent struct {
	BookingRef    string   `json:"booking_ref"`
	GroupRef      string   `json:"group_ref,omitempty"`
	UserID        uint64   `json:"user_id"`
	RouteID       uint64   `json:"route_id"`
	VehicleID     uint64   `json:"vehicle_id"`
	VehicleName   string   `json:"vehicle_name"`
	DepartureDate string   `json:"departure_date"`
	SeatLabels    []string `json:"seats"`
	TotalCents    uint32   `json:"total_cents"`
	ConfirmedAt   string   `json:"confirmed_at"`
}
