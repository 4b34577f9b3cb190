package model

import "time"

// SeatStatus values reported by the availability projection and the
// realtime event stream.
const (
	StatusAvailable = "available" // no live record for the (seat, date)
	StatusHeld      = "held"      // live SELECTED record owned by someone else
	StatusSelected  = "selected"  // live SELECTED record owned by the viewer
	StatusBooked    = "booked"    // permanent BOOKED record
)

// Durable record states stored in seat_date_bookings.status.
const (
	RecordSelected = "SELECTED" // transient hold, expires at expires_at
	RecordBooked   = "BOOKED"   // permanent assignment tied to a booking
)

// SeatDateBooking is the per-(seat, departure date) sub-record.  At
// most one live record exists per (seat, date): a BOOKED row, or a
// SELECTED row whose expires_at lies in the future.  The absence of a
// live record means the seat is available on that date.  SELECTED
// rows are transient and are removed by release, expiry or promotion
// to BOOKED; BOOKED rows survive until cancellation.
//
// Fields:
//  ID            – primary key identifier.
//  VehicleID     – vehicle the seat belongs to (denormalized for sweeps).
//  SeatID        – seat being held or booked.
//  DepartureDate – calendar date of the departure, "2006-01-02".
//  UserID        – owner of the hold or booking.
//  BookingID     – booking row a BOOKED record belongs to (nil while SELECTED).
//  Status        – SELECTED or BOOKED.
//  HeldAt        – when the hold was first taken.
//  ExpiresAt     – hold expiry for SELECTED rows (nil once BOOKED).
type SeatDateBooking struct {
	ID            uint64     // seat_date_bookings.id
	VehicleID     uint64     // seat_date_bookings.vehicle_id
	SeatID        uint64     // seat_date_bookings.seat_id
	DepartureDate string     // seat_date_bookings.departure_date
	UserID        uint64     // seat_date_bookings.user_id
	BookingID     *uint64    // seat_date_bookings.booking_id (nullable)
	Status        string     // seat_date_bookings.status
	HeldAt        time.Time  // seat_date_bookings.held_at
	ExpiresAt     *time.Time // seat_date_bookings.expires_at (nullable)
}

// Live reports whether the record still controls its (seat, date) at
// the given instant.  BOOKED records are always live; SELECTED
// records are live until their expiry.
func (b *SeatDateBooking) Live(now time.Time) bool {
	if b.Status == RecordBooked {
		return true
	}
	return b.ExpiresAt != nil && b.ExpiresAt.After(now)
}

// ParseDepartureDate validates a departure date string and returns it
// in the canonical "2006-01-02" form.  All date comparisons in the
// engine operate on this canonical string.
func ParseDepartureDate(s string) (string, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02"), nil
}
