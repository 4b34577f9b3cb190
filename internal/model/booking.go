package model

import "time"

// Booking statuses stored in bookings.status.
const (
	BookingConfirmed      = "CONFIRMED"       // seats are promoted to BOOKED
	BookingPendingPayment = "PENDING_PAYMENT" // awaiting a gateway confirmation
	BookingFailed         = "FAILED"          // gateway reported a failed payment
)

// Booking represents a finalized (or finalizing) purchase of one or
// more seats on a single vehicle and departure date.  Round trips
// produce two bookings sharing a GroupRef, one per leg; the legs are
// independent records and are never wrapped in one transaction.
//
// Fields:
//  ID            – primary key identifier.
//  BookingRef    – public reference returned to the client.
//  GroupRef      – shared reference linking round-trip legs (nullable).
//  UserID        – purchasing user.
//  VehicleID     – vehicle whose seats were booked.
//  DepartureDate – departure date of this leg, "2006-01-02".
//  PaymentRef    – gateway reference; unique, drives webhook idempotency.
//  Status        – CONFIRMED, PENDING_PAYMENT or FAILED.
//  TotalCents    – sum of the booked seat prices.
//  CreatedAt     – creation timestamp.
type Booking struct {
	ID            uint64    // bookings.id
	BookingRef    string    // bookings.booking_ref
	GroupRef      *string   // bookings.group_ref (nullable)
	UserID        uint64    // bookings.user_id
	VehicleID     uint64    // bookings.vehicle_id
	DepartureDate string    // bookings.departure_date
	PaymentRef    *string   // bookings.payment_ref (nullable, unique)
	Status        string    // bookings.status
	TotalCents    uint32    // bookings.total_cents
	CreatedAt     time.Time // bookings.created_at
}
