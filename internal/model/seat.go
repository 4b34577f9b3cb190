package model

import "time"

// Seat describes a physical seat on a vehicle.  Seats are uniquely
// identified by their vehicle and label (the number printed on the
// seat, e.g. "12" or "1A").  The seat_class indicates whether the
// seat is standard or premium and drives its price.
//
// Fields:
//  ID         – primary key identifier.
//  VehicleID  – vehicle to which this seat belongs.
//  Label      – printed seat label, unique within the vehicle.
//  RowIndex   – zero-based row position used for layout rendering.
//  SeatClass  – class of seat (STANDARD, PREMIUM).
//  PriceCents – fare for this seat in cents.
//  CreatedAt  – creation timestamp.
type Seat struct {
	ID         uint64    // seats.id
	VehicleID  uint64    // seats.vehicle_id
	Label      string    // seats.label
	RowIndex   uint32    // seats.row_index
	SeatClass  string    // seats.seat_class
	PriceCents uint32    // seats.price_cents
	CreatedAt  time.Time // seats.created_at
}
