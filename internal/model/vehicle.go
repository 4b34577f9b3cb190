package model

import "time"

// Vehicle represents a bus assigned to a route.  Its seat layout is
// created once at provisioning time and never changes while the
// vehicle is in service; every departure date sells the same layout.
//
// Fields:
//  ID        – primary key identifier.
//  RouteID   – route this vehicle serves.
//  Name      – vehicle name or plate number.
//  SeatCount – number of seats in the layout (denormalized).
//  Active    – whether the vehicle is currently sold on its route.
//  CreatedAt – timestamp when the record was created.
type Vehicle struct {
	ID        uint64    // vehicles.id
	RouteID   uint64    // vehicles.route_id
	Name      string    // vehicles.name
	SeatCount uint32    // vehicles.seat_count
	Active    bool      // vehicles.is_active
	CreatedAt time.Time // vehicles.created_at
}
