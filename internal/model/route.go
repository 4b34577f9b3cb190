package model

import "time"

// Route represents a scheduled service between two destinations.  A
// route owns one active vehicle whose seat layout is sold per
// departure date.  Routes are administrative data and are rarely
// mutated while departures are on sale.
//
// Fields:
//  ID        – primary key identifier.
//  Name      – human readable route name (e.g. "Erbil – Duhok 08:00").
//  Origin    – departure destination name.
//  Dest      – arrival destination name.
//  CreatedAt – timestamp when the record was created.
type Route struct {
	ID        uint64    // routes.id
	Name      string    // routes.name
	Origin    string    // routes.origin
	Dest      string    // routes.dest
	CreatedAt time.Time // routes.created_at
}
