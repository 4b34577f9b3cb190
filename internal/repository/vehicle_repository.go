package repository

import (
	"context"
	"database/sql"
)

// VehicleRepo provides data access to the routes, vehicles and seats
// tables. Vehicles and their seat layouts are provisioning-time data:
// seats are inserted once when a vehicle is registered and are never
// deleted while the vehicle is in service, so this repository is
// read-mostly from the engine's point of view.
type VehicleRepo struct {
	db *sql.DB
}

// NewVehicleRepo returns a new VehicleRepo bound to the provided database.
func NewVehicleRepo(db *sql.DB) *VehicleRepo { return &VehicleRepo{db: db} }

// VehicleInfo carries the vehicle fields the engine needs to resolve
// a hold or confirmation request: identity, owning route and layout
// size for snapshot assembly.
type VehicleInfo struct {
	ID        uint64 // vehicles.id
	RouteID   uint64 // vehicles.route_id
	Name      string // vehicles.name
	SeatCount uint32 // vehicles.seat_count
}

// SeatInfo is the projection of a seats row used by the engine.
type SeatInfo struct {
	ID         uint64 // seats.id
	Label      string // seats.label
	SeatClass  string // seats.seat_class
	PriceCents uint32 // seats.price_cents
}

// GetByID loads a vehicle by primary key. Returns ErrNotFound when
// the vehicle does not exist or is not active.
func (r *VehicleRepo) GetByID(ctx context.Context, vehicleID uint64) (*VehicleInfo, error) {
	const q = `SELECT id, route_id, name, seat_count FROM vehicles WHERE id = ? AND is_active = 1`
	var v VehicleInfo
	err := r.db.QueryRowContext(ctx, q, vehicleID).Scan(&v.ID, &v.RouteID, &v.Name, &v.SeatCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetActiveByRoute loads the active vehicle serving a route. Each
// route sells exactly one active vehicle at a time; provisioning
// enforces this. Returns ErrNotFound when the route has no active
// vehicle.
func (r *VehicleRepo) GetActiveByRoute(ctx context.Context, routeID uint64) (*VehicleInfo, error) {
	const q = `SELECT id, route_id, name, seat_count FROM vehicles WHERE route_id = ? AND is_active = 1 LIMIT 1`
	var v VehicleInfo
	err := r.db.QueryRowContext(ctx, q, routeID).Scan(&v.ID, &v.RouteID, &v.Name, &v.SeatCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SeatByLabel resolves a seat by its printed label within a vehicle.
// Returns ErrNotFound for unknown labels.
func (r *VehicleRepo) SeatByLabel(ctx context.Context, vehicleID uint64, label string) (*SeatInfo, error) {
	const q = `SELECT id, label, seat_class, price_cents FROM seats WHERE vehicle_id = ? AND label = ?`
	var s SeatInfo
	err := r.db.QueryRowContext(ctx, q, vehicleID, label).Scan(&s.ID, &s.Label, &s.SeatClass, &s.PriceCents)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SeatsByVehicle lists the full seat layout of a vehicle ordered by
// row. The projector uses this to seed a snapshot with every seat
// before overlaying live records.
func (r *VehicleRepo) SeatsByVehicle(ctx context.Context, vehicleID uint64) ([]SeatInfo, error) {
	const q = `SELECT id, label, seat_class, price_cents FROM seats WHERE vehicle_id = ? ORDER BY row_index, label`
	rows, err := r.db.QueryContext(ctx, q, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seats []SeatInfo
	for rows.Next() {
		var s SeatInfo
		if err := rows.Scan(&s.ID, &s.Label, &s.SeatClass, &s.PriceCents); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seats, nil
}

// CreateVehicle inserts a vehicle row and returns its id. Used at
// provisioning time, not by the request path.
func (r *VehicleRepo) CreateVehicle(ctx context.Context, routeID uint64, name string, seatCount uint32) (uint64, error) {
	const q = `INSERT INTO vehicles (route_id, name, seat_count, is_active) VALUES (?, ?, ?, 1)`
	res, err := r.db.ExecContext(ctx, q, routeID, name, seatCount)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// CreateSeatsBulk inserts the seat layout for a vehicle in one
// statement. Each entry requires label, row index, class and price.
// Passing an empty slice has no effect and returns nil.
func (r *VehicleRepo) CreateSeatsBulk(ctx context.Context, vehicleID uint64, seats []SeatLayoutEntry) error {
	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO seats (vehicle_id, label, row_index, seat_class, price_cents) VALUES `
	args := make([]interface{}, 0, len(seats)*5)
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, vehicleID, s.Label, s.RowIndex, s.SeatClass, s.PriceCents)
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// SeatLayoutEntry describes one seat of a layout being provisioned.
type SeatLayoutEntry struct {
	Label      string
	RowIndex   uint32
	SeatClass  string
	PriceCents uint32
}
