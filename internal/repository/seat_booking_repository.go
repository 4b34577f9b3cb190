package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/miravel/transit-seat-engine/internal/model"
)

// SeatBookingRepo provides data access to the seat_date_bookings
// table, the durable system of record for holds and bookings. The
// table carries a UNIQUE(seat_id, departure_date) index, so at most
// one row ever exists per (seat, date); a SELECTED row is either live
// (expires_at in the future) or garbage awaiting an expire pass, and
// promotion to BOOKED mutates the same row in place.
//
// All timestamp comparisons run against UTC_TIMESTAMP() in the
// database – callers must store UTC times.
type SeatBookingRepo struct {
	db *sql.DB
}

// NewSeatBookingRepo returns a new SeatBookingRepo bound to the provided database.
func NewSeatBookingRepo(db *sql.DB) *SeatBookingRepo { return &SeatBookingRepo{db: db} }

// GetForSeatTx loads the single sub-record for (seat, date) inside
// the given transaction, locking it with FOR UPDATE so concurrent
// transactions serialize on the row. Returns (nil, nil) when no row
// exists; callers decide liveness via model.SeatDateBooking.Live.
func (r *SeatBookingRepo) GetForSeatTx(ctx context.Context, tx *sql.Tx, seatID uint64, date string) (*model.SeatDateBooking, error) {
	const q = `SELECT id, vehicle_id, seat_id, departure_date, user_id, booking_id, status, held_at, expires_at
	           FROM seat_date_bookings
	           WHERE seat_id = ? AND departure_date = ?
	           FOR UPDATE`
	var b model.SeatDateBooking
	var bookingID sql.NullInt64
	var expiresAt sql.NullTime
	err := tx.QueryRowContext(ctx, q, seatID, date).Scan(
		&b.ID, &b.VehicleID, &b.SeatID, &b.DepartureDate, &b.UserID, &bookingID, &b.Status, &b.HeldAt, &expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if bookingID.Valid {
		id := uint64(bookingID.Int64)
		b.BookingID = &id
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		b.ExpiresAt = &t
	}
	return &b, nil
}

// DeleteExpiredForSeatTx removes an expired SELECTED row for (seat,
// date) so a fresh hold can be inserted under the unique index. A
// BOOKED row or a live hold is never touched.
func (r *SeatBookingRepo) DeleteExpiredForSeatTx(ctx context.Context, tx *sql.Tx, seatID uint64, date string) error {
	const q = `DELETE FROM seat_date_bookings
	           WHERE seat_id = ? AND departure_date = ? AND status = 'SELECTED' AND expires_at <= UTC_TIMESTAMP()`
	_, err := tx.ExecContext(ctx, q, seatID, date)
	return err
}

// InsertHoldTx writes a new SELECTED row. The caller must hold the
// per-seat lock and have verified no live record exists; the unique
// index is the last line of defense and surfaces a duplicate-key
// error if two writers race past the lock.
func (r *SeatBookingRepo) InsertHoldTx(ctx context.Context, tx *sql.Tx, rec *model.SeatDateBooking) error {
	const q = `INSERT INTO seat_date_bookings (vehicle_id, seat_id, departure_date, user_id, status, held_at, expires_at)
	           VALUES (?, ?, ?, ?, 'SELECTED', ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		rec.VehicleID, rec.SeatID, rec.DepartureDate, rec.UserID,
		rec.HeldAt.UTC().Format("2006-01-02 15:04:05"),
		rec.ExpiresAt.UTC().Format("2006-01-02 15:04:05"),
	)
	return err
}

// RefreshHoldTx extends a live hold owned by userID to the new
// expiry. Returns false when no live SELECTED row owned by that user
// exists (lapsed or stolen between check and write).
func (r *SeatBookingRepo) RefreshHoldTx(ctx context.Context, tx *sql.Tx, seatID uint64, date string, userID uint64, expiresAt time.Time) (bool, error) {
	const q = `UPDATE seat_date_bookings SET expires_at = ?
	           WHERE seat_id = ? AND departure_date = ? AND user_id = ? AND status = 'SELECTED' AND expires_at > UTC_TIMESTAMP()`
	res, err := tx.ExecContext(ctx, q, expiresAt.UTC().Format("2006-01-02 15:04:05"), seatID, date, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteHoldTx removes the SELECTED row for (seat, date) owned by
// userID regardless of expiry, returning whether a row was deleted.
// The user_id filter protects late callers – a failure webhook or a
// disconnect release arriving after the original hold lapsed and the
// seat was re-held – from deleting another user's live hold.
func (r *SeatBookingRepo) DeleteHoldTx(ctx context.Context, tx *sql.Tx, seatID uint64, date string, userID uint64) (bool, error) {
	const q = `DELETE FROM seat_date_bookings
	           WHERE seat_id = ? AND departure_date = ? AND user_id = ? AND status = 'SELECTED'`
	res, err := tx.ExecContext(ctx, q, seatID, date, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExpiredHold identifies a hold removed by an expire pass so the
// caller can clear its cache mirror and broadcast the freed seat.
type ExpiredHold struct {
	SeatID        uint64
	SeatLabel     string
	DepartureDate string
	UserID        uint64
}

// ExpireHoldsTx removes all SELECTED rows for a vehicle whose
// expires_at has passed and returns them. When date is non-empty the
// pass is scoped to that departure date; an empty date sweeps every
// date for the vehicle. The delete targets exactly the ids the select
// collected, so a hold lapsing between the two statements is left for
// the next pass instead of vanishing without an event. When there are
// no expired holds it returns an empty slice and nil error.
func (r *SeatBookingRepo) ExpireHoldsTx(ctx context.Context, tx *sql.Tx, vehicleID uint64, date string) ([]ExpiredHold, error) {
	q := `SELECT b.id, b.seat_id, s.label, b.departure_date, b.user_id
	      FROM seat_date_bookings b JOIN seats s ON s.id = b.seat_id
	      WHERE b.vehicle_id = ? AND b.status = 'SELECTED' AND b.expires_at <= UTC_TIMESTAMP()`
	args := []interface{}{vehicleID}
	if date != "" {
		q += ` AND b.departure_date = ?`
		args = append(args, date)
	}
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var expired []ExpiredHold
	var ids []interface{}
	for rows.Next() {
		var id uint64
		var e ExpiredHold
		if scanErr := rows.Scan(&id, &e.SeatID, &e.SeatLabel, &e.DepartureDate, &e.UserID); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		expired = append(expired, e)
		ids = append(ids, id)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return []ExpiredHold{}, nil
	}
	del := `DELETE FROM seat_date_bookings WHERE id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
	if _, err = tx.ExecContext(ctx, del, ids...); err != nil {
		return nil, err
	}
	return expired, nil
}

// RepairOrphanedTx deletes SELECTED rows that have no expiry at all.
// A NULL expires_at on a SELECTED row is a half-written state that
// the request path can never produce on its own; if one appears the
// sweeper repairs it to available rather than leaving the seat
// permanently blocked. Returns the repaired rows.
func (r *SeatBookingRepo) RepairOrphanedTx(ctx context.Context, tx *sql.Tx, vehicleID uint64) ([]ExpiredHold, error) {
	const q = `SELECT b.seat_id, s.label, b.departure_date, b.user_id
	           FROM seat_date_bookings b JOIN seats s ON s.id = b.seat_id
	           WHERE b.vehicle_id = ? AND b.status = 'SELECTED' AND b.expires_at IS NULL`
	rows, err := tx.QueryContext(ctx, q, vehicleID)
	if err != nil {
		return nil, err
	}
	var orphans []ExpiredHold
	for rows.Next() {
		var e ExpiredHold
		if scanErr := rows.Scan(&e.SeatID, &e.SeatLabel, &e.DepartureDate, &e.UserID); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		orphans = append(orphans, e)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}
	if len(orphans) == 0 {
		return []ExpiredHold{}, nil
	}
	const del = `DELETE FROM seat_date_bookings
	             WHERE vehicle_id = ? AND status = 'SELECTED' AND expires_at IS NULL`
	if _, err = tx.ExecContext(ctx, del, vehicleID); err != nil {
		return nil, err
	}
	return orphans, nil
}

// PromoteToBookedTx upgrades a live SELECTED row owned by userID to
// BOOKED, linking it to the booking and clearing the expiry clock.
// Returns false when the hold is gone or expired, which callers map
// to ErrExpired.
func (r *SeatBookingRepo) PromoteToBookedTx(ctx context.Context, tx *sql.Tx, seatID uint64, date string, userID, bookingID uint64) (bool, error) {
	const q = `UPDATE seat_date_bookings SET status = 'BOOKED', booking_id = ?, expires_at = NULL
	           WHERE seat_id = ? AND departure_date = ? AND user_id = ?
	             AND status = 'SELECTED' AND expires_at > UTC_TIMESTAMP()`
	res, err := tx.ExecContext(ctx, q, bookingID, seatID, date, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SeatStateRow is one live record returned by ListLiveForVehicleDate,
// the projector's durable input.
type SeatStateRow struct {
	SeatID    uint64
	SeatLabel string
	UserID    uint64
	Status    string
	ExpiresAt *time.Time
}

// ListLiveForVehicleDate returns every live record for (vehicle,
// date): BOOKED rows plus SELECTED rows whose expiry lies in the
// future. Expired rows are invisible here even before a sweep removes
// them, so the projection never reports a lapsed hold.
func (r *SeatBookingRepo) ListLiveForVehicleDate(ctx context.Context, vehicleID uint64, date string) ([]SeatStateRow, error) {
	const q = `SELECT b.seat_id, s.label, b.user_id, b.status, b.expires_at
	           FROM seat_date_bookings b JOIN seats s ON s.id = b.seat_id
	           WHERE b.vehicle_id = ? AND b.departure_date = ?
	             AND (b.status = 'BOOKED' OR b.expires_at > UTC_TIMESTAMP())`
	rows, err := r.db.QueryContext(ctx, q, vehicleID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SeatStateRow
	for rows.Next() {
		var row SeatStateRow
		var expiresAt sql.NullTime
		if err := rows.Scan(&row.SeatID, &row.SeatLabel, &row.UserID, &row.Status, &expiresAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			row.ExpiresAt = &t
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// HoldRef identifies a live hold for release fan-out.
type HoldRef struct {
	VehicleID     uint64
	SeatID        uint64
	SeatLabel     string
	DepartureDate string
}

// ListSelectedByUserRoute returns the live holds a user owns on a
// route, optionally narrowed to one departure date. A disconnecting
// session releases exactly this set.
func (r *SeatBookingRepo) ListSelectedByUserRoute(ctx context.Context, userID, routeID uint64, date string) ([]HoldRef, error) {
	q := `SELECT b.vehicle_id, b.seat_id, s.label, b.departure_date
	      FROM seat_date_bookings b
	      JOIN seats s ON s.id = b.seat_id
	      JOIN vehicles v ON v.id = b.vehicle_id
	      WHERE b.user_id = ? AND v.route_id = ? AND b.status = 'SELECTED' AND b.expires_at > UTC_TIMESTAMP()`
	args := []interface{}{userID, routeID}
	if date != "" {
		q += ` AND b.departure_date = ?`
		args = append(args, date)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []HoldRef
	for rows.Next() {
		var h HoldRef
		if err := rows.Scan(&h.VehicleID, &h.SeatID, &h.SeatLabel, &h.DepartureDate); err != nil {
			return nil, err
		}
		refs = append(refs, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}
