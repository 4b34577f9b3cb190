package repository

import (
	"context"
	"database/sql"

	"github.com/miravel/transit-seat-engine/internal/model"
)

// BookingRepo provides data access to the bookings and booking_seats
// tables. The payment_ref column carries a UNIQUE index, which is
// what makes webhook-driven finalization idempotent: a redelivered
// confirmation finds the existing row instead of creating a second
// booking.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the provided database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// BookingSeatRecord links a booking to one of its seats with the
// price charged at confirmation time.
type BookingSeatRecord struct {
	BookingID  uint64
	SeatID     uint64
	SeatLabel  string
	PriceCents uint32
	Passenger  string
}

// CreateTx inserts a booking row and populates its generated ID. The
// caller supplies BookingRef (and GroupRef/PaymentRef when present)
// and commits or rolls back the surrounding transaction.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings (booking_ref, group_ref, user_id, vehicle_id, departure_date, payment_ref, status, total_cents)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		b.BookingRef, b.GroupRef, b.UserID, b.VehicleID, b.DepartureDate, b.PaymentRef, b.Status, b.TotalCents,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// CreateSeatsBulkTx inserts booking_seats rows in one statement.
// Passing an empty slice has no effect and returns nil.
func (r *BookingRepo) CreateSeatsBulkTx(ctx context.Context, tx *sql.Tx, seats []BookingSeatRecord) error {
	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO booking_seats (booking_id, seat_id, seat_label, price_cents, passenger) VALUES `
	args := make([]interface{}, 0, len(seats)*5)
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, s.BookingID, s.SeatID, s.SeatLabel, s.PriceCents, s.Passenger)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// GetByPaymentRef loads the booking holding a gateway reference.
// Returns ErrNotFound when no booking carries the reference, which a
// webhook handler translates to not_found rather than server_error.
func (r *BookingRepo) GetByPaymentRef(ctx context.Context, paymentRef string) (*model.Booking, error) {
	const q = `SELECT id, booking_ref, group_ref, user_id, vehicle_id, departure_date, payment_ref, status, total_cents, created_at
	           FROM bookings WHERE payment_ref = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, q, paymentRef))
}

// GetByPaymentRefTx is GetByPaymentRef inside a transaction, locking
// the row FOR UPDATE so two concurrent webhook deliveries for the
// same reference serialize instead of both settling.
func (r *BookingRepo) GetByPaymentRefTx(ctx context.Context, tx *sql.Tx, paymentRef string) (*model.Booking, error) {
	const q = `SELECT id, booking_ref, group_ref, user_id, vehicle_id, departure_date, payment_ref, status, total_cents, created_at
	           FROM bookings WHERE payment_ref = ? FOR UPDATE`
	return r.scanOne(tx.QueryRowContext(ctx, q, paymentRef))
}

func (r *BookingRepo) scanOne(row *sql.Row) (*model.Booking, error) {
	var b model.Booking
	var groupRef, paymentRef sql.NullString
	err := row.Scan(&b.ID, &b.BookingRef, &groupRef, &b.UserID, &b.VehicleID, &b.DepartureDate, &paymentRef, &b.Status, &b.TotalCents, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if groupRef.Valid {
		s := groupRef.String
		b.GroupRef = &s
	}
	if paymentRef.Valid {
		s := paymentRef.String
		b.PaymentRef = &s
	}
	return &b, nil
}

// UpdateStatusTx transitions a booking to the given status within the
// transaction.
func (r *BookingRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, bookingID uint64, status string) error {
	const q = `UPDATE bookings SET status = ? WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, status, bookingID)
	return err
}

// SeatLabelsByBooking returns the seat labels attached to a booking,
// used to rebuild a previously produced confirmation result when a
// webhook is replayed.
func (r *BookingRepo) SeatLabelsByBooking(ctx context.Context, bookingID uint64) ([]string, error) {
	const q = `SELECT seat_label FROM booking_seats WHERE booking_id = ? ORDER BY seat_label`
	rows, err := r.db.QueryContext(ctx, q, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return labels, nil
}

// SeatsByBookingTx returns the full booking_seats rows for a booking
// inside a transaction; the webhook settle path uses it to know which
// durable sub-records to promote.
func (r *BookingRepo) SeatsByBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64) ([]BookingSeatRecord, error) {
	const q = `SELECT booking_id, seat_id, seat_label, price_cents, passenger FROM booking_seats WHERE booking_id = ?`
	rows, err := tx.QueryContext(ctx, q, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seats []BookingSeatRecord
	for rows.Next() {
		var s BookingSeatRecord
		if err := rows.Scan(&s.BookingID, &s.SeatID, &s.SeatLabel, &s.PriceCents, &s.Passenger); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seats, nil
}
