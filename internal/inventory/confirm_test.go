package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miravel/transit-seat-engine/internal/model"
	"github.com/miravel/transit-seat-engine/internal/payment"
	"github.com/miravel/transit-seat-engine/internal/repository"
)

func liveHoldRow(seatID, userID uint64) *sqlmock.Rows {
	return sqlmock.NewRows(seatRecordColumns()).
		AddRow(1, 7, seatID, "2026-09-01", userID, nil, model.RecordSelected,
			testNow.Add(-5*time.Minute), testNow.Add(10*time.Minute))
}

func TestConfirmBooking_ImmediateTwoSeats(t *testing.T) {
	e, mock, rec, pub := newTestEngine(t)

	expectVehicle(mock, 7, 3)
	expectSeat(mock, 7, "12A", 5, 2500)
	expectSeat(mock, 7, "12B", 6, 2500)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, vehicle_id, seat_id`).WillReturnRows(liveHoldRow(5, 42))
	mock.ExpectQuery(`SELECT id, vehicle_id, seat_id`).WillReturnRows(liveHoldRow(6, 42))
	mock.ExpectExec(`INSERT INTO bookings`).
		WillReturnResult(sqlmock.NewResult(99, 1))
	mock.ExpectExec(`INSERT INTO booking_seats`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE seat_date_bookings SET status = 'BOOKED'`).
		WithArgs(uint64(99), uint64(5), "2026-09-01", uint64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE seat_date_bookings SET status = 'BOOKED'`).
		WithArgs(uint64(99), uint64(6), "2026-09-01", uint64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := e.ConfirmBooking(context.Background(), ConfirmRequest{
		UserID:     42,
		VehicleID:  7,
		Date:       "2026-09-01",
		SeatLabels: []string{"12A", "12B"},
		Passengers: []string{"A. Rider", "B. Rider"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, res.Status)
	assert.Equal(t, []string{"12A", "12B"}, res.ConfirmedSeats)
	assert.Equal(t, uint32(5000), res.TotalCents)
	assert.NotEmpty(t, res.BookingRef)

	require.Len(t, rec.events, 2)
	for _, ev := range rec.events {
		assert.Equal(t, model.StatusBooked, ev.Status)
	}
	require.Len(t, pub.events, 1)
	assert.Equal(t, res.BookingRef, pub.events[0].BookingRef)
	assert.Equal(t, []string{"12A", "12B"}, pub.events[0].SeatLabels)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmBooking_DuplicateLabelsCollapse(t *testing.T) {
	e, mock, _, _ := newTestEngine(t)

	expectVehicle(mock, 7, 3)
	expectSeat(mock, 7, "12A", 5, 2500)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, vehicle_id, seat_id`).WillReturnRows(liveHoldRow(5, 42))
	mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(99, 1))
	mock.ExpectExec(`INSERT INTO booking_seats`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE seat_date_bookings SET status = 'BOOKED'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := e.ConfirmBooking(context.Background(), ConfirmRequest{
		UserID:     42,
		VehicleID:  7,
		Date:       "2026-09-01",
		SeatLabels: []string{"12A", "12A"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"12A"}, res.ConfirmedSeats)
	assert.Equal(t, uint32(2500), res.TotalCents)
}

func TestConfirmBooking_ExpiredHoldRollsBack(t *testing.T) {
	e, mock, rec, pub := newTestEngine(t)

	expectVehicle(mock, 7, 3)
	expectSeat(mock, 7, "12A", 5, 2500)
	expectSeat(mock, 7, "12B", 6, 2500)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, vehicle_id, seat_id`).WillReturnRows(liveHoldRow(5, 42))
	// second seat lapsed: no row left after the expire pass
	mock.ExpectQuery(`SELECT id, vehicle_id, seat_id`).
		WillReturnRows(sqlmock.NewRows(seatRecordColumns()))
	mock.ExpectRollback()

	_, err := e.ConfirmBooking(context.Background(), ConfirmRequest{
		UserID:     42,
		VehicleID:  7,
		Date:       "2026-09-01",
		SeatLabels: []string{"12A", "12B"},
	})
	assert.ErrorIs(t, err, repository.ErrExpired)
	assert.Empty(t, rec.events)
	assert.Empty(t, pub.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmBooking_ForeignHoldRejected(t *testing.T) {
	e, mock, _, _ := newTestEngine(t)

	expectVehicle(mock, 7, 3)
	expectSeat(mock, 7, "12A", 5, 2500)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, vehicle_id, seat_id`).WillReturnRows(liveHoldRow(5, 41))
	mock.ExpectRollback()

	_, err := e.ConfirmBooking(context.Background(), ConfirmRequest{
		UserID:     42,
		VehicleID:  7,
		Date:       "2026-09-01",
		SeatLabels: []string{"12A"},
	})
	assert.ErrorIs(t, err, repository.ErrNotOwner)
}

func TestConfirmBooking_PromotionRaceRollsBack(t *testing.T) {
	e, mock, rec, _ := newTestEngine(t)

	expectVehicle(mock, 7, 3)
	expectSeat(mock, 7, "12A", 5, 2500)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, vehicle_id, seat_id`).WillReturnRows(liveHoldRow(5, 42))
	mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(99, 1))
	mock.ExpectExec(`INSERT INTO booking_seats`).WillReturnResult(sqlmock.NewResult(0, 1))
	// UPDATE matches no row: the hold lapsed between validation and promotion
	mock.ExpectExec(`UPDATE seat_date_bookings SET status = 'BOOKED'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := e.ConfirmBooking(context.Background(), ConfirmRequest{
		UserID:     42,
		VehicleID:  7,
		Date:       "2026-09-01",
		SeatLabels: []string{"12A"},
	})
	assert.ErrorIs(t, err, repository.ErrExpired)
	assert.Empty(t, rec.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmBooking_NoSeats(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	_, err := e.ConfirmBooking(context.Background(), ConfirmRequest{
		UserID: 42, VehicleID: 7, Date: "2026-09-01",
	})
	assert.ErrorIs(t, err, repository.ErrNoHold)
}

func TestConfirmRoundTrip_SecondLegFailureKeepsFirst(t *testing.T) {
	e, mock, _, _ := newTestEngine(t)

	// outbound leg succeeds
	expectVehicle(mock, 7, 3)
	expectSeat(mock, 7, "12A", 5, 2500)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, vehicle_id, seat_id`).WillReturnRows(liveHoldRow(5, 42))
	mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(99, 1))
	mock.ExpectExec(`INSERT INTO booking_seats`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE seat_date_bookings SET status = 'BOOKED'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// return leg: hold already gone
	expectVehicle(mock, 8, 3)
	expectSeat(mock, 8, "03C", 15, 2500)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, vehicle_id, seat_id`).
		WillReturnRows(sqlmock.NewRows(seatRecordColumns()))
	mock.ExpectRollback()

	results, err := e.ConfirmRoundTrip(context.Background(),
		ConfirmRequest{UserID: 42, VehicleID: 7, Date: "2026-09-01", SeatLabels: []string{"12A"}},
		ConfirmRequest{UserID: 42, VehicleID: 8, Date: "2026-09-05", SeatLabels: []string{"03C"}},
	)
	require.Error(t, err)

	var partial *PartialConfirmError
	require.True(t, errors.As(err, &partial))
	assert.ErrorIs(t, err, repository.ErrExpired)
	require.Len(t, results, 1)
	assert.Equal(t, partial.Confirmed, results[0])
	assert.NotEmpty(t, partial.Confirmed.GroupRef)
}

func TestConfirmRoundTrip_SharedGroupRef(t *testing.T) {
	e, mock, _, _ := newTestEngine(t)

	for leg := 0; leg < 2; leg++ {
		vehicleID := uint64(7 + leg)
		seatID := uint64(5 + leg*10)
		expectVehicle(mock, vehicleID, 3)
		mock.ExpectQuery(`SELECT id, label, seat_class, price_cents FROM seats`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "label", "seat_class", "price_cents"}).
				AddRow(seatID, "12A", "STANDARD", 2500))
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, vehicle_id, seat_id`).WillReturnRows(liveHoldRow(seatID, 42))
		mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(int64(99+leg), 1))
		mock.ExpectExec(`INSERT INTO booking_seats`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE seat_date_bookings SET status = 'BOOKED'`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	results, err := e.ConfirmRoundTrip(context.Background(),
		ConfirmRequest{UserID: 42, VehicleID: 7, Date: "2026-09-01", SeatLabels: []string{"12A"}},
		ConfirmRequest{UserID: 42, VehicleID: 8, Date: "2026-09-05", SeatLabels: []string{"12A"}},
	)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotEmpty(t, results[0].GroupRef)
	assert.Equal(t, results[0].GroupRef, results[1].GroupRef)
	assert.NotEqual(t, results[0].BookingRef, results[1].BookingRef)
}

func TestConfirmBooking_DeferredCreatesPendingBooking(t *testing.T) {
	e, mock, rec, pub := newTestEngine(t)
	gw := &payment.FakeGateway{}
	e.gateway = gw

	expectVehicle(mock, 7, 3)
	expectSeat(mock, 7, "12A", 5, 2500)

	// first tx: validate and extend the hold
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, vehicle_id, seat_id`).WillReturnRows(liveHoldRow(5, 42))
	mock.ExpectExec(`UPDATE seat_date_bookings SET expires_at`).
		WithArgs("2026-09-01 10:20:00", uint64(5), "2026-09-01", uint64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// second tx: pending booking, after the intent exists
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(99, 1))
	mock.ExpectExec(`INSERT INTO booking_seats`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := e.ConfirmBooking(context.Background(), ConfirmRequest{
		UserID:     42,
		VehicleID:  7,
		Date:       "2026-09-01",
		SeatLabels: []string{"12A"},
		Deferred:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.BookingPendingPayment, res.Status)
	require.NotNil(t, res.Payment)
	assert.NotEmpty(t, res.Payment.ID)
	assert.NotEmpty(t, res.Payment.ClientSecret)

	// seats stay held (extended), nothing booked and nothing published yet
	require.Len(t, rec.events, 1)
	assert.Equal(t, model.StatusHeld, rec.events[0].Status)
	require.NotNil(t, rec.events[0].ExpiresAt)
	assert.Equal(t, testNow.Add(20*time.Minute), *rec.events[0].ExpiresAt)
	assert.Empty(t, pub.events)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmBooking_DeferredGatewayFailure(t *testing.T) {
	e, mock, _, _ := newTestEngine(t)
	gw := &payment.FakeGateway{FailNext: true}
	e.gateway = gw

	expectVehicle(mock, 7, 3)
	expectSeat(mock, 7, "12A", 5, 2500)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, vehicle_id, seat_id`).WillReturnRows(liveHoldRow(5, 42))
	mock.ExpectExec(`UPDATE seat_date_bookings SET expires_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := e.ConfirmBooking(context.Background(), ConfirmRequest{
		UserID:     42,
		VehicleID:  7,
		Date:       "2026-09-01",
		SeatLabels: []string{"12A"},
		Deferred:   true,
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func bookingColumns() []string {
	return []string{"id", "booking_ref", "group_ref", "user_id", "vehicle_id", "departure_date", "payment_ref", "status", "total_cents", "created_at"}
}

func TestSettlePayment_PromotesPendingSeats(t *testing.T) {
	e, mock, rec, pub := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, booking_ref, group_ref`).
		WithArgs("pi_123").
		WillReturnRows(sqlmock.NewRows(bookingColumns()).
			AddRow(99, "bk_abc", nil, 42, 7, "2026-09-01", "pi_123", model.BookingPendingPayment, 2500, testNow))
	mock.ExpectQuery(`SELECT booking_id, seat_id, seat_label, price_cents, passenger`).
		WithArgs(uint64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "seat_id", "seat_label", "price_cents", "passenger"}).
			AddRow(99, 5, "12A", 2500, ""))
	expectVehicle(mock, 7, 3)
	mock.ExpectExec(`UPDATE seat_date_bookings SET status = 'BOOKED'`).
		WithArgs(uint64(99), uint64(5), "2026-09-01", uint64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bookings SET status`).
		WithArgs(model.BookingConfirmed, uint64(99)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := e.SettlePayment(context.Background(), "pi_123", true)
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, res.Status)
	assert.Equal(t, "bk_abc", res.BookingRef)
	assert.Equal(t, []string{"12A"}, res.ConfirmedSeats)

	require.Len(t, rec.events, 1)
	assert.Equal(t, model.StatusBooked, rec.events[0].Status)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "bk_abc", pub.events[0].BookingRef)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlePayment_ReplayReturnsStoredResult(t *testing.T) {
	e, mock, rec, pub := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, booking_ref, group_ref`).
		WithArgs("pi_123").
		WillReturnRows(sqlmock.NewRows(bookingColumns()).
			AddRow(99, "bk_abc", nil, 42, 7, "2026-09-01", "pi_123", model.BookingConfirmed, 2500, testNow))
	mock.ExpectRollback()
	mock.ExpectQuery(`SELECT seat_label FROM booking_seats`).
		WithArgs(uint64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"seat_label"}).AddRow("12A"))

	res, err := e.SettlePayment(context.Background(), "pi_123", true)
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, res.Status)
	assert.Equal(t, []string{"12A"}, res.ConfirmedSeats)

	// a replay must not touch seat records or re-publish
	assert.Empty(t, rec.events)
	assert.Empty(t, pub.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlePayment_FailedPaymentFreesSeats(t *testing.T) {
	e, mock, rec, _ := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, booking_ref, group_ref`).
		WithArgs("pi_123").
		WillReturnRows(sqlmock.NewRows(bookingColumns()).
			AddRow(99, "bk_abc", nil, 42, 7, "2026-09-01", "pi_123", model.BookingPendingPayment, 2500, testNow))
	mock.ExpectQuery(`SELECT booking_id, seat_id, seat_label`).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "seat_id", "seat_label", "price_cents", "passenger"}).
			AddRow(99, 5, "12A", 2500, ""))
	expectVehicle(mock, 7, 3)
	mock.ExpectExec(`UPDATE bookings SET status`).
		WithArgs(model.BookingFailed, uint64(99)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM seat_date_bookings`).
		WithArgs(uint64(5), "2026-09-01", uint64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := e.SettlePayment(context.Background(), "pi_123", false)
	assert.ErrorIs(t, err, repository.ErrExpired)

	require.Len(t, rec.events, 1)
	assert.Equal(t, model.StatusAvailable, rec.events[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlePayment_FailureSparesReheldSeat(t *testing.T) {
	e, mock, rec, _ := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, booking_ref, group_ref`).
		WithArgs("pi_123").
		WillReturnRows(sqlmock.NewRows(bookingColumns()).
			AddRow(99, "bk_abc", nil, 42, 7, "2026-09-01", "pi_123", model.BookingPendingPayment, 2500, testNow))
	mock.ExpectQuery(`SELECT booking_id, seat_id, seat_label`).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "seat_id", "seat_label", "price_cents", "passenger"}).
			AddRow(99, 5, "12A", 2500, ""))
	expectVehicle(mock, 7, 3)
	mock.ExpectExec(`UPDATE bookings SET status`).
		WithArgs(model.BookingFailed, uint64(99)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// the payer's hold lapsed and another user re-held the seat before
	// the failure webhook landed; the owner-scoped delete matches
	// nothing, so the new hold survives and no event is emitted
	mock.ExpectExec(`DELETE FROM seat_date_bookings`).
		WithArgs(uint64(5), "2026-09-01", uint64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	_, err := e.SettlePayment(context.Background(), "pi_123", false)
	assert.ErrorIs(t, err, repository.ErrExpired)
	assert.Empty(t, rec.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlePayment_LapsedHoldFailsBooking(t *testing.T) {
	e, mock, rec, _ := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, booking_ref, group_ref`).
		WithArgs("pi_123").
		WillReturnRows(sqlmock.NewRows(bookingColumns()).
			AddRow(99, "bk_abc", nil, 42, 7, "2026-09-01", "pi_123", model.BookingPendingPayment, 2500, testNow))
	mock.ExpectQuery(`SELECT booking_id, seat_id, seat_label`).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "seat_id", "seat_label", "price_cents", "passenger"}).
			AddRow(99, 5, "12A", 2500, ""))
	expectVehicle(mock, 7, 3)
	mock.ExpectExec(`UPDATE seat_date_bookings SET status = 'BOOKED'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	// FAILED status recorded in a fresh transaction after the rollback
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bookings SET status`).
		WithArgs(model.BookingFailed, uint64(99)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := e.SettlePayment(context.Background(), "pi_123", true)
	assert.ErrorIs(t, err, repository.ErrExpired)
	assert.Empty(t, rec.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlePayment_UnknownReference(t *testing.T) {
	e, mock, _, _ := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, booking_ref, group_ref`).
		WithArgs("pi_missing").
		WillReturnRows(sqlmock.NewRows(bookingColumns()))
	mock.ExpectRollback()

	_, err := e.SettlePayment(context.Background(), "pi_missing", true)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSettlePayment_FailedThenSuccessIsExpired(t *testing.T) {
	e, mock, _, _ := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, booking_ref, group_ref`).
		WithArgs("pi_123").
		WillReturnRows(sqlmock.NewRows(bookingColumns()).
			AddRow(99, "bk_abc", nil, 42, 7, "2026-09-01", "pi_123", model.BookingFailed, 2500, testNow))
	mock.ExpectRollback()

	_, err := e.SettlePayment(context.Background(), "pi_123", true)
	assert.ErrorIs(t, err, repository.ErrExpired)
}
