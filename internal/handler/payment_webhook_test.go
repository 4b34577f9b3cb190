package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miravel/transit-seat-engine/internal/cache"
	"github.com/miravel/transit-seat-engine/internal/inventory"
	"github.com/miravel/transit-seat-engine/internal/model"
	"github.com/miravel/transit-seat-engine/internal/repository"
)

func newWebhookHandler(t *testing.T, secret string) (*PaymentWebhookHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	engine := inventory.NewEngine(
		db,
		repository.NewVehicleRepo(db),
		repository.NewSeatBookingRepo(db),
		repository.NewBookingRepo(db),
		cache.NewHoldCache(nil),
		cache.NewSeatLock(nil, 0),
		nil, nil, nil,
		inventory.Config{},
	)
	return NewPaymentWebhookHandler(engine, secret), mock
}

func postWebhook(h *PaymentWebhookHandler, body, secret string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	rec := httptest.NewRecorder()
	_ = h.Confirm(e.NewContext(req, rec))
	return rec
}

func bookingRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "booking_ref", "group_ref", "user_id", "vehicle_id", "departure_date", "payment_ref", "status", "total_cents", "created_at",
	})
}

func TestWebhook_BadSecretRejected(t *testing.T) {
	h, _ := newWebhookHandler(t, "hush")
	rec := postWebhook(h, `{"reference":"pi_123","status":"succeeded"}`, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_MissingFieldsRejected(t *testing.T) {
	h, _ := newWebhookHandler(t, "")
	rec := postWebhook(h, `{"reference":"pi_123"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_UnknownReference(t *testing.T) {
	h, mock := newWebhookHandler(t, "")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, booking_ref, group_ref`).
		WithArgs("pi_missing").
		WillReturnRows(bookingRows())
	mock.ExpectRollback()

	rec := postWebhook(h, `{"reference":"pi_missing","status":"succeeded"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_ReplayReturnsBooking(t *testing.T) {
	h, mock := newWebhookHandler(t, "hush")

	created := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, booking_ref, group_ref`).
		WithArgs("pi_123").
		WillReturnRows(bookingRows().
			AddRow(99, "bk_abc", nil, 42, 7, "2026-09-01", "pi_123", model.BookingConfirmed, 2500, created))
	mock.ExpectRollback()
	mock.ExpectQuery(`SELECT seat_label FROM booking_seats`).
		WithArgs(uint64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"seat_label"}).AddRow("12A"))

	rec := postWebhook(h, `{"intent_id":"pi_x","reference":"pi_123","status":"succeeded"}`, "hush")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"booking_ref":"bk_abc"`)
	assert.Contains(t, rec.Body.String(), `"12A"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_FailedBookingReportsGone(t *testing.T) {
	h, mock := newWebhookHandler(t, "")

	created := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, booking_ref, group_ref`).
		WithArgs("pi_123").
		WillReturnRows(bookingRows().
			AddRow(99, "bk_abc", nil, 42, 7, "2026-09-01", "pi_123", model.BookingFailed, 2500, created))
	mock.ExpectRollback()

	rec := postWebhook(h, `{"reference":"pi_123","status":"succeeded"}`, "")
	assert.Equal(t, http.StatusGone, rec.Code)
}
