package inventory

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/miravel/transit-seat-engine/internal/cache"
	"github.com/miravel/transit-seat-engine/internal/model"
	"github.com/miravel/transit-seat-engine/internal/payment"
	"github.com/miravel/transit-seat-engine/internal/queue"
	"github.com/miravel/transit-seat-engine/internal/repository"
)

// ConfirmRequest finalizes the caller's live holds on one departure.
// Passengers pairs with SeatLabels by index; missing entries default
// to empty. Deferred switches to the asynchronous payment flow: the
// holds are extended, a payment intent is created and the seats are
// only promoted when the gateway confirmation arrives.
type ConfirmRequest struct {
	UserID     uint64
	VehicleID  uint64
	Date       string
	SeatLabels []string
	Passengers []string
	GroupRef   string
	Deferred   bool
}

// ConfirmResult reports a finalized (or pending) booking.
type ConfirmResult struct {
	BookingRef     string          `json:"booking_ref"`
	GroupRef       string          `json:"group_ref,omitempty"`
	Status         string          `json:"status"`
	ConfirmedSeats []string        `json:"confirmed_seats"`
	TotalCents     uint32          `json:"total_cents"`
	Payment        *payment.Intent `json:"payment,omitempty"`
}

// PartialConfirmError reports a round trip whose first leg settled
// but whose second leg failed. The legs are independent bookings; the
// engine does not unwind the completed leg, it surfaces it so the
// caller can retry or cancel explicitly.
type PartialConfirmError struct {
	Confirmed *ConfirmResult
	Err       error
}

func (e *PartialConfirmError) Error() string {
	return fmt.Sprintf("second leg failed after first leg %s: %v", e.Confirmed.BookingRef, e.Err)
}

func (e *PartialConfirmError) Unwrap() error { return e.Err }

// ConfirmBooking converts the caller's live holds into a booking.
// Every requested seat must carry a live SELECTED record owned by the
// requester; validation and promotion run in one transaction, so a
// failure on any seat rolls the whole leg back and no partial
// promotion can persist.
func (e *Engine) ConfirmBooking(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	date, err := model.ParseDepartureDate(req.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: bad departure date", repository.ErrNotFound)
	}
	req.Date = date
	if len(req.SeatLabels) == 0 {
		return nil, fmt.Errorf("%w: no seats requested", repository.ErrNoHold)
	}
	vehicle, err := e.vehicles.GetByID(ctx, req.VehicleID)
	if err != nil {
		return nil, err
	}
	seats, err := e.resolveSeats(ctx, req.VehicleID, req.SeatLabels)
	if err != nil {
		return nil, err
	}

	if req.Deferred {
		return e.confirmDeferred(ctx, vehicle, seats, req)
	}
	return e.confirmImmediate(ctx, vehicle, seats, req, "")
}

// ConfirmRoundTrip runs the finalize sequence once per leg, linking
// the two bookings with a shared group reference. The legs are not
// one atomic transaction: if the return leg fails, the outbound
// booking stands and the failure is reported as a
// PartialConfirmError.
func (e *Engine) ConfirmRoundTrip(ctx context.Context, outbound, returnLeg ConfirmRequest) ([]*ConfirmResult, error) {
	groupRef := outbound.GroupRef
	if groupRef == "" {
		groupRef = uuid.NewString()
	}
	outbound.GroupRef = groupRef
	returnLeg.GroupRef = groupRef

	first, err := e.ConfirmBooking(ctx, outbound)
	if err != nil {
		return nil, err
	}
	second, err := e.ConfirmBooking(ctx, returnLeg)
	if err != nil {
		return []*ConfirmResult{first}, &PartialConfirmError{Confirmed: first, Err: err}
	}
	return []*ConfirmResult{first, second}, nil
}

func (e *Engine) resolveSeats(ctx context.Context, vehicleID uint64, labels []string) ([]*repository.SeatInfo, error) {
	seen := make(map[string]struct{}, len(labels))
	seats := make([]*repository.SeatInfo, 0, len(labels))
	for _, label := range labels {
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		seat, err := e.vehicles.SeatByLabel(ctx, vehicleID, label)
		if err != nil {
			return nil, err
		}
		seats = append(seats, seat)
	}
	return seats, nil
}

// confirmImmediate writes a CONFIRMED booking and promotes all seats
// in one transaction. paymentRef is empty for synchronous payments
// settled outside the engine, or carries the gateway reference when
// called from the webhook settle path.
func (e *Engine) confirmImmediate(ctx context.Context, vehicle *repository.VehicleInfo, seats []*repository.SeatInfo, req ConfirmRequest, paymentRef string) (*ConfirmResult, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin confirm tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := e.now().UTC()
	var total uint32
	for _, seat := range seats {
		rec, err := e.seats.GetForSeatTx(ctx, tx, seat.ID, req.Date)
		if err != nil {
			return nil, fmt.Errorf("read seat record: %w", err)
		}
		if rec != nil && rec.Status == model.RecordBooked {
			return nil, repository.ErrSeatBooked
		}
		if rec == nil || !rec.Live(now) {
			return nil, repository.ErrExpired
		}
		if rec.UserID != req.UserID {
			return nil, repository.ErrNotOwner
		}
		total += seat.PriceCents
	}

	booking := &model.Booking{
		BookingRef:    uuid.NewString(),
		UserID:        req.UserID,
		VehicleID:     vehicle.ID,
		DepartureDate: req.Date,
		Status:        model.BookingConfirmed,
		TotalCents:    total,
	}
	if req.GroupRef != "" {
		booking.GroupRef = &req.GroupRef
	}
	if paymentRef != "" {
		booking.PaymentRef = &paymentRef
	}
	if err := e.bookings.CreateTx(ctx, tx, booking); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	records := make([]repository.BookingSeatRecord, 0, len(seats))
	labels := make([]string, 0, len(seats))
	for i, seat := range seats {
		passenger := ""
		if i < len(req.Passengers) {
			passenger = req.Passengers[i]
		}
		records = append(records, repository.BookingSeatRecord{
			BookingID:  booking.ID,
			SeatID:     seat.ID,
			SeatLabel:  seat.Label,
			PriceCents: seat.PriceCents,
			Passenger:  passenger,
		})
		labels = append(labels, seat.Label)
	}
	if err := e.bookings.CreateSeatsBulkTx(ctx, tx, records); err != nil {
		return nil, fmt.Errorf("create booking seats: %w", err)
	}

	for _, seat := range seats {
		promoted, err := e.seats.PromoteToBookedTx(ctx, tx, seat.ID, req.Date, req.UserID, booking.ID)
		if err != nil {
			return nil, fmt.Errorf("promote seat %s: %w", seat.Label, err)
		}
		if !promoted {
			// lapsed between validation and promotion; roll everything back
			return nil, repository.ErrExpired
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit confirm: %w", err)
	}
	committed = true

	e.finalizeSideEffects(ctx, vehicle, req.Date, labels, req.UserID, booking)

	return &ConfirmResult{
		BookingRef:     booking.BookingRef,
		GroupRef:       req.GroupRef,
		Status:         model.BookingConfirmed,
		ConfirmedSeats: labels,
		TotalCents:     total,
	}, nil
}

// confirmDeferred extends the holds to cover the expected payment
// latency, creates a payment intent and records a PENDING_PAYMENT
// booking. Seats stay SELECTED until the gateway confirmation settles
// them. The intent is created outside any transaction or seat lock.
func (e *Engine) confirmDeferred(ctx context.Context, vehicle *repository.VehicleInfo, seats []*repository.SeatInfo, req ConfirmRequest) (*ConfirmResult, error) {
	now := e.now().UTC()
	extendedTo := now.Add(e.cfg.HoldTTLMax)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin extend tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var total uint32
	for _, seat := range seats {
		rec, err := e.seats.GetForSeatTx(ctx, tx, seat.ID, req.Date)
		if err != nil {
			return nil, fmt.Errorf("read seat record: %w", err)
		}
		if rec != nil && rec.Status == model.RecordBooked {
			return nil, repository.ErrSeatBooked
		}
		if rec == nil || !rec.Live(now) {
			return nil, repository.ErrExpired
		}
		if rec.UserID != req.UserID {
			return nil, repository.ErrNotOwner
		}
		refreshed, err := e.seats.RefreshHoldTx(ctx, tx, seat.ID, req.Date, req.UserID, extendedTo)
		if err != nil {
			return nil, fmt.Errorf("extend hold: %w", err)
		}
		if !refreshed {
			return nil, repository.ErrExpired
		}
		total += seat.PriceCents
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit extend: %w", err)
	}
	committed = true

	for _, seat := range seats {
		e.mirrorHold(ctx, vehicle.ID, seat.Label, req.Date, cache.HoldMirror{UserID: req.UserID, HeldAt: now, ExpiresAt: extendedTo})
	}
	e.invalidate(ctx, vehicle.ID, req.Date)

	if e.gateway == nil {
		return nil, fmt.Errorf("no payment gateway configured")
	}
	reference := uuid.NewString()
	intent, err := e.gateway.CreateIntent(ctx, total, reference)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	tx2, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin pending tx: %w", err)
	}
	committed2 := false
	defer func() {
		if !committed2 {
			_ = tx2.Rollback()
		}
	}()

	booking := &model.Booking{
		BookingRef:    uuid.NewString(),
		UserID:        req.UserID,
		VehicleID:     vehicle.ID,
		DepartureDate: req.Date,
		PaymentRef:    &intent.Reference,
		Status:        model.BookingPendingPayment,
		TotalCents:    total,
	}
	if req.GroupRef != "" {
		booking.GroupRef = &req.GroupRef
	}
	if err := e.bookings.CreateTx(ctx, tx2, booking); err != nil {
		return nil, fmt.Errorf("create pending booking: %w", err)
	}
	records := make([]repository.BookingSeatRecord, 0, len(seats))
	labels := make([]string, 0, len(seats))
	for i, seat := range seats {
		passenger := ""
		if i < len(req.Passengers) {
			passenger = req.Passengers[i]
		}
		records = append(records, repository.BookingSeatRecord{
			BookingID:  booking.ID,
			SeatID:     seat.ID,
			SeatLabel:  seat.Label,
			PriceCents: seat.PriceCents,
			Passenger:  passenger,
		})
		labels = append(labels, seat.Label)
	}
	if err := e.bookings.CreateSeatsBulkTx(ctx, tx2, records); err != nil {
		return nil, fmt.Errorf("create pending booking seats: %w", err)
	}
	if err := tx2.Commit(); err != nil {
		return nil, fmt.Errorf("commit pending booking: %w", err)
	}
	committed2 = true

	for _, label := range labels {
		e.broadcast(SeatEvent{
			RouteID:       vehicle.RouteID,
			VehicleID:     vehicle.ID,
			DepartureDate: req.Date,
			SeatLabel:     label,
			Status:        model.StatusHeld,
			ExpiresAt:     &extendedTo,
			UserID:        req.UserID,
		})
	}

	return &ConfirmResult{
		BookingRef:     booking.BookingRef,
		GroupRef:       req.GroupRef,
		Status:         model.BookingPendingPayment,
		ConfirmedSeats: labels,
		TotalCents:     total,
		Payment:        intent,
	}, nil
}

// SettlePayment applies a gateway confirmation to the pending booking
// holding paymentRef. The call is idempotent: a replayed confirmation
// for an already-settled booking returns the previously produced
// result without touching seat records. A confirmation whose holds
// lapsed before it arrived marks the booking FAILED and reports
// ErrExpired.
func (e *Engine) SettlePayment(ctx context.Context, paymentRef string, succeeded bool) (*ConfirmResult, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin settle tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	booking, err := e.bookings.GetByPaymentRefTx(ctx, tx, paymentRef)
	if err != nil {
		return nil, err
	}
	if booking.Status == model.BookingConfirmed {
		// duplicate delivery: replay the stored result
		_ = tx.Rollback()
		committed = true
		labels, err := e.bookings.SeatLabelsByBooking(ctx, booking.ID)
		if err != nil {
			return nil, fmt.Errorf("load settled seats: %w", err)
		}
		return &ConfirmResult{
			BookingRef:     booking.BookingRef,
			GroupRef:       derefString(booking.GroupRef),
			Status:         model.BookingConfirmed,
			ConfirmedSeats: labels,
			TotalCents:     booking.TotalCents,
		}, nil
	}
	if booking.Status == model.BookingFailed {
		return nil, repository.ErrExpired
	}

	seats, err := e.bookings.SeatsByBookingTx(ctx, tx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("load pending seats: %w", err)
	}

	vehicle, err := e.vehicles.GetByID(ctx, booking.VehicleID)
	if err != nil {
		return nil, err
	}

	if !succeeded {
		if err := e.bookings.UpdateStatusTx(ctx, tx, booking.ID, model.BookingFailed); err != nil {
			return nil, fmt.Errorf("mark booking failed: %w", err)
		}
		// only rows still owned by the paying user are freed: if the
		// hold lapsed and someone else re-held the seat in the
		// meantime, their hold stands and no event is emitted for it
		freed := make([]repository.BookingSeatRecord, 0, len(seats))
		for _, seat := range seats {
			deleted, err := e.seats.DeleteHoldTx(ctx, tx, seat.SeatID, booking.DepartureDate, booking.UserID)
			if err != nil {
				return nil, fmt.Errorf("release hold for failed payment: %w", err)
			}
			if deleted {
				freed = append(freed, seat)
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit failed settle: %w", err)
		}
		committed = true
		for _, seat := range freed {
			e.dropMirror(ctx, booking.VehicleID, seat.SeatLabel, booking.DepartureDate)
			e.broadcast(SeatEvent{
				RouteID:       vehicle.RouteID,
				VehicleID:     booking.VehicleID,
				DepartureDate: booking.DepartureDate,
				SeatLabel:     seat.SeatLabel,
				Status:        model.StatusAvailable,
			})
		}
		e.invalidate(ctx, booking.VehicleID, booking.DepartureDate)
		return nil, repository.ErrExpired
	}

	for _, seat := range seats {
		promoted, err := e.seats.PromoteToBookedTx(ctx, tx, seat.SeatID, booking.DepartureDate, booking.UserID, booking.ID)
		if err != nil {
			return nil, fmt.Errorf("promote seat %s: %w", seat.SeatLabel, err)
		}
		if !promoted {
			// the hold lapsed before the webhook arrived; fail the booking
			_ = tx.Rollback()
			committed = true
			e.markFailed(ctx, booking.ID)
			return nil, repository.ErrExpired
		}
	}
	if err := e.bookings.UpdateStatusTx(ctx, tx, booking.ID, model.BookingConfirmed); err != nil {
		return nil, fmt.Errorf("mark booking confirmed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settle: %w", err)
	}
	committed = true

	labels := make([]string, 0, len(seats))
	for _, seat := range seats {
		labels = append(labels, seat.SeatLabel)
	}
	e.finalizeSideEffects(ctx, vehicle, booking.DepartureDate, labels, booking.UserID, booking)

	return &ConfirmResult{
		BookingRef:     booking.BookingRef,
		GroupRef:       derefString(booking.GroupRef),
		Status:         model.BookingConfirmed,
		ConfirmedSeats: labels,
		TotalCents:     booking.TotalCents,
	}, nil
}

// markFailed records a FAILED status in its own transaction after a
// settle transaction had to roll back.
func (e *Engine) markFailed(ctx context.Context, bookingID uint64) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("inventory: begin mark-failed tx: %v", err)
		return
	}
	if err := e.bookings.UpdateStatusTx(ctx, tx, bookingID, model.BookingFailed); err != nil {
		_ = tx.Rollback()
		log.Printf("inventory: mark booking %d failed: %v", bookingID, err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("inventory: commit mark-failed: %v", err)
	}
}

// finalizeSideEffects runs the post-commit fan-out shared by the
// immediate and webhook settle paths: drop mirrors, invalidate the
// projection, broadcast booked events and publish the domain event.
// Everything here is best-effort; the booking is already durable.
func (e *Engine) finalizeSideEffects(ctx context.Context, vehicle *repository.VehicleInfo, date string, labels []string, userID uint64, booking *model.Booking) {
	for _, label := range labels {
		e.dropMirror(ctx, vehicle.ID, label, date)
		e.broadcast(SeatEvent{
			RouteID:       vehicle.RouteID,
			VehicleID:     vehicle.ID,
			DepartureDate: date,
			SeatLabel:     label,
			Status:        model.StatusBooked,
			UserID:        userID,
		})
	}
	e.invalidate(ctx, vehicle.ID, date)

	if e.publisher != nil {
		ev := queue.SeatBookedEvent{
			BookingRef:    booking.BookingRef,
			GroupRef:      derefString(booking.GroupRef),
			UserID:        userID,
			RouteID:       vehicle.RouteID,
			VehicleID:     vehicle.ID,
			VehicleName:   vehicle.Name,
			DepartureDate: date,
			SeatLabels:    labels,
			TotalCents:    booking.TotalCents,
			ConfirmedAt:   e.now().UTC().Format(time.RFC3339),
		}
		if err := e.publisher.PublishSeatBooked(ctx, ev); err != nil {
			log.Printf("inventory: publish seat.booked for %s: %v", booking.BookingRef, err)
		}
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
