// Package inventory implements the seat hold/booking concurrency
// engine: lock-serialized hold acquisition, ownership-checked
// release, two-phase booking finalization, the availability
// projector and the reconciliation sweeper. The durable store is
// always authoritative; the Redis layer accelerates reads and carries
// the expiry clock but is fully reconstructable from the database.
package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/miravel/transit-seat-engine/internal/cache"
	"github.com/miravel/transit-seat-engine/internal/model"
	"github.com/miravel/transit-seat-engine/internal/payment"
	"github.com/miravel/transit-seat-engine/internal/queue"
	"github.com/miravel/transit-seat-engine/internal/repository"
)

// SeatEvent is a status-change notification fanned out to every
// viewer of the seat's (route, date) scope.
type SeatEvent struct {
	RouteID       uint64     `json:"route_id"`
	VehicleID     uint64     `json:"vehicle_id"`
	DepartureDate string     `json:"date"`
	SeatLabel     string     `json:"seat_label"`
	Status        string     `json:"status"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	UserID        uint64     `json:"user_id,omitempty"`
}

// Broadcaster fans a seat event out to channel members. Broadcasts
// are fire-and-forget: implementations must not block the caller and
// the engine never waits for delivery.
type Broadcaster interface {
	SeatStatus(ev SeatEvent)
}

// EventPublisher delivers domain events to the message broker after
// finalization. Failures are logged, never surfaced to the caller.
type EventPublisher interface {
	PublishSeatBooked(ctx context.Context, ev queue.SeatBookedEvent) error
}

// Config carries the engine's tunable durations.
type Config struct {
	HoldTTL       time.Duration // default hold duration (~15m)
	HoldTTLMax    time.Duration // ceiling for overrides and deferred-payment extension (~20m)
	ProjectionTTL time.Duration // availability snapshot cache lifetime (~5m)
}

func (c *Config) applyDefaults() {
	if c.HoldTTL <= 0 {
		c.HoldTTL = 15 * time.Minute
	}
	if c.HoldTTLMax <= 0 {
		c.HoldTTLMax = 20 * time.Minute
	}
	if c.ProjectionTTL <= 0 {
		c.ProjectionTTL = 5 * time.Minute
	}
}

// Engine coordinates the durable store, the ephemeral cache, the lock
// manager and the broadcast layer. All methods are safe for
// concurrent use; per-seat serialization happens through the lock
// manager and row locks, not through any in-process mutex, so
// multiple engine processes can share the same stores.
type Engine struct {
	db        *sql.DB
	vehicles  *repository.VehicleRepo
	seats     *repository.SeatBookingRepo
	bookings  *repository.BookingRepo
	holds     *cache.HoldCache
	locks     *cache.SeatLock
	events    Broadcaster
	publisher EventPublisher
	gateway   payment.Gateway
	cfg       Config

	now func() time.Time
}

// NewEngine wires an Engine. events, publisher and gateway may be nil
// when the corresponding side effect is not needed (tests, batch
// tooling); all store dependencies are required.
func NewEngine(
	db *sql.DB,
	vehicles *repository.VehicleRepo,
	seats *repository.SeatBookingRepo,
	bookings *repository.BookingRepo,
	holds *cache.HoldCache,
	locks *cache.SeatLock,
	events Broadcaster,
	publisher EventPublisher,
	gateway payment.Gateway,
	cfg Config,
) *Engine {
	if db == nil || vehicles == nil || seats == nil || bookings == nil || holds == nil || locks == nil {
		panic("nil store dependency passed to NewEngine")
	}
	cfg.applyDefaults()
	return &Engine{
		db:        db,
		vehicles:  vehicles,
		seats:     seats,
		bookings:  bookings,
		holds:     holds,
		locks:     locks,
		events:    events,
		publisher: publisher,
		gateway:   gateway,
		cfg:       cfg,
		now:       time.Now,
	}
}

// HoldResult reports a successful hold acquisition or extension.
type HoldResult struct {
	ExpiresAt time.Time `json:"expires_at"`
	Extended  bool      `json:"extended,omitempty"`
}

// HoldSeat provisionally reserves (vehicle, seat, date) for userID.
// The read-check-write runs inside the per-seat lock and a single
// transaction; the durable record is written before the cache mirror,
// so a crash mid-operation leaves either a complete hold or none.
// A repeat hold by the current owner refreshes the expiry and reports
// Extended=true. durationOverride is clamped to the configured
// ceiling; zero means the default duration.
func (e *Engine) HoldSeat(ctx context.Context, userID, vehicleID uint64, seatLabel, date string, durationOverride time.Duration) (*HoldResult, error) {
	date, err := model.ParseDepartureDate(date)
	if err != nil {
		return nil, fmt.Errorf("%w: bad departure date", repository.ErrNotFound)
	}
	vehicle, err := e.vehicles.GetByID(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	seat, err := e.vehicles.SeatByLabel(ctx, vehicleID, seatLabel)
	if err != nil {
		return nil, err
	}

	duration := e.cfg.HoldTTL
	if durationOverride > 0 {
		duration = durationOverride
		if duration > e.cfg.HoldTTLMax {
			duration = e.cfg.HoldTTLMax
		}
	}

	token, ok, err := e.locks.Acquire(ctx, vehicleID, seatLabel, date)
	if err != nil {
		return nil, fmt.Errorf("acquire seat lock: %w", err)
	}
	if !ok {
		return nil, repository.ErrSeatLocked
	}
	defer func() {
		if relErr := e.locks.Release(context.Background(), vehicleID, seatLabel, date, token); relErr != nil {
			log.Printf("inventory: release seat lock %d/%s/%s: %v", vehicleID, seatLabel, date, relErr)
		}
	}()

	now := e.now().UTC()
	expiresAt := now.Add(duration)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin hold tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := e.seats.DeleteExpiredForSeatTx(ctx, tx, seat.ID, date); err != nil {
		return nil, fmt.Errorf("expire stale hold: %w", err)
	}

	rec, err := e.seats.GetForSeatTx(ctx, tx, seat.ID, date)
	if err != nil {
		return nil, fmt.Errorf("read seat record: %w", err)
	}

	extended := false
	switch {
	case rec == nil:
		// free seat, write a fresh hold below
	case rec.Status == model.RecordBooked:
		return nil, repository.ErrSeatBooked
	case !rec.Live(now):
		// half-written leftover (NULL expiry); clear it and rewrite
		if _, err := e.seats.DeleteHoldTx(ctx, tx, seat.ID, date, rec.UserID); err != nil {
			return nil, fmt.Errorf("clear orphaned hold: %w", err)
		}
		rec = nil
	case rec.UserID != userID:
		return nil, repository.ErrSeatHeld
	default:
		// owner re-holding: extension
		refreshed, err := e.seats.RefreshHoldTx(ctx, tx, seat.ID, date, userID, expiresAt)
		if err != nil {
			return nil, fmt.Errorf("refresh hold: %w", err)
		}
		if !refreshed {
			return nil, repository.ErrExpired
		}
		extended = true
	}

	if rec == nil {
		if err := e.seats.InsertHoldTx(ctx, tx, &model.SeatDateBooking{
			VehicleID:     vehicleID,
			SeatID:        seat.ID,
			DepartureDate: date,
			UserID:        userID,
			Status:        model.RecordSelected,
			HeldAt:        now,
			ExpiresAt:     &expiresAt,
		}); err != nil {
			return nil, fmt.Errorf("insert hold: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit hold: %w", err)
	}
	committed = true

	e.mirrorHold(ctx, vehicleID, seatLabel, date, cache.HoldMirror{UserID: userID, HeldAt: now, ExpiresAt: expiresAt})
	e.invalidate(ctx, vehicleID, date)
	e.broadcast(SeatEvent{
		RouteID:       vehicle.RouteID,
		VehicleID:     vehicleID,
		DepartureDate: date,
		SeatLabel:     seatLabel,
		Status:        model.StatusHeld,
		ExpiresAt:     &expiresAt,
		UserID:        userID,
	})

	return &HoldResult{ExpiresAt: expiresAt, Extended: extended}, nil
}

// ReleaseSeat removes userID's live hold on (vehicle, seat, date).
// Returns ErrNoHold when no live hold exists and ErrNotOwner when the
// hold belongs to someone else. BOOKED records are never released
// here; cancellation is a separate flow.
func (e *Engine) ReleaseSeat(ctx context.Context, userID, vehicleID uint64, seatLabel, date string) error {
	date, err := model.ParseDepartureDate(date)
	if err != nil {
		return fmt.Errorf("%w: bad departure date", repository.ErrNotFound)
	}
	vehicle, err := e.vehicles.GetByID(ctx, vehicleID)
	if err != nil {
		return err
	}
	seat, err := e.vehicles.SeatByLabel(ctx, vehicleID, seatLabel)
	if err != nil {
		return err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rec, err := e.seats.GetForSeatTx(ctx, tx, seat.ID, date)
	if err != nil {
		return fmt.Errorf("read seat record: %w", err)
	}
	if rec == nil || rec.Status != model.RecordSelected || !rec.Live(e.now().UTC()) {
		return repository.ErrNoHold
	}
	if rec.UserID != userID {
		return repository.ErrNotOwner
	}
	if _, err := e.seats.DeleteHoldTx(ctx, tx, seat.ID, date, userID); err != nil {
		return fmt.Errorf("delete hold: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit release: %w", err)
	}
	committed = true

	e.dropMirror(ctx, vehicleID, seatLabel, date)
	e.invalidate(ctx, vehicleID, date)
	e.broadcast(SeatEvent{
		RouteID:       vehicle.RouteID,
		VehicleID:     vehicleID,
		DepartureDate: date,
		SeatLabel:     seatLabel,
		Status:        model.StatusAvailable,
	})
	return nil
}

// ReleasedHold identifies one hold freed by ReleaseAllForUser.
type ReleasedHold struct {
	VehicleID     uint64
	SeatLabel     string
	DepartureDate string
}

// ReleaseAllForUser frees every live hold the user owns on a route,
// optionally narrowed to one departure date. It is the implicit
// release run when a connection leaves a channel or drops; ownership
// is implied by the query. Each freed seat is broadcast individually.
// Per-hold failures are logged and skipped so a disconnect can never
// fail.
func (e *Engine) ReleaseAllForUser(ctx context.Context, userID, routeID uint64, date string) []ReleasedHold {
	refs, err := e.seats.ListSelectedByUserRoute(ctx, userID, routeID, date)
	if err != nil {
		log.Printf("inventory: list holds for user %d route %d: %v", userID, routeID, err)
		return nil
	}
	var released []ReleasedHold
	for _, ref := range refs {
		deleted, err := e.releaseOne(ctx, userID, ref)
		if err != nil {
			log.Printf("inventory: release %d/%s/%s: %v", ref.VehicleID, ref.SeatLabel, ref.DepartureDate, err)
			continue
		}
		if !deleted {
			// lapsed and re-held by someone else between list and
			// delete; the new hold stands
			continue
		}
		e.dropMirror(ctx, ref.VehicleID, ref.SeatLabel, ref.DepartureDate)
		e.invalidate(ctx, ref.VehicleID, ref.DepartureDate)
		e.broadcast(SeatEvent{
			RouteID:       routeID,
			VehicleID:     ref.VehicleID,
			DepartureDate: ref.DepartureDate,
			SeatLabel:     ref.SeatLabel,
			Status:        model.StatusAvailable,
		})
		released = append(released, ReleasedHold{VehicleID: ref.VehicleID, SeatLabel: ref.SeatLabel, DepartureDate: ref.DepartureDate})
	}
	return released
}

func (e *Engine) releaseOne(ctx context.Context, userID uint64, ref repository.HoldRef) (bool, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	deleted, err := e.seats.DeleteHoldTx(ctx, tx, ref.SeatID, ref.DepartureDate, userID)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	return deleted, tx.Commit()
}

// mirrorHold writes the ephemeral copy. Best-effort: the durable row
// is already committed, so a cache failure only costs read speed.
func (e *Engine) mirrorHold(ctx context.Context, vehicleID uint64, seatLabel, date string, m cache.HoldMirror) {
	if err := e.holds.SetHold(ctx, vehicleID, seatLabel, date, m); err != nil {
		log.Printf("inventory: mirror hold %d/%s/%s: %v", vehicleID, seatLabel, date, err)
	}
}

func (e *Engine) dropMirror(ctx context.Context, vehicleID uint64, seatLabel, date string) {
	if err := e.holds.DeleteHold(ctx, vehicleID, seatLabel, date); err != nil {
		log.Printf("inventory: drop mirror %d/%s/%s: %v", vehicleID, seatLabel, date, err)
	}
}

func (e *Engine) invalidate(ctx context.Context, vehicleID uint64, date string) {
	if err := e.holds.InvalidateSnapshot(ctx, vehicleID, date); err != nil {
		log.Printf("inventory: invalidate snapshot %d/%s: %v", vehicleID, date, err)
	}
}

func (e *Engine) broadcast(ev SeatEvent) {
	if e.events != nil {
		e.events.SeatStatus(ev)
	}
}
