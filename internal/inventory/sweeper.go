package inventory

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/miravel/transit-seat-engine/internal/model"
)

// Scope identifies one actively-watched broadcast channel. Date is
// empty for route-wide viewers, in which case a sweep covers every
// departure date of the route's vehicle.
type Scope struct {
	RouteID uint64
	Date    string
}

// ScopeLister reports the scopes that currently have viewers. The
// realtime hub implements it; the sweeper only works scopes someone
// is watching, so dormant departures cost nothing between joins.
type ScopeLister interface {
	ActiveScopes() []Scope
}

// RunSweeper drives the reconciliation loop on a fixed interval until
// the context is cancelled. Each tick sweeps every active scope.
// Failures are logged and retried on the next tick; they never
// propagate to any client.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration, scopes ScopeLister) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("sweeper: started, interval=%s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper: stopped")
			return
		case <-ticker.C:
			for _, scope := range scopes.ActiveScopes() {
				if err := e.SweepScope(ctx, scope.RouteID, scope.Date); err != nil {
					log.Printf("sweeper: scope route=%d date=%q: %v", scope.RouteID, scope.Date, err)
				}
			}
		}
	}
}

// SweepScope runs one reconciliation pass for a scope: expire lapsed
// holds in the durable store, repair half-written rows, drop the
// matching cache mirrors, then remove any orphaned mirrors the
// durable store no longer backs. Every repaired seat is broadcast as
// available. Join handlers call this before building a snapshot so a
// new viewer never sees a lapsed hold.
func (e *Engine) SweepScope(ctx context.Context, routeID uint64, date string) error {
	vehicle, err := e.vehicles.GetActiveByRoute(ctx, routeID)
	if err != nil {
		return fmt.Errorf("resolve vehicle: %w", err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sweep tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	expired, err := e.seats.ExpireHoldsTx(ctx, tx, vehicle.ID, date)
	if err != nil {
		return fmt.Errorf("expire holds: %w", err)
	}
	orphans, err := e.seats.RepairOrphanedTx(ctx, tx, vehicle.ID)
	if err != nil {
		return fmt.Errorf("repair orphans: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sweep: %w", err)
	}
	committed = true

	repaired := append(expired, orphans...)
	touchedDates := make(map[string]struct{})
	for _, h := range repaired {
		e.dropMirror(ctx, vehicle.ID, h.SeatLabel, h.DepartureDate)
		touchedDates[h.DepartureDate] = struct{}{}
		e.broadcast(SeatEvent{
			RouteID:       routeID,
			VehicleID:     vehicle.ID,
			DepartureDate: h.DepartureDate,
			SeatLabel:     h.SeatLabel,
			Status:        model.StatusAvailable,
		})
	}
	for d := range touchedDates {
		e.invalidate(ctx, vehicle.ID, d)
	}

	if date != "" {
		if err := e.reconcileMirrors(ctx, routeID, vehicle.ID, date); err != nil {
			return fmt.Errorf("reconcile mirrors: %w", err)
		}
	}
	return nil
}

// reconcileMirrors removes cache mirrors that no live durable record
// backs. Such orphans appear when a release or finalize commits but
// the process dies before clearing the mirror; left alone they would
// make the seat look held for up to the mirror's TTL.
func (e *Engine) reconcileMirrors(ctx context.Context, routeID, vehicleID uint64, date string) error {
	mirrors, err := e.holds.ListHolds(ctx, vehicleID, date)
	if err != nil {
		return err
	}
	if len(mirrors) == 0 {
		return nil
	}
	live, err := e.seats.ListLiveForVehicleDate(ctx, vehicleID, date)
	if err != nil {
		return err
	}
	durable := make(map[string]string, len(live))
	for _, row := range live {
		durable[row.SeatLabel] = row.Status
	}
	invalidated := false
	for label := range mirrors {
		if durable[label] == model.RecordSelected {
			continue // mirror is backed by a live hold
		}
		e.dropMirror(ctx, vehicleID, label, date)
		// broadcast the durable truth: booked if promoted, else available
		status := model.StatusAvailable
		if durable[label] == model.RecordBooked {
			status = model.StatusBooked
		}
		e.broadcast(SeatEvent{
			RouteID:       routeID,
			VehicleID:     vehicleID,
			DepartureDate: date,
			SeatLabel:     label,
			Status:        status,
		})
		invalidated = true
	}
	if invalidated {
		e.invalidate(ctx, vehicleID, date)
	}
	return nil
}
