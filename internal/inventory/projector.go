package inventory

import (
	"context"
	"log"

	"github.com/miravel/transit-seat-engine/internal/cache"
	"github.com/miravel/transit-seat-engine/internal/model"
	"github.com/miravel/transit-seat-engine/internal/repository"
)

// Snapshot maps every seat label of a departure to its status from
// one viewer's perspective: available, held, selected (held by the
// viewer) or booked.
type Snapshot map[string]string

// Availability computes the per-seat status map for the route's
// active vehicle on a date. The viewer-independent projection is
// cached briefly in Redis and invalidated on every write touching the
// (vehicle, date); on a miss or a cache failure it is recomputed in
// full from the durable store, which always remains sufficient on its
// own. Precedence per seat: booked > held-by-other > selected-by-
// viewer > available.
func (e *Engine) Availability(ctx context.Context, routeID uint64, date string, viewerID uint64) (Snapshot, error) {
	date, err := model.ParseDepartureDate(date)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	vehicle, err := e.vehicles.GetActiveByRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	return e.availabilityForVehicle(ctx, vehicle, date, viewerID)
}

func (e *Engine) availabilityForVehicle(ctx context.Context, vehicle *repository.VehicleInfo, date string, viewerID uint64) (Snapshot, error) {
	cached, err := e.holds.GetSnapshot(ctx, vehicle.ID, date)
	if err != nil {
		log.Printf("inventory: snapshot cache read %d/%s: %v", vehicle.ID, date, err)
		cached = nil
	}
	if cached == nil {
		cached, err = e.buildSnapshot(ctx, vehicle.ID, date)
		if err != nil {
			return nil, err
		}
		if err := e.holds.SetSnapshot(ctx, vehicle.ID, date, cached, e.cfg.ProjectionTTL); err != nil {
			log.Printf("inventory: snapshot cache write %d/%s: %v", vehicle.ID, date, err)
		}
	}

	snap := make(Snapshot, len(cached))
	for label, seat := range cached {
		status := seat.Status
		if status == model.StatusHeld && seat.UserID == viewerID {
			status = model.StatusSelected
		}
		snap[label] = status
	}
	return snap, nil
}

// buildSnapshot recomputes the viewer-independent projection from the
// durable store: the full seat layout seeded available, overlaid with
// every live record.
func (e *Engine) buildSnapshot(ctx context.Context, vehicleID uint64, date string) (map[string]cache.CachedSeat, error) {
	layout, err := e.vehicles.SeatsByVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]cache.CachedSeat, len(layout))
	for _, seat := range layout {
		snap[seat.Label] = cache.CachedSeat{Status: model.StatusAvailable}
	}
	live, err := e.seats.ListLiveForVehicleDate(ctx, vehicleID, date)
	if err != nil {
		return nil, err
	}
	for _, row := range live {
		entry := cache.CachedSeat{UserID: row.UserID, ExpiresAt: row.ExpiresAt}
		if row.Status == model.RecordBooked {
			entry.Status = model.StatusBooked
		} else {
			entry.Status = model.StatusHeld
		}
		snap[row.SeatLabel] = entry
	}
	return snap, nil
}
