package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/miravel/transit-seat-engine/internal/inventory"
	"github.com/miravel/transit-seat-engine/internal/repository"
)

// AvailabilityHandler serves the REST availability snapshot for
// clients that poll instead of holding a websocket subscription. The
// snapshot comes from the same projector the realtime join path uses.
type AvailabilityHandler struct {
	Engine *inventory.Engine
}

// NewAvailabilityHandler constructs an AvailabilityHandler. The
// engine must be non-nil.
func NewAvailabilityHandler(engine *inventory.Engine) *AvailabilityHandler {
	if engine == nil {
		panic("nil engine passed to NewAvailabilityHandler")
	}
	return &AvailabilityHandler{Engine: engine}
}

// Get handles GET /v1/routes/:id/availability?date=YYYY-MM-DD. It
// returns the per-seat status map for the route's vehicle on that
// date, personalized so the caller's own holds show as "selected".
func (h *AvailabilityHandler) Get(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	routeID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || routeID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": inventory.CodeInvalidInput})
	}
	date := c.QueryParam("date")
	if date == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": inventory.CodeInvalidInput})
	}
	snapshot, err := h.Engine.Availability(c.Request().Context(), routeID, date, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": inventory.CodeNotFound})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": inventory.CodeServerError})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"route_id": routeID,
		"date":     date,
		"seats":    snapshot,
	})
}
