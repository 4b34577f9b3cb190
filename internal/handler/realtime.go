package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/miravel/transit-seat-engine/internal/inventory"
	"github.com/miravel/transit-seat-engine/internal/realtime"
)

// RealtimeHandler upgrades authenticated connections to websocket
// sessions attached to the hub. All seat operations flow through the
// session's frame protocol from here on; this handler only performs
// the upgrade.
type RealtimeHandler struct {
	Hub      *realtime.Hub
	Engine   *inventory.Engine
	upgrader websocket.Upgrader
}

// NewRealtimeHandler constructs a RealtimeHandler. Hub and engine
// must be non-nil.
func NewRealtimeHandler(hub *realtime.Hub, engine *inventory.Engine) *RealtimeHandler {
	if hub == nil || engine == nil {
		panic("nil dependency passed to NewRealtimeHandler")
	}
	return &RealtimeHandler{
		Hub:    hub,
		Engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// cross-origin viewers are expected; auth happens via JWT
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Attach handles GET /v1/realtime. The JWT middleware has already
// authenticated the user (via header or ?token=). The handler blocks
// on the session until the connection closes.
func (h *RealtimeHandler) Attach(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		return nil
	}
	session := realtime.NewSession(h.Hub, h.Engine, conn, userID)
	session.Run()
	return nil
}
