package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/miravel/transit-seat-engine/internal/inventory"
	"github.com/miravel/transit-seat-engine/internal/repository"
)

// PaymentWebhookHandler receives payment-gateway confirmations for
// deferred bookings. Gateways redeliver webhooks, so the settle path
// must be idempotent: a replayed confirmation returns the previously
// produced booking instead of creating a second one. The endpoint is
// authenticated by a shared webhook secret, not by user JWTs.
type PaymentWebhookHandler struct {
	Engine *inventory.Engine
	Secret string
}

// NewPaymentWebhookHandler constructs a PaymentWebhookHandler. The
// engine must be non-nil; an empty secret disables the signature
// check (dev environments).
func NewPaymentWebhookHandler(engine *inventory.Engine, secret string) *PaymentWebhookHandler {
	if engine == nil {
		panic("nil engine passed to NewPaymentWebhookHandler")
	}
	return &PaymentWebhookHandler{Engine: engine, Secret: secret}
}

// Confirm handles POST /v1/payments/webhook. The body carries the
// reference issued at intent creation and the final payment status.
// Replies: 200 with the booking on success (including replays), 404
// for unknown references, 410 when the holds lapsed before the
// confirmation arrived.
func (h *PaymentWebhookHandler) Confirm(c echo.Context) error {
	if h.Secret != "" && c.Request().Header.Get("X-Webhook-Secret") != h.Secret {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "bad webhook secret"})
	}
	var body struct {
		IntentID  string `json:"intent_id"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	if err := c.Bind(&body); err != nil || body.Reference == "" || body.Status == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": inventory.CodeInvalidInput})
	}
	succeeded := body.Status == "succeeded"

	result, err := h.Engine.SettlePayment(c.Request().Context(), body.Reference, succeeded)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": inventory.CodeNotFound})
		case errors.Is(err, repository.ErrExpired):
			// failed payment or lapsed holds: settled, nothing booked
			return c.JSON(http.StatusGone, echo.Map{"error": inventory.CodeExpired})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": inventory.CodeServerError})
		}
	}
	return c.JSON(http.StatusOK, result)
}
