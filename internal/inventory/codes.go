package inventory

import (
	"errors"

	"github.com/miravel/transit-seat-engine/internal/repository"
)

// Reason codes returned on acks and webhook replies. Business
// conflicts are always returned synchronously with one of these
// codes, never raised as fatal errors.
const (
	CodeInvalidInput = "invalid_input"
	CodeSeatLocked   = "seat_locked"
	CodeSeatHeld     = "seat_held"
	CodeSeatBooked   = "seat_booked"
	CodeNotOwner     = "not_owner"
	CodeNoHold       = "no_hold"
	CodeExpired      = "expired"
	CodeNotFound     = "not_found"
	CodeServerError  = "server_error"
)

// ReasonCode maps an engine error to its protocol reason code.
// Unrecognized errors are storage or cache failures and map to
// server_error.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, repository.ErrSeatLocked):
		return CodeSeatLocked
	case errors.Is(err, repository.ErrSeatHeld):
		return CodeSeatHeld
	case errors.Is(err, repository.ErrSeatBooked):
		return CodeSeatBooked
	case errors.Is(err, repository.ErrNotOwner):
		return CodeNotOwner
	case errors.Is(err, repository.ErrNoHold):
		return CodeNoHold
	case errors.Is(err, repository.ErrExpired):
		return CodeExpired
	case errors.Is(err, repository.ErrNotFound):
		return CodeNotFound
	default:
		return CodeServerError
	}
}
