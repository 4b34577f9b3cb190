// Package repository defines error types that are reused across
// multiple repositories and by the inventory engine. These sentinel
// values let higher layers map failure scenarios to protocol reason
// codes without inspecting error strings. For example, ErrSeatHeld
// signals a business conflict the caller can only resolve by picking
// another seat, while ErrSeatLocked is a transient contention failure
// that is safe to retry.
package repository

import "errors"

// ErrNotFound is returned when a vehicle, seat, route or booking
// referenced by a request does not exist. Mapped to the "not_found"
// reason code.
var ErrNotFound = errors.New("not found")

// ErrSeatLocked is returned when the per-seat lock could not be
// acquired because another hold attempt is in flight. Transient;
// callers may retry. Mapped to "seat_locked".
var ErrSeatLocked = errors.New("seat locked")

// ErrSeatHeld is returned when a live SELECTED record owned by a
// different user already covers the (seat, date). Mapped to
// "seat_held".
var ErrSeatHeld = errors.New("seat held by another user")

// ErrSeatBooked is returned when the (seat, date) carries a permanent
// BOOKED record. Mapped to "seat_booked".
var ErrSeatBooked = errors.New("seat already booked")

// ErrNotOwner is returned when a release or extension is attempted by
// a user who does not own the live hold. Mapped to "not_owner".
var ErrNotOwner = errors.New("not the hold owner")

// ErrNoHold is returned when a release or confirmation references a
// (seat, date) with no live SELECTED record. Mapped to "no_hold".
var ErrNoHold = errors.New("no active hold")

// ErrExpired is returned when a hold lapsed between check and use,
// for example between loading holds and promoting them during
// confirmation. Mapped to "expired".
var ErrExpired = errors.New("hold expired")
