package inventory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/miravel/transit-seat-engine/internal/repository"
)

func TestReasonCode(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{repository.ErrSeatLocked, CodeSeatLocked},
		{repository.ErrSeatHeld, CodeSeatHeld},
		{repository.ErrSeatBooked, CodeSeatBooked},
		{repository.ErrNotOwner, CodeNotOwner},
		{repository.ErrNoHold, CodeNoHold},
		{repository.ErrExpired, CodeExpired},
		{repository.ErrNotFound, CodeNotFound},
		{fmt.Errorf("wrapped: %w", repository.ErrSeatHeld), CodeSeatHeld},
		{fmt.Errorf("redis timeout"), CodeServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, ReasonCode(tc.err), "err=%v", tc.err)
	}
}
