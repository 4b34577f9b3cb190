// Package payment defines the narrow payment-gateway collaborator
// boundary. The engine only needs two things from a gateway: create
// an intent for an amount carrying an opaque reference, and receive
// that reference back on the confirmation webhook. Fare calculation,
// receipts and gateway plumbing live outside this service.
package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Intent is the client-completable handle returned by the gateway.
// Reference is the idempotency key: the webhook delivers it back and
// the engine resolves the pending booking through it.
type Intent struct {
	ID           string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Reference    string `json:"reference"`
}

// Gateway creates payment intents. Implementations must never be
// called while a seat lock is held.
type Gateway interface {
	CreateIntent(ctx context.Context, amountCents uint32, reference string) (*Intent, error)
}

// FakeGateway is the in-process gateway used by tests and by default
// wiring when no real gateway is configured. It fabricates intent ids
// deterministically from the reference so assertions can predict them.
type FakeGateway struct {
	// FailNext makes the next CreateIntent call return an error,
	// for exercising the deferred-confirm failure path in tests.
	FailNext bool
}

// CreateIntent returns a fabricated intent echoing the reference.
func (g *FakeGateway) CreateIntent(ctx context.Context, amountCents uint32, reference string) (*Intent, error) {
	if g.FailNext {
		g.FailNext = false
		return nil, fmt.Errorf("gateway unavailable")
	}
	if reference == "" {
		reference = uuid.NewString()
	}
	return &Intent{
		ID:           "pi_" + reference,
		ClientSecret: "secret_" + reference,
		Reference:    reference,
	}, nil
}
