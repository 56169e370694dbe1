package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/deckward/deckward/internal/aigate"
)

// ActorHeader identifies the calling session. One actor maps to one set of
// rate windows, cooldowns, and circuits.
const ActorHeader = "X-Actor-ID"

const defaultActor = "default"

// GuardGateway is the slice of the gateway the HTTP handlers need.
type GuardGateway interface {
	Generate(ctx context.Context, req *aigate.GenerateRequest) (*aigate.GenerateResult, error)
	ValidateUpload(ctx context.Context, actor string, data []byte, declaredType string) error
	Status(ctx context.Context, actor string) (*aigate.GuardStatus, error)
}

var gateway GuardGateway

// SetGateway injects the gateway the handlers dispatch to.
func SetGateway(gw GuardGateway) {
	gateway = gw
}

// HasGateway reports whether a gateway has been injected.
func HasGateway() bool {
	return gateway != nil
}

func requireGateway(w http.ResponseWriter, r *http.Request) bool {
	if gateway != nil {
		return true
	}
	respondWithError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "Gateway not initialized"))
	return false
}

func actorID(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
		return actor
	}
	return defaultActor
}
