// Package aigate dispatches generation requests to AI providers with the
// full guard sequence applied around every call: rate limits, cooldown,
// concurrency ceiling, circuit breaker, request signing, certificate
// pinning, and response validation.
package aigate

import (
	"context"
	"fmt"
	"strings"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/deckward/deckward/internal/aigate/driver"
	apperrors "github.com/deckward/deckward/internal/errors"
	"github.com/deckward/deckward/internal/filesec"
	"github.com/deckward/deckward/internal/guard/circuit"
	"github.com/deckward/deckward/internal/guard/ratelimit"
	"github.com/deckward/deckward/internal/guard/state"
	"github.com/deckward/deckward/internal/metrics"
	"github.com/deckward/deckward/internal/pinning"
	"github.com/deckward/deckward/internal/signing"
	"github.com/deckward/deckward/internal/validate"
)

// DefaultCallTimeout bounds one provider call.
const DefaultCallTimeout = 30 * time.Second

// Gateway composes the guards around provider dispatch.
type Gateway struct {
	Limiter *ratelimit.Limiter
	Breaker *circuit.Breaker
	Signer  *signing.Signer
	Files   *filesec.Validator
	Drivers map[string]driver.Driver

	DefaultProvider string
	CallTimeout     time.Duration

	providers map[string]ProviderConfig
}

// New wires a gateway from provider configuration and the guard components.
func New(providers map[string]ProviderConfig, defaultProvider string, limiter *ratelimit.Limiter, breaker *circuit.Breaker, signer *signing.Signer, pinner *pinning.Pinner) (*Gateway, error) {
	drivers, err := buildDrivers(providers, pinner)
	if err != nil {
		return nil, err
	}
	if len(drivers) == 0 {
		return nil, fmt.Errorf("no enabled providers configured")
	}

	return &Gateway{
		Limiter:         limiter,
		Breaker:         breaker,
		Signer:          signer,
		Files:           filesec.NewValidator(),
		Drivers:         drivers,
		DefaultProvider: defaultProvider,
		CallTimeout:     DefaultCallTimeout,
		providers:       providers,
	}, nil
}

// GenerateRequest is one guarded generation call on behalf of an actor.
type GenerateRequest struct {
	Actor    string
	Provider string
	Model    string
	System   string
	Prompt   string
}

// GenerateResult carries the validated pages plus the diagnostics for any
// segments the lenient parse dropped.
type GenerateResult struct {
	Provider    string                `json:"provider"`
	Model       string                `json:"model"`
	Pages       []validate.Page       `json:"pages"`
	Diagnostics []validate.Diagnostic `json:"diagnostics,omitempty"`
	Duration    time.Duration         `json:"-"`
}

// Generate runs the guard sequence and dispatches to the provider.
//
// Guard ordering is load-bearing: every check happens before the provider
// call, the circuit outcome is recorded after it on both paths, and the
// concurrency slot is released on every exit path via the deferred release.
func (g *Gateway) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if g == nil || g.Limiter == nil || g.Breaker == nil {
		return nil, fmt.Errorf("gateway not configured")
	}

	providerID := strings.TrimSpace(req.Provider)
	if providerID == "" {
		providerID = g.DefaultProvider
	}
	drv, ok := g.Drivers[providerID]
	if !ok {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unknown provider %q", providerID))
	}

	cfg := g.providers[providerID]
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(cfg.Model)
	}
	if model == "" {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("model not configured for provider %q", providerID))
	}

	// User-originated text is screened before it reaches a provider.
	if err := validate.ScreenContent(req.Prompt); err != nil {
		return nil, reject(err)
	}

	allowed, wait, err := g.Limiter.CheckLimit(ctx, req.Actor, state.KindGeneration)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, reject(apperrors.NewRateLimitExceeded(string(state.KindGeneration), wait))
	}

	ready, wait, err := g.Limiter.CheckCooldown(ctx, req.Actor)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, reject(apperrors.NewCooldownActive(wait))
	}

	if err := g.Limiter.Record(ctx, req.Actor, state.KindGeneration); err != nil {
		return nil, reject(err)
	}
	if err := g.Limiter.RecordCooldownEvent(ctx, req.Actor); err != nil {
		return nil, err
	}

	release, err := g.Limiter.EnterConcurrent(ctx, req.Actor)
	if err != nil {
		return nil, reject(err)
	}
	defer release()

	if err := g.Breaker.Check(ctx, req.Actor, providerID); err != nil {
		return nil, reject(err)
	}

	signature, err := g.sign(providerID, model, req.Prompt, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout())
	defer cancel()

	start := time.Now()
	resp, err := drv.Complete(callCtx, &driver.Request{
		Model:     model,
		System:    req.System,
		Prompt:    req.Prompt,
		Signature: signature,
	})
	duration := time.Since(start)

	// The circuit outcome is recorded even when the caller's context has
	// expired; a timeout counts as a failure.
	recordCtx := context.WithoutCancel(ctx)
	if err != nil {
		_ = g.Breaker.RecordFailure(recordCtx, req.Actor, providerID)
		metrics.RecordGeneration(providerID, false, duration)
		return nil, err
	}
	_ = g.Breaker.RecordSuccess(recordCtx, req.Actor, providerID)
	metrics.RecordGeneration(providerID, true, duration)

	text, err := validate.ExtractText(drv.Name(), resp.RawBody)
	if err != nil {
		return nil, err
	}
	if err := validate.ScreenContent(text); err != nil {
		return nil, err
	}
	pages, diagnostics, err := validate.ParsePages(text)
	if err != nil {
		return nil, err
	}

	return &GenerateResult{
		Provider:    providerID,
		Model:       model,
		Pages:       pages,
		Diagnostics: diagnostics,
		Duration:    duration,
	}, nil
}

// ValidateUpload runs the file-processing rate budget and the file security
// checks for one uploaded document.
func (g *Gateway) ValidateUpload(ctx context.Context, actor string, data []byte, declaredType string) error {
	if g == nil || g.Limiter == nil {
		return fmt.Errorf("gateway not configured")
	}

	allowed, wait, err := g.Limiter.CheckLimit(ctx, actor, state.KindFileProcessing)
	if err != nil {
		return err
	}
	if !allowed {
		return reject(apperrors.NewRateLimitExceeded(string(state.KindFileProcessing), wait))
	}
	if err := g.Limiter.Record(ctx, actor, state.KindFileProcessing); err != nil {
		return reject(err)
	}

	err = g.Files.Validate(ctx, data, declaredType)
	metrics.RecordFileValidation(declaredType, err == nil)
	return err
}

// GuardStatus is one actor's view of every guard.
type GuardStatus struct {
	Limits   *ratelimit.Snapshot             `json:"limits"`
	Circuits map[string]*state.CircuitRecord `json:"circuits"`
}

// Status reports the current guard state for one actor.
func (g *Gateway) Status(ctx context.Context, actor string) (*GuardStatus, error) {
	if g == nil || g.Limiter == nil || g.Breaker == nil {
		return nil, fmt.Errorf("gateway not configured")
	}

	limits, err := g.Limiter.Status(ctx, actor)
	if err != nil {
		return nil, err
	}
	circuits, err := g.Breaker.Snapshot(ctx, actor)
	if err != nil {
		return nil, err
	}

	return &GuardStatus{Limits: limits, Circuits: circuits}, nil
}

// sign is skipped when no signer or key is configured.
func (g *Gateway) sign(service, model, prompt, key string) (string, error) {
	if g.Signer == nil || strings.TrimSpace(key) == "" {
		return "", nil
	}
	return g.Signer.Sign(service, map[string]any{"model": model, "prompt": prompt}, key)
}

func (g *Gateway) callTimeout() time.Duration {
	if g != nil && g.CallTimeout > 0 {
		return g.CallTimeout
	}
	return DefaultCallTimeout
}

// reject counts a guard rejection before returning it.
func reject(err error) error {
	if envelope, ok := err.(*gferrors.ErrorEnvelope); ok {
		metrics.RecordGuardRejection(envelope.Code)
	}
	return err
}
