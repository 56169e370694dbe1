package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/deckward/deckward/internal/aigate"
	apperrors "github.com/deckward/deckward/internal/errors"
)

// maxGenerateBody bounds the request body; prompts are further capped by
// content screening inside the gateway.
const maxGenerateBody = 1 << 20

// GenerateRequest is the POST /v1/generate body.
type GenerateRequest struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	System   string `json:"system,omitempty"`
	Prompt   string `json:"prompt"`
}

// GenerateHandler runs one guarded generation for the calling actor.
func GenerateHandler(w http.ResponseWriter, r *http.Request) {
	if !requireGateway(w, r) {
		return
	}

	var req GenerateRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGenerateBody))
	if err := decoder.Decode(&req); err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("Request body must be valid JSON"))
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("prompt is required"))
		return
	}

	result, err := gateway.Generate(r.Context(), &aigate.GenerateRequest{
		Actor:    actorID(r),
		Provider: req.Provider,
		Model:    req.Model,
		System:   req.System,
		Prompt:   req.Prompt,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}
