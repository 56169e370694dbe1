package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/deckward/deckward/internal/errors"
	"github.com/deckward/deckward/internal/filesec"
)

// UploadValidationResponse is returned when every file check passed.
type UploadValidationResponse struct {
	Status string `json:"status"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
}

// ValidateUploadHandler runs the file security checks on the request body.
// The declared type comes from the `type` query parameter.
func ValidateUploadHandler(w http.ResponseWriter, r *http.Request) {
	if !requireGateway(w, r) {
		return
	}

	declaredType := strings.TrimSpace(r.URL.Query().Get("type"))
	if declaredType == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("type query parameter is required"))
		return
	}

	// One byte past the ceiling is enough to detect an oversized upload
	// without buffering an unbounded body.
	data, err := io.ReadAll(io.LimitReader(r.Body, filesec.MaxFileSize+1))
	if err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("failed to read request body"))
		return
	}

	if err := gateway.ValidateUpload(r.Context(), actorID(r), data, declaredType); err != nil {
		respondWithError(w, r, err)
		return
	}

	response := UploadValidationResponse{
		Status: "accepted",
		Type:   declaredType,
		Size:   int64(len(data)),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
