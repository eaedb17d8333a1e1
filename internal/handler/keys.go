package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/faucetdb/kevd/internal/model"
	"github.com/faucetdb/kevd/internal/server/middleware"
)

// KeyIssuer issues new API keys.
type KeyIssuer interface {
	IssueKey(ctx context.Context, appName string) (string, *model.Credential, error)
}

// KeyHandler issues API keys over HTTP.
type KeyHandler struct {
	issuer      KeyIssuer
	maxBodySize int64
	logger      *slog.Logger
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(issuer KeyIssuer, maxBodySize int64, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{issuer: issuer, maxBodySize: maxBodySize, logger: logger}
}

// CreateKey issues a key for the application named by the App-Name header,
// the app_name query parameter or the app_name body field. The raw key is
// returned exactly once.
// POST /api-keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	appName, err := middleware.ExtractAppName(r, h.maxBodySize)
	if err != nil {
		if errors.Is(err, middleware.ErrBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if appName == "" {
		writeError(w, http.StatusBadRequest, "app_name is required")
		return
	}

	raw, cred, err := h.issuer.IssueKey(r.Context(), appName)
	if err != nil {
		status, msg := classifyDBError(err, "Failed to issue API key")
		writeError(w, status, msg)
		return
	}

	h.logger.Info("api key issued", "app_name", cred.AppName, "key_prefix", cred.KeyPrefix)
	writeJSON(w, http.StatusCreated, model.APIKeyResponse{AppName: cred.AppName, APIKey: raw})
}
