package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/animehub/backend/internal/anime"
	"github.com/animehub/backend/internal/logging"
)

const (
	codeInvalidParameter = "invalid_parameter"
	codeNotFound         = "not_found"
	codeUpstream         = "upstream_unavailable"
	codeInternal         = "internal_error"
	codeRateLimited      = "rate_limited"
	codeMethod           = "method_not_allowed"
	codeUnauthorized     = "unauthorized"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Meta    any       `json:"meta,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondData(ctx context.Context, w http.ResponseWriter, data, meta any) {
	respondJSON(ctx, w, http.StatusOK, envelope{Success: true, Data: data, Meta: meta})
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	respondJSON(ctx, w, status, envelope{Error: &apiError{Code: code, Message: message}})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	for _, m := range allowed {
		if r.Method == m {
			return false
		}
	}
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	respondError(r.Context(), w, http.StatusMethodNotAllowed, codeMethod, "method not allowed")
	return true
}

// respondServiceError maps aggregator errors onto HTTP statuses. Upstream
// details are logged, never echoed.
func respondServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var vErr *anime.ValidationError
	switch {
	case errors.As(err, &vErr):
		respondError(ctx, w, http.StatusBadRequest, codeInvalidParameter, vErr.Error())
	case errors.Is(err, anime.ErrValidation):
		respondError(ctx, w, http.StatusBadRequest, codeInvalidParameter, "invalid parameter")
	case errors.Is(err, anime.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, codeNotFound, "anime not found")
	case errors.Is(err, anime.ErrAllProvidersFailed):
		logging.FromContext(ctx).Error("providers unavailable", slog.String("error", err.Error()))
		respondError(ctx, w, http.StatusBadGateway, codeUpstream, "anime data is temporarily unavailable")
	default:
		logging.FromContext(ctx).Error("unexpected service error", slog.String("error", err.Error()))
		respondError(ctx, w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}
