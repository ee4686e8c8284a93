package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"ledgerwatch.mini/lwm/internal/admin"
	"ledgerwatch.mini/lwm/internal/dispatch"
	"ledgerwatch.mini/lwm/internal/logger"
	"ledgerwatch.mini/lwm/internal/nodeapi"
	"ledgerwatch.mini/lwm/internal/session"
)

// Dashboard is the session surface the handlers use.
type Dashboard interface {
	View() session.View
	Refresh(ctx context.Context) error
	RefreshChain(ctx context.Context) error
	Donate(ctx context.Context, d session.Donation) (nodeapi.MessageResponse, error)
	SyncPeers(ctx context.Context) ([]admin.Leg, error)
	Mine(ctx context.Context) (nodeapi.MineResponse, error)
	Consensus(ctx context.Context) ([]admin.Leg, error)
}

// Service handles API requests
type Service struct {
	dash   Dashboard
	logger *logger.Logger
}

// NewService creates a new API service
func NewService(dash Dashboard, logger *logger.Logger) *Service {
	return &Service{
		dash:   dash,
		logger: logger,
	}
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidDonation):
		return http.StatusBadRequest
	case errors.Is(err, admin.ErrEmptyMinePool):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, dispatch.ErrAllNodesUnreachable),
		errors.Is(err, admin.ErrPartialAdminFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
