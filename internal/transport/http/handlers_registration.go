package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"accounts/internal/credential"
	"accounts/internal/platform/middleware"
	id "accounts/pkg/domain"
	dErrors "accounts/pkg/domain-errors"
	"accounts/pkg/platform/httputil"
)

// RegistrationHandler reports saga runs. The correlation id returned by
// register or delete is enough to poll its run.
type RegistrationHandler struct {
	logger       *slog.Logger
	registration RegistrationService
	jwtValidator middleware.JWTValidator
}

func NewRegistrationHandler(registration RegistrationService, logger *slog.Logger, jwtValidator middleware.JWTValidator) *RegistrationHandler {
	return &RegistrationHandler{logger: logger, registration: registration, jwtValidator: jwtValidator}
}

func (h *RegistrationHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Use(middleware.RequireRole(credential.RoleAdmin, h.logger))
		r.Get("/registrations/dead-letters", h.handleDeadLetters)
	})
	r.Get("/registrations/{correlationID}", h.handleStatus)
}

func (h *RegistrationHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	correlationID, err := id.ParseCorrelationID(chi.URLParam(r, "correlationID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid correlation id"))
		return
	}
	status, err := h.registration.Status(r.Context(), correlationID)
	if err != nil {
		logError(h.logger, r, "failed to load run status", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRunStatusResponse(status))
}

func (h *RegistrationHandler) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	dls, err := h.registration.DeadLetters(r.Context())
	if err != nil {
		logError(h.logger, r, "failed to list dead letters", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, deadLettersResponse{DeadLetters: dls, Count: len(dls)})
}
