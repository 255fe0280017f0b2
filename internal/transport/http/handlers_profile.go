package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"accounts/internal/platform/middleware"
	"accounts/internal/profile"
	id "accounts/pkg/domain"
	dErrors "accounts/pkg/domain-errors"
	"accounts/pkg/platform/httputil"
)

// ProfileHandler serves the authenticated /profiles endpoints.
type ProfileHandler struct {
	logger       *slog.Logger
	profiles     ProfileService
	jwtValidator middleware.JWTValidator
}

func NewProfileHandler(profiles ProfileService, logger *slog.Logger, jwtValidator middleware.JWTValidator) *ProfileHandler {
	return &ProfileHandler{logger: logger, profiles: profiles, jwtValidator: jwtValidator}
}

func (h *ProfileHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Get("/profiles", h.handleList)
		r.Get("/profiles/me/complete", h.handleCompleteness)
		r.Patch("/profiles/me", h.handleUpdateMine)
		r.Get("/profiles/{id}", h.handleGet)
	})
}

// handleList lists every profile, or those with ?role= when given.
func (h *ProfileHandler) handleList(w http.ResponseWriter, r *http.Request) {
	var (
		profiles []profile.Profile
		err      error
	)
	if r.URL.Query().Has("role") {
		profiles, err = h.profiles.FindByRole(r.Context(), r.URL.Query().Get("role"))
	} else {
		profiles, err = h.profiles.FindAll(r.Context())
	}
	if err != nil {
		logError(h.logger, r, "failed to list profiles", err)
		httputil.WriteError(w, err)
		return
	}
	if profiles == nil {
		profiles = []profile.Profile{}
	}
	httputil.WriteJSON(w, http.StatusOK, profiles)
}

func (h *ProfileHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	profileID, err := id.ParseProfileID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid profile id"))
		return
	}
	p, err := h.profiles.FindByID(r.Context(), profileID)
	if err != nil {
		logError(h.logger, r, "failed to load profile", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *ProfileHandler) handleUpdateMine(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[updateProfileRequest](w, r, h.logger)
	if !ok {
		return
	}
	p, err := h.profiles.UpdateMine(r.Context(), req.toPatch())
	if err != nil {
		logError(h.logger, r, "failed to update profile", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *ProfileHandler) handleCompleteness(w http.ResponseWriter, r *http.Request) {
	c, err := h.profiles.CompletenessOfMine(r.Context())
	if err != nil {
		logError(h.logger, r, "failed to check profile completeness", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}
