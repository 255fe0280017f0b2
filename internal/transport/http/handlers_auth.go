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
	"accounts/pkg/requestcontext"
)

// AuthHandler serves registration, token and account endpoints under /auth.
type AuthHandler struct {
	logger       *slog.Logger
	registration RegistrationService
	auth         AuthService
	jwtValidator middleware.JWTValidator
}

func NewAuthHandler(
	registration RegistrationService,
	auth AuthService,
	logger *slog.Logger,
	jwtValidator middleware.JWTValidator) *AuthHandler {
	return &AuthHandler{
		logger:       logger,
		registration: registration,
		auth:         auth,
		jwtValidator: jwtValidator,
	}
}

func (h *AuthHandler) Register(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/register/external", h.handleRegisterExternal)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/refresh-token", h.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/auth/logout", h.handleLogout)
		r.Get("/auth/{id}", h.handleGetAccount)
		r.Delete("/auth/{id}", h.handleDeleteAccount)
	})
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[registerRequest](w, r, h.logger)
	if !ok {
		return
	}
	accepted, err := h.registration.Register(r.Context(), req.toCommand())
	if err != nil {
		h.fail(w, r, "registration rejected", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, toAcceptedResponse(accepted))
}

func (h *AuthHandler) handleRegisterExternal(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[registerExternalRequest](w, r, h.logger)
	if !ok {
		return
	}
	accepted, err := h.registration.RegisterExternal(r.Context(), req.toCommand())
	if err != nil {
		h.fail(w, r, "external registration rejected", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, toAcceptedResponse(accepted))
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[loginRequest](w, r, h.logger)
	if !ok {
		return
	}
	tokens, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, "login failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokens)
}

func (h *AuthHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[refreshRequest](w, r, h.logger)
	if !ok {
		return
	}
	tokens, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, "token refresh failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokens)
}

func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), requestcontext.CredentialID(r.Context())); err != nil {
		h.fail(w, r, "logout failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := h.ownedCredential(w, r)
	if !ok {
		return
	}
	account, err := h.auth.Lookup(r.Context(), credentialID)
	if err != nil {
		h.fail(w, r, "account lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

func (h *AuthHandler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := h.ownedCredential(w, r)
	if !ok {
		return
	}
	accepted, err := h.registration.DeleteAccount(r.Context(), credentialID)
	if err != nil {
		h.fail(w, r, "account deletion rejected", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, toAcceptedResponse(accepted))
}

// ownedCredential parses {id} and allows only its owner or an admin.
func (h *AuthHandler) ownedCredential(w http.ResponseWriter, r *http.Request) (id.CredentialID, bool) {
	ctx := r.Context()
	credentialID, err := id.ParseCredentialID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid credential id"))
		return id.CredentialID{}, false
	}
	if credentialID != requestcontext.CredentialID(ctx) && !requestcontext.HasRole(ctx, credential.RoleAdmin) {
		h.logger.WarnContext(ctx, "forbidden - not the account owner",
			"credential_id", credentialID.String(),
			"caller", requestcontext.CredentialID(ctx).String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "not allowed to access this account"))
		return id.CredentialID{}, false
	}
	return credentialID, true
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logError(h.logger, r, msg, err)
	httputil.WriteError(w, err)
}

// logError logs client mistakes at warn and everything else at error.
func logError(logger *slog.Logger, r *http.Request, msg string, err error) {
	ctx := r.Context()
	level := slog.LevelError
	if httputil.StatusFor(dErrors.CodeOf(err)) < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, msg,
		"error", err.Error(),
		"request_id", requestcontext.RequestID(ctx),
	)
}
