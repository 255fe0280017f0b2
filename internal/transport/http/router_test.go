package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	authservice "accounts/internal/auth/service"
	"accounts/internal/credential"
	"accounts/internal/platform/metrics"
	"accounts/internal/platform/middleware"
	"accounts/internal/profile"
	profileservice "accounts/internal/profile/service"
	"accounts/internal/registration"
	"accounts/internal/registration/models"
	"accounts/internal/transport/http/mocks"
	id "accounts/pkg/domain"
	dErrors "accounts/pkg/domain-errors"
	"accounts/pkg/platform/audit"
	"accounts/pkg/requestcontext"
	"accounts/pkg/testutil"
)

const (
	userToken  = "user-token"
	adminToken = "admin-token"
)

type tokenTable map[string]*middleware.JWTClaims

func (t tokenTable) ValidateToken(_ context.Context, token string) (*middleware.JWTClaims, error) {
	if c, ok := t[token]; ok {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

type RouterSuite struct {
	suite.Suite
	registration *mocks.MockRegistrationService
	auth         *mocks.MockAuthService
	profiles     *mocks.MockProfileService
	metrics      *metrics.Metrics
	router       http.Handler

	user  id.CredentialID
	admin id.CredentialID
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.registration = mocks.NewMockRegistrationService(ctrl)
	s.auth = mocks.NewMockAuthService(ctrl)
	s.profiles = mocks.NewMockProfileService(ctrl)
	s.metrics = metrics.New()
	s.user = id.NewCredentialID()
	s.admin = id.NewCredentialID()

	s.router = NewRouter(Deps{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: s.metrics,
		JWTValidator: tokenTable{
			userToken:  {CredentialID: s.user, Roles: []string{credential.RoleUser}},
			adminToken: {CredentialID: s.admin, Roles: []string{credential.RoleUser, credential.RoleAdmin}},
		},
		Registration: s.registration,
		Auth:         s.auth,
		Profiles:     s.profiles,
		HealthChecks: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
		},
	})
}

func (s *RouterSuite) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *RouterSuite) TestRegisterAccepted() {
	accepted := &registration.Accepted{
		Message:       "Registration process started.",
		CredentialID:  id.NewCredentialID(),
		ProfileID:     id.NewProfileID(),
		CorrelationID: id.NewCorrelationID(),
	}
	s.registration.EXPECT().Register(gomock.Any(), registration.RegistrationRequest{
		Email:    "ada@example.com",
		Password: "correct horse",
		Name:     "Ada",
		Lastname: "Lovelace",
		Age:      36,
	}).Return(accepted, nil)

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/register", map[string]any{
		"email": "ada@example.com", "password": "correct horse", "name": "Ada", "lastname": "Lovelace", "age": 36,
	}), "")

	testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
	resp := testutil.UnmarshalResponse[acceptedResponse](s.T(), rr)
	s.Equal(accepted.CorrelationID, resp.CorrelationID)
	s.Equal("/registrations/"+accepted.CorrelationID.String(), resp.StatusURL)
	s.NotEmpty(rr.Header().Get(middleware.RequestIDHeader))
}

func (s *RouterSuite) TestRegisterConflictMapsTo409() {
	s.registration.EXPECT().Register(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeConflict, "email already registered"))

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/register", map[string]any{
		"email": "ada@example.com", "password": "correct horse", "name": "Ada", "lastname": "Lovelace",
	}), "")

	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeConflict))
}

func (s *RouterSuite) TestRegisterRejectsMalformedBodies() {
	cases := map[string]string{
		"not json":      `{"email":`,
		"unknown field": `{"email":"a@b.c","password":"x","admin":true}`,
		"missing email": `{"password":"correct horse"}`,
	}
	for name, body := range cases {
		s.Run(name, func() {
			rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/auth/register", body), "")
			testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		})
	}
}

func (s *RouterSuite) TestRegisterRejectsNonJSONContentType() {
	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/auth/register", "email=a")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := s.do(req, "")
	s.Equal(http.StatusUnsupportedMediaType, rr.Code)
}

func (s *RouterSuite) TestRegisterExternal() {
	accepted := &registration.Accepted{CorrelationID: id.NewCorrelationID()}
	s.registration.EXPECT().RegisterExternal(gomock.Any(), registration.ExternalRegistrationRequest{
		Email: "ada@example.com", ExternalID: "google|42", Name: "Ada", Lastname: "Lovelace",
	}).Return(accepted, nil)

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/register/external", map[string]any{
		"email": "ada@example.com", "external_id": "google|42", "name": "Ada", "lastname": "Lovelace",
	}), "")

	testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
}

func (s *RouterSuite) TestLoginAndRefresh() {
	pair := &authservice.TokenPair{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", ExpiresIn: 900}
	s.auth.EXPECT().Login(gomock.Any(), "ada@example.com", "correct horse").Return(pair, nil)
	s.auth.EXPECT().Refresh(gomock.Any(), "r").Return(pair, nil)

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/login", loginRequest{
		Email: "ada@example.com", Password: "correct horse",
	}), "")
	testutil.AssertStatusOK(s.T(), rr)
	s.Equal("a", testutil.UnmarshalResponse[authservice.TokenPair](s.T(), rr).AccessToken)

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/refresh-token", refreshRequest{RefreshToken: "r"}), "")
	testutil.AssertStatusOK(s.T(), rr)
}

func (s *RouterSuite) TestLoginFailureIs401() {
	s.auth.EXPECT().Login(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials"))

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/login", loginRequest{
		Email: "ada@example.com", Password: "wrong",
	}), "")

	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
}

func (s *RouterSuite) TestLogoutUsesCallerCredential() {
	s.auth.EXPECT().Logout(gomock.Any(), s.user).Return(nil)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, "/auth/logout"), userToken)
	s.Equal(http.StatusNoContent, rr.Code)
}

func (s *RouterSuite) TestProtectedRoutesRequireToken() {
	for _, path := range []string{"/auth/" + s.user.String(), "/profiles", "/profiles/me/complete", "/registrations/dead-letters"} {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, path), "")
		s.Equal(http.StatusUnauthorized, rr.Code, path)

		rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, path), "forged")
		s.Equal(http.StatusUnauthorized, rr.Code, path)
	}
}

func (s *RouterSuite) TestAccountLookupOwnerOnly() {
	s.auth.EXPECT().Lookup(gomock.Any(), s.user).Return(&authservice.Account{ID: s.user, Email: "ada@example.com"}, nil).Times(2)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/auth/"+s.user.String()), userToken)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "email", "ada@example.com")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/auth/"+s.user.String()), adminToken)
	testutil.AssertStatusOK(s.T(), rr)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/auth/"+s.admin.String()), userToken)
	testutil.AssertStatus(s.T(), rr, http.StatusForbidden)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/auth/not-a-uuid"), userToken)
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
}

func (s *RouterSuite) TestDeleteAccount() {
	corr := id.NewCorrelationID()
	s.registration.EXPECT().DeleteAccount(gomock.Any(), s.user).
		Return(&registration.Accepted{Message: "Account deletion started.", CredentialID: s.user, CorrelationID: corr}, nil)
	s.registration.EXPECT().DeleteAccount(gomock.Any(), s.user).
		Return(nil, dErrors.New(dErrors.CodeNotFound, "account not found"))

	rr := s.do(testutil.NewRequest(s.T(), http.MethodDelete, "/auth/"+s.user.String()), userToken)
	testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
	testutil.AssertJSONContains(s.T(), rr, "correlation_id", corr.String())

	rr = s.do(testutil.NewRequest(s.T(), http.MethodDelete, "/auth/"+s.user.String()), userToken)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func (s *RouterSuite) TestProfileListing() {
	all := []profile.Profile{{ID: id.NewProfileID(), Role: "user"}, {ID: id.NewProfileID(), Role: "admin"}}
	s.profiles.EXPECT().FindAll(gomock.Any()).Return(all, nil)
	s.profiles.EXPECT().FindByRole(gomock.Any(), "admin").Return(all[1:], nil)
	s.profiles.EXPECT().FindByRole(gomock.Any(), "").Return(nil, dErrors.New(dErrors.CodeValidation, "role is required"))

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/profiles"), userToken)
	testutil.AssertStatusOK(s.T(), rr)
	s.Len(*testutil.UnmarshalResponse[[]profile.Profile](s.T(), rr), 2)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/profiles?role=admin"), userToken)
	testutil.AssertStatusOK(s.T(), rr)
	s.Len(*testutil.UnmarshalResponse[[]profile.Profile](s.T(), rr), 1)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/profiles?role="), userToken)
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
}

func (s *RouterSuite) TestEmptyProfileListIsArray() {
	s.profiles.EXPECT().FindAll(gomock.Any()).Return(nil, nil)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/profiles"), userToken)
	testutil.AssertStatusOK(s.T(), rr)
	s.JSONEq(`[]`, rr.Body.String())
}

func (s *RouterSuite) TestProfileByID() {
	p := &profile.Profile{ID: id.NewProfileID(), Name: "Ada"}
	s.profiles.EXPECT().FindByID(gomock.Any(), p.ID).Return(p, nil)
	missing := id.NewProfileID()
	s.profiles.EXPECT().FindByID(gomock.Any(), missing).Return(nil, dErrors.New(dErrors.CodeNotFound, "profile not found"))

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/profiles/"+p.ID.String()), userToken)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "name", "Ada")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/profiles/"+missing.String()), userToken)
	testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
}

func (s *RouterSuite) TestUpdateMyProfile() {
	name := "Grace"
	s.profiles.EXPECT().UpdateMine(gomock.Any(), profile.Patch{Name: &name}).
		DoAndReturn(func(ctx context.Context, _ profile.Patch) (*profile.Profile, error) {
			s.Equal(s.user, requestcontext.CredentialID(ctx))
			return &profile.Profile{Name: name}, nil
		})

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPatch, "/profiles/me", map[string]any{"name": name}), userToken)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "name", "Grace")
}

func (s *RouterSuite) TestProfileCompleteness() {
	s.profiles.EXPECT().CompletenessOfMine(gomock.Any()).
		Return(&profileservice.Completeness{Complete: false, Missing: []string{"age"}}, nil)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/profiles/me/complete"), userToken)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "complete", false)
}

func (s *RouterSuite) TestRunStatusHidesClientMetadata() {
	corr := id.NewCorrelationID()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.registration.EXPECT().Status(gomock.Any(), corr).Return(&registration.RunStatus{
		Run: models.Run{CorrelationID: corr, Saga: models.SagaRegistration, State: models.StateCompensated, Reason: "name rejected"},
		Trail: []audit.Event{
			{Action: audit.EventCredentialCreated, ClientIP: "10.0.0.1", Device: "Chrome on Linux", Timestamp: now},
			{Action: audit.EventProfileCreationFailed, Reason: "name rejected", Timestamp: now},
		},
	}, nil)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/registrations/"+corr.String()), "")
	testutil.AssertStatusOK(s.T(), rr)
	body := rr.Body.String()
	s.NotContains(body, "10.0.0.1")
	s.NotContains(body, "Chrome")

	resp := testutil.UnmarshalResponse[runStatusResponse](s.T(), rr)
	s.Equal(models.StateCompensated, resp.State)
	s.True(resp.Terminal)
	s.Len(resp.Trail, 2)
}

func (s *RouterSuite) TestRunStatusBadID() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/registrations/nope"), "")
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
}

func (s *RouterSuite) TestDeadLettersAdminOnly() {
	s.registration.EXPECT().DeadLetters(gomock.Any()).Return([]models.DeadLetter{{Cause: "compensation failed"}}, nil)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/registrations/dead-letters"), userToken)
	testutil.AssertStatus(s.T(), rr, http.StatusForbidden)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/registrations/dead-letters"), adminToken)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "count", float64(1))
}

func (s *RouterSuite) TestHealth() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/health"), "")
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "status", "ok")
}

func (s *RouterSuite) TestHealthDegraded() {
	router := NewRouter(Deps{
		HealthChecks: map[string]HealthCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		},
	})
	rr := testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, "/health"))
	s.Equal(http.StatusServiceUnavailable, rr.Code)
	s.Contains(rr.Body.String(), "connection refused")
}

func (s *RouterSuite) TestMetricsExposeRouteLatency() {
	s.do(testutil.NewRequest(s.T(), http.MethodGet, "/health"), "")

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/metrics"), "")
	testutil.AssertStatusOK(s.T(), rr)
	s.True(strings.Contains(rr.Body.String(), `route="/health"`))
}

func (s *RouterSuite) TestPanicsBecome500() {
	s.profiles.EXPECT().FindAll(gomock.Any()).DoAndReturn(func(context.Context) ([]profile.Profile, error) {
		panic("boom")
	})

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/profiles"), userToken)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, string(dErrors.CodeInternal))
}

func (s *RouterSuite) TestLogoutHandlerWithoutMiddleware() {
	h := NewAuthHandler(s.registration, s.auth, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	s.auth.EXPECT().Logout(gomock.Any(), s.admin).Return(dErrors.New(dErrors.CodeUnavailable, "credential store unavailable"))

	req := testutil.WithRequestID(testutil.NewRequest(s.T(), http.MethodPost, "/auth/logout"), "req-1")
	req = testutil.WithCredential(req, s.admin, credential.RoleAdmin)
	rr := httptest.NewRecorder()
	h.handleLogout(rr, req)

	testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, string(dErrors.CodeUnavailable))
}
