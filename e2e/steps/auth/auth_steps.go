package auth

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string, headers map[string]string) error
	DELETE(path string) error
	GetResponseField(field string) (any, error)
	LastStatus() int
	Unique(s string) string
	SetAccessToken(token string)
	GetRefreshToken() string
	SetRefreshToken(token string)
	Save(key, value string)
	Saved(key string) string
}

// RegisterSteps registers registration, login and account step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &authSteps{tc: tc}

	ctx.Step(`^I register with email "([^"]*)" and name "([^"]*)"$`, steps.register)
	ctx.Step(`^I register with email "([^"]*)" and password "([^"]*)"$`, steps.registerWithPassword)
	ctx.Step(`^I log in with email "([^"]*)" and password "([^"]*)"$`, steps.login)
	ctx.Step(`^I save the tokens$`, steps.saveTokens)
	ctx.Step(`^I refresh my tokens$`, steps.refresh)
	ctx.Step(`^I request my account$`, steps.getMyAccount)
	ctx.Step(`^I delete my account$`, steps.deleteMyAccount)
}

const defaultPassword = "correct horse battery"

type authSteps struct {
	tc TestContext
}

func (s *authSteps) register(ctx context.Context, email, name string) error {
	return s.post(email, defaultPassword, name)
}

func (s *authSteps) registerWithPassword(ctx context.Context, email, password string) error {
	return s.post(email, password, "Ada")
}

func (s *authSteps) post(email, password, name string) error {
	err := s.tc.POST("/auth/register", map[string]any{
		"email":    s.tc.Unique(email),
		"password": password,
		"name":     name,
		"lastname": "Tester",
		"age":      30,
	})
	if err != nil {
		return err
	}
	if s.tc.LastStatus() != 202 {
		return nil
	}
	for _, field := range []string{"credential_id", "correlation_id", "status_url"} {
		v, err := s.tc.GetResponseField(field)
		if err != nil {
			return err
		}
		s.tc.Save(field, fmt.Sprint(v))
	}
	return nil
}

func (s *authSteps) login(ctx context.Context, email, password string) error {
	if password == "the default password" {
		password = defaultPassword
	}
	return s.tc.POST("/auth/login", map[string]any{
		"email":    s.tc.Unique(email),
		"password": password,
	})
}

func (s *authSteps) saveTokens(ctx context.Context) error {
	access, err := s.tc.GetResponseField("access_token")
	if err != nil {
		return err
	}
	refresh, err := s.tc.GetResponseField("refresh_token")
	if err != nil {
		return err
	}
	s.tc.SetAccessToken(fmt.Sprint(access))
	s.tc.SetRefreshToken(fmt.Sprint(refresh))
	return nil
}

func (s *authSteps) refresh(ctx context.Context) error {
	return s.tc.POST("/auth/refresh-token", map[string]any{"refresh_token": s.tc.GetRefreshToken()})
}

func (s *authSteps) getMyAccount(ctx context.Context) error {
	return s.tc.GET("/auth/"+s.tc.Saved("credential_id"), nil)
}

func (s *authSteps) deleteMyAccount(ctx context.Context) error {
	if err := s.tc.DELETE("/auth/" + s.tc.Saved("credential_id")); err != nil {
		return err
	}
	if s.tc.LastStatus() != 202 {
		return nil
	}
	statusURL, err := s.tc.GetResponseField("status_url")
	if err != nil {
		return err
	}
	s.tc.Save("status_url", fmt.Sprint(statusURL))
	return nil
}
