package e2e

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
)

// TestFeatures needs a running service at ACCOUNTS_BASE_URL. Scenarios tagged
// @faults also need FAULT_PROFILE_NAME=fail on the server and run only when
// ACCOUNTS_E2E_FAULTS is set.
func TestFeatures(t *testing.T) {
	baseURL := os.Getenv("ACCOUNTS_BASE_URL")
	if baseURL == "" {
		t.Skip("ACCOUNTS_BASE_URL not set")
	}
	tags := "~@faults"
	if os.Getenv("ACCOUNTS_E2E_FAULTS") != "" {
		tags = ""
	}

	tc := NewTestContext(baseURL)
	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
				tc.Reset(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
				return ctx, nil
			})
			RegisterSteps(ctx, tc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Tags:     tags,
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
