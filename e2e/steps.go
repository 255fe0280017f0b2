package e2e

import (
	"github.com/cucumber/godog"

	"accounts/e2e/steps/auth"
	"accounts/e2e/steps/common"
	"accounts/e2e/steps/registration"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	auth.RegisterSteps(ctx, tc)
	registration.RegisterSteps(ctx, tc)
}
