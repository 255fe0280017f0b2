package registration

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (any, error)
	LastStatus() int
	Saved(key string) string
}

// RegisterSteps registers saga status step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &registrationSteps{tc: tc}

	ctx.Step(`^the workflow should reach state "([^"]*)"$`, steps.shouldReachState)
}

type registrationSteps struct {
	tc TestContext
}

// shouldReachState polls the saved status URL until the run settles.
func (s *registrationSteps) shouldReachState(ctx context.Context, want string) error {
	statusURL := s.tc.Saved("status_url")
	if statusURL == "" {
		return fmt.Errorf("no workflow was started in this scenario")
	}

	deadline := time.Now().Add(10 * time.Second)
	var last string
	for time.Now().Before(deadline) {
		if err := s.tc.GET(statusURL, map[string]string{}); err != nil {
			return err
		}
		if s.tc.LastStatus() == 200 {
			state, err := s.tc.GetResponseField("state")
			if err != nil {
				return err
			}
			last = fmt.Sprint(state)
			if last == want {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("workflow %s did not reach %q, last state %q", statusURL, want, last)
}
