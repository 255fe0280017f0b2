package registration

import (
	"context"
	"errors"
	"strings"
)

var ErrInjectedFault = errors.New("injected profile creation failure")

// FaultHook lets test deployments force CreateProfile to fail so the
// compensation path can be exercised end to end.
type FaultHook interface {
	BeforeCreateProfile(ctx context.Context, draft ProfileDraft) error
}

// NoFaults is the production hook.
type NoFaults struct{}

func (NoFaults) BeforeCreateProfile(context.Context, ProfileDraft) error { return nil }

// NameSentinelFault fails profile creation when the draft name equals Name,
// compared case-insensitively.
type NameSentinelFault struct {
	Name string
}

func (f NameSentinelFault) BeforeCreateProfile(_ context.Context, draft ProfileDraft) error {
	if f.Name != "" && strings.EqualFold(strings.TrimSpace(draft.Name), f.Name) {
		return ErrInjectedFault
	}
	return nil
}

// FaultHookFor returns NameSentinelFault for a configured name, NoFaults otherwise.
func FaultHookFor(profileName string) FaultHook {
	if strings.TrimSpace(profileName) == "" {
		return NoFaults{}
	}
	return NameSentinelFault{Name: strings.TrimSpace(profileName)}
}
