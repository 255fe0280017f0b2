package registration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"accounts/internal/cqrs"
	"accounts/internal/credential"
	credmocks "accounts/internal/credential/mocks"
	credstore "accounts/internal/credential/store"
	"accounts/internal/profile"
	profstore "accounts/internal/profile/store"
	"accounts/internal/registration/models"
	"accounts/internal/registration/store/run"
	id "accounts/pkg/domain"
	dErrors "accounts/pkg/domain-errors"
	"accounts/pkg/platform/audit"
	auditmemory "accounts/pkg/platform/audit/store/memory"
	"accounts/pkg/platform/secrets"
	"accounts/pkg/platform/sentinel"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ScenarioSuite drives the full command side (dispatcher, bus, sagas) against
// in-memory stores.
type ScenarioSuite struct {
	suite.Suite
	ctx         context.Context
	clock       *fakeClock
	credentials credential.Store
	profiles    *profstore.InMemory
	runs        *run.InMemory
	audit       *auditmemory.InMemoryStore
	emails      *secrets.EmailProtector
	cqrsMetrics *cqrs.Metrics
	module      *Module
}

func TestScenarioSuite(t *testing.T) {
	suite.Run(t, new(ScenarioSuite))
}

func newEmailProtector(t *testing.T) *secrets.EmailProtector {
	encKey, err := secrets.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	idxKey, err := secrets.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	p, err := secrets.NewEmailProtector(encKey, idxKey)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func (s *ScenarioSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.credentials = credstore.NewInMemory()
	s.profiles = profstore.NewInMemory()
	s.runs = run.NewInMemory(time.Hour, run.WithClock(s.clock.Now))
	s.audit = auditmemory.NewInMemoryStore()
	s.emails = newEmailProtector(s.T())
	s.cqrsMetrics = cqrs.NewMetrics(prometheus.NewRegistry())
	s.wire(FaultHookFor("fail"))
}

func (s *ScenarioSuite) wire(faults FaultHook) {
	s.module = NewModule(Deps{
		Credentials:   s.credentials,
		Profiles:      s.profiles,
		Runs:          s.runs,
		Audit:         s.audit,
		Emails:        s.emails,
		Hasher:        credential.NewBcryptHasher(bcrypt.MinCost),
		Faults:        faults,
		CQRSMetrics:   s.cqrsMetrics,
		Workers:       4,
		RunTimeout:    30 * time.Second,
		SweepInterval: time.Second,
		Clock:         s.clock.Now,
	})
}

func (s *ScenarioSuite) register(email, name string) *Accepted {
	accepted, err := s.module.Service.Register(s.ctx, RegistrationRequest{
		Email:    email,
		Password: "correct-horse-battery",
		Name:     name,
		Lastname: "Lovelace",
		Age:      36,
	})
	s.Require().NoError(err)
	return accepted
}

func (s *ScenarioSuite) drain() {
	s.Require().NoError(s.module.Runner.Drain(s.ctx))
}

func (s *ScenarioSuite) runState(corr id.CorrelationID) models.State {
	r, err := s.runs.Get(s.ctx, corr)
	s.Require().NoError(err)
	return r.State
}

func (s *ScenarioSuite) actions(corr id.CorrelationID) []audit.AuditEvent {
	trail, err := s.audit.ListByCorrelation(s.ctx, corr)
	s.Require().NoError(err)
	out := make([]audit.AuditEvent, 0, len(trail))
	for _, e := range trail {
		out = append(out, e.Action)
	}
	return out
}

func (s *ScenarioSuite) TestRegisterUniqueEmailCompletes() {
	accepted := s.register("ada@example.com", "Ada")
	s.Equal("Registration process started.", accepted.Message)

	s.drain()

	s.Equal(models.StateCompleted, s.runState(accepted.CorrelationID))
	c, err := s.credentials.FindByID(s.ctx, accepted.CredentialID, false)
	s.Require().NoError(err)
	s.Equal(s.emails.BlindIndex("ada@example.com"), c.EmailBlindIndex)
	email, err := s.emails.Decrypt(c.EmailCiphertext)
	s.Require().NoError(err)
	s.Equal("ada@example.com", email)

	p, err := s.profiles.FindByCredentialID(s.ctx, accepted.CredentialID)
	s.Require().NoError(err)
	s.Equal(accepted.ProfileID, p.ID)
	s.Equal("Ada", p.Name)
	s.Equal(credential.RoleUser, p.Role)

	s.Equal([]audit.AuditEvent{audit.EventCredentialCreated, audit.EventProfileCreated}, s.actions(accepted.CorrelationID))
}

func (s *ScenarioSuite) TestDuplicateEmailIsConflictWithoutProfile() {
	first := s.register("grace@example.com", "Grace")
	s.drain()

	_, err := s.module.Service.Register(s.ctx, RegistrationRequest{
		Email:    "  Grace@Example.com ",
		Password: "another-password",
		Name:     "Grace",
		Lastname: "Hopper",
		Age:      40,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.drain()

	all, err := s.profiles.FindAll(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 1)
	s.Equal(first.ProfileID, all[0].ID)
}

func (s *ScenarioSuite) TestSentinelNameCompensatesCredential() {
	accepted := s.register("fail@example.com", "FAIL")
	s.drain()

	s.Equal(models.StateCompensated, s.runState(accepted.CorrelationID))
	_, err := s.credentials.FindByID(s.ctx, accepted.CredentialID, false)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.profiles.FindByCredentialID(s.ctx, accepted.CredentialID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Equal([]audit.AuditEvent{
		audit.EventCredentialCreated,
		audit.EventProfileCreationFailed,
		audit.EventCredentialDeleted,
	}, s.actions(accepted.CorrelationID))

	// The compensated email can be registered again.
	again := s.register("fail@example.com", "Ada")
	s.drain()
	s.Equal(models.StateCompleted, s.runState(again.CorrelationID))
}

func (s *ScenarioSuite) TestDeleteCredentialIsIdempotent() {
	accepted := s.register("linus@example.com", "Linus")
	s.drain()

	cmd := DeleteCredential{
		CorrelationID: id.NewCorrelationID(),
		CredentialID:  accepted.CredentialID,
		ProfileID:     accepted.ProfileID,
		Reason:        ReasonCompensation,
	}
	first, err := s.module.Dispatcher.Dispatch(s.ctx, cmd)
	s.Require().NoError(err)
	second, err := s.module.Dispatcher.Dispatch(s.ctx, cmd)
	s.Require().NoError(err)

	s.Require().Len(first.Events, 1)
	s.Require().Len(second.Events, 1)
	p1, _ := cqrs.PayloadAs[CredentialDeleted](first.Events[0])
	p2, _ := cqrs.PayloadAs[CredentialDeleted](second.Events[0])
	s.True(p1.Existed)
	s.False(p2.Existed)
	s.Equal(EvtCredentialDeleted, second.Events[0].Type)

	s.drain()
	_, err = s.credentials.FindByID(s.ctx, accepted.CredentialID, false)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ScenarioSuite) TestConcurrentRegistrationsAreIndependent() {
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- s.module.Runner.Run(ctx) }()

	const n = 20
	accepted := make([]*Accepted, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "User"
			if i%5 == 0 {
				name = "fail"
			}
			accepted[i], errs[i] = s.module.Service.Register(s.ctx, RegistrationRequest{
				Email:    fmt.Sprintf("user%d@example.com", i),
				Password: "correct-horse-battery",
				Name:     name,
				Lastname: "Concurrent",
				Age:      20 + i,
			})
		}(i)
	}
	wg.Wait()

	waitCtx, waitCancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer waitCancel()
	s.Require().NoError(s.module.Runner.WaitIdle(waitCtx))
	cancel()
	s.Require().NoError(<-done)

	completed := 0
	for i := 0; i < n; i++ {
		s.Require().NoError(errs[i])
		state := s.runState(accepted[i].CorrelationID)
		if i%5 == 0 {
			s.Equal(models.StateCompensated, state, "registration %d", i)
			continue
		}
		s.Equal(models.StateCompleted, state, "registration %d", i)
		completed++
	}
	all, err := s.profiles.FindAll(s.ctx)
	s.Require().NoError(err)
	s.Len(all, completed)
}

func (s *ScenarioSuite) TestDeleteAccountRunsDeletionSaga() {
	registered := s.register("margaret@example.com", "Margaret")
	s.drain()

	deletion, err := s.module.Service.DeleteAccount(s.ctx, registered.CredentialID)
	s.Require().NoError(err)
	s.NotEqual(registered.CorrelationID, deletion.CorrelationID)
	s.Equal(registered.ProfileID, deletion.ProfileID)
	s.drain()

	r, err := s.runs.Get(s.ctx, deletion.CorrelationID)
	s.Require().NoError(err)
	s.Equal(models.SagaDeletion, r.Saga)
	s.Equal(models.StateCompleted, r.State)
	_, err = s.credentials.FindByID(s.ctx, registered.CredentialID, false)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.profiles.FindByID(s.ctx, registered.ProfileID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	status, err := s.module.Service.Status(s.ctx, deletion.CorrelationID)
	s.Require().NoError(err)
	s.Equal(models.StateCompleted, status.Run.State)
	s.Len(status.Trail, 2)

	_, err = s.module.Service.DeleteAccount(s.ctx, registered.CredentialID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ScenarioSuite) TestCompensationFailureIsDeadLettered() {
	ctrl := gomock.NewController(s.T())
	backing := credstore.NewInMemory()
	failing := credmocks.NewMockStore(ctrl)
	failing.EXPECT().FindByEmailBlindIndex(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(backing.FindByEmailBlindIndex).AnyTimes()
	failing.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(backing.Create).AnyTimes()
	failing.EXPECT().FindByID(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(backing.FindByID).AnyTimes()
	failing.EXPECT().DeleteIfExists(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, sentinel.ErrUnavailable)
	s.credentials = failing
	s.wire(FaultHookFor("fail"))

	accepted := s.register("broken@example.com", "fail")
	s.drain()

	s.Equal(models.StateCompensationFailed, s.runState(accepted.CorrelationID))
	dls, err := s.module.Service.DeadLetters(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(dls, 1)
	s.Equal(accepted.CorrelationID, dls[0].Run.CorrelationID)
	s.Contains(dls[0].Cause, "compensation failed")
	s.Equal(float64(1), promtest.ToFloat64(s.cqrsMetrics.SagaDeadLetters.WithLabelValues(models.SagaRegistration)))
	s.Contains(s.actions(accepted.CorrelationID), audit.EventSagaDeadLettered)

	// The credential survives and is left for manual repair.
	_, err = backing.FindByID(s.ctx, accepted.CredentialID, false)
	s.NoError(err)
}

func (s *ScenarioSuite) TestDeadlineCompensatesStalledRun() {
	credID := id.NewCredentialID()
	corr := id.NewCorrelationID()
	s.Require().NoError(s.credentials.Create(s.ctx, credential.Credential{
		ID:              credID,
		EmailBlindIndex: s.emails.BlindIndex("stalled@example.com"),
		Roles:           []string{credential.RoleUser},
	}))
	now := s.clock.Now()
	s.Require().NoError(s.runs.Save(s.ctx, models.Run{
		CorrelationID: corr,
		Saga:          models.SagaRegistration,
		State:         models.StateAwaitingProfile,
		CredentialID:  credID,
		ProfileID:     id.NewProfileID(),
		Deadline:      now.Add(30 * time.Second),
		StartedAt:     now,
		UpdatedAt:     now,
	}, ""))

	n, err := s.module.Runner.SweepOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	s.clock.Advance(31 * time.Second)
	// Two sweeps before processing yield the same deadline twice; the second is
	// stale once the run has moved on.
	n, err = s.module.Runner.SweepOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	n, err = s.module.Runner.SweepOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.drain()

	r, err := s.runs.Get(s.ctx, corr)
	s.Require().NoError(err)
	s.Equal(models.StateCompensated, r.State)
	s.Equal("profile creation timed out", r.Reason)
	_, err = s.credentials.FindByID(s.ctx, credID, false)
	s.ErrorIs(err, sentinel.ErrNotFound)
	dls, err := s.runs.DeadLetters(s.ctx)
	s.Require().NoError(err)
	s.Empty(dls)
}

func (s *ScenarioSuite) TestDeadlineWhileCompensatingFails() {
	corr := id.NewCorrelationID()
	now := s.clock.Now()
	s.Require().NoError(s.runs.Save(s.ctx, models.Run{
		CorrelationID: corr,
		Saga:          models.SagaRegistration,
		State:         models.StateCompensating,
		CredentialID:  id.NewCredentialID(),
		ProfileID:     id.NewProfileID(),
		Deadline:      now.Add(time.Second),
		StartedAt:     now,
		UpdatedAt:     now,
	}, ""))

	s.clock.Advance(2 * time.Second)
	_, err := s.module.Runner.SweepOnce(s.ctx)
	s.Require().NoError(err)
	s.drain()

	s.Equal(models.StateCompensationFailed, s.runState(corr))
	dls, err := s.runs.DeadLetters(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(dls, 1)
	s.Equal("compensation timed out", dls[0].Cause)
}

func (s *ScenarioSuite) TestTerminalRunIgnoresLateEvents() {
	accepted := s.register("late@example.com", "Late")
	s.drain()
	s.Require().Equal(models.StateCompleted, s.runState(accepted.CorrelationID))

	agg := cqrs.NewAggregate(s.module.Bus, accepted.ProfileID.String(), accepted.CorrelationID)
	agg.Apply(s.ctx, EvtProfileCreationFailed, ProfileCreationFailed{
		CorrelationID: accepted.CorrelationID,
		CredentialID:  accepted.CredentialID,
		ProfileID:     accepted.ProfileID,
		Cause:         "late duplicate",
	})
	s.Require().NoError(agg.Commit(s.ctx))
	s.drain()

	s.Equal(models.StateCompleted, s.runState(accepted.CorrelationID))
	_, err := s.credentials.FindByID(s.ctx, accepted.CredentialID, false)
	s.NoError(err)
}

func (s *ScenarioSuite) TestRegisterRejectsInvalidInput() {
	cases := map[string]RegistrationRequest{
		"bad email":      {Email: "not-an-email", Password: "correct-horse-battery", Name: "A", Lastname: "B", Age: 1},
		"long password":  {Email: "a@example.com", Password: strings.Repeat("p", 73), Name: "A", Lastname: "B", Age: 1},
		"no password":    {Email: "a@example.com", Password: "", Name: "A", Lastname: "B", Age: 1},
		"blank name":     {Email: "a@example.com", Password: "correct-horse-battery", Name: "   ", Lastname: "B", Age: 1},
		"age too high":   {Email: "a@example.com", Password: "correct-horse-battery", Name: "A", Lastname: "B", Age: 151},
	}
	for name, req := range cases {
		s.Run(name, func() {
			_, err := s.module.Service.Register(s.ctx, req)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), err.Error())
		})
	}
	s.Zero(s.module.Runner.Pending())
}

func (s *ScenarioSuite) TestRegisterExternalStoresNoPassword() {
	accepted, err := s.module.Service.RegisterExternal(s.ctx, ExternalRegistrationRequest{
		Email:      "ext@example.com",
		ExternalID: "google-oauth2|123",
		Name:       "Ext",
		Lastname:   "Ernal",
		Age:        30,
	})
	s.Require().NoError(err)
	s.drain()

	c, err := s.credentials.FindByID(s.ctx, accepted.CredentialID, true)
	s.Require().NoError(err)
	s.Empty(c.PasswordHash)
	s.Equal("google-oauth2|123", c.ExternalID)

	_, err = s.module.Service.RegisterExternal(s.ctx, ExternalRegistrationRequest{
		Email:      "other@example.com",
		ExternalID: "google-oauth2|123",
		Name:       "Ext",
		Lastname:   "Ernal",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ScenarioSuite) TestRegisterExternalDerivesMissingNames() {
	accepted, err := s.module.Service.RegisterExternal(s.ctx, ExternalRegistrationRequest{
		Email:      "grace.hopper@example.com",
		ExternalID: "github|77",
	})
	s.Require().NoError(err)
	s.drain()

	p, err := s.profiles.FindByID(s.ctx, accepted.ProfileID)
	s.Require().NoError(err)
	s.Equal("Grace", p.Name)
	s.Equal("Hopper", p.Lastname)
}

func (s *ScenarioSuite) TestOneCharacterPasswordsAreAccepted() {
	rejected, err := s.module.Service.Register(s.ctx, RegistrationRequest{
		Email: "a@x.com", Name: "fail", Lastname: "Y", Age: 30, Password: "p",
	})
	s.Require().NoError(err)
	accepted, err := s.module.Service.Register(s.ctx, RegistrationRequest{
		Email: "b@x.com", Name: "Bob", Lastname: "Z", Age: 25, Password: "p",
	})
	s.Require().NoError(err)
	s.drain()

	_, err = s.credentials.FindByID(s.ctx, rejected.CredentialID, false)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.profiles.FindByID(s.ctx, rejected.ProfileID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	c, err := s.credentials.FindByID(s.ctx, accepted.CredentialID, false)
	s.Require().NoError(err)
	p, err := s.profiles.FindByID(s.ctx, accepted.ProfileID)
	s.Require().NoError(err)
	s.Equal(c.ID, p.CredentialID)
}

func (s *ScenarioSuite) TestStatusIsPendingUntilSagaRuns() {
	accepted := s.register("early@example.com", "Early")

	status, err := s.module.Service.Status(s.ctx, accepted.CorrelationID)
	s.Require().NoError(err)
	s.Equal(models.StatePending, status.Run.State)
	s.Equal(models.SagaRegistration, status.Run.Saga)
	s.False(status.Run.IsTerminal())

	s.drain()
	s.Equal(models.StateCompleted, s.runState(accepted.CorrelationID))

	deletion, err := s.module.Service.DeleteAccount(s.ctx, accepted.CredentialID)
	s.Require().NoError(err)
	status, err = s.module.Service.Status(s.ctx, deletion.CorrelationID)
	s.Require().NoError(err)
	s.Equal(models.StatePending, status.Run.State)
	s.Equal(models.SagaDeletion, status.Run.Saga)

	s.drain()
	s.Equal(models.StateCompleted, s.runState(deletion.CorrelationID))
}

func (s *ScenarioSuite) TestLostCredentialCreatedIsCompensatedAtDeadline() {
	accepted := s.register("orphan@example.com", "Orphan")
	// A fresh module over the same stores has an empty inbox: the
	// CredentialCreated event above is never handled.
	s.wire(FaultHookFor("fail"))

	s.clock.Advance(31 * time.Second)
	n, err := s.module.Runner.SweepOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.drain()

	r, err := s.runs.Get(s.ctx, accepted.CorrelationID)
	s.Require().NoError(err)
	s.Equal(models.StateCompensated, r.State)
	s.Equal("profile creation timed out", r.Reason)
	_, err = s.credentials.FindByID(s.ctx, accepted.CredentialID, false)
	s.ErrorIs(err, sentinel.ErrNotFound)

	again := s.register("orphan@example.com", "Orphan")
	s.drain()
	s.Equal(models.StateCompleted, s.runState(again.CorrelationID))
}

func (s *ScenarioSuite) TestStatusOfUnknownRunIsNotFound() {
	_, err := s.module.Service.Status(s.ctx, id.NewCorrelationID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ScenarioSuite) TestProfileStoreFailureCompensates() {
	s.wire(NoFaults{})
	// A profile already holding the credential id makes the insert fail.
	accepted := s.register("clash@example.com", "Clash")
	s.Require().NoError(s.profiles.Create(s.ctx, profile.Profile{
		ID:           id.NewProfileID(),
		CredentialID: accepted.CredentialID,
		Name:         "Squatter",
		Lastname:     "Profile",
	}))
	s.drain()

	r, err := s.runs.Get(s.ctx, accepted.CorrelationID)
	s.Require().NoError(err)
	s.Equal(models.StateCompensated, r.State)
	s.Contains(r.Reason, "conflict")
}
