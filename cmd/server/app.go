package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/twmb/franz-go/pkg/kgo"

	authservice "accounts/internal/auth/service"
	"accounts/internal/auth/store/revocation"
	"accounts/internal/cqrs"
	"accounts/internal/credential"
	credentialstore "accounts/internal/credential/store"
	jwttoken "accounts/internal/jwt_token"
	"accounts/internal/platform/config"
	"accounts/internal/platform/kafka"
	"accounts/internal/platform/metrics"
	"accounts/internal/platform/postgres"
	"accounts/internal/platform/redis"
	"accounts/internal/profile"
	profileservice "accounts/internal/profile/service"
	profilestore "accounts/internal/profile/store"
	"accounts/internal/registration"
	runstore "accounts/internal/registration/store/run"
	httptransport "accounts/internal/transport/http"
	"accounts/pkg/platform/audit"
	auditmemory "accounts/pkg/platform/audit/store/memory"
	auditpostgres "accounts/pkg/platform/audit/store/postgres"
	"accounts/pkg/platform/circuit"
	"accounts/pkg/platform/secrets"
)

type tokenRevocations interface {
	authservice.TokenRevoker
	jwttoken.RevocationChecker
}

// app holds everything main starts and stops. Dependencies are passed
// explicitly; nothing is looked up globally.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	db    *sql.DB
	redis *redis.Client
	kafka *kgo.Client

	credentials credential.Store
	profiles    profile.Store
	runs        registration.RunStore
	audit       audit.Store
	revocations tokenRevocations

	registration *registration.Module
	auth         *authservice.Service
	profileSvc   *profileservice.Service
	jwt          *jwttoken.JWTService
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	emails, err := secrets.NewEmailProtector(cfg.Secrets.EmailEncryptionKey, cfg.Secrets.EmailBlindIndexKey)
	if err != nil {
		return nil, fmt.Errorf("email protector: %w", err)
	}

	if err := a.openStores(ctx); err != nil {
		a.close()
		return nil, err
	}

	hasher := credential.NewBcryptHasher(cfg.Auth.BcryptCost)
	cqrsMetrics := cqrs.NewMetrics(a.metrics.Registry)
	a.registration = registration.NewModule(registration.Deps{
		Credentials:   a.credentials,
		Profiles:      a.profiles,
		Runs:          a.runs,
		Audit:         a.audit,
		Emails:        emails,
		Hasher:        hasher,
		Faults:        registration.FaultHookFor(cfg.Faults.ProfileName),
		Logger:        logger,
		CQRSMetrics:   cqrsMetrics,
		Metrics:       a.metrics,
		Workers:       cfg.Saga.Workers,
		RunTimeout:    cfg.Saga.RunTimeout,
		SweepInterval: cfg.Saga.SweepInterval,
	})

	if err := a.openKafka(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.jwt = jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	a.auth = authservice.New(a.credentials, emails, hasher, a.jwt,
		authservice.WithLogger(logger),
		authservice.WithMetrics(a.metrics),
		authservice.WithAudit(a.audit),
		authservice.WithRevoker(a.revocations),
		authservice.WithTokenTTLs(cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL),
	)
	a.profileSvc = profileservice.New(a.profiles, profileservice.WithLogger(logger))
	return a, nil
}

// openStores picks postgres when configured and memory otherwise. Saga runs
// and revoked access tokens live in redis when configured.
func (a *app) openStores(ctx context.Context) error {
	if a.cfg.Postgres.URL != "" {
		if a.cfg.Postgres.MigrateOnStart {
			if err := postgres.Migrate(a.cfg.Postgres.URL); err != nil {
				return err
			}
		}
		db, err := postgres.Open(ctx, a.cfg.Postgres)
		if err != nil {
			return err
		}
		a.db = db
		a.credentials = credentialstore.NewPostgres(db)
		a.profiles = profilestore.NewPostgres(db)
		a.audit = auditpostgres.New(db)
		a.logger.InfoContext(ctx, "using postgres stores")
	} else {
		a.credentials = credentialstore.NewInMemory()
		a.profiles = profilestore.NewInMemory()
		a.audit = auditmemory.NewInMemoryStore()
		a.logger.WarnContext(ctx, "POSTGRES_URL not set, using in-memory stores")
	}

	client, err := redis.New(ctx, a.cfg.Redis)
	if err != nil {
		return err
	}
	if client != nil {
		a.redis = client
		a.runs = runstore.NewRedis(client.Client, client.KeyPrefix+"runs:", a.cfg.Saga.StatusRetention)
		a.revocations = revocation.NewRedis(client.Client, client.KeyPrefix)
		a.logger.InfoContext(ctx, "using redis saga run store")
	} else {
		a.runs = runstore.NewInMemory(a.cfg.Saga.StatusRetention)
		a.revocations = revocation.NewInMemory()
	}
	return nil
}

// openKafka mirrors domain events to Kafka when brokers are configured.
func (a *app) openKafka(ctx context.Context) error {
	client, err := kafka.NewClient(ctx, a.cfg.Kafka)
	if err != nil {
		return err
	}
	if client == nil {
		return nil
	}
	a.kafka = client
	if err := kafka.EnsureTopic(ctx, client, a.cfg.Kafka.Topic, a.cfg.Kafka.Partitions, a.cfg.Kafka.ReplicationFactor); err != nil {
		return err
	}
	breaker := circuit.New("kafka-mirror", circuit.WithSuccessThreshold(1))
	a.registration.Bus.SubscribeAll(kafka.NewMirror(client, a.cfg.Kafka.Topic, a.logger, kafka.WithBreaker(breaker)))
	a.logger.InfoContext(ctx, "mirroring domain events to kafka", "topic", a.cfg.Kafka.Topic)
	return nil
}

func (a *app) router() http.Handler {
	checks := map[string]httptransport.HealthCheck{}
	if a.db != nil {
		checks["postgres"] = a.db.PingContext
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Health
	}
	if a.kafka != nil {
		checks["kafka"] = a.kafka.Ping
	}
	return httptransport.NewRouter(httptransport.Deps{
		Logger:       a.logger,
		Metrics:      a.metrics,
		JWTValidator: jwttoken.NewJWTServiceAdapter(a.jwt, jwttoken.WithRevocations(a.revocations)),
		Registration: a.registration.Service,
		Auth:         a.auth,
		Profiles:     a.profileSvc,
		HealthChecks: checks,
	})
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops HTTP intake, waits for the saga runner to finish what was
// accepted, then stops the runner. stopRunner cancels the runner's context,
// which is not the signal context, so queued events run with a live context.
func (a *app) shutdown(ctx context.Context, srv shutdowner, stopRunner context.CancelFunc) error {
	defer stopRunner()
	timeout := a.cfg.Server.ShutdownTimeout

	httpCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	idleCtx, cancelIdle := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancelIdle()
	if err := a.registration.Runner.WaitIdle(idleCtx); err != nil {
		a.logger.Warn("saga runner stopped with events pending",
			"pending", a.registration.Runner.Pending(),
			"error", err,
		)
	}
	return nil
}

func (a *app) close() {
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close postgres", "error", err)
		}
	}
}
