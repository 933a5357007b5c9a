// Package factory manages the lifecycle of all application dependencies.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"restaurant-verify/internal/bucketing"
	"restaurant-verify/internal/captcha"
	"restaurant-verify/internal/client"
	"restaurant-verify/internal/config"
	"restaurant-verify/internal/events"
	"restaurant-verify/internal/handler"
	"restaurant-verify/internal/hashing"
	"restaurant-verify/internal/listing"
	"restaurant-verify/internal/repository/postgres"
	"restaurant-verify/internal/service"
	"restaurant-verify/internal/telephony"
	"restaurant-verify/internal/tls"
	"restaurant-verify/internal/util"
)

// Factory creates and owns the clients, repositories, and services.
// Postgres is the one hard dependency; Redis, Kafka, ClickHouse, and
// telephony are optional and their absence degrades features instead
// of failing startup (except telephony in production, which fails
// per-request by contract).
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	pgClient         *postgres.PGClient
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher    *hashing.Hasher
	bucketMgr *bucketing.Manager

	// Repositories
	challengeRepo  postgres.ChallengeRepository
	restaurantRepo postgres.RestaurantRepository

	// Collaborators and services
	caller        telephony.Caller
	captchaVer    captcha.Verifier
	oracle        listing.Oracle
	publisher     *events.Publisher
	verification  service.VerificationService
	scorer        service.ScorerService
	cleanupWorker *service.CleanupWorker

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(cfg)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()
	factory.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("telephony_configured", cfg.Telephony.Configured()),
		util.Bool("captcha_enabled", cfg.Captcha.Enabled()),
	)

	return factory, nil
}

// initializeClients brings up the external clients. Postgres failure is
// fatal; the rest log and degrade.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgClient, err := postgres.NewPGClient(f.config)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	f.pgClient = pgClient

	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		util.Warn("Redis initialization failed - listing lookups will be uncached", util.ErrorField(err))
	} else if err := redisClient.HealthCheck(ctx); err != nil {
		util.Warn("Redis health check failed - listing lookups will be uncached", util.ErrorField(err))
		redisClient.Close()
	} else {
		f.redisClient = redisClient
	}

	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		util.Warn("ClickHouse initialization failed - proceeding without analytics sink", util.ErrorField(err))
	} else {
		f.clickhouseClient = chClient
	}

	if caller, err := telephony.NewCaller(f.config); err != nil {
		if f.config.IsProduction() {
			util.Error("Telephony not configured - all issuances will fail", util.ErrorField(err))
		} else {
			util.Warn("Telephony not configured", util.ErrorField(err))
		}
	} else {
		f.caller = caller
	}

	return nil
}

func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketMgr = bucketing.NewManager(f.config.Events.PhoneBuckets)
}

func (f *Factory) initializeServices() {
	f.challengeRepo = postgres.NewChallengeRepository(f.pgClient, f.bucketMgr)
	f.restaurantRepo = postgres.NewRestaurantRepository(f.pgClient)

	f.captchaVer = captcha.NewVerifier(f.config)
	f.oracle = listing.NewOracle(f.config, f.redisClient)
	f.publisher = events.NewPublisher(f.kafkaProducer, f.clickhouseClient, f.hasher, f.bucketMgr)

	f.verification = service.NewVerificationService(
		f.config,
		f.challengeRepo,
		f.restaurantRepo,
		f.caller,
		f.captchaVer,
		f.publisher,
	)
	f.scorer = service.NewScorerService(f.restaurantRepo, f.oracle)

	f.cleanupWorker = service.NewCleanupWorker(f.challengeRepo)
	f.cleanupWorker.Start()
}

// HealthCheck probes every live dependency concurrently.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var mu sync.Mutex
	healthErrors := make(map[string]error)
	record := func(name string, err error) {
		if err != nil {
			mu.Lock()
			healthErrors[name] = err
			mu.Unlock()
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		record("postgres", f.pgClient.HealthCheck(ctx))
		return nil
	})
	if f.redisClient != nil {
		g.Go(func() error {
			record("redis", f.redisClient.HealthCheck(ctx))
			return nil
		})
	}
	if f.kafkaProducer != nil {
		g.Go(func() error {
			record("kafka", f.kafkaProducer.HealthCheck(ctx))
			return nil
		})
	}
	if f.clickhouseClient != nil {
		g.Go(func() error {
			record("clickhouse", f.clickhouseClient.HealthCheck(ctx))
			return nil
		})
	}
	g.Wait()

	return healthErrors
}

// RequiredCollaborator treats the optional sinks as advisory: only the
// relational store gates readiness.
func (f *Factory) RequiredCollaborator(name string) bool {
	switch name {
	case "redis", "kafka", "clickhouse":
		return false
	default:
		return true
	}
}

// IsHealthy reports readiness from a fresh probe round.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	for name := range f.HealthCheck(ctx) {
		if f.RequiredCollaborator(name) {
			return false
		}
	}
	return true
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.cleanupWorker != nil {
			f.cleanupWorker.Stop()
			util.Info("Cleanup worker stopped")
		}

		if f.publisher != nil {
			f.publisher.Close()
			util.Info("Event publisher drained")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.pgClient != nil {
			f.pgClient.Close()
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) PGClient() *postgres.PGClient {
	return f.pgClient
}

func (f *Factory) ChallengeRepository() postgres.ChallengeRepository {
	return f.challengeRepo
}

func (f *Factory) VerificationHandler() *handler.VerificationHandler {
	return handler.NewVerificationHandler(f.verification, f.scorer, util.Get())
}

func (f *Factory) AdminHandler() *handler.AdminHandler {
	if f.config.Admin.APIKey == "" {
		return nil
	}
	return handler.NewAdminHandler(f.challengeRepo, f.restaurantRepo, f.config.Admin.APIKey, util.Get())
}
