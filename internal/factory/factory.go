package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"email-auth-service/internal/audit"
	"email-auth-service/internal/client"
	"email-auth-service/internal/config"
	"email-auth-service/internal/delivery"
	"email-auth-service/internal/handler"
	"email-auth-service/internal/hashing"
	redisrepo "email-auth-service/internal/repository/redis"
	"email-auth-service/internal/repository/scylla"
	"email-auth-service/internal/service"
	"email-auth-service/internal/tls"
	"email-auth-service/internal/token"
	"email-auth-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Infrastructure
	hasher   *hashing.Hasher
	issuer   *token.Issuer
	gateway  delivery.Gateway
	recorder *audit.Recorder

	// Repositories
	otpRepository      scylla.OTPRepository
	identityRepository scylla.IdentityRepository
	rateLimitCache     *redisrepo.RateLimitCache

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(&tls.Options{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("clickhouse_enabled", cfg.Clickhouse.Enabled),
		util.String("delivery_provider", cfg.Delivery.Provider),
	)

	return factory, nil
}

// initializeClients connects the external stores and verifies them with
// parallel health checks. Redis and Scylla are required; the audit sinks
// (Kafka, ClickHouse) are optional and only attempted when enabled.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient

	scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient

	if f.config.Kafka.Enabled {
		producer, err := client.NewKafkaProducer(f.config, util.Get())
		if err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Clickhouse.Enabled {
		ch, err := client.NewClickHouseClient(f.config, util.Get())
		if err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without ClickHouse", util.ErrorField(err))
		} else {
			f.clickhouseClient = ch
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := f.redisClient.HealthCheck(gctx); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
		util.Info("Redis client initialized and healthy")
		return nil
	})
	g.Go(func() error {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			return fmt.Errorf("scylla health check: %w", err)
		}
		util.Info("ScyllaDB client initialized and healthy")
		return nil
	})
	if f.kafkaProducer != nil {
		g.Go(func() error {
			if err := f.kafkaProducer.HealthCheck(gctx); err != nil {
				util.Warn("Kafka health check failed", util.ErrorField(err))
			}
			return nil
		})
	}
	if f.clickhouseClient != nil {
		g.Go(func() error {
			if err := f.clickhouseClient.HealthCheck(gctx); err != nil {
				util.Warn("ClickHouse health check failed", util.ErrorField(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if f.config.IsProduction() {
			return err
		}
		util.Warn("Service initialization warning", util.ErrorField(err))
	}

	return nil
}

// initializeInfrastructure builds the stateless collaborators on top of the
// connected clients.
func (f *Factory) initializeInfrastructure() error {
	f.hasher = hashing.NewHasher(f.config)
	f.issuer = token.NewIssuer(&f.config.JWT)
	f.recorder = audit.NewRecorder(f.kafkaProducer, f.clickhouseClient, util.Get())

	gateway, err := delivery.NewGateway(f.config, util.Get())
	if err != nil {
		return err
	}
	f.gateway = gateway

	return nil
}

// ==============================
// Repository Initialization
// ==============================

func (f *Factory) OTPRepository() scylla.OTPRepository {
	if f.otpRepository == nil {
		f.otpRepository = scylla.NewOTPRepository(f.scyllaClient)
	}
	return f.otpRepository
}

func (f *Factory) IdentityRepository() scylla.IdentityRepository {
	if f.identityRepository == nil {
		f.identityRepository = scylla.NewIdentityRepository(f.scyllaClient)
	}
	return f.identityRepository
}

func (f *Factory) RateLimitCache() *redisrepo.RateLimitCache {
	if f.rateLimitCache == nil {
		f.rateLimitCache = redisrepo.NewRateLimitCache(f.redisClient)
	}
	return f.rateLimitCache
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.OTPRepository(),
			f.IdentityRepository(),
			f.RateLimitCache(),
			f.gateway,
			f.issuer,
			f.hasher,
			f.recorder,
			f.config.OTP,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// Router builds the HTTP router with all handlers wired.
func (f *Factory) Router() *handler.AuthHandler {
	sf := f.ServiceFactory()
	return handler.NewAuthHandler(sf.OTPService(), sf.AuthService(), util.Get())
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	// The audit sinks are best-effort and never gate readiness.
	delete(healthErrors, "kafka")
	delete(healthErrors, "clickhouse")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

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

func (f *Factory) ScyllaClient() *scylla.ScyllaClient {
	return f.scyllaClient
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}
