package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"golang.org/x/sync/errgroup"

	"formauth-service/internal/analytics"
	"formauth-service/internal/audit"
	"formauth-service/internal/bucketing"
	"formauth-service/internal/client"
	"formauth-service/internal/config"
	"formauth-service/internal/events"
	"formauth-service/internal/friendlyform"
	"formauth-service/internal/hashing"
	"formauth-service/internal/pipeline"
	redisrepo "formauth-service/internal/repository/redis"
	"formauth-service/internal/repository/scylla"
	"formauth-service/internal/secrets"
	"formauth-service/internal/service"
	"formauth-service/internal/ticket"
	"formauth-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	kmsClient        *kms.Client

	// Managers
	hasher           *hashing.Hasher
	secretsManager   *secrets.Manager
	bucketingManager *bucketing.BucketingManager

	// Repositories and services
	userRepository *scylla.UserRepository
	sessionCache   *redisrepo.SessionCache
	lockoutCache   *redisrepo.LockoutCache
	eventProducer  *events.Producer
	attemptSink    *analytics.Sink
	auditIndexer   *audit.Indexer
	authService    *service.AuthService

	// Pipeline pieces
	formPlugin   *friendlyform.Plugin
	ticketPlugin *ticket.Plugin

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

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka is best effort: login still works when events can't be
	// published.
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	// Elasticsearch
	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = esClient
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	// KMS
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("aws config: %w", err))
		} else {
			f.kmsClient = kms.NewFromConfig(awsCfg)
			util.Info("KMS client initialized",
				util.String("region", f.config.KMS.Region))
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, secrets, bucketing, and the
// form/ticket plugins.
func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)
	f.secretsManager = secrets.NewManager(f.config, f.kmsClient)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ticketSecret, err := f.secretsManager.TicketSecret(ctx)
	if err != nil {
		return fmt.Errorf("ticket secret: %w", err)
	}

	ff := f.config.FriendlyForm
	f.formPlugin = friendlyform.New(friendlyform.Options{
		LoginFormPath:     ff.LoginFormPath,
		LoginHandlerPath:  ff.LoginHandlerPath,
		LogoutHandlerPath: ff.LogoutHandlerPath,
		PostLoginPath:     ff.PostLoginPath,
		PostLogoutPath:    ff.PostLogoutPath,
		MountPoint:        ff.MountPoint,
		LoginCounterName:  ff.LoginCounterName,
	})

	f.ticketPlugin = ticket.New(
		f.config.Ticket.CookieName,
		ticketSecret,
		f.config.Ticket.TTL,
		f.config.Ticket.Secure || f.config.Server.EnableTLS,
	)

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
		util.String("login_form", f.formPlugin.LoginFormURL()),
	)
	return nil
}

// ==============================
// Repositories and services
// ==============================

func (f *Factory) UserRepository() *scylla.UserRepository {
	if f.userRepository == nil {
		f.userRepository = scylla.NewUserRepository(f.scyllaClient, f.bucketingManager)
	}
	return f.userRepository
}

func (f *Factory) SessionCache() *redisrepo.SessionCache {
	if f.sessionCache == nil {
		f.sessionCache = redisrepo.NewSessionCache(f.redisClient, f.config.Session.TTL)
	}
	return f.sessionCache
}

func (f *Factory) LockoutCache() *redisrepo.LockoutCache {
	if f.lockoutCache == nil {
		f.lockoutCache = redisrepo.NewLockoutCache(f.redisClient)
	}
	return f.lockoutCache
}

func (f *Factory) EventProducer() *events.Producer {
	if f.eventProducer == nil && f.kafkaProducer != nil {
		f.eventProducer = events.NewProducer(f.kafkaProducer, f.config)
	}
	return f.eventProducer
}

func (f *Factory) AttemptSink() *analytics.Sink {
	if f.attemptSink == nil && f.clickhouseClient != nil {
		f.attemptSink = analytics.NewSink(f.clickhouseClient, f.bucketingManager)
	}
	return f.attemptSink
}

func (f *Factory) AuditIndexer() *audit.Indexer {
	if f.auditIndexer == nil && f.esClient != nil {
		f.auditIndexer = audit.NewIndexer(f.esClient, f.config)
	}
	return f.auditIndexer
}

func (f *Factory) AuthService() *service.AuthService {
	if f.authService == nil {
		var emitter service.EventEmitter
		if producer := f.EventProducer(); producer != nil {
			emitter = producer
		}
		var recorder service.AttemptRecorder
		if sink := f.AttemptSink(); sink != nil {
			recorder = sink
		}
		var auditor service.AuditIndexer
		if indexer := f.AuditIndexer(); indexer != nil {
			auditor = indexer
		}

		f.authService = service.NewAuthService(
			f.UserRepository(),
			f.SessionCache(),
			f.LockoutCache(),
			f.hasher,
			emitter,
			recorder,
			auditor,
			f.config,
		)
	}
	return f.authService
}

func (f *Factory) Pipeline() *pipeline.Pipeline {
	return pipeline.New(f.formPlugin, f.ticketPlugin, f.AuthService(), util.Get())
}

// ==============================
// Health checks
// ==============================

// HealthCheck probes every backend concurrently and returns the
// failures keyed by component name.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var mu sync.Mutex
	healthErrors := make(map[string]error)

	record := func(name string, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		healthErrors[name] = err
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if f.redisClient == nil {
			record("redis", fmt.Errorf("redis client not initialized"))
			return nil
		}
		record("redis", f.redisClient.HealthCheck(ctx))
		return nil
	})

	g.Go(func() error {
		if f.scyllaClient == nil {
			record("scylla", fmt.Errorf("scylla client not initialized"))
			return nil
		}
		record("scylla", f.scyllaClient.HealthCheck())
		return nil
	})

	g.Go(func() error {
		if f.esClient == nil {
			record("elasticsearch", fmt.Errorf("elasticsearch client not initialized"))
			return nil
		}
		record("elasticsearch", f.esClient.HealthCheck())
		return nil
	})

	g.Go(func() error {
		if f.clickhouseClient == nil {
			record("clickhouse", fmt.Errorf("clickhouse client not initialized"))
			return nil
		}
		record("clickhouse", f.clickhouseClient.HealthCheck(ctx))
		return nil
	})

	g.Go(func() error {
		if f.kafkaProducer != nil {
			record("kafka", f.kafkaProducer.HealthCheck(ctx))
		}
		return nil
	})

	_ = g.Wait()
	return healthErrors
}

// IsHealthy reports overall health. Kafka is advisory.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.attemptSink != nil {
			f.attemptSink.Close()
			util.Info("Attempt sink drained")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.secretsManager != nil {
			f.secretsManager.ClearCache()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) FormPlugin() *friendlyform.Plugin {
	return f.formPlugin
}

func (f *Factory) TicketPlugin() *ticket.Plugin {
	return f.ticketPlugin
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
