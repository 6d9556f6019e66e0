package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	FriendlyForm  FriendlyFormConfig
	Ticket        TicketConfig
	Session       SessionConfig
	Lockout       LockoutConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
}

type ServerConfig struct {
	Port         int
	EnableTLS    bool
	TLSPort      int
	CertFile     string
	KeyFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// FriendlyFormConfig configures the redirecting login-form plugin.
// LoginCounterName is accepted for backwards compatibility but the
// plugin always uses the literal "__logins" parameter.
type FriendlyFormConfig struct {
	MountPoint        string
	LoginFormPath     string
	LoginHandlerPath  string
	LogoutHandlerPath string
	PostLoginPath     string
	PostLogoutPath    string
	LoginCounterName  string
}

type TicketConfig struct {
	CookieName string
	Secret     string
	TTL        time.Duration
	Secure     bool
}

type SessionConfig struct {
	TTL time.Duration
}

type LockoutConfig struct {
	MaxFailures   int
	FailureWindow time.Duration
	LockDuration  time.Duration
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	// Peppers, newest first. The first entry is used for new hashes;
	// the rest remain valid for verification.
	Peppers []string
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
	// Base64 KMS ciphertext of the ticket-signing secret. Used instead
	// of Ticket.Secret when KMS is enabled.
	EncryptedTicketSecret string
}

var (
	globalConfig *Config
	loadOnce     sync.Once
)

// LoadConfig reads configuration from the environment (and .env in
// development) exactly once and caches it.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		// .env is optional; real deployments inject the environment.
		_ = godotenv.Load()

		globalConfig = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Port:         getEnvInt("SERVER_PORT", 8080),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "console"),
			},
			FriendlyForm: FriendlyFormConfig{
				MountPoint:        getEnv("FORM_MOUNT_POINT", ""),
				LoginFormPath:     getEnv("FORM_LOGIN_PATH", "/login"),
				LoginHandlerPath:  getEnv("FORM_LOGIN_HANDLER_PATH", "/login_handler"),
				LogoutHandlerPath: getEnv("FORM_LOGOUT_HANDLER_PATH", "/logout_handler"),
				PostLoginPath:     getEnv("FORM_POST_LOGIN_PATH", ""),
				PostLogoutPath:    getEnv("FORM_POST_LOGOUT_PATH", ""),
				LoginCounterName:  getEnv("FORM_LOGIN_COUNTER_NAME", ""),
			},
			Ticket: TicketConfig{
				CookieName: getEnv("TICKET_COOKIE_NAME", "formauth_tkt"),
				Secret:     getEnv("TICKET_SECRET", ""),
				TTL:        getEnvDuration("TICKET_TTL", 12*time.Hour),
				Secure:     getEnvBool("TICKET_SECURE_COOKIE", false),
			},
			Session: SessionConfig{
				TTL: getEnvDuration("SESSION_TTL", 12*time.Hour),
			},
			Lockout: LockoutConfig{
				MaxFailures:   getEnvInt("LOCKOUT_MAX_FAILURES", 5),
				FailureWindow: getEnvDuration("LOCKOUT_FAILURE_WINDOW", 15*time.Minute),
				LockDuration:  getEnvDuration("LOCKOUT_LOCK_DURATION", 30*time.Minute),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 65536),
				Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
				Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
				Peppers:           getEnvSlice("HASHING_PEPPERS", []string{"dev-pepper"}),
			},
			Bucketing: BucketingConfig{
				UserBuckets:  getEnvInt("USER_BUCKETS", 64),
				EventBuckets: getEnvInt("EVENT_BUCKETS", 16),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "formauth"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Brokers:     getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
				EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "formauth.security-events"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
				Database: getEnv("CLICKHOUSE_DATABASE", "formauth"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Elasticsearch: ElasticsearchConfig{
				URL:        getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
				Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
				Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
				AuditIndex: getEnv("ELASTICSEARCH_AUDIT_INDEX", "formauth-audit"),
			},
			KMS: KMSConfig{
				Enabled:               getEnvBool("KMS_ENABLED", false),
				KeyID:                 getEnv("KMS_KEY_ID", ""),
				Region:                getEnv("KMS_REGION", "us-east-1"),
				EncryptedTicketSecret: getEnv("KMS_ENCRYPTED_TICKET_SECRET", ""),
			},
		}
	})

	return globalConfig
}

// Get returns the cached configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// GetServerAddress returns the plain HTTP listen address.
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
