// Package config is the ambient configuration layer: viper-backed env/file
// loading generalized from the teacher's hand-rolled getEnv helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting contractsd and reaperd need.
type Config struct {
	DBHost     string `mapstructure:"db_host"`
	DBPort     string `mapstructure:"db_port"`
	DBUser     string `mapstructure:"db_user"`
	DBPassword string `mapstructure:"db_password"`
	DBName     string `mapstructure:"db_name"`
	DBSSLMode  string `mapstructure:"db_sslmode"`

	RedisAddr string `mapstructure:"redis_addr"`

	EtcdEndpoints []string `mapstructure:"etcd_endpoints"`
	LeaderLeaseS  int      `mapstructure:"leader_lease_seconds"`

	APIPort string `mapstructure:"api_port"`

	// Auth
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer"`
	AuthEnabled bool   `mapstructure:"auth_enabled"`

	// Blobstore (contract payload overflow, §9 supplement)
	BlobstoreThresholdBytes int    `mapstructure:"blobstore_threshold_bytes"`
	BlobstoreBackend        string `mapstructure:"blobstore_backend"` // "s3" or "local"
	BlobstoreS3Bucket       string `mapstructure:"blobstore_s3_bucket"`
	BlobstoreLocalDir       string `mapstructure:"blobstore_local_dir"`

	// Resilience
	CircuitBreakerFailureThreshold int           `mapstructure:"circuit_breaker_failure_threshold"`
	CircuitBreakerSuccessThreshold int           `mapstructure:"circuit_breaker_success_threshold"`
	CircuitBreakerTimeout          time.Duration `mapstructure:"circuit_breaker_timeout"`

	// Reaper (§4.5/§9, off by default)
	ReaperEnabled         bool          `mapstructure:"reaper_enabled"`
	ReaperHeartbeatExpiry time.Duration `mapstructure:"reaper_heartbeat_expiry"`
	ReaperSweepInterval   time.Duration `mapstructure:"reaper_sweep_interval"`

	// Observability
	LogLevel      string  `mapstructure:"log_level"`
	TracingURL    string  `mapstructure:"tracing_endpoint"`
	TracingOn     bool    `mapstructure:"tracing_enabled"`
	TracingSample float64 `mapstructure:"tracing_sample_rate"`
}

// Load reads configuration from environment variables (CONTRACTSD_ prefix),
// an optional config file, and built-in defaults, in that precedence order.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("contractsd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "contractsd")
	v.SetDefault("db_password", "password")
	v.SetDefault("db_name", "contractsd")
	v.SetDefault("db_sslmode", "disable")

	v.SetDefault("redis_addr", "localhost:6379")

	v.SetDefault("etcd_endpoints", []string{"localhost:2379"})
	v.SetDefault("leader_lease_seconds", 15)

	v.SetDefault("api_port", "8080")

	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "contractsd")
	v.SetDefault("auth_enabled", false)

	v.SetDefault("blobstore_threshold_bytes", 256*1024)
	v.SetDefault("blobstore_backend", "local")
	v.SetDefault("blobstore_s3_bucket", "")
	v.SetDefault("blobstore_local_dir", "/var/lib/contractsd/blobs")

	v.SetDefault("circuit_breaker_failure_threshold", 5)
	v.SetDefault("circuit_breaker_success_threshold", 2)
	v.SetDefault("circuit_breaker_timeout", 30*time.Second)

	v.SetDefault("reaper_enabled", false)
	v.SetDefault("reaper_heartbeat_expiry", 60*time.Second)
	v.SetDefault("reaper_sweep_interval", 20*time.Second)

	v.SetDefault("log_level", "info")
	v.SetDefault("tracing_endpoint", "localhost:4318")
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_sample_rate", 1.0)
}

// DSN renders the Postgres connection string GORM expects.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}
