// Command contractsd is the API Facade process: it exposes the wire
// protocol (§6) over HTTP and wires the core engines to Postgres, Redis,
// and (optionally) S3, grounded on the teacher's cmd/api/main.go startup
// sequence.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/nightslayer18/skeenode-contracts/internal/auth"
	"github.com/nightslayer18/skeenode-contracts/internal/config"
	"github.com/nightslayer18/skeenode-contracts/internal/core/facade"
	"github.com/nightslayer18/skeenode-contracts/internal/observability/logging"
	"github.com/nightslayer18/skeenode-contracts/internal/observability/tracing"
	"github.com/nightslayer18/skeenode-contracts/internal/resilience"
	"github.com/nightslayer18/skeenode-contracts/internal/storage/blobstore"
	"github.com/nightslayer18/skeenode-contracts/internal/storage/postgres"
	"github.com/nightslayer18/skeenode-contracts/internal/transport/httpapi"
	"github.com/nightslayer18/skeenode-contracts/internal/transport/middleware"
)

// etcdChecker adapts an etcd client to httpapi.HealthChecker.
type etcdChecker struct{ client *clientv3.Client }

func (c etcdChecker) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

// redisChecker adapts a redis client to httpapi.HealthChecker.
type redisChecker struct{ client *redis.Client }

func (c redisChecker) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func main() {
	cfg, err := config.Load(os.Getenv("CONTRACTSD_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("contractsd: load config: %v", err)
	}

	logCfg := logging.DefaultConfig("contractsd")
	logCfg.Level = cfg.LogLevel
	logger, err := logging.Init(logCfg)
	if err != nil {
		log.Fatalf("contractsd: init logging: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracingProvider, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  "contractsd",
		Endpoint:     cfg.TracingURL,
		Enabled:      cfg.TracingOn,
		SamplingRate: cfg.TracingSample,
	})
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}
	defer tracingProvider.Shutdown(context.Background())

	store, err := postgres.New(postgres.DefaultConfig(cfg.DSN()))
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer store.Close()
	logger.Info("postgres connected")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	logger.Info("redis connected", zap.String("addr", cfg.RedisAddr))

	var etcdClient *clientv3.Client
	if len(cfg.EtcdEndpoints) > 0 {
		etcdClient, err = clientv3.New(clientv3.Config{
			Endpoints:   cfg.EtcdEndpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			logger.Fatal("connect etcd", zap.Error(err))
		}
		defer etcdClient.Close()
		logger.Info("etcd connected")
	}

	breaker := resilience.New("request-work", resilience.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		MaxProbes:        3,
	})

	f := facade.New(store, time.Now).WithRetry(breaker, 3)

	blobStore, err := buildBlobstore(ctx, cfg)
	if err != nil {
		logger.Fatal("init blobstore", zap.Error(err))
	}
	f = f.WithBlobstore(blobStore, cfg.BlobstoreThresholdBytes)

	var jwtService *auth.JWTService
	if cfg.AuthEnabled {
		jwtCfg := auth.DefaultJWTConfig()
		jwtCfg.SecretKey = cfg.JWTSecret
		jwtCfg.Issuer = cfg.JWTIssuer
		jwtService, err = auth.NewJWTService(jwtCfg)
		if err != nil {
			logger.Fatal("init jwt service", zap.Error(err))
		}
	}

	apiKeyStore := auth.NewRedisAPIKeyStore(redisClient, 0)
	rateLimiter := middleware.NewRateLimiter(redisClient, middleware.DefaultRateLimiterConfig())
	validator := middleware.NewValidator(middleware.DefaultValidatorConfig())

	var etcdHealth httpapi.HealthChecker
	if etcdClient != nil {
		etcdHealth = etcdChecker{client: etcdClient}
	}

	server := httpapi.New(httpapi.Config{
		Port:        cfg.APIPort,
		Facade:      f,
		JWTService:  jwtService,
		APIKeyStore: apiKeyStore,
		Validator:   validator,
		RateLimiter: rateLimiter,
		Logger:      logger,
		Postgres:    store,
		Redis:       redisChecker{client: redisClient},
		Etcd:        etcdHealth,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server error", zap.Error(err))
		}
	}()
	logger.Info("contractsd started", zap.String("port", cfg.APIPort))

	sig := <-sigChan
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	cancel()
	logger.Info("contractsd shutdown complete")
}

func buildBlobstore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.BlobstoreBackend {
	case "s3":
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket: cfg.BlobstoreS3Bucket,
			Prefix: "payloads/",
		})
	case "local", "":
		return blobstore.NewLocalStore(cfg.BlobstoreLocalDir)
	default:
		return nil, fmt.Errorf("unknown blobstore backend %q", cfg.BlobstoreBackend)
	}
}
