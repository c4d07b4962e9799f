package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/raakeshmj/licensegate/internal/audit"
	"github.com/raakeshmj/licensegate/internal/auth"
	"github.com/raakeshmj/licensegate/internal/circuitbreaker"
	"github.com/raakeshmj/licensegate/internal/config"
	"github.com/raakeshmj/licensegate/internal/metrics"
	"github.com/raakeshmj/licensegate/internal/reliability"
	"github.com/raakeshmj/licensegate/internal/repository"
	"github.com/raakeshmj/licensegate/internal/repository/github"
	"github.com/raakeshmj/licensegate/internal/repository/memory"
	"github.com/raakeshmj/licensegate/internal/repository/postgres"
	"github.com/raakeshmj/licensegate/internal/repository/redisstore"
	"github.com/raakeshmj/licensegate/internal/repository/s3store"
)

// Deps are the collaborators the HTTP layer is built on.
type Deps struct {
	Accounts repository.AccountStore
	Scopes   repository.ScopeSource
	Signer   *auth.RequestAuthenticator
	Sessions *auth.SessionManager
	Audit    audit.Logger
	Metrics  *metrics.Collector
	Closers  []func() error
}

// BuildDeps selects and connects the store backend named in cfg.
func BuildDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Deps, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var deps Deps

	var rdb *redis.Client
	redisClient := func() *redis.Client {
		if rdb == nil {
			rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			deps.Closers = append(deps.Closers, rdb.Close)
		}
		return rdb
	}

	blobs, err := openBlobStore(ctx, cfg, redisClient, &deps)
	if err != nil {
		closeAll(deps.Closers)
		return Deps{}, err
	}

	if cfg.Breaker.Enabled {
		strategy, err := reliability.ParseStrategy(cfg.Breaker.Strategy)
		if err != nil {
			closeAll(deps.Closers)
			return Deps{}, err
		}
		cb := circuitbreaker.New(redisClient(), cfg.Breaker.FailureThreshold, cfg.Breaker.OpenTimeout, strategy)
		blobs = repository.NewBreaker(blobs, cb, "store:"+cfg.Store.Backend)
		logger.Info("store circuit breaker enabled", "threshold", cfg.Breaker.FailureThreshold, "strategy", strategy)
	}

	deps.Accounts = repository.NewDocumentStore(blobs, cfg.Store.AccountsKey)
	if cfg.Store.ScopesURL != "" {
		deps.Scopes = github.NewRawScopeSource(cfg.Store.ScopesURL, cfg.Store.GitHub.Token, nil)
	} else {
		deps.Scopes = repository.NewBlobScopeSource(blobs, cfg.Store.ScopesKey)
	}

	if cfg.Auth.SigningKey != "" {
		deps.Signer = auth.NewRequestAuthenticator(cfg.Auth.SigningKey, cfg.Auth.ReplayWindow)
	}
	if cfg.Auth.JWTSecret != "" {
		deps.Sessions = auth.NewSessionManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	}

	switch cfg.Log.Audit {
	case "none":
		deps.Audit = audit.Discard{}
	case "stderr":
		deps.Audit = audit.NewJSONLogger(os.Stderr)
	default:
		deps.Audit = audit.NewJSONLogger(os.Stdout)
	}
	deps.Metrics = metrics.NewCollector()

	return deps, nil
}

func openBlobStore(ctx context.Context, cfg *config.Config, redisClient func() *redis.Client, deps *Deps) (repository.BlobStore, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		mem := memory.New()
		if err := seed(mem, cfg.Store.AccountsKey, cfg.Store.SeedAccounts); err != nil {
			return nil, err
		}
		if err := seed(mem, cfg.Store.ScopesKey, cfg.Store.SeedScopes); err != nil {
			return nil, err
		}
		return mem, nil

	case config.BackendRedis:
		return redisstore.New(redisClient(), cfg.Store.RedisPrefix), nil

	case config.BackendPostgres:
		pg, err := postgres.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		deps.Closers = append(deps.Closers, pg.Close)
		return pg, nil

	case config.BackendS3:
		client, err := s3store.NewClient(ctx, s3store.Options{
			Region:       cfg.Store.S3.Region,
			Endpoint:     cfg.Store.S3.Endpoint,
			AccessKey:    cfg.Store.S3.AccessKey,
			SecretKey:    cfg.Store.S3.SecretKey,
			UsePathStyle: cfg.Store.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s3store.New(client, cfg.Store.S3.Bucket), nil

	case config.BackendGitHub:
		return github.New(github.Options{
			BaseURL: cfg.Store.GitHub.BaseURL,
			Token:   cfg.Store.GitHub.Token,
			Owner:   cfg.Store.GitHub.Owner,
			Repo:    cfg.Store.GitHub.Repo,
			Branch:  cfg.Store.GitHub.Branch,
		}), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func seed(mem *memory.MemoryRepository, key, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	mem.Set(key, data)
	return nil
}

func closeAll(closers []func() error) {
	for _, c := range closers {
		_ = c()
	}
}
