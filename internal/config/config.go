package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/raakeshmj/licensegate/internal/policy"
	"github.com/raakeshmj/licensegate/internal/reliability"
)

// FileEnv names the optional YAML file loaded before environment overrides.
const FileEnv = "LICENSEGATE_CONFIG"

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendGitHub   = "github"
)

type Config struct {
	ServerPort string          `yaml:"server_port"`
	RedisAddr  string          `yaml:"redis_addr"`
	Log        LoggingConfig   `yaml:"log"`
	Store      StoreConfig     `yaml:"store"`
	Auth       AuthConfig      `yaml:"auth"`
	Breaker    BreakerConfig   `yaml:"breaker"`
	HTTP       HTTPConfig      `yaml:"http"`
	Policies   []policy.Policy `yaml:"policies"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Audit is stdout, stderr or none.
	Audit string `yaml:"audit"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	AccountsKey string `yaml:"accounts_key"`
	ScopesKey   string `yaml:"scopes_key"`
	// ScopesURL, when set, is fetched instead of ScopesKey.
	ScopesURL   string `yaml:"scopes_url"`
	RedisPrefix string `yaml:"redis_prefix"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// Seed files populate the memory backend at startup.
	SeedAccounts string       `yaml:"seed_accounts"`
	SeedScopes   string       `yaml:"seed_scopes"`
	S3           S3Config     `yaml:"s3"`
	GitHub       GitHubConfig `yaml:"github"`
}

type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type GitHubConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Owner   string `yaml:"owner"`
	Repo    string `yaml:"repo"`
	Branch  string `yaml:"branch"`
}

type AuthConfig struct {
	JWTSecret        string        `yaml:"jwt_secret"`
	SigningKey       string        `yaml:"signing_key"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	ReplayWindow     time.Duration `yaml:"replay_window"`
	RequireSignature bool          `yaml:"require_signature"`
	IssueSession     bool          `yaml:"issue_session"`
	// HashPasswords stores passwords set through account updates as bcrypt.
	HashPasswords bool `yaml:"hash_passwords"`
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int64         `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	// Strategy is fail_open or fail_closed and applies when redis is down.
	Strategy string `yaml:"strategy"`
}

type HTTPConfig struct {
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	StoreTimeout    time.Duration `yaml:"store_timeout"`
}

func Defaults() *Config {
	return &Config{
		ServerPort: "8080",
		RedisAddr:  "localhost:6379",
		Log: LoggingConfig{
			Level:  "info",
			Format: "json",
			Audit:  "stdout",
		},
		Store: StoreConfig{
			Backend:     BackendMemory,
			AccountsKey: "accounts.json",
			ScopesKey:   "tokens.json",
			RedisPrefix: "licensegate:",
			GitHub:      GitHubConfig{BaseURL: "https://api.github.com"},
			S3:          S3Config{Region: "us-east-1"},
		},
		Auth: AuthConfig{
			SessionTTL:   2 * time.Hour,
			ReplayWindow: 300_000 * time.Millisecond,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			Strategy:         string(reliability.FailClosed),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			StoreTimeout:    10 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named
// by LICENSEGATE_CONFIG, and the environment (including a .env file), in
// increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := Defaults()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if len(cfg.Policies) == 0 {
		cfg.Policies = DefaultPolicies(cfg.Auth)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.Audit = getEnv("AUDIT_LOG", c.Log.Audit)

	s := &c.Store
	s.Backend = strings.ToLower(getEnv("STORE_BACKEND", s.Backend))
	s.AccountsKey = getEnv("ACCOUNTS_KEY", getEnv("GITHUB_FILE", s.AccountsKey))
	s.ScopesKey = getEnv("TOKENS_KEY", s.ScopesKey)
	s.ScopesURL = getEnv("GITHUB_TOKEN_FILE_URL", s.ScopesURL)
	s.RedisPrefix = getEnv("REDIS_PREFIX", s.RedisPrefix)
	s.PostgresDSN = getEnv("DATABASE_URL", s.PostgresDSN)
	s.SeedAccounts = getEnv("SEED_ACCOUNTS_FILE", s.SeedAccounts)
	s.SeedScopes = getEnv("SEED_TOKENS_FILE", s.SeedScopes)

	s.S3.Bucket = getEnv("S3_BUCKET", s.S3.Bucket)
	s.S3.Region = getEnv("S3_REGION", s.S3.Region)
	s.S3.Endpoint = getEnv("S3_ENDPOINT", s.S3.Endpoint)
	s.S3.AccessKey = getEnv("S3_ACCESS_KEY", s.S3.AccessKey)
	s.S3.SecretKey = getEnv("S3_SECRET_KEY", s.S3.SecretKey)

	s.GitHub.BaseURL = getEnv("GITHUB_API_URL", s.GitHub.BaseURL)
	s.GitHub.Token = getEnv("GITHUB_TOKEN", s.GitHub.Token)
	s.GitHub.Owner = getEnv("GITHUB_USER", s.GitHub.Owner)
	s.GitHub.Repo = getEnv("GITHUB_REPO", s.GitHub.Repo)
	s.GitHub.Branch = getEnv("GITHUB_BRANCH", s.GitHub.Branch)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.SigningKey = getEnv("REQUEST_SIGNING_KEY", c.Auth.SigningKey)
	c.Breaker.Strategy = getEnv("BREAKER_STRATEGY", c.Breaker.Strategy)

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(envBool("S3_PATH_STYLE", &s.S3.UsePathStyle))
	collect(envBool("REQUIRE_SIGNATURE", &c.Auth.RequireSignature))
	collect(envBool("ISSUE_SESSION", &c.Auth.IssueSession))
	collect(envBool("HASH_PASSWORDS", &c.Auth.HashPasswords))
	collect(envBool("BREAKER_ENABLED", &c.Breaker.Enabled))
	collect(envInt64("BREAKER_THRESHOLD", &c.Breaker.FailureThreshold))
	collect(envDuration("BREAKER_TIMEOUT", &c.Breaker.OpenTimeout))
	collect(envDuration("SESSION_TTL", &c.Auth.SessionTTL))
	collect(envDuration("REPLAY_WINDOW", &c.Auth.ReplayWindow))
	collect(envDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout))
	collect(envDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout))
	collect(envDuration("SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout))
	collect(envDuration("STORE_TIMEOUT", &c.HTTP.StoreTimeout))
	return errors.Join(errs...)
}

// DefaultPolicies derives route policies from the global auth switches.
func DefaultPolicies(a AuthConfig) []policy.Policy {
	return []policy.Policy{
		{
			ID:      "login",
			Matcher: policy.Matcher{Path: "/v1/login"},
			Rules:   policy.Rules{RequireSignature: a.RequireSignature, IssueSession: a.IssueSession},
		},
		{
			ID:      "category-read",
			Matcher: policy.Matcher{Method: http.MethodGet, Path: "/v1/categories"},
			Rules:   policy.Rules{AllowQueryToken: true},
		},
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerPort == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Store.AccountsKey == "" {
		errs = append(errs, errors.New("accounts key is required"))
	}
	if c.Store.ScopesKey == "" && c.Store.ScopesURL == "" {
		errs = append(errs, errors.New("a token scope key or URL is required"))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis backend requires REDIS_ADDR"))
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres backend requires DATABASE_URL"))
		}
	case BackendS3:
		if c.Store.S3.Bucket == "" {
			errs = append(errs, errors.New("s3 backend requires S3_BUCKET"))
		}
	case BackendGitHub:
		if c.Store.GitHub.Owner == "" || c.Store.GitHub.Repo == "" {
			errs = append(errs, errors.New("github backend requires GITHUB_USER and GITHUB_REPO"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	signing, sessions := c.Auth.RequireSignature, c.Auth.IssueSession
	for _, p := range c.Policies {
		signing = signing || p.Rules.RequireSignature
		sessions = sessions || p.Rules.IssueSession
	}
	if signing && c.Auth.SigningKey == "" {
		errs = append(errs, errors.New("request signing is enabled but REQUEST_SIGNING_KEY is empty"))
	}
	if sessions && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("session issuance is enabled but JWT_SECRET is empty"))
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.ReplayWindow <= 0 {
		errs = append(errs, errors.New("session ttl and replay window must be positive"))
	}

	if c.Breaker.Enabled {
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("circuit breaker requires REDIS_ADDR"))
		}
		if _, err := reliability.ParseStrategy(c.Breaker.Strategy); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Log.Audit {
	case "stdout", "stderr", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown audit output %q", c.Log.Audit))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func envInt64(key string, dst *int64) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
