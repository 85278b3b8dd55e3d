// Package config resolves runtime configuration in priority order:
// defaults, then the YAML file, then POSTAGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"postage.org/internal/split"
)

type Config struct {
	Service   Service   `yaml:"service"`
	Auth      Auth      `yaml:"auth"`
	Engine    Engine    `yaml:"engine"`
	Postgres  Postgres  `yaml:"postgres"`
	Redis     Redis     `yaml:"redis"`
	Kafka     Kafka     `yaml:"kafka"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Fixtures  Fixtures  `yaml:"fixtures"`
}

type Service struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	Version     string `yaml:"version"`
	LogLevel    string `yaml:"log_level"`
	CORSOrigin  string `yaml:"cors_origin"`
	MaxBodySize int64  `yaml:"max_body_bytes"`
	// DevTokens exposes /v1/auth/token, which signs a token for any address.
	DevTokens bool `yaml:"dev_tokens"`
}

type Auth struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// Engine names the identities and the split policy the engine starts with.
type Engine struct {
	Self         string `yaml:"self"`
	Orchestrator string `yaml:"orchestrator"`
	Admin        string `yaml:"admin"`
	Treasury     string `yaml:"treasury"`
	// Policy is a named version ("two-way", "three-way"). Split, when set,
	// overrides it with explicit basis points.
	Policy string        `yaml:"policy"`
	Split  *split.Policy `yaml:"split,omitempty"`
}

type Postgres struct {
	DSN string `yaml:"dsn"`
	// Registry reads topics and memberships from Postgres instead of the
	// fixtures.
	Registry bool `yaml:"registry"`
}

type Redis struct {
	URL string `yaml:"url"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Identities are the parsed engine addresses.
type Identities struct {
	Self         common.Address
	Orchestrator common.Address
	Admin        common.Address
	Treasury     common.Address
}

func Default() Config {
	return Config{
		Service: Service{
			HTTPAddr:    ":8080",
			GRPCAddr:    ":9090",
			Version:     "dev",
			LogLevel:    "info",
			CORSOrigin:  "*",
			MaxBodySize: 1 << 20,
		},
		Auth: Auth{TokenTTL: time.Hour},
		Engine: Engine{
			Self:         "0x00000000000000000000000000000000000e5c40",
			Orchestrator: "0x0000000000000000000000000000000000000c0a",
			Policy:       split.ThreeWay.Version,
		},
		Kafka:     Kafka{Topic: "postage.settlement"},
		RateLimit: RateLimit{PerSecond: 50, Burst: 100},
	}
}

// Load reads .env (if present), then path (if present), then the
// environment. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	envFile := envOrDefault("POSTAGE_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Service.HTTPAddr = envOrDefault("POSTAGE_HTTP_ADDR", c.Service.HTTPAddr)
	c.Service.GRPCAddr = envOrDefault("POSTAGE_GRPC_ADDR", c.Service.GRPCAddr)
	c.Service.Version = envOrDefault("POSTAGE_VERSION", c.Service.Version)
	c.Service.LogLevel = envOrDefault("POSTAGE_LOG_LEVEL", c.Service.LogLevel)
	c.Service.CORSOrigin = envOrDefault("POSTAGE_CORS_ORIGIN", c.Service.CORSOrigin)
	c.Service.DevTokens = envBool("POSTAGE_DEV_TOKENS", c.Service.DevTokens)

	c.Auth.Secret = envOrDefault("POSTAGE_AUTH_SECRET", c.Auth.Secret)

	c.Engine.Self = envOrDefault("POSTAGE_SELF", c.Engine.Self)
	c.Engine.Orchestrator = envOrDefault("POSTAGE_ORCHESTRATOR", c.Engine.Orchestrator)
	c.Engine.Admin = envOrDefault("POSTAGE_ADMIN", c.Engine.Admin)
	c.Engine.Treasury = envOrDefault("POSTAGE_TREASURY", c.Engine.Treasury)
	if v := os.Getenv("POSTAGE_SPLIT_POLICY"); v != "" {
		c.Engine.Policy = v
		c.Engine.Split = nil
	}

	c.Postgres.DSN = envOrDefault("POSTAGE_PG_DSN", c.Postgres.DSN)
	c.Postgres.Registry = envBool("POSTAGE_PG_REGISTRY", c.Postgres.Registry)
	c.Redis.URL = envOrDefault("POSTAGE_REDIS_URL", c.Redis.URL)
	c.Kafka.Brokers = envCSV("POSTAGE_KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = envOrDefault("POSTAGE_KAFKA_TOPIC", c.Kafka.Topic)

	c.RateLimit.PerSecond = envFloat("POSTAGE_RATE_LIMIT_RPS", c.RateLimit.PerSecond)
	c.RateLimit.Burst = envInt("POSTAGE_RATE_LIMIT_BURST", c.RateLimit.Burst)
}

// Validate rejects configuration the engine cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("config: auth secret is required (POSTAGE_AUTH_SECRET)")
	}
	if _, err := c.Identities(); err != nil {
		return err
	}
	if _, err := c.SplitPolicy(); err != nil {
		return err
	}
	if c.Postgres.Registry && c.Postgres.DSN == "" {
		return errors.New("config: postgres registry requires a DSN")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("config: kafka topic is required when brokers are set")
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("config: rate limit must not be negative")
	}
	return c.Fixtures.validate()
}

// Identities parses the engine addresses. Admin and treasury must be set.
func (c Config) Identities() (Identities, error) {
	var (
		ids Identities
		err error
	)
	for _, f := range []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"engine.self", c.Engine.Self, &ids.Self},
		{"engine.orchestrator", c.Engine.Orchestrator, &ids.Orchestrator},
		{"engine.admin", c.Engine.Admin, &ids.Admin},
		{"engine.treasury", c.Engine.Treasury, &ids.Treasury},
	} {
		if *f.dst, err = ParseAddress(f.raw); err != nil {
			return Identities{}, fmt.Errorf("config: %s: %w", f.name, err)
		}
		if *f.dst == (common.Address{}) {
			return Identities{}, fmt.Errorf("config: %s must not be the zero address", f.name)
		}
	}
	if ids.Self == ids.Orchestrator {
		return Identities{}, errors.New("config: engine.self and engine.orchestrator must differ")
	}
	return ids, nil
}

// SplitPolicy returns the configured policy.
func (c Config) SplitPolicy() (split.Policy, error) {
	if c.Engine.Split != nil {
		p := *c.Engine.Split
		if p.Version == "" {
			p.Version = "custom"
		}
		if err := p.Validate(); err != nil {
			return split.Policy{}, fmt.Errorf("config: engine.split: %w", err)
		}
		return p, nil
	}
	p, ok := split.Lookup(c.Engine.Policy)
	if !ok {
		return split.Policy{}, fmt.Errorf("config: unknown split policy %q", c.Engine.Policy)
	}
	return p, nil
}

// ParseAddress accepts a 0x-prefixed 20-byte hex address.
func ParseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return common.Address{}, fmt.Errorf("malformed address %q", raw)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("malformed address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	switch os.Getenv(name) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	var parts []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
