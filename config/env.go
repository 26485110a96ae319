package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

// EnvPrefix namespaces every environment override
const EnvPrefix = "PORTAL_"

type envBinding struct {
	key   string
	apply func(cfg *Config, value string) error
}

var envBindings = []envBinding{
	{"DEBUG", boolVar(func(c *Config) *bool { return &c.Debug })},
	{"SERVER_ADDR", stringVar(func(c *Config) *string { return &c.Server.Addr })},
	{"SERVER_SHUTDOWN_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout })},
	{"COOKIE_NAME", stringVar(func(c *Config) *string { return &c.Cookie.Name })},
	{"COOKIE_SECURE", boolVar(func(c *Config) *bool { return &c.Cookie.Secure })},
	{"COOKIE_TTL", durationVar(func(c *Config) *time.Duration { return &c.Cookie.TTL })},
	{"SESSION_HYDRATE_WAIT", durationVar(func(c *Config) *time.Duration { return &c.Session.HydrateWait })},
	{"SESSION_IDLE_TTL", durationVar(func(c *Config) *time.Duration { return &c.Session.IdleTTL })},
	{"SESSION_SWEEP_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Session.SweepInterval })},
	{"SESSION_MAX_VIEWS", intVar(func(c *Config) *int { return &c.Session.MaxViews })},
	{"IDENTITY_DRIVER", stringVar(func(c *Config) *string { return &c.Identity.Driver })},
	{"LOCAL_SIGNING_KEY", stringVar(func(c *Config) *string { return &c.Identity.Local.SigningKey })},
	{"LOCAL_ISSUER", stringVar(func(c *Config) *string { return &c.Identity.Local.Issuer })},
	{"LOCAL_ACCESS_TTL", durationVar(func(c *Config) *time.Duration { return &c.Identity.Local.AccessTTL })},
	{"LOCAL_REFRESH_TTL", durationVar(func(c *Config) *time.Duration { return &c.Identity.Local.RefreshTTL })},
	{"LOCAL_MIN_PASSWORD_LENGTH", intVar(func(c *Config) *int { return &c.Identity.Local.MinPasswordLength })},
	{"LOCAL_DETERMINISTIC_IDS", boolVar(func(c *Config) *bool { return &c.Identity.Local.DeterministicIDs })},
	{"KRATOS_PUBLIC_URL", stringVar(func(c *Config) *string { return &c.Identity.Kratos.PublicURL })},
	{"KRATOS_POLL_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Identity.Kratos.PollInterval })},
	{"PERSISTENCE_DRIVER", stringVar(func(c *Config) *string { return &c.Persistence.Driver })},
	{"PERSISTENCE_DSN", stringVar(func(c *Config) *string { return &c.Persistence.DSN })},
	{"PERSISTENCE_DEBUG", boolVar(func(c *Config) *bool { return &c.Persistence.Debug })},
	{"PERSISTENCE_PING_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Persistence.PingTimeout })},
	{"TOKEN_STORE_DRIVER", stringVar(func(c *Config) *string { return &c.TokenStore.Driver })},
	{"TOKEN_STORE_REDIS_ADDR", stringVar(func(c *Config) *string { return &c.TokenStore.RedisAddr })},
	{"TOKEN_STORE_REDIS_PASSWORD", stringVar(func(c *Config) *string { return &c.TokenStore.RedisPassword })},
	{"TOKEN_STORE_REDIS_DB", intVar(func(c *Config) *int { return &c.TokenStore.RedisDB })},
	{"TOKEN_STORE_PREFIX", stringVar(func(c *Config) *string { return &c.TokenStore.Prefix })},
	{"TOKEN_STORE_TTL", durationVar(func(c *Config) *time.Duration { return &c.TokenStore.TTL })},
	{"RATE_LIMIT_ENABLED", boolVar(func(c *Config) *bool { return &c.RateLimit.Enabled })},
	{"RATE_LIMIT_RPS", floatVar(func(c *Config) *float64 { return &c.RateLimit.RPS })},
	{"RATE_LIMIT_BURST", intVar(func(c *Config) *int { return &c.RateLimit.Burst })},
	{"PHONE_DEFAULT_REGION", stringVar(func(c *Config) *string { return &c.Phone.DefaultRegion })},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		name := EnvPrefix + b.key
		value, ok := lookup(name)
		if !ok {
			continue
		}
		if err := b.apply(cfg, strings.TrimSpace(value)); err != nil {
			return errors.Wrap(err, errors.CategoryBadInput, "invalid environment variable").
				WithMetadata(map[string]any{"name": name})
		}
	}
	return nil
}

func stringVar(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func boolVar(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func floatVar(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func durationVar(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}
