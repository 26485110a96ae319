// Package config loads the portal settings from an optional YAML file, an
// optional .env file and PORTAL_* environment variables, in that order.
package config

import (
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	IdentityLocal  = "local"
	IdentityKratos = "kratos"

	PersistenceSQLite   = "sqlite"
	PersistencePostgres = "postgres"

	TokenStoreMemory = "memory"
	TokenStoreRedis  = "redis"
)

type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Cookie      CookieConfig      `yaml:"cookie"`
	Session     SessionConfig     `yaml:"session"`
	Identity    IdentityConfig    `yaml:"identity"`
	Persistence PersistenceConfig `yaml:"persistence"`
	TokenStore  TokenStoreConfig  `yaml:"token_store"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Phone       PhoneConfig       `yaml:"phone"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type CookieConfig struct {
	Name   string        `yaml:"name"`
	Secure bool          `yaml:"secure"`
	TTL    time.Duration `yaml:"ttl"`
}

type SessionConfig struct {
	HydrateWait   time.Duration `yaml:"hydrate_wait"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxViews      int           `yaml:"max_views"`
}

type IdentityConfig struct {
	Driver string       `yaml:"driver"`
	Local  LocalConfig  `yaml:"local"`
	Kratos KratosConfig `yaml:"kratos"`
}

type LocalConfig struct {
	SigningKey        string        `yaml:"signing_key"`
	Issuer            string        `yaml:"issuer"`
	AccessTTL         time.Duration `yaml:"access_ttl"`
	RefreshTTL        time.Duration `yaml:"refresh_ttl"`
	MinPasswordLength int           `yaml:"min_password_length"`
	DeterministicIDs  bool          `yaml:"deterministic_ids"`
}

type KratosConfig struct {
	PublicURL    string        `yaml:"public_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type PersistenceConfig struct {
	Driver         string        `yaml:"driver"`
	DSN            string        `yaml:"dsn"`
	Debug          bool          `yaml:"debug"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	OtelIdentifier string        `yaml:"otel_identifier"`
}

type TokenStoreConfig struct {
	Driver        string        `yaml:"driver"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Prefix        string        `yaml:"prefix"`
	TTL           time.Duration `yaml:"ttl"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type PhoneConfig struct {
	DefaultRegion string `yaml:"default_region"`
}

// Defaults returns a configuration that runs locally with no external
// services.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Cookie: CookieConfig{
			Name: "portal_view",
			TTL:  30 * 24 * time.Hour,
		},
		Session: SessionConfig{
			HydrateWait:   2 * time.Second,
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
			MaxViews:      10000,
		},
		Identity: IdentityConfig{
			Driver: IdentityLocal,
			Local: LocalConfig{
				Issuer:            "patient-portal",
				AccessTTL:         time.Hour,
				RefreshTTL:        30 * 24 * time.Hour,
				MinPasswordLength: 6,
			},
			Kratos: KratosConfig{
				PollInterval: time.Minute,
			},
		},
		Persistence: PersistenceConfig{
			Driver:      PersistenceSQLite,
			DSN:         "file:portal.db?cache=shared",
			PingTimeout: 5 * time.Second,
		},
		TokenStore: TokenStoreConfig{
			Driver: TokenStoreMemory,
			Prefix: "portal:token:",
			TTL:    30 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     1,
			Burst:   5,
		},
		Phone: PhoneConfig{
			DefaultRegion: "BR",
		},
	}
}

type loader struct {
	file    string
	envFile string
	lookup  func(string) (string, bool)
}

type LoadOption func(*loader)

// WithFile reads YAML from path. A missing file is an error.
func WithFile(path string) LoadOption {
	return func(l *loader) { l.file = path }
}

// WithEnvFile loads a dotenv file into the process environment. A missing
// file is ignored.
func WithEnvFile(path string) LoadOption {
	return func(l *loader) { l.envFile = path }
}

// WithLookup replaces os.LookupEnv
func WithLookup(lookup func(string) (string, bool)) LoadOption {
	return func(l *loader) {
		if lookup != nil {
			l.lookup = lookup
		}
	}
}

// Load builds the configuration and validates it
func Load(opts ...LoadOption) (*Config, error) {
	l := &loader{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(l)
	}

	cfg := Defaults()

	if l.file != "" {
		raw, err := os.ReadFile(l.file)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to read config file").
				WithMetadata(map[string]any{"path": l.file})
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to parse config file").
				WithMetadata(map[string]any{"path": l.file})
		}
	}

	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to load env file").
				WithMetadata(map[string]any{"path": l.envFile})
		}
	}

	if err := applyEnv(cfg, l.lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings the selected drivers depend on
func (c *Config) Validate() error {
	if err := errors.ValidateWithOzzo(func() error {
		return validation.Errors{
			"server":      c.Server.validate(),
			"cookie":      c.Cookie.validate(),
			"session":     c.Session.validate(),
			"identity":    c.Identity.validate(),
			"persistence": c.Persistence.validate(),
			"token_store": c.TokenStore.validate(),
			"rate_limit":  c.RateLimit.validate(),
			"phone":       c.Phone.validate(),
		}.Filter()
	}, "invalid configuration"); err != nil {
		return err
	}
	return nil
}

func (s ServerConfig) validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Addr, validation.Required),
		validation.Field(&s.ShutdownTimeout, validation.Min(time.Second)),
	)
}

func (c CookieConfig) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required, validation.Length(1, 64)),
		validation.Field(&c.TTL, validation.Min(time.Minute)),
	)
}

func (s SessionConfig) validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.HydrateWait, validation.Min(time.Duration(0)), validation.Max(30*time.Second)),
		validation.Field(&s.IdleTTL, validation.Min(time.Minute)),
		validation.Field(&s.SweepInterval, validation.Min(time.Second)),
		validation.Field(&s.MaxViews, validation.Min(0)),
	)
}

func (i IdentityConfig) validate() error {
	err := validation.ValidateStruct(&i,
		validation.Field(&i.Driver, validation.Required, validation.In(IdentityLocal, IdentityKratos)),
	)
	if err != nil {
		return err
	}

	switch i.Driver {
	case IdentityLocal:
		l := i.Local
		return validation.ValidateStruct(&l,
			validation.Field(&l.SigningKey, validation.Required, validation.Length(16, 0)),
			validation.Field(&l.AccessTTL, validation.Min(time.Minute)),
			validation.Field(&l.RefreshTTL, validation.Min(time.Hour)),
			validation.Field(&l.MinPasswordLength, validation.Min(6)),
		)
	case IdentityKratos:
		k := i.Kratos
		return validation.ValidateStruct(&k,
			validation.Field(&k.PublicURL, validation.Required, is.URL),
			validation.Field(&k.PollInterval, validation.Min(time.Duration(0))),
		)
	}
	return nil
}

func (p PersistenceConfig) validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Driver, validation.Required, validation.In(PersistenceSQLite, PersistencePostgres)),
		validation.Field(&p.DSN, validation.Required),
		validation.Field(&p.PingTimeout, validation.Min(time.Duration(0))),
	)
}

func (t TokenStoreConfig) validate() error {
	rules := []*validation.FieldRules{
		validation.Field(&t.Driver, validation.Required, validation.In(TokenStoreMemory, TokenStoreRedis)),
	}
	if t.Driver == TokenStoreRedis {
		rules = append(rules,
			validation.Field(&t.RedisAddr, validation.Required),
			validation.Field(&t.RedisDB, validation.Min(0)),
		)
	}
	return validation.ValidateStruct(&t, rules...)
}

func (r RateLimitConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.RPS, validation.Required, validation.Min(0.01)),
		validation.Field(&r.Burst, validation.Required, validation.Min(1)),
	)
}

func (p PhoneConfig) validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.DefaultRegion, validation.Length(2, 2), is.UpperCase),
	)
}

func (c *Config) GetCookieName() string { return c.Cookie.Name }

func (c *Config) GetCookieSecure() bool { return c.Cookie.Secure }

func (c *Config) GetCookieTTL() time.Duration { return c.Cookie.TTL }

func (c *Config) GetHydrateWait() time.Duration { return c.Session.HydrateWait }

func (c *Config) GetPhoneRegion() string { return c.Phone.DefaultRegion }

// GetPersistence returns the database settings, they satisfy
// persistence.Config
func (c *Config) GetPersistence() PersistenceConfig { return c.Persistence }

func (p PersistenceConfig) GetDebug() bool { return p.Debug }

func (p PersistenceConfig) GetDriver() string { return p.Driver }

func (p PersistenceConfig) GetServer() string { return p.DSN }

func (p PersistenceConfig) GetPingTimeout() time.Duration { return p.PingTimeout }

func (p PersistenceConfig) GetOtelIdentifier() string { return p.OtelIdentifier }
