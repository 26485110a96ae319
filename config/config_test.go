package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsNeedSigningKey(t *testing.T) {
	_, err := Load(WithLookup(envMap(nil)))
	require.Error(t, err)

	cfg, err := Load(WithLookup(envMap(map[string]string{
		"PORTAL_LOCAL_SIGNING_KEY": "0123456789abcdef",
	})))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, IdentityLocal, cfg.Identity.Driver)
	assert.Equal(t, PersistenceSQLite, cfg.Persistence.Driver)
	assert.Equal(t, TokenStoreMemory, cfg.TokenStore.Driver)
	assert.Equal(t, "BR", cfg.Phone.DefaultRegion)
	assert.Equal(t, 10000, cfg.Session.MaxViews)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, "portal.yaml", `
debug: true
server:
  addr: ":9000"
cookie:
  name: my_view
  secure: true
  ttl: 48h
session:
  hydrate_wait: 500ms
identity:
  driver: kratos
  kratos:
    public_url: http://kratos:4433
    poll_interval: 30s
token_store:
  driver: redis
  redis_addr: localhost:6379
`)

	cfg, err := Load(WithFile(path), WithLookup(envMap(map[string]string{
		"PORTAL_SERVER_ADDR":       ":9100",
		"PORTAL_RATE_LIMIT_RPS":    "2.5",
		"PORTAL_COOKIE_SECURE":     "false",
		"PORTAL_TOKEN_STORE_TTL":   "12h",
		"PORTAL_SESSION_MAX_VIEWS": "250",
	})))
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, "my_view", cfg.GetCookieName())
	assert.False(t, cfg.GetCookieSecure())
	assert.Equal(t, 48*time.Hour, cfg.GetCookieTTL())
	assert.Equal(t, 500*time.Millisecond, cfg.GetHydrateWait())
	assert.Equal(t, 250, cfg.Session.MaxViews)
	assert.Equal(t, IdentityKratos, cfg.Identity.Driver)
	assert.Equal(t, "http://kratos:4433", cfg.Identity.Kratos.PublicURL)
	assert.Equal(t, 30*time.Second, cfg.Identity.Kratos.PollInterval)
	assert.Equal(t, "localhost:6379", cfg.TokenStore.RedisAddr)
	assert.Equal(t, 12*time.Hour, cfg.TokenStore.TTL)
	assert.InDelta(t, 2.5, cfg.RateLimit.RPS, 0.0001)
	assert.Equal(t, "BR", cfg.GetPhoneRegion())
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "PORTAL_LOCAL_SIGNING_KEY=from-dotenv-file-key\nPORTAL_PHONE_DEFAULT_REGION=PT\n")
	t.Cleanup(func() {
		_ = os.Unsetenv("PORTAL_LOCAL_SIGNING_KEY")
		_ = os.Unsetenv("PORTAL_PHONE_DEFAULT_REGION")
	})

	cfg, err := Load(WithEnvFile(path))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv-file-key", cfg.Identity.Local.SigningKey)
	assert.Equal(t, "PT", cfg.Phone.DefaultRegion)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(
		WithEnvFile(filepath.Join(t.TempDir(), "missing.env")),
		WithLookup(envMap(map[string]string{"PORTAL_LOCAL_SIGNING_KEY": "0123456789abcdef"})),
	)
	require.NoError(t, err)
}

func TestLoadErrors(t *testing.T) {
	key := "0123456789abcdef"

	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "missing yaml file", file: "/does/not/exist.yaml"},
		{name: "bad duration", env: map[string]string{"PORTAL_LOCAL_SIGNING_KEY": key, "PORTAL_COOKIE_TTL": "soon"}},
		{name: "bad bool", env: map[string]string{"PORTAL_LOCAL_SIGNING_KEY": key, "PORTAL_DEBUG": "maybe"}},
		{name: "unknown identity driver", env: map[string]string{"PORTAL_IDENTITY_DRIVER": "ldap"}},
		{name: "short signing key", env: map[string]string{"PORTAL_LOCAL_SIGNING_KEY": "short"}},
		{name: "kratos without url", env: map[string]string{"PORTAL_IDENTITY_DRIVER": "kratos"}},
		{name: "redis without addr", env: map[string]string{"PORTAL_LOCAL_SIGNING_KEY": key, "PORTAL_TOKEN_STORE_DRIVER": "redis"}},
		{name: "unknown persistence", env: map[string]string{"PORTAL_LOCAL_SIGNING_KEY": key, "PORTAL_PERSISTENCE_DRIVER": "mysql"}},
		{name: "zero burst", env: map[string]string{"PORTAL_LOCAL_SIGNING_KEY": key, "PORTAL_RATE_LIMIT_BURST": "0"}},
		{name: "bad region", env: map[string]string{"PORTAL_LOCAL_SIGNING_KEY": key, "PORTAL_PHONE_DEFAULT_REGION": "brazil"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []LoadOption{WithLookup(envMap(tt.env))}
			if tt.file != "" {
				opts = append(opts, WithFile(tt.file))
			}
			cfg, err := Load(opts...)
			require.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestRateLimitDisabledSkipsChecks(t *testing.T) {
	_, err := Load(WithLookup(envMap(map[string]string{
		"PORTAL_LOCAL_SIGNING_KEY":  "0123456789abcdef",
		"PORTAL_RATE_LIMIT_ENABLED": "false",
		"PORTAL_RATE_LIMIT_BURST":   "0",
	})))
	require.NoError(t, err)
}

func TestPersistenceSettings(t *testing.T) {
	cfg, err := Load(WithLookup(envMap(map[string]string{
		"PORTAL_LOCAL_SIGNING_KEY":        "0123456789abcdef",
		"PORTAL_PERSISTENCE_DRIVER":       "postgres",
		"PORTAL_PERSISTENCE_DSN":          "postgres://portal@db/portal",
		"PORTAL_PERSISTENCE_DEBUG":        "true",
		"PORTAL_PERSISTENCE_PING_TIMEOUT": "3s",
	})))
	require.NoError(t, err)

	var pcfg persistence.Config = cfg.GetPersistence()
	assert.Equal(t, PersistencePostgres, pcfg.GetDriver())
	assert.Equal(t, "postgres://portal@db/portal", pcfg.GetServer())
	assert.True(t, pcfg.GetDebug())
	assert.Equal(t, 3*time.Second, pcfg.GetPingTimeout())
}
