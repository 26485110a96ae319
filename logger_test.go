package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-patient-auth"
	"github.com/stretchr/testify/require"
)

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }

type loggerProviderSpy struct {
	byName    map[string]auth.Logger
	requested []string
}

func (p *loggerProviderSpy) GetLogger(name string) auth.Logger {
	p.requested = append(p.requested, name)
	return p.byName[name]
}

func TestResolveLogger(t *testing.T) {
	explicit := &captureLogger{}
	named := &captureLogger{}
	provider := &loggerProviderSpy{byName: map[string]auth.Logger{"auth.test": named}}

	require.Same(t, explicit, auth.ResolveLogger("auth.test", provider, explicit))
	require.Empty(t, provider.requested, "explicit logger skips the provider")

	require.Same(t, named, auth.ResolveLogger("auth.test", provider, nil))
	require.Equal(t, []string{"auth.test"}, provider.requested)

	fallback := auth.ResolveLogger("auth.other", provider, nil)
	require.NotNil(t, fallback)
	require.NotPanics(t, func() { fallback.Debug("ignored") })

	require.NotNil(t, auth.ResolveLogger("auth.default", nil, nil))
}

func TestRegistryUsesProviderLogger(t *testing.T) {
	logger := &captureLogger{}
	provider := &loggerProviderSpy{byName: map[string]auth.Logger{}}
	provider.byName["auth.registry"] = logger

	registry := auth.NewRegistry(clientFactory(func(c *MockIdentityClient) {}), new(MockProfileStore),
		auth.WithRegistryLoggerProvider(provider))
	require.NoError(t, registry.Close())

	require.Contains(t, provider.requested, "auth.registry")
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := auth.NopLogger()
	require.NotPanics(t, func() {
		logger.Debug("a", "k", 1)
		logger.Info("b")
		logger.Warn("c")
		logger.Error("d", "error", nil)
	})
}
