package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	auth "github.com/goliatone/go-patient-auth"
	"github.com/goliatone/go-patient-auth/config"
	"github.com/goliatone/go-patient-auth/middleware/csrf"
	"github.com/goliatone/go-patient-auth/middleware/ratelimit"
	"github.com/goliatone/go-patient-auth/provider/kratos"
	"github.com/goliatone/go-patient-auth/provider/local"
	"github.com/goliatone/go-patient-auth/repository"
	"github.com/goliatone/go-patient-auth/tokenstore"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type App struct {
	config   *config.Config
	logger   *glog.BaseLogger
	db       *bun.DB
	tokens   tokenstore.Store
	factory  auth.ClientFactory
	registry *auth.Registry
	limiter  *ratelimit.Limiter
	srv      router.Server[*fiber.App]
	closers  []func() error
}

// loggerProvider hands glog named loggers to the auth packages
type loggerProvider struct {
	base *glog.BaseLogger
}

func (p loggerProvider) GetLogger(name string) auth.Logger {
	return p.base.GetLogger(name)
}

func (a *App) GetLogger(name string) auth.Logger {
	return loggerProvider{base: a.logger}.GetLogger(name)
}

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env", ".env", "path to a dotenv file")
	flag.Parse()

	opts := []config.LoadOption{config.WithEnvFile(*envFile)}
	if *configFile != "" {
		opts = append(opts, config.WithFile(*configFile))
	}

	cfg, err := config.Load(opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	level := glog.Info
	if cfg.Debug {
		level = glog.Trace
	}

	app := &App{
		config: cfg,
		logger: glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(level),
			glog.WithName("portal"),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(errors.ToSlogAttributes),
		),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app); err != nil {
		app.GetLogger("main").Error("portal stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, app *App) error {
	defer app.close()

	steps := []func(context.Context, *App) error{
		WithPersistence,
		WithTokenStore,
		WithIdentity,
		WithRegistry,
		WithHTTPServer,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			return err
		}
	}

	logger := app.GetLogger("main")
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", app.config.Server.Addr, "identity", app.config.Identity.Driver)
		return app.srv.Serve(app.config.Server.Addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.srv.WrappedRouter().ShutdownWithTimeout(app.config.Server.ShutdownTimeout)
	})

	return g.Wait()
}

// WithPersistence opens the profile database through a persistence client,
// validates the migrations for every dialect and applies them
func WithPersistence(ctx context.Context, app *App) error {
	client, err := repository.NewClient(ctx, app.config.GetPersistence())
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to open database")
	}

	client.SetLogger(app.logger.GetLogger("persistence"))

	db := client.DB()
	app.db = db
	app.closers = append(app.closers, db.Close)

	if err := client.Migrate(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to migrate database")
	}

	if report := client.Report(); report != nil && !report.IsZero() {
		app.GetLogger("persistence").Info("migrated", "report", report.String())
	} else {
		app.GetLogger("persistence").Info("database up to date")
	}
	return nil
}

func WithTokenStore(ctx context.Context, app *App) error {
	ts := app.config.TokenStore
	switch ts.Driver {
	case config.TokenStoreRedis:
		store := tokenstore.NewRedisFromAddr(ts.RedisAddr, ts.RedisPassword, ts.RedisDB,
			tokenstore.WithPrefix(ts.Prefix),
			tokenstore.WithTTL(ts.TTL),
		)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return errors.Wrap(err, errors.CategoryOperation, "token store unreachable").
				WithMetadata(map[string]any{"addr": ts.RedisAddr})
		}
		app.tokens = store
		app.closers = append(app.closers, store.Close)
	default:
		app.tokens = tokenstore.NewMemory()
	}
	return nil
}

// WithIdentity builds the remote identity client factory for the driver
func WithIdentity(ctx context.Context, app *App) error {
	id := app.config.Identity
	switch id.Driver {
	case config.IdentityKratos:
		api := kratos.NewAPIClient(id.Kratos.PublicURL, &http.Client{Timeout: 10 * time.Second})
		service := kratos.NewService(api,
			kratos.WithPollInterval(id.Kratos.PollInterval),
			kratos.WithLogger(app.GetLogger("auth.kratos")),
		)
		app.factory = service.ClientFactory(app.tokens)
	default:
		provider, err := local.NewProvider(app.db, id.Local.SigningKey,
			local.WithIssuer(id.Local.Issuer),
			local.WithAccessTTL(id.Local.AccessTTL),
			local.WithRefreshTTL(id.Local.RefreshTTL),
			local.WithMinPasswordLength(id.Local.MinPasswordLength),
			local.WithDeterministicIDs(id.Local.DeterministicIDs),
			local.WithLogger(app.GetLogger("auth.local")),
		)
		if err != nil {
			return err
		}
		if err := provider.EnsureSchema(ctx); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to create identity tables")
		}
		app.factory = provider.ClientFactory(app.tokens,
			local.WithClientLogger(app.GetLogger("auth.local.client")),
		)
	}
	return nil
}

func WithRegistry(_ context.Context, app *App) error {
	app.registry = auth.NewRegistry(app.factory, repository.NewPatients(app.db),
		auth.WithIdleTTL(app.config.Session.IdleTTL),
		auth.WithSweepInterval(app.config.Session.SweepInterval),
		auth.WithMaxEntries(app.config.Session.MaxViews),
		auth.WithRegistryLoggerProvider(loggerProvider{base: app.logger}),
	)
	app.closers = append(app.closers, app.registry.Close)
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	cfg := app.config

	// routes are registered after the app exists, the handler resolves lazily
	var controller *auth.AuthController
	app.srv = router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               "patient-portal",
			Views:                 auth.NewViewEngine(),
			PassLocalsToViews:     true,
			DisableStartupMessage: true,
			ReadTimeout:           15 * time.Second,
			WriteTimeout:          15 * time.Second,
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				return controller.FiberErrorHandler(c, err)
			},
		}))
	})

	app.srv.Router().Use(mflash.New(mflash.ConfigDefault))

	opts := []auth.AuthControllerOption{
		auth.WithSynchronizerSource(app.registry),
		auth.WithControllerConfig(cfg),
		auth.WithControllerLogger(app.GetLogger("auth.http")),
		auth.WithDebug(cfg.Debug),
		auth.WithCSRF(csrf.Config{SecureKey: csrfKey(cfg)}),
	}

	if cfg.RateLimit.Enabled {
		app.limiter = ratelimit.New(ratelimit.Config{
			Rate:  rate.Limit(cfg.RateLimit.RPS),
			Burst: cfg.RateLimit.Burst,
		})
		app.closers = append(app.closers, func() error {
			app.limiter.Close()
			return nil
		})
		opts = append(opts, auth.WithSubmitLimiter(app.limiter))
	}

	controller = auth.RegisterRoutes(app.srv.Router(), opts...)
	return nil
}

// csrfKey derives the form signing key from the local signing key so tokens
// survive restarts. Other drivers get a random key per process.
func csrfKey(cfg *config.Config) []byte {
	if cfg.Identity.Driver != config.IdentityLocal || cfg.Identity.Local.SigningKey == "" {
		return nil
	}
	sum := sha256.Sum256([]byte("csrf:" + cfg.Identity.Local.SigningKey))
	return sum[:]
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.GetLogger("main").Warn("close failed", "error", err)
		}
	}
}
