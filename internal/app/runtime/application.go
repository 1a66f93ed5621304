package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/petition_service/internal/app"
	"github.com/R3E-Network/petition_service/internal/app/content"
	"github.com/R3E-Network/petition_service/internal/app/httpapi"
	"github.com/R3E-Network/petition_service/internal/app/services/auth"
	"github.com/R3E-Network/petition_service/internal/app/storage"
	"github.com/R3E-Network/petition_service/internal/app/storage/memory"
	"github.com/R3E-Network/petition_service/internal/app/storage/postgres"
	"github.com/R3E-Network/petition_service/internal/app/storage/sqlite"
	"github.com/R3E-Network/petition_service/internal/config"
	"github.com/R3E-Network/petition_service/internal/logging"
	"github.com/R3E-Network/petition_service/internal/middleware"
	"github.com/R3E-Network/petition_service/internal/platform/migrations"
)

// Application wires configuration, persistence and the HTTP server.
type Application struct {
	cfg     *config.Config
	log     *logging.Logger
	app     *app.Application
	server  *httpServer
	handler http.Handler
	closers []func() error

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewApplication opens the configured stores and builds the HTTP stack.
// Nothing listens until Run is called.
func NewApplication(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.New("petitiond", cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, log: log}

	data, err := a.openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("configure store: %w", err)
	}
	images, err := content.New(ctx, cfg.Content)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configure content store: %w", err)
	}
	creds, err := auth.NewCredentials(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL, cfg.Auth.BcryptCost)
	if err != nil {
		_ = images.Close()
		a.close()
		return nil, fmt.Errorf("credentials: %w", err)
	}
	if cfg.Auth.TokenSecret == "" {
		log.Warn("auth.token_secret not set; tokens will not survive a restart")
	}

	a.app, err = app.New(app.Stores{Data: data, Content: images}, creds, log)
	if err != nil {
		_ = images.Close()
		a.close()
		return nil, err
	}

	opts := httpapi.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Content.MaxUploadBytes,
	}
	if cfg.RateLimit.Enabled {
		if err := a.attachLimiter(&opts); err != nil {
			_ = a.app.Stop(ctx)
			a.close()
			return nil, err
		}
	}
	a.handler = httpapi.NewHandler(a.app, log.Named("httpapi"), opts)

	a.server = newHTTPServer(cfg.Server, a.handler, log)
	if err := a.app.Attach(a.server); err != nil {
		_ = a.app.Stop(ctx)
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *Application) openStore(ctx context.Context) (storage.Store, error) {
	dbCfg := a.cfg.Database
	switch strings.ToLower(dbCfg.Driver) {
	case "", "memory":
		a.log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	case "postgres":
		db, err := openDatabase(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if dbCfg.AutoMigrate {
			if err := migrations.Apply(ctx, db); err != nil {
				a.close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			a.log.Info("database migrations applied")
		}
		return postgres.New(db), nil
	case "sqlite":
		st, err := sqlite.Open(dbCfg.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	}
	return nil, fmt.Errorf("database driver %q not supported", dbCfg.Driver)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// attachLimiter picks the shared Redis limiter when an address is set and
// the in-process token buckets otherwise.
func (a *Application) attachLimiter(opts *httpapi.Options) error {
	rl := a.cfg.RateLimit
	if rl.RedisAddr != "" {
		window := rl.Window
		if window <= 0 {
			window = time.Second
		}
		limit := int(float64(rl.RequestsPerSecond) * window.Seconds())
		if limit < 1 {
			limit = 1
		}
		limiter := middleware.NewRedisLimiter(redis.NewClient(&redis.Options{Addr: rl.RedisAddr}), limit, window)
		opts.Limiter, opts.RateLimit, opts.RateWindow = limiter, limit, window
		return a.app.Attach(limiter)
	}

	limiter := middleware.NewRateLimiter(rl.RequestsPerSecond, rl.Burst)
	opts.Limiter, opts.RateLimit, opts.RateWindow = limiter, rl.RequestsPerSecond, time.Second
	return a.app.Attach(limiter)
}

// App exposes the wired services.
func (a *Application) App() *app.Application {
	return a.app
}

// Handler returns the full HTTP stack.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Addr is the bound listen address once Run has started the server.
func (a *Application) Addr() string {
	return a.server.Addr()
}

// Start launches every service, including the HTTP listener.
func (a *Application) Start(ctx context.Context) error {
	return a.app.Start(ctx)
}

// Run starts the application and blocks until ctx is cancelled or the
// server fails, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return errors.Join(err, a.Shutdown(context.Background()))
	}
	a.log.Infof("HTTP server listening on %s", a.server.Addr())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-a.server.Err():
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return errors.Join(serveErr, a.Shutdown(shutdownCtx))
}

// Shutdown stops the services and closes the database. Safe to call twice.
func (a *Application) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		err := a.app.Stop(ctx)
		for _, closer := range a.closers {
			if cerr := closer(); cerr != nil {
				a.log.WithError(cerr).Warn("error closing database connection")
				err = errors.Join(err, cerr)
			}
		}
		a.closers = nil
		a.shutdownErr = err
	})
	return a.shutdownErr
}

func (a *Application) close() {
	for _, closer := range a.closers {
		_ = closer()
	}
	a.closers = nil
}
