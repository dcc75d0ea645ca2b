/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.Load) and build the zap logger
  2. Open the store selected by store.driver, migrating if asked
  3. Connect Redis for distributed locks and rate limits, if configured
  4. Create engine, handler and scheduler
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: search ./config.yaml, ./config/config.yaml)
  -seed    Comma-separated demo scenarios to load at startup
  -token   Print a signed token for "id:role" and exit (development)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the scheduler
  4. Close Redis and the store
  5. Exit

EXAMPLES:
  # In-memory store with demo data
  LEAVE_AUTH_JWT_SECRET=dev-secret-0123456789 LEAVE_STORE_DRIVER=memory \
    ./server -seed=full-rate,early-tenure

  # Token for an admin
  ./server -token=admin-1:admin

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ulule/limiter/v3"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
	"github.com/warp/leave-engine/logger"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/redis"
	"github.com/warp/leave-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	seed := flag.String("seed", "", "comma-separated demo scenarios to load")
	token := flag.String("token", "", `print a token for "id:role" and exit`)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *token != "" {
		if err := printToken(cfg, *token); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	code := exitCode(log, run(cfg, log, *seed))
	log.Sync()
	os.Exit(code)
}

// exitCode logs a failed run. run has returned by now, so its deferred
// cleanup (scheduler, Redis, store) is already done.
func exitCode(log *zap.Logger, err error) int {
	if err == nil {
		return 0
	}
	log.Error("server failed", zap.Error(err))
	return 1
}

func run(cfg *config.Config, log *zap.Logger, seed string) error {
	ctx := context.Background()

	// Store
	txStore, ping, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	engineOpts := []leave.Option{
		leave.WithLogger(log.Named("engine")),
		leave.WithMaxRetries(cfg.Engine.MaxRetries),
	}

	// Redis: distributed lock + shared rate-limit counters
	var locker *redis.Locker
	if cfg.Redis.Enabled() {
		locker, err = redis.Connect(ctx, redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			TTL:          cfg.Redis.LockTTL,
			PollInterval: cfg.Redis.LockPollRate,
		}, log)
		if err != nil {
			return err
		}
		defer locker.Close()
		engineOpts = append(engineOpts, leave.WithLocker(locker))
	} else if cfg.Store.Driver == config.DriverPostgres {
		log.Info("postgres without redis: employees serialize on database advisory locks")
	}

	engine := leave.NewEngine(txStore, engineOpts...)

	for _, id := range strings.Split(seed, ",") {
		if id = strings.TrimSpace(id); id == "" {
			continue
		}
		if err := api.LoadScenario(ctx, engine, id, generic.Today()); err != nil {
			if !errors.Is(err, generic.ErrAlreadyExists) {
				return err
			}
			log.Info("scenario already loaded", zap.String("scenario", id))
			continue
		}
		log.Info("scenario loaded", zap.String("scenario", id))
	}

	// Handler + scheduler
	handler := api.NewHandler(engine, log.Named("api"))
	handler.Ping = ping

	scheduler := api.NewAccrualScheduler(engine, log)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	handler.Scheduler = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	// Router
	routerOpts := api.RouterOptions{
		Auth:           api.NewAuthenticator(cfg.Auth.JWTSecret),
		AllowedOrigins: cfg.Server.CORS.AllowOrigins,
	}
	if cfg.RateLimit.Enabled {
		routerOpts.Limiter, err = newLimiter(cfg.RateLimit, locker)
		if err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, routerOpts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.Bool("redis", cfg.Redis.Enabled()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// openStore returns the configured store with its health check and closer.
func openStore(ctx context.Context, sc config.StoreConfig, log *zap.Logger) (leave.TxStore, func(context.Context) error, func(), error) {
	switch sc.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nil, func() {}, nil

	case config.DriverSQLite:
		s, err := sqlite.New(sc.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite %s: %w", sc.SQLitePath, err)
		}
		return s, s.Ping, func() { s.Close() }, nil

	case config.DriverPostgres:
		s, err := postgres.Connect(ctx, sc.PostgresURL, postgres.PoolConfig{
			MaxConns:        sc.MaxConns,
			MinConns:        sc.MinConns,
			MaxConnLifetime: sc.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		if sc.AutoMigrate {
			if err := s.Migrate(log); err != nil {
				s.Close()
				return nil, nil, nil, err
			}
		}
		return s, s.Ping, s.Close, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

// newLimiter keeps counters in Redis when it is available so every
// instance shares one budget per client.
func newLimiter(rc config.RateLimitConfig, locker *redis.Locker) (*limiter.Limiter, error) {
	rate, err := rc.Parsed()
	if err != nil {
		return nil, err
	}
	if locker == nil {
		return limiter.New(limitermemory.NewStore(), rate), nil
	}
	st, err := limiterredis.NewStoreWithOptions(locker.Client(), limiter.StoreOptions{
		Prefix: "leave:ratelimit",
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit store: %w", err)
	}
	return limiter.New(st, rate), nil
}

func printToken(cfg *config.Config, who string) error {
	id, role, ok := strings.Cut(who, ":")
	if !ok || id == "" || role == "" {
		return fmt.Errorf(`-token wants "id:role", got %q`, who)
	}
	tok, err := api.NewAuthenticator(cfg.Auth.JWTSecret).IssueToken(leave.Actor{ID: id, Role: leave.Role(role)}, 24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
