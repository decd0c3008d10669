package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-device-sessions/accounts"
	"github.com/jrsteele09/go-device-sessions/accounts/postgres"
	fakeaccountrepo "github.com/jrsteele09/go-device-sessions/accounts/repofake"
	"github.com/jrsteele09/go-device-sessions/auth"
	"github.com/jrsteele09/go-device-sessions/internal/config"
	"github.com/jrsteele09/go-device-sessions/internal/logging"
	"github.com/jrsteele09/go-device-sessions/internal/metrics"
	"github.com/jrsteele09/go-device-sessions/reaper"
	"github.com/jrsteele09/go-device-sessions/server"
	"github.com/jrsteele09/go-device-sessions/sessions"
	"github.com/jrsteele09/go-device-sessions/sessions/redislock"
	"github.com/jrsteele09/go-device-sessions/token"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		return fmt.Errorf("config.New: %w", err)
	}
	logger := logging.New(c.GetEnv(), c.GetLogLevel())
	log.Logger = logger
	displayAppname(c.GetAppName())

	ctx := context.Background()

	repo, closeRepo, err := openAccountRepo(ctx, c, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	locker, closeLocker, err := openLocker(ctx, c, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	m := metrics.New()

	signer, err := token.NewHMACSigner(c.GetTokenSecret())
	if err != nil {
		return fmt.Errorf("token.NewHMACSigner: %w", err)
	}
	issuer := token.NewIssuer(signer,
		token.WithTTL(c.GetTokenTTL()),
		token.WithIssuer(c.GetTokenIssuer()),
	)

	store := sessions.NewStore(repo,
		sessions.WithLocker(locker),
		sessions.WithStorageTimeout(c.GetStorageTimeout()),
	)

	service, err := auth.NewSessionService(auth.Repos{Accounts: repo}, store, issuer,
		auth.WithPasswordHasher(accounts.BcryptHasher{Cost: c.GetBcryptCost()}),
		auth.WithInactivityThreshold(c.GetInactivityThreshold()),
		auth.WithAdminIdentities(c.GetAdminIdentities()...),
		auth.WithLogger(logger.With().Str("component", "sessions").Logger()),
		auth.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("auth.NewSessionService: %w", err)
	}

	reaperLog := logger.With().Str("component", "reaper").Logger()
	scheduler := reaper.NewScheduler(
		reaper.New(store, reaper.WithLogger(reaperLog), reaper.WithMetrics(m)),
		c.GetReaperSchedule(),
		c.GetInactivityThreshold(),
		reaperLog,
	)
	handler, err := server.New(c, service, m, logger.With().Str("component", "http").Logger())
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("reaper schedule %q: %w", c.GetReaperSchedule(), err)
	}

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listenAndServe(httpServer, logger)
	}()

	select {
	case err := <-serveErr:
		returnError = err
	case <-waitForStopSignal():
	}

	if err := shutdown(httpServer, scheduler); err != nil && returnError == nil {
		returnError = err
	}
	return returnError
}

// openAccountRepo selects the credential store named by storage.driver.
func openAccountRepo(ctx context.Context, c config.Config, logger zerolog.Logger) (accounts.Repo, func(), error) {
	switch c.GetStorageDriver() {
	case config.DriverPostgres:
		pg := c.GetPostgres()
		pool, err := postgres.Open(ctx, postgres.PoolConfig{
			DSN:             pg.DSN,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			ConnMaxLifetime: pg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres.Open: %w", err)
		}
		repo, err := postgres.NewAccountRepo(pool, postgres.WithSchema(pg.Schema))
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres.NewAccountRepo: %w", err)
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres.EnsureSchema: %w", err)
		}
		logger.Info().Str("schema", pg.Schema).Msg("using postgres account store")
		return repo, pool.Close, nil
	default:
		logger.Warn().Msg("using in-memory account store; data is lost on restart")
		return fakeaccountrepo.NewFakeAccountRepo(), func() {}, nil
	}
}

// openLocker selects the per-account lock named by lock.driver.
func openLocker(ctx context.Context, c config.Config, logger zerolog.Logger) (sessions.Locker, func(), error) {
	switch c.GetLockDriver() {
	case config.DriverRedis:
		rc := c.GetRedis()
		client, err := redislock.NewClient(ctx, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("redislock.NewClient: %w", err)
		}
		locker := redislock.New(client,
			redislock.WithTTL(c.GetLockTTL()),
			redislock.WithLogger(logger.With().Str("component", "redislock").Logger()),
		)
		logger.Info().Str("addr", rc.Addr).Msg("using redis account locks")
		return locker, func() { _ = client.Close() }, nil
	default:
		return sessions.NewMemoryLocker(), func() {}, nil
	}
}

func listenAndServe(server *http.Server, logger zerolog.Logger) error {
	logger.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server, scheduler *reaper.Scheduler) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	scheduler.Stop(ctx)
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
