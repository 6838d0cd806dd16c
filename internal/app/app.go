// Package app assembles the engine from configuration. Both binaries use it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"google.golang.org/grpc"

	"barterpool-backend/internal/config"
	"barterpool-backend/internal/logger"
	"barterpool-backend/internal/matching"
	"barterpool-backend/internal/notify"
	"barterpool-backend/internal/payment"
	"barterpool-backend/internal/repository"
	"barterpool-backend/internal/repository/memory"
	"barterpool-backend/internal/repository/postgres"
	"barterpool-backend/internal/rpc"
	"barterpool-backend/internal/service"
)

// App holds the assembled engine and the resources it owns.
type App struct {
	Config *config.Config
	Store  *repository.Store
	Engine *service.Engine

	closers []func() error
}

// New opens storage, the pool locker and the collaborator connections.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.init(ctx); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("Failed to release resources after startup error", "error", cerr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.Store = store

	locker, err := a.openLocker(ctx)
	if err != nil {
		return err
	}

	collab, err := a.openCollaborators(ctx)
	if err != nil {
		return err
	}

	a.Engine = service.NewEngine(store, locker, collab, service.Options{
		MatchTimeout:       cfg.Pool.MatchTimeout,
		PaymentMaxAttempts: cfg.Pool.PaymentMaxAttempts,
		PaymentBatchSize:   cfg.Pool.PaymentBatchSize,
	})
	return nil
}

func (a *App) openStore(ctx context.Context) (*repository.Store, error) {
	cfg := a.Config
	if cfg.Storage.Type == "memory" {
		logger.Warn("Using in-memory storage; pools are lost on restart")
		return memory.NewStore(), nil
	}

	logger.Debug("Connecting to database...", "connection_string", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database))
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("Database connection established")

	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(db); err != nil {
			return nil, err
		}
	}
	return postgres.NewStore(db), nil
}

func (a *App) openLocker(ctx context.Context) (service.PoolLocker, error) {
	cfg := a.Config
	if cfg.Lock.Type != "redis" {
		return service.NewLocalPoolLocker(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisAddr})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("Using redis pool locks", "address", cfg.Lock.RedisAddr, "ttl", cfg.Lock.TTL)
	return service.NewRedisPoolLocker(client, cfg.Lock.TTL), nil
}

func (a *App) openCollaborators(ctx context.Context) (service.Collaborators, error) {
	cfg := a.Config
	var collab service.Collaborators

	if cfg.Matching.Type == "grpc" {
		conn, err := a.dial(cfg.Matching)
		if err != nil {
			return collab, err
		}
		collab.Matcher = matching.NewClient(conn)
	} else {
		logger.Info("Using mock matcher")
		collab.Matcher = matching.NewMock()
	}

	if cfg.Payment.Type == "grpc" {
		conn, err := a.dial(cfg.Payment)
		if err != nil {
			return collab, err
		}
		collab.Payment = payment.NewClient(conn)
	} else {
		logger.Info("Using logging payment gateway")
		collab.Payment = payment.LoggingGateway{}
	}

	if cfg.Push.Enabled {
		sender, err := notify.NewFCMSender(ctx, cfg.Push.CredentialsFile, cfg.Push.TopicPrefix)
		if err != nil {
			return collab, err
		}
		collab.Push = sender
	}
	return collab, nil
}

func (a *App) dial(ep config.EndpointConfig) (*grpc.ClientConn, error) {
	conn, err := rpc.Dial(ep.Address, ep.Timeout)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, conn.Close)
	logger.Info("Collaborator connection configured", "address", ep.Address)
	return conn, nil
}

// Close waits for in-flight searches and releases resources in reverse order.
func (a *App) Close() error {
	if a.Engine != nil {
		a.Engine.Matching.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
