// Package server wires the FinKeeper server: PostgreSQL storage and
// migrations, the bulk sync lock (Redis or in process), the gin HTTP API and
// the gRPC health service. Run blocks until ctx is done.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/server/config"
	"github.com/dmitrijs2005/finkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/finkeeper/internal/server/lock"
	"github.com/dmitrijs2005/finkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/finkeeper/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/finkeeper/internal/server/grpc"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	rdb    *redis.Client
	router *gin.Engine
	grpc   *gs.GRPCServer
}

// NewApp connects to PostgreSQL (and Redis when configured), runs the
// migrations and assembles the services.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	var rdb *redis.Client
	if c.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = db.Close()
			return nil, fmt.Errorf("redis init error: %w", err)
		}
	}

	return assemble(c, logger, db, rm, rdb), nil
}

func assemble(c *config.Config, logger logging.Logger, db *sql.DB, rm repomanager.RepositoryManager, rdb *redis.Client) *App {
	var locker lock.Locker
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, c.LockTTL)
	} else {
		locker = lock.NewLocalLocker()
	}

	records := services.NewRecordService(db, rm, logger)
	reconciler := services.NewReconciler(records, locker, c.BatchSize, c.BatchPause, logger)
	receipts := services.NewReceiptService(db, rm, c)

	h := httpapi.NewHandler(reconciler, records, receipts, c.SecretKey, logger)

	return &App{
		config: c,
		logger: logger,
		db:     db,
		rdb:    rdb,
		router: httpapi.NewRouter(h, c.AllowedOrigins),
		grpc:   gs.NewGRPCServer(c.EndpointAddrGRPC, logger),
	}
}

// Run serves HTTP and gRPC until ctx is done or one of them fails.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "Starting app...")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.runHTTP(ctx)
	})
	g.Go(func() error {
		return app.grpc.Run(ctx)
	})

	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return err
}

func (app *App) runHTTP(ctx context.Context) error {
	lis, err := net.Listen("tcp", app.config.EndpointAddrHTTP)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "Starting HTTP server", "address", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		// The probe should see the server go away before requests drain.
		app.grpc.SetServing(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.logger.Info(ctx, "Stopping HTTP server...")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close releases the database and Redis connections.
func (app *App) Close() error {
	var errs []error
	if app.rdb != nil {
		errs = append(errs, app.rdb.Close())
	}
	if app.db != nil {
		errs = append(errs, app.db.Close())
	}
	return errors.Join(errs...)
}
