package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/mohans/reportq/asyncx"
	"github.com/mohans/reportq/audit"
	"github.com/mohans/reportq/generator"
	"github.com/mohans/reportq/internal/config"
	"github.com/mohans/reportq/internal/logger"
	"github.com/mohans/reportq/report"
	"github.com/mohans/reportq/results"
)

// app holds the collaborators shared by the commands that touch storage.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sql.DB
	redis   *redis.Client
	tasks   *asyncx.SQLStore
	audit   *audit.SQLSink
	reports *report.SQLCatalog
	catalog report.Catalog
	results *results.RedisStore
	exec    *report.Executor
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(os.Stdout, cfg.LogLevel, serviceName), nil
}

func openDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := openDB(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		redis:   results.NewClient(cfg.RedisAddr),
		tasks:   asyncx.NewSQLStore(db, cfg.DBDriver),
		audit:   audit.NewSQLSink(db, cfg.DBDriver, logger),
		reports: report.NewSQLCatalog(db, cfg.DBDriver),
	}
	a.catalog = a.reports
	if cfg.CatalogCacheSize > 0 {
		cached, err := report.NewCachedCatalog(a.reports, cfg.CatalogCacheSize)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.catalog = cached
	}
	a.results = results.NewRedisStore(a.redis, cfg.ResultTTL)
	a.exec = report.NewExecutor(a.tasks, a.audit, generator.NewSQL(db, cfg.MaxRows), a.results, logger)
	return a, nil
}

func (a *app) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: a.cfg.RedisAddr}
}

func (a *app) Close() {
	_ = a.redis.Close()
	_ = a.db.Close()
}
