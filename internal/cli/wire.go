package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/executor"
	"github.com/passbuild/passbuild/internal/metrics"
	"github.com/passbuild/passbuild/internal/pipeline"
	"github.com/passbuild/passbuild/internal/publisher"
	"github.com/passbuild/passbuild/internal/repository"
	"github.com/passbuild/passbuild/internal/repository/postgres"
	redisrepo "github.com/passbuild/passbuild/internal/repository/redis"
	"github.com/passbuild/passbuild/internal/resource"
	"github.com/passbuild/passbuild/internal/usecase"
)

// services holds the use case and the connections it depends on.
type services struct {
	usecase *usecase.BuildSubmissionUsecase
	closers []func()
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// wire connects the optional integrations whose URLs are configured and
// builds the use case. Every job gets its own supervisor and pipeline.
func wire(ctx context.Context, app *App) (*services, error) {
	cfg, logger := app.Config, app.Logger
	svc := &services{}

	var (
		lock repository.SessionLock
		repo repository.ReportRepository
		pub  publisher.Publisher
	)

	// Connect to Redis
	if cfg.Redis.URL != "" {
		opts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}
		client := goredis.NewClient(opts)
		svc.closers = append(svc.closers, func() { client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			svc.Close()
			return nil, fmt.Errorf("connect to Redis: %w", err)
		}
		lock = redisrepo.NewRedisSessionLock(client, cfg.Redis.LockTTL)
		logger.Info("Connected to Redis")
	}

	// Connect to PostgreSQL
	if cfg.Database.URL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		svc.closers = append(svc.closers, dbPool.Close)
		if err := dbPool.Ping(ctx); err != nil {
			svc.Close()
			return nil, fmt.Errorf("ping PostgreSQL: %w", err)
		}
		if err := postgres.Migrate(ctx, dbPool); err != nil {
			svc.Close()
			return nil, err
		}
		repo = postgres.NewPostgresReportRepository(dbPool)
		logger.Info("Connected to PostgreSQL")
	}

	// Connect to RabbitMQ
	if cfg.RabbitMQ.URL != "" {
		p, err := publisher.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue, logger)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.closers = append(svc.closers, func() { p.Close() })
		pub = p
	}

	settings := pipeline.SettingsFromConfig(cfg)
	newBuilder := func() usecase.Builder {
		sup := executor.NewSupervisor(cfg.Pipeline.PollInterval, cfg.Pipeline.ProcessEnv, logger)
		fetcher := resource.NewFetcher(cfg.Fetch.Timeout, logger)
		return pipeline.New(sup, fetcher, settings, logger).WithObserver(metrics.StepObserver{})
	}
	svc.usecase = usecase.NewBuildSubmissionUsecase(newBuilder, lock, repo, pub, logger)

	logger.Debug("Services wired",
		zap.Bool("session_lock", lock != nil),
		zap.Bool("report_store", repo != nil),
		zap.Bool("report_publisher", pub != nil),
	)
	return svc, nil
}
