// Package app wires the order engine from configuration. Every binary
// builds its components through Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imrishuroy/photo-orderflow/internal/aws"
	"github.com/imrishuroy/photo-orderflow/internal/config"
	"github.com/imrishuroy/photo-orderflow/internal/lifecycle"
	"github.com/imrishuroy/photo-orderflow/internal/orders"
	"github.com/imrishuroy/photo-orderflow/internal/pricing"
	"github.com/imrishuroy/photo-orderflow/internal/session"
	"github.com/imrishuroy/photo-orderflow/internal/stats"
	"github.com/imrishuroy/photo-orderflow/internal/store"
	"github.com/imrishuroy/photo-orderflow/internal/sweeper"
)

// App holds the wired components.
type App struct {
	Config   config.Config
	Log      *zap.Logger
	Prices   *pricing.Table
	Store    *store.Store
	Machine  *lifecycle.Machine
	Sessions *session.Manager
	Stats    *stats.Engine
	Sweeper  *sweeper.Sweeper
	Metrics  *aws.Metrics

	closers []func() error
}

// Option overrides a dependency, mostly for tests.
type Option func(*options)

type options struct {
	backend store.Backend
	clients *aws.AWSClients
	now     func() time.Time
}

// WithBackend uses b instead of the configured backend.
func WithBackend(b store.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithAWSClients uses clients instead of loading them from the environment.
func WithAWSClients(c *aws.AWSClients) Option {
	return func(o *options) { o.clients = c }
}

// WithClock overrides the time source of the store.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Build wires every component described by cfg.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg, Log: log}

	prices := pricing.Default()
	if cfg.PricingFile != "" {
		var err error
		if prices, err = pricing.LoadFile(cfg.PricingFile); err != nil {
			return nil, err
		}
	}
	a.Prices = prices

	needAWS := cfg.Backend == config.BackendDynamoDB || cfg.QueueURL != "" || cfg.MetricsNamespace != ""
	if needAWS && o.clients == nil {
		clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
		if err != nil {
			return nil, err
		}
		o.clients = clients
	}

	backend := o.backend
	if backend == nil {
		var err error
		if backend, err = a.newBackend(ctx, cfg, o.clients); err != nil {
			return nil, err
		}
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	a.Store = store.New(backend,
		store.WithTimeout(cfg.OpTimeout),
		store.WithReadRetries(cfg.ReadRetries, 50*time.Millisecond),
		store.WithLogger(log.Named("store")),
		store.WithClock(o.now),
	)
	a.Machine = lifecycle.NewMachine(a.Store, log.Named("lifecycle"))
	a.Sessions = session.NewManager(a.Store, orders.NewReferenceGenerator(), prices, cfg.Retention, log.Named("session"))
	a.Stats = stats.NewEngine(a.Store, loc, log.Named("stats"))
	a.Sweeper = sweeper.New(a.Store, cfg.Retention, cfg.SweepInterval, log.Named("sweeper"))

	if cfg.QueueURL != "" {
		a.Machine.Subscribe(publishHook(aws.NewPublisher(o.clients.SQS, cfg.QueueURL)))
		log.Info("lifecycle events published", zap.String("queue_url", cfg.QueueURL))
	}
	if cfg.MetricsNamespace != "" {
		a.Metrics = aws.NewMetrics(o.clients.CloudWatch, cfg.MetricsNamespace, map[string]string{"Stage": cfg.Stage})
	}

	log.Info("order engine ready",
		zap.String("backend", cfg.Backend),
		zap.Duration("retention", a.Sweeper.Retention()),
		zap.String("timezone", loc.String()))
	return a, nil
}

func (a *App) newBackend(ctx context.Context, cfg config.Config, clients *aws.AWSClients) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return store.NewMemoryBackend(), nil
	case config.BackendFiles:
		return store.NewFileBackend(cfg.DataDir)
	case config.BackendDynamoDB:
		return store.NewDynamoBackend(clients.DynamoDB, cfg.TempTable, cfg.FinalTable, cfg.SessionTable), nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, client.Close)
		return store.NewRedisBackend(client, cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// PublishBadges computes the badge counts and sends them to CloudWatch.
// Without a metrics namespace it only computes them.
func (a *App) PublishBadges(ctx context.Context) (*stats.Badges, error) {
	b, err := a.Stats.Badges(ctx)
	if err != nil {
		return nil, err
	}
	if a.Metrics == nil {
		return b, nil
	}
	if err := a.Metrics.PutCounts(ctx, b.Values()); err != nil {
		return b, fmt.Errorf("publish badges: %w", err)
	}
	a.Log.Debug("badge metrics published", zap.Any("badges", b))
	return b, nil
}

// Close releases backend connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
