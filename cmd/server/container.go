// Root composition for the API process. Owns infrastructure (DB, Redis,
// storage) and wires the modules; the worker process composes its own.
package main

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/recibo/pkg/config"
	"github.com/Abraxas-365/recibo/pkg/eventx/eventxpg"
	"github.com/Abraxas-365/recibo/pkg/iam/auth"
	"github.com/Abraxas-365/recibo/pkg/jobx"
	"github.com/Abraxas-365/recibo/pkg/jobx/jobxhttp"
	"github.com/Abraxas-365/recibo/pkg/jobx/jobxmem"
	"github.com/Abraxas-365/recibo/pkg/jobx/jobxpg"
	"github.com/Abraxas-365/recibo/pkg/jobx/jobxredis"
	"github.com/Abraxas-365/recibo/pkg/logx"
	"github.com/Abraxas-365/recibo/pkg/webhookx"
	"github.com/Abraxas-365/recibo/pkg/webhookx/webhookxhttp"
	"github.com/Abraxas-365/recibo/pkg/webhookx/webhookxpg"
	"github.com/Abraxas-365/recibo/pkg/webhookx/webhookxredis"
)

// Container holds shared infrastructure and the composed HTTP modules.
type Container struct {
	Config config.Config

	DB    *sqlx.DB
	Redis *redis.Client

	Jobs *jobx.Client

	AuthMiddleware  *auth.Middleware
	JobHandlers     *jobxhttp.Handlers
	WebhookHandlers *webhookxhttp.Handlers
}

func NewContainer() *Container {
	logx.Info("🔧 Initializing API container...")

	c := &Container{Config: config.Load()}
	c.initInfrastructure()
	c.initModules()

	logx.Info("✅ API container initialized")
	return c
}

func (c *Container) initInfrastructure() {
	db, err := sqlx.Connect("postgres", c.Config.Database.URL)
	if err != nil {
		logx.Fatalf("failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	c.DB = db
	logx.Info("  ✅ Database connected")

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if err := c.Redis.Ping(context.Background()).Err(); err != nil {
		logx.Fatalf("failed to connect to redis: %v", err)
	}
	logx.Info("  ✅ Redis connected")
}

func (c *Container) initModules() {
	tokens := auth.NewJWTService(c.Config.Auth.JWTSecret, c.Config.Auth.TokenTTL, c.Config.Auth.Issuer)
	c.AuthMiddleware = auth.NewMiddleware(tokens)

	// The API process never runs workers; it enqueues, reads status and
	// triggers manual retries against the shared store.
	jobOpts := []jobx.WorkerOption{}
	if c.Config.Jobs.ResetOnManualRetry {
		jobOpts = append(jobOpts, jobx.WithResetAttemptsOnManualRetry())
	}
	c.Jobs = jobx.NewClient(c.jobStore(), jobOpts...)
	c.JobHandlers = jobxhttp.NewHandlers(c.Jobs)

	events := eventxpg.NewPostgresStore(c.DB)
	subs := webhookxpg.NewSubscriptionStore(c.DB)
	deliveries := webhookxpg.NewDeliveryStore(c.DB)
	locker := webhookxredis.NewLocker(c.Redis)

	registry := webhookx.NewRegistry(subs)
	dispatcher := webhookx.NewDispatcher(subs, deliveries, events, locker,
		webhookx.WithHTTPTimeout(c.Config.Webhooks.HTTPTimeout),
	)
	c.WebhookHandlers = webhookxhttp.NewHandlers(registry, dispatcher, deliveries)
}

func (c *Container) jobStore() jobx.Store {
	switch c.Config.Jobs.Backend {
	case "redis":
		return jobxredis.NewRedisStore(c.Redis)
	case "memory":
		return jobxmem.NewMemoryStore()
	default:
		return jobxpg.NewPostgresStore(c.DB)
	}
}

func (c *Container) Cleanup() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("error closing database: %v", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("error closing redis: %v", err)
		}
	}
}
