// Root composition for the worker process. Wires the shared stores plus the
// outbound providers (S3, SES, OpenAI) the handlers depend on.
package main

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/recibo/pkg/config"
	"github.com/Abraxas-365/recibo/pkg/eventx"
	"github.com/Abraxas-365/recibo/pkg/eventx/eventxpg"
	"github.com/Abraxas-365/recibo/pkg/fsx"
	"github.com/Abraxas-365/recibo/pkg/fsx/fsxlocal"
	"github.com/Abraxas-365/recibo/pkg/fsx/fsxs3"
	"github.com/Abraxas-365/recibo/pkg/jobx"
	"github.com/Abraxas-365/recibo/pkg/jobx/jobxmem"
	"github.com/Abraxas-365/recibo/pkg/jobx/jobxpg"
	"github.com/Abraxas-365/recibo/pkg/jobx/jobxredis"
	"github.com/Abraxas-365/recibo/pkg/logx"
	"github.com/Abraxas-365/recibo/pkg/mailx"
	"github.com/Abraxas-365/recibo/pkg/mailx/mailxlog"
	"github.com/Abraxas-365/recibo/pkg/mailx/mailxses"
	"github.com/Abraxas-365/recibo/pkg/receipt"
	"github.com/Abraxas-365/recibo/pkg/receipt/ocrx"
	"github.com/Abraxas-365/recibo/pkg/receipt/ocrx/ocrxopenai"
	"github.com/Abraxas-365/recibo/pkg/receipt/receiptpg"
	"github.com/Abraxas-365/recibo/pkg/webhookx"
	"github.com/Abraxas-365/recibo/pkg/webhookx/webhookxpg"
	"github.com/Abraxas-365/recibo/pkg/webhookx/webhookxredis"
)

// Container holds everything the worker process runs.
type Container struct {
	Config config.Config

	DB    *sqlx.DB
	Redis *redis.Client

	Jobs       *jobx.Client
	Dispatcher *webhookx.Dispatcher
}

func NewContainer() *Container {
	logx.Info("🔧 Initializing worker container...")

	c := &Container{Config: config.Load()}
	c.initInfrastructure()
	c.initPipeline()

	logx.Info("✅ Worker container initialized")
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

func (c *Container) initPipeline() {
	files, presigner := c.fileStorage()
	mailer := mailx.NewClient(c.mailProvider())
	extractor := c.extractor()

	jobOpts := []jobx.WorkerOption{
		jobx.WithConcurrency(c.Config.Jobs.Concurrency),
		jobx.WithPollInterval(c.Config.Jobs.PollInterval),
		jobx.WithLeaseTimeout(c.Config.Jobs.LeaseTimeout),
		jobx.WithReclaimInterval(c.Config.Jobs.ReclaimInterval),
		jobx.WithRetention(c.Config.Jobs.Retention),
		jobx.WithShutdownTimeout(c.Config.Jobs.ShutdownTimeout),
	}
	if c.Config.Jobs.ResetOnManualRetry {
		jobOpts = append(jobOpts, jobx.WithResetAttemptsOnManualRetry())
	}
	c.Jobs = jobx.NewClient(c.jobStore(), jobOpts...)

	events := eventxpg.NewPostgresStore(c.DB)
	bus := eventx.NewBus(events)

	subs := webhookxpg.NewSubscriptionStore(c.DB)
	deliveries := webhookxpg.NewDeliveryStore(c.DB)
	c.Dispatcher = webhookx.NewDispatcher(subs, deliveries, events,
		webhookxredis.NewLocker(c.Redis),
		webhookx.WithHTTPTimeout(c.Config.Webhooks.HTTPTimeout),
		webhookx.WithPollInterval(c.Config.Webhooks.PollInterval),
		webhookx.WithDeliveryRetention(c.Config.Webhooks.Retention),
	)
	bus.Subscribe(c.Dispatcher)

	receipts := receiptpg.NewPostgresStore(c.DB)
	handlers := receipt.NewHandlers(receipts, files, presigner, extractor, mailer, bus, c.Jobs)
	handlers.Register()
	logx.Info("  ✅ Queue handlers registered")
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

func (c *Container) fileStorage() (fsx.FileStore, fsx.Presigner) {
	switch c.Config.Storage.Mode {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(c.Config.Storage.AWSRegion))
		if err != nil {
			logx.Fatalf("unable to load AWS config: %v", err)
		}
		store := fsxs3.NewStore(s3.NewFromConfig(awsCfg), c.Config.Storage.Bucket)
		logx.Infof("  ✅ S3 storage configured (bucket %s)", c.Config.Storage.Bucket)
		return store, store
	default:
		store, err := fsxlocal.NewStore(c.Config.Storage.LocalRoot)
		if err != nil {
			logx.Fatalf("failed to initialize local storage: %v", err)
		}
		logx.Infof("  ✅ Local storage configured (%s)", c.Config.Storage.LocalRoot)
		return store, store
	}
}

func (c *Container) mailProvider() mailx.Sender {
	switch c.Config.Mail.Provider {
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(c.Config.Mail.AWSRegion))
		if err != nil {
			logx.Fatalf("unable to load AWS config: %v", err)
		}
		return mailxses.NewProvider(ses.NewFromConfig(awsCfg), c.Config.Mail.FromAddress)
	default:
		return mailxlog.NewProvider()
	}
}

func (c *Container) extractor() ocrx.Extractor {
	return ocrxopenai.NewExtractor(c.Config.OCR.OpenAIAPIKey, c.Config.OCR.Model)
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
