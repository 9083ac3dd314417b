// Package lambdaboot provides the cold-start bootstrap shared by the Lambda
// entry point and the CLI: AWS config, DynamoDB, S3, SSM key fetch, the
// usage counter and the assembled pipeline.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/tryon-pipeline/internal/auth"
	"github.com/fpang/tryon-pipeline/internal/chat"
	"github.com/fpang/tryon-pipeline/internal/config"
	"github.com/fpang/tryon-pipeline/internal/events"
	"github.com/fpang/tryon-pipeline/internal/logging"
	"github.com/fpang/tryon-pipeline/internal/metrics"
	"github.com/fpang/tryon-pipeline/internal/orchestrator"
	"github.com/fpang/tryon-pipeline/internal/pipeline"
	"github.com/fpang/tryon-pipeline/internal/s3util"
	"github.com/fpang/tryon-pipeline/internal/store"
	"github.com/fpang/tryon-pipeline/internal/usage"
)

// AWSClients holds the core AWS SDK config and the SSM client.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS(ctx context.Context) (*AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return &AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}, nil
}

// NeedsAWS reports whether cfg refers to any AWS resource.
func NeedsAWS(cfg *config.Config) bool {
	return cfg.TableName != "" || cfg.BucketName != "" || cfg.EventBus != "" ||
		(cfg.APIKey == "" && cfg.SSMAPIKeyParam != "")
}

// LoadAPIKey fills cfg.APIKey from SSM Parameter Store when it is not set
// in the environment.
func LoadAPIKey(ctx context.Context, clients *AWSClients, cfg *config.Config) error {
	if cfg.APIKey != "" || clients == nil {
		return cfg.RequireAPIKey()
	}
	key, err := auth.GetAPIKeyFromSSM(ctx, clients.SSM, cfg.SSMAPIKeyParam)
	if err != nil {
		return err
	}
	cfg.APIKey = key
	return nil
}

// InitStore returns a DynamoDB store when a table is configured, otherwise
// an in-memory store.
func InitStore(clients *AWSClients, cfg *config.Config) store.Store {
	if cfg.TableName == "" || clients == nil {
		log.Warn().Msg("TRYON_TABLE_NAME not set, results are kept in memory only")
		return store.NewMemoryStore(cfg.HistoryLimit)
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(clients.Config), cfg.TableName, cfg.HistoryLimit)
}

// InitImageStore returns an S3 image store when a bucket is configured.
// Returns nil otherwise; results then carry inline data URIs.
func InitImageStore(clients *AWSClients, cfg *config.Config) *s3util.ImageStore {
	if cfg.BucketName == "" || clients == nil {
		return nil
	}
	return s3util.NewImageStore(s3.NewFromConfig(clients.Config), cfg.BucketName)
}

// InitEvents returns an EventBridge publisher when a bus is configured.
func InitEvents(clients *AWSClients, cfg *config.Config) *events.Publisher {
	if cfg.EventBus == "" || clients == nil {
		return nil
	}
	return events.NewPublisher(eventbridge.NewFromConfig(clients.Config), cfg.EventBus)
}

// InitUsage returns a tracker over Redis when REDIS_ADDR is set, falling
// back to an in-process counter when Redis is unreachable.
func InitUsage(ctx context.Context, cfg *config.Config) *usage.Tracker {
	if cfg.RedisAddr == "" {
		return usage.NewTracker(nil)
	}
	rdb, err := usage.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unavailable, usage counted in memory")
		return usage.NewTracker(nil)
	}
	return usage.NewTracker(usage.NewRedisCounter(rdb, usage.DefaultKeyPrefix))
}

// App is the assembled pipeline and its collaborators.
type App struct {
	Coordinator *pipeline.Coordinator
	Dispatcher  *pipeline.Dispatcher
	Usage       *usage.Tracker
	Store       store.Store
	Images      *s3util.ImageStore
	Events      *events.Publisher
	Client      *chat.Client
}

// Assemble wires the pipeline from cfg. clients may be nil for purely
// local runs.
func Assemble(ctx context.Context, cfg *config.Config, clients *AWSClients) (*App, error) {
	if err := LoadAPIKey(ctx, clients, cfg); err != nil {
		return nil, err
	}

	opts := []chat.Option{chat.WithRequestsPerMinute(cfg.RequestsPerMinute)}
	if cfg.BaseURL != "" {
		opts = append(opts, chat.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPTimeout > 0 {
		opts = append(opts, chat.WithTimeout(cfg.HTTPTimeout))
	}
	client := chat.NewClient(cfg.APIKey, opts...)
	orch := orchestrator.New(client, orchestrator.Options{
		ImageModel: cfg.ImageModel,
		TextModel:  cfg.TextModel,
		Metrics:    metrics.NewSink(metrics.Namespace, os.Stdout),
	})

	app := &App{
		Usage:  InitUsage(ctx, cfg),
		Store:  InitStore(clients, cfg),
		Images: InitImageStore(clients, cfg),
		Events: InitEvents(clients, cfg),
		Client: client,
	}

	deps := pipeline.Deps{
		Orchestrator: orch,
		Store:        app.Store,
		Usage:        app.Usage,
	}
	// Typed nils must not reach the interface fields.
	if app.Images != nil {
		deps.Images = app.Images
	}
	if app.Events != nil {
		deps.Events = app.Events
	}
	coord, err := pipeline.New(deps)
	if err != nil {
		return nil, err
	}
	app.Coordinator = coord
	app.Dispatcher = pipeline.NewDispatcher(coord, nil)
	return app, nil
}

// StartupLog builds the cold-start summary for cfg.
func StartupLog(name string, initStart time.Time, cfg *config.Config, app *App) *logging.StartupLogger {
	sl := logging.NewStartupLogger(name).
		InitDuration(time.Since(initStart)).
		Config("imageModel", cfg.ImageModel).
		Config("textModel", cfg.TextModel).
		Config("historyLimit", fmt.Sprint(cfg.HistoryLimit)).
		Feature("imageStore", app.Images != nil).
		Feature("sharedUsage", cfg.RedisAddr != "").
		Feature("events", app.Events != nil).
		Feature("signedRequests", cfg.APISecret != "").
		Feature("rateLimited", cfg.RequestsPerMinute > 0)
	if cfg.TableName != "" {
		sl.DynamoTable("results", cfg.TableName)
	}
	if cfg.BucketName != "" {
		sl.S3Bucket("images", cfg.BucketName)
	}
	if cfg.SSMAPIKeyParam != "" {
		sl.SSMParam("apiKey", cfg.SSMAPIKeyParam)
	}
	if cfg.RedisAddr != "" {
		sl.Redis("usage", cfg.RedisAddr)
	}
	if cfg.EventBus != "" {
		sl.EventBus("results", cfg.EventBus)
	}
	return sl
}
