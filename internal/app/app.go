// Package app wires Config, Logger, storage backends, and every pipeline
// component into a single App shared by cmd/intake-api, cmd/mapping-worker,
// and cmd/redrive.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ctrlmap/mapper/internal/agentclient"
	"github.com/ctrlmap/mapper/internal/cache"
	"github.com/ctrlmap/mapper/internal/common"
	"github.com/ctrlmap/mapper/internal/controlcatalog"
	"github.com/ctrlmap/mapper/internal/intake"
	"github.com/ctrlmap/mapper/internal/interfaces"
	"github.com/ctrlmap/mapper/internal/jobstore"
	"github.com/ctrlmap/mapper/internal/orchestrator"
	"github.com/ctrlmap/mapper/internal/queue"
	"github.com/ctrlmap/mapper/internal/redrive"
	"github.com/ctrlmap/mapper/internal/scienceclient"
	"github.com/ctrlmap/mapper/internal/statusquery"
	"github.com/ctrlmap/mapper/internal/storage/surrealdb"
	"github.com/ctrlmap/mapper/internal/worker"
)

// App holds every initialized component. It is the shared core used by
// cmd/intake-api (C8/C11), cmd/mapping-worker (C9/C10), and cmd/redrive (C12).
type App struct {
	Config *common.Config
	Logger *common.Logger

	Catalog    interfaces.ControlCatalog
	Jobs       interfaces.JobStore
	Enrichment interfaces.EnrichmentCache
	Embeddings interfaces.EmbeddingCache
	Science    interfaces.ScienceClient
	Agent      interfaces.AgentClient
	Queue      *queue.Queue

	Intake       *intake.Intake
	StatusQuery  *statusquery.StatusQuery
	Orchestrator *orchestrator.Orchestrator
	Worker       *worker.Pool
	Redrive      *redrive.Redrive

	StartupTime time.Time

	redis *redis.Client
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes configuration, storage connections, and every
// pipeline component. configPath may be empty, in which case the default
// resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()
	binDir := getBinaryDir()

	if configPath == "" {
		configPath = os.Getenv("CTRLMAP_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "ctrlmap.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/ctrlmap.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(config.Logging.Level)

	ctx := context.Background()

	db, err := surrealdb.Connect(ctx, surrealdb.Config{
		Address:   config.Storage.SurrealDB.Endpoint,
		Username:  config.Storage.SurrealDB.Username,
		Password:  config.Storage.SurrealDB.Password,
		Namespace: config.Storage.SurrealDB.Namespace,
		Database:  config.Storage.SurrealDB.Database,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Storage.Redis.Address,
		Password: config.Storage.Redis.Password,
		DB:       config.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	sqsClient, err := queue.NewSQSClient(ctx, queue.ClientConfig{
		Region:          config.Storage.Queue.Region,
		Endpoint:        config.Storage.Queue.Endpoint,
		AccessKeyID:     config.Storage.Queue.AccessKeyID,
		SecretAccessKey: config.Storage.Queue.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build SQS client: %w", err)
	}

	catalog := controlcatalog.New(db, logger)
	jobs := jobstore.New(db, logger)
	enrichment := cache.NewEnrichmentCache(rdb)
	embeddings := cache.NewEmbeddingCache(rdb)
	q := queue.NewQueue(sqsClient, queue.Config{
		QueueURL: config.Storage.Queue.QueueURL,
		DLQURL:   config.Storage.Queue.DLQURL,
	}, logger)

	science := scienceclient.NewClient(config.Science.BaseURL, config.Science.GetTotalTimeout(),
		scienceclient.WithLogger(logger),
		scienceclient.WithRateLimit(config.Science.RateLimitPerSec),
		scienceclient.WithReadTimeout(config.Science.GetReadTimeout()),
		scienceclient.WithMaxRetries(config.Science.MaxRetries),
	)
	agent := agentclient.NewClient(config.Agent.BaseURL, config.Agent.GetTotalTimeout(),
		agentclient.WithLogger(logger),
		agentclient.WithRateLimit(config.Agent.RateLimitPerSec),
		agentclient.WithEnrichTimeout(config.Agent.GetReadTimeout()),
	)

	pipelineCfg := orchestrator.Config{
		ModelVersion:         config.Pipeline.ModelVersion,
		EnrichmentVersion:    config.Pipeline.EnrichmentVersion,
		TopK:                 config.Pipeline.TopK,
		RerankMin:            config.Pipeline.RerankMin,
		ReasoningConcurrency: config.Pipeline.ReasoningConcurrency,
		EmbedBatchSize:       config.Pipeline.EmbedBatchSize,
		WorkflowBudget:       config.Pipeline.GetWorkflowBudget(),
	}
	orch := orchestrator.New(catalog, enrichment, embeddings, science, agent, jobs, pipelineCfg, logger)

	in := intake.New(jobs, catalog, q, config.Server.StatusURLBase, logger)
	sq := statusquery.New(jobs)
	pool := worker.New(jobs, q, orch.Run, config.Pipeline.WorkerConcurrency, logger)
	rd := redrive.New(q, q, logger)

	a := &App{
		Config:       config,
		Logger:       logger,
		Catalog:      catalog,
		Jobs:         jobs,
		Enrichment:   enrichment,
		Embeddings:   embeddings,
		Science:      science,
		Agent:        agent,
		Queue:        q,
		Intake:       in,
		StatusQuery:  sq,
		Orchestrator: orch,
		Worker:       pool,
		Redrive:      rd,
		StartupTime:  startupStart,
		redis:        rdb,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")

	return a, nil
}

// Close releases all resources held by the App.
func (a *App) Close() {
	if a.Worker != nil {
		a.Worker.Stop()
	}
	if a.redis != nil {
		a.redis.Close()
		a.redis = nil
	}
}
