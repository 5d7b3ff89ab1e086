package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"thesis-backend/internal/checkpoint"
	"thesis-backend/internal/compile"
	"thesis-backend/internal/journal"
	"thesis-backend/internal/llm"
	openai "thesis-backend/internal/llm/openai"
	"thesis-backend/internal/orchestrator"
	"thesis-backend/internal/queue"
	"thesis-backend/internal/retrieval"
	"thesis-backend/internal/runs"
	"thesis-backend/internal/services/health"
	"thesis-backend/internal/shared/config"
	"thesis-backend/internal/shared/server"
	"thesis-backend/internal/shared/storage/db"
	"thesis-backend/internal/shared/storage/object"
	localstore "thesis-backend/internal/shared/storage/object/local"
	s3store "thesis-backend/internal/shared/storage/object/s3"
)

// App holds shared dependencies and the HTTP router.
type App struct {
	Config       config.Config
	Router       *gin.Engine
	DB           *sql.DB
	Store        object.ObjectStore
	Queue        queue.Client
	Checkpoints  checkpoint.Store
	LLM          llm.Client
	Retriever    orchestrator.Retriever
	Orchestrator *orchestrator.Orchestrator
	Runs         *runs.Service
	RunsHandler  *runs.Handler
	Journal      *journal.Handler
	Health       *health.Service
}

// Build prepares shared dependencies and wires routes for the API process.
func Build(cfg config.Config) (*App, error) {
	return build(cfg, db.DefaultServerOptions())
}

// BuildWorker is Build with the connection pool sized for a queue worker.
func BuildWorker(cfg config.Config) (*App, error) {
	return build(cfg, db.DefaultWorkerOptions())
}

func build(cfg config.Config, pool db.Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	if strings.TrimSpace(cfg.CheckpointStore) == "" {
		cfg.CheckpointStore = "memory"
	}
	if strings.TrimSpace(cfg.LLMProvider) == "" {
		cfg.LLMProvider = "mock"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg, pool)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Queue:  queueClient,
	}

	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:         app.Config,
		RunsHandler:    app.RunsHandler,
		JournalHandler: app.Journal,
		Health:         app.Health,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config, pool db.Options) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.CheckpointStore == "postgres" || cfg.RetrievalBackend == "postgres" {
			if !isDevLike(cfg.Env) {
				return nil, fmt.Errorf("DATABASE_URL is required for %s checkpoint store and %s retrieval", cfg.CheckpointStore, cfg.RetrievalBackend)
			}
		}
		log.Printf("bootstrap: DATABASE_URL empty; using in-memory checkpoints")
		return nil, nil
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(pool)
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory checkpoints: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if isDevLike(cfg.Env) && !db.IsLambdaRuntime() {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			log.Printf("bootstrap: migrations failed: %v", err)
			return nil, err
		}
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.QueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.QueueURL, cfg.AWSRegion)
}

func buildCheckpoints(app *App) checkpoint.Store {
	switch app.Config.CheckpointStore {
	case "postgres":
		if app.DB != nil {
			return checkpoint.NewPGStore(app.DB)
		}
		log.Printf("bootstrap: CHECKPOINT_STORE=postgres without database; using memory")
	case "object":
		return checkpoint.NewObjectStore(app.Store)
	}
	return checkpoint.NewMemoryStore()
}

func buildLLM(cfg config.Config) (llm.Client, error) {
	if cfg.LLMProvider != "openai" {
		return llm.NewMockClient(cfg.MockRevises), nil
	}
	client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.LLMBaseURL)
	if err != nil {
		return nil, err
	}
	return llm.NewRetrying(client), nil
}

func buildRetriever(app *App) (orchestrator.Retriever, error) {
	k := app.Config.RetrievalK
	switch app.Config.RetrievalBackend {
	case "postgres":
		if app.DB == nil {
			log.Printf("bootstrap: RETRIEVAL_BACKEND=postgres without database; retrieval disabled")
			return nil, nil
		}
		return retrieval.NewPGRetriever(app.DB, k), nil
	case "journal":
		if strings.TrimSpace(app.Config.JournalDir) == "" {
			log.Printf("bootstrap: JOURNAL_DIR empty; retrieval disabled")
			return nil, nil
		}
		r, err := retrieval.LoadJournalDir(app.Config.JournalDir, k)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, nil
	}
}

func buildServices(app *App) error {
	app.Checkpoints = buildCheckpoints(app)

	client, err := buildLLM(app.Config)
	if err != nil {
		return err
	}
	app.LLM = client

	retriever, err := buildRetriever(app)
	if err != nil {
		return err
	}
	app.Retriever = retriever

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:     app.Checkpoints,
		Retriever: retriever,
		Drafter:   llm.NewDrafter(client),
		Critic:    llm.NewCritic(client),
		Compiler:  compile.NewMarkdownCompiler(app.Store, app.Config.DocumentTitle),
	}, orchestrator.OptionsFromEnv(orchestrator.DefaultOptions()))
	if err != nil {
		return err
	}
	app.Orchestrator = orch

	app.Runs = &runs.Service{
		Engine:      orch,
		Queue:       app.Queue,
		Documents:   app.Store,
		Persona:     app.Config.Persona,
		MaxSteps:    app.Config.MaxDriveSteps,
		AutoAdvance: true,
	}
	app.RunsHandler = runs.NewHandler(app.Runs)

	journalSvc := &journal.Service{Store: app.Store}
	if sink, ok := retriever.(journal.ChunkSink); ok {
		journalSvc.Sink = sink
	}
	app.Journal = journal.NewHandler(journalSvc)

	if app.DB != nil {
		app.Health = health.NewService(app.DB, app.Config.CheckpointStore, app.Config.LLMProvider)
	} else {
		app.Health = health.NewService(nil, app.Config.CheckpointStore, app.Config.LLMProvider)
	}
	return nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
