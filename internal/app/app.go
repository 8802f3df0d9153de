package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"visitbot/internal/bot"
	"visitbot/internal/config"
	"visitbot/internal/models"
	"visitbot/internal/pkg/workerpool"
	"visitbot/internal/progress"
	"visitbot/internal/storage"
	"visitbot/internal/storage/ch"
	"visitbot/internal/storage/stubs"
	"visitbot/internal/storage/xlsx"
	"visitbot/internal/survey"
)

const shutdownTimeout = 5 * time.Second

// App represents the application
type App struct {
	config *config.Config
	logger *zap.Logger
	db     storage.Storage
	engine *survey.Engine
	pool   *workerpool.WorkerPool
	bot    *bot.Bot
	server *http.Server

	// ctx is cancelled once the worker pool has drained
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	// Load configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if envErr != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{config: cfg, logger: logger, ctx: ctx, cancel: cancel}

	logger.Info("Starting survey bot",
		zap.String("storage", cfg.StorageBackend),
		zap.String("progress", cfg.ProgressStore),
		zap.String("policy", cfg.AnswerPolicy),
	)

	// Initialize database
	if err := app.initDatabase(ctx); err != nil {
		cancel()
		return nil, err
	}

	if err := app.initEngine(); err != nil {
		cancel()
		app.db.Close()
		return nil, err
	}

	// Initialize bot
	if err := app.initBot(); err != nil {
		cancel()
		app.db.Close()
		return nil, err
	}

	// Initialize HTTP server
	app.initHTTPServer()

	return app, nil
}

// NewLogger builds a zap logger; format is "json" or "console"
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl
	return cfg.Build()
}

// initDatabase initializes the database connection
func (a *App) initDatabase(ctx context.Context) error {
	db, err := OpenStorage(ctx, a.config, a.logger)
	if err != nil {
		return err
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

// OpenStorage creates and initializes the configured storage backend
func OpenStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	var questions []models.Question
	if cfg.QuestionsFile != "" {
		var err error
		questions, err = stubs.LoadQuestionsFile(cfg.QuestionsFile)
		if err != nil {
			return nil, err
		}
		logger.Info("Loaded questions file",
			zap.String("path", cfg.QuestionsFile),
			zap.Int("questions", len(questions)),
		)
	}

	var db storage.Storage
	switch cfg.StorageBackend {
	case config.BackendXLSX:
		logger.Info("Using workbook", zap.String("path", cfg.XLSXPath), zap.String("sheet", cfg.XLSXSheet))
		if len(questions) > 0 {
			logger.Warn("QUESTIONS_FILE is ignored by the xlsx backend; questions are read from the workbook")
		}
		db = xlsx.NewWorkbook(cfg.XLSXPath, cfg.XLSXSheet, cfg.XLSXFirstAnswerColumn)
	case config.BackendClickHouse:
		logger.Info("Connecting to ClickHouse",
			zap.String("host", cfg.ClickHouseHost),
			zap.Int("port", cfg.ClickHousePort),
			zap.String("database", cfg.ClickHouseDatabase),
			zap.String("user", cfg.ClickHouseUser),
			zap.Bool("tls", cfg.ClickHouseUseTLS),
		)
		clickhouseDB, err := ch.NewClickHouseDB(
			cfg.ClickHouseHost,
			cfg.ClickHousePort,
			cfg.ClickHouseDatabase,
			cfg.ClickHouseUser,
			cfg.ClickHousePassword,
			cfg.ClickHouseUseTLS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		for _, q := range questions {
			if err := clickhouseDB.PutQuestion(ctx, q); err != nil {
				clickhouseDB.Close()
				return nil, fmt.Errorf("failed to import questions: %w", err)
			}
		}
		db = clickhouseDB
	default:
		logger.Info("Using mock database")
		db = stubs.NewMockDB(questions...)
	}

	// Initialize database schema and default data
	if err := db.Initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// initEngine builds the progress store and the survey engine
func (a *App) initEngine() error {
	policy, err := survey.ParsePolicy(a.config.AnswerPolicy)
	if err != nil {
		return err
	}

	var store progress.Store
	if a.config.ProgressStore == config.ProgressSheet {
		store = progress.NewSheetStore(a.db, a.db, a.config.FirstQuestionRow, a.logger)
	} else {
		store = progress.NewMemoryStore()
	}

	a.engine = survey.NewEngine(a.db, a.db, store, survey.Options{
		FirstRow: a.config.FirstQuestionRow,
		Policy:   policy,
	}, a.logger)
	return nil
}

// initBot initializes the Telegram bot
func (a *App) initBot() error {
	a.pool = workerpool.NewWorkerPool(a.ctx, a.config.Workers, a.config.QueueSize, a.logger)

	telegramBot, err := bot.NewBot(a.config.TelegramToken, a.engine, bot.Options{
		AllowedUserIDs:     a.config.AllowedUserIDs,
		InteractionTimeout: a.config.InteractionTimeout,
		Pool:               a.pool,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	if len(a.config.AllowedUserIDs) > 0 {
		a.logger.Info("Survey restricted to allowed users", zap.Int64s("allowed_users", a.config.AllowedUserIDs))
	}

	a.bot = telegramBot
	return nil
}

// initHTTPServer initializes the HTTP server for health checks and webhook
func (a *App) initHTTPServer() {
	mode := "polling"
	if a.config.WebhookMode {
		mode = "webhook"
	}

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      NewRouter(a.bot, mode, a.config.WebhookSecret, a.logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start HTTP server in background
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	// Handle graceful shutdown
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start bot in appropriate mode
	if a.config.WebhookMode {
		// Webhook mode: configure webhook and wait for HTTP requests
		a.logger.Info("Starting bot in webhook mode", zap.String("url", a.config.WebhookURL))
		if err := a.bot.StartWebhook(a.config.WebhookURL, a.config.WebhookSecret); err != nil {
			a.Shutdown()
			return fmt.Errorf("failed to setup webhook: %w", err)
		}
		a.logger.Info("Webhook configured", zap.String("path", bot.WebhookPath))
	} else {
		// Polling mode: actively poll Telegram servers
		go func() {
			if err := a.bot.Start(sigCtx); err != nil {
				a.logger.Error("Failed to start bot", zap.Error(err))
				stop()
			}
		}()
	}

	// Wait for interrupt signal
	<-sigCtx.Done()

	a.logger.Info("Shutting down...")
	return a.Shutdown()
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown HTTP server gracefully
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	a.bot.Stop()
	if err := a.pool.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("Worker pool did not drain", zap.Error(err))
	}
	a.cancel()

	// Close database
	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		return err
	}

	a.logger.Info("Shutdown complete")
	_ = a.logger.Sync()
	return nil
}
