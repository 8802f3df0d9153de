package main

import (
	"context"
	"log"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"go.uber.org/zap"

	"visitbot/internal/app"
	"visitbot/internal/storage/ch"
	"visitbot/internal/storage/stubs"
	"visitbot/migrations"
)

func main() {
	ctx := context.Background()
	logger, err := app.NewLogger("debug", "console")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	logger.Info("Starting ClickHouse testcontainer...")

	// Start ClickHouse container
	clickhouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.3.102-alpine",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword("devpassword"),
		clickhouse.WithDatabase("default"),
	)
	if err != nil {
		logger.Fatal("Failed to start ClickHouse container", zap.Error(err))
	}

	// Ensure container cleanup on exit
	defer func() {
		logger.Info("Stopping ClickHouse container...")
		if err := clickhouseContainer.Terminate(ctx); err != nil {
			logger.Error("Failed to terminate container", zap.Error(err))
		}
	}()

	// Get connection details
	host, err := clickhouseContainer.Host(ctx)
	if err != nil {
		logger.Fatal("Failed to get container host", zap.Error(err))
	}

	port, err := clickhouseContainer.MappedPort(ctx, "9000/tcp")
	if err != nil {
		logger.Fatal("Failed to get container port", zap.Error(err))
	}

	logger.Info("ClickHouse started", zap.String("host", host), zap.String("port", port.Port()))

	if err := prepare(ctx, host, port.Int()); err != nil {
		logger.Fatal("Failed to prepare survey tables", zap.Error(err))
	}

	// Set environment variables for the application
	os.Setenv("STORAGE_BACKEND", "clickhouse")
	os.Setenv("CLICKHOUSE_HOST", host)
	os.Setenv("CLICKHOUSE_PORT", port.Port())
	os.Setenv("CLICKHOUSE_DATABASE", "default")
	os.Setenv("CLICKHOUSE_USER", "default")
	os.Setenv("CLICKHOUSE_PASSWORD", "devpassword")
	os.Setenv("CLICKHOUSE_USE_TLS", "false")
	os.Setenv("WEBHOOK_MODE", "false")
	if os.Getenv("LOG_FORMAT") == "" {
		os.Setenv("LOG_FORMAT", "console")
	}

	// Ensure TELEGRAM_BOT_TOKEN is set
	if os.Getenv("TELEGRAM_BOT_TOKEN") == "" {
		logger.Warn("TELEGRAM_BOT_TOKEN not set. Please set it in your .env file or environment.")
	}

	logger.Info("Starting application with ClickHouse backend...")

	// Create and initialize application
	application, err := app.New()
	if err != nil {
		logger.Error("Failed to create application", zap.Error(err))
		return
	}

	// Run blocks until SIGINT/SIGTERM
	if err := application.Run(); err != nil {
		logger.Error("Application error", zap.Error(err))
	}
}

// prepare applies the migrations and seeds the sample survey unless a
// questions file will be imported by the application
func prepare(ctx context.Context, host string, port int) error {
	sqlDB, err := ch.OpenSQL(host, port, "default", "default", "devpassword", false)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := migrations.Up(sqlDB); err != nil {
		return err
	}

	db, err := ch.NewClickHouseDB(host, port, "default", "default", "devpassword", false)
	if err != nil {
		return err
	}
	defer db.Close()

	if os.Getenv("QUESTIONS_FILE") != "" {
		return nil
	}
	for _, q := range stubs.SampleQuestions() {
		if err := db.PutQuestion(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
