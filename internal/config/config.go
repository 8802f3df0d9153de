package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends
const (
	BackendMemory     = "memory"
	BackendXLSX       = "xlsx"
	BackendClickHouse = "clickhouse"
)

// Progress stores
const (
	ProgressMemory = "memory"
	ProgressSheet  = "sheet"
)

// Config holds the application configuration
type Config struct {
	TelegramToken  string
	AllowedUserIDs []int64 // empty means anyone may take the survey

	// Bot mode configuration
	WebhookMode   bool   // If true, use webhook mode; if false, use polling mode
	WebhookURL    string // URL for webhook (required if WebhookMode is true)
	WebhookSecret string // Optional X-Telegram-Bot-Api-Secret-Token value
	Port          string

	StorageBackend string
	QuestionsFile  string

	// Workbook configuration
	XLSXPath              string
	XLSXSheet             string
	XLSXFirstAnswerColumn int

	// ClickHouse configuration
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	// Survey engine
	ProgressStore    string
	AnswerPolicy     string
	FirstQuestionRow int

	Workers            int
	QueueSize          int
	InteractionTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}

	// Telegram Bot Token (required)
	config.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if config.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	ids, err := parseUserIDs(os.Getenv("ALLOWED_USER_IDS"))
	if err != nil {
		return nil, err
	}
	config.AllowedUserIDs = ids

	// Bot mode configuration
	config.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
	if config.WebhookMode {
		config.WebhookURL = strings.TrimSuffix(os.Getenv("WEBHOOK_URL"), "/")
		if config.WebhookURL == "" {
			return nil, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
		}
	}
	config.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	config.Port = getEnv("PORT", "8080")

	config.StorageBackend = strings.ToLower(getEnv("STORAGE_BACKEND", BackendMemory))
	config.QuestionsFile = os.Getenv("QUESTIONS_FILE")

	switch config.StorageBackend {
	case BackendMemory:
	case BackendXLSX:
		config.XLSXPath = getEnv("XLSX_PATH", "survey.xlsx")
		config.XLSXSheet = getEnv("XLSX_SHEET", "Survey")
		if config.XLSXFirstAnswerColumn, err = getInt("XLSX_FIRST_ANSWER_COLUMN", 3); err != nil {
			return nil, err
		}
		if config.XLSXFirstAnswerColumn < 3 {
			return nil, fmt.Errorf("XLSX_FIRST_ANSWER_COLUMN must be at least 3 (columns A and B hold the questions)")
		}
	case BackendClickHouse:
		config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
		if config.ClickHouseHost == "" {
			return nil, fmt.Errorf("CLICKHOUSE_HOST is required when STORAGE_BACKEND is clickhouse")
		}

		// Default ClickHouse native port
		if config.ClickHousePort, err = getInt("CLICKHOUSE_PORT", 9000); err != nil {
			return nil, err
		}

		config.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
		config.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
		// Password is optional, can be empty
		config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
		config.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q (expected memory, xlsx or clickhouse)", config.StorageBackend)
	}

	config.ProgressStore = strings.ToLower(getEnv("PROGRESS_STORE", ProgressMemory))
	if config.ProgressStore != ProgressMemory && config.ProgressStore != ProgressSheet {
		return nil, fmt.Errorf("unknown PROGRESS_STORE %q (expected memory or sheet)", config.ProgressStore)
	}

	config.AnswerPolicy = strings.ToLower(getEnv("ANSWER_POLICY", "overwrite"))

	if config.FirstQuestionRow, err = getInt("FIRST_QUESTION_ROW", 2); err != nil {
		return nil, err
	}
	if config.FirstQuestionRow < 1 {
		return nil, fmt.Errorf("FIRST_QUESTION_ROW must be positive")
	}

	if config.Workers, err = getInt("WORKERS", 8); err != nil {
		return nil, err
	}
	if config.QueueSize, err = getInt("QUEUE_SIZE", 256); err != nil {
		return nil, err
	}
	if config.Workers < 1 || config.QueueSize < 1 {
		return nil, fmt.Errorf("WORKERS and QUEUE_SIZE must be positive")
	}

	timeout := getEnv("INTERACTION_TIMEOUT", "15s")
	config.InteractionTimeout, err = time.ParseDuration(timeout)
	if err != nil || config.InteractionTimeout <= 0 {
		return nil, fmt.Errorf("invalid INTERACTION_TIMEOUT: %s", timeout)
	}

	config.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	config.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "json"))
	if config.LogFormat != "json" && config.LogFormat != "console" {
		return nil, fmt.Errorf("unknown LOG_FORMAT %q (expected json or console)", config.LogFormat)
	}

	return config, nil
}

func parseUserIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int64
	for _, idStr := range strings.Split(s, ",") {
		idStr = strings.TrimSpace(idStr)
		if idStr == "" {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID in ALLOWED_USER_IDS: %s", idStr)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
