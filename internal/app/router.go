package app

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"visitbot/internal/bot"
)

// SecretTokenHeader carries the webhook secret set with setWebhook
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateHandler accepts updates delivered over the webhook
type UpdateHandler interface {
	HandleUpdate(update tgbotapi.Update) bool
}

// NewRouter builds the HTTP routes: health checks and the Telegram webhook
func NewRouter(updates UpdateHandler, mode, secret string, logger *zap.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// Root endpoint
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK (mode: %s)", mode)
	})

	// Health check endpoint
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	})

	router.Post(bot.WebhookPath, webhookHandler(updates, secret, logger))

	return router
}

func webhookHandler(updates UpdateHandler, secret string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))

		if secret != "" {
			got := r.Header.Get(SecretTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				log.Warn("Webhook request with invalid secret token", zap.String("remote_addr", r.RemoteAddr))
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}

		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			log.Warn("Error decoding webhook update", zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// Process update in background to respond quickly to Telegram;
		// a non-2xx answer makes Telegram redeliver when the pool is full.
		if !updates.HandleUpdate(update) {
			log.Warn("Webhook update dropped, asking Telegram to retry", zap.Int("update_id", update.UpdateID))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
