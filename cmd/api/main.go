package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"match-mailer/internal/adapters/lookup"
	"match-mailer/internal/adapters/render"
	"match-mailer/internal/adapters/repo"
	"match-mailer/internal/adapters/smtp"
	"match-mailer/internal/domain"
	"match-mailer/internal/infra/config"
	"match-mailer/internal/infra/db"
	applog "match-mailer/internal/infra/log"
	"match-mailer/internal/infra/metrics"
	"match-mailer/internal/infra/queue"
	"match-mailer/internal/usecase/mailer"
	"match-mailer/internal/usecase/subscribe"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	renderer, err := render.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось разобрать шаблоны")
	}

	sender, err := smtp.NewSender(smtp.Config{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		User:      cfg.SMTP.User,
		Pass:      cfg.SMTP.Pass,
		FromEmail: cfg.SMTP.FromEmail,
		FromName:  cfg.SMTP.FromName,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось создать SMTP-отправитель")
	}

	directory, err := lookup.NewClient(cfg.Bot.DirectoryURL, cfg.Bot.URI)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось создать клиент каталога")
	}

	mailerService := mailer.NewService(repoAdapter, repoAdapter, directory, directory, sender, renderer, cfg.HomeURL, logger.With().Str("component", "mailer").Logger())
	subscribeService := subscribe.NewService(repoAdapter, mailerService, directory, cfg.HomeURL, logger.With().Str("component", "subscribe").Logger())

	announcements, err := buildAnnouncementQueue(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось создать очередь анонсов")
	}

	r := chi.NewRouter()

	r.Post("/subscribers", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var sub subscribe.Subscription
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		actor, created, err := subscribeService.Subscribe(r.Context(), sub)
		if err != nil {
			switch {
			case errors.Is(err, subscribe.ErrEmailRequired),
				errors.Is(err, domain.ErrUnknownFrequency),
				errors.Is(err, domain.ErrMalformedLocation):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				logger.Error().Err(err).Msg("api: подписка не сохранена")
				writeError(w, http.StatusInternalServerError, "failed to save subscription")
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if created {
			w.WriteHeader(http.StatusCreated)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": actor.URI, "created": created})
	})

	r.Get("/subscribers", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		actor, err := subscribeService.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, domain.ErrActorNotFound) {
				writeError(w, http.StatusNotFound, "subscriber not found")
				return
			}
			logger.Error().Err(err).Msg("api: подписчик не получен")
			writeError(w, http.StatusInternalServerError, "failed to load subscriber")
			return
		}
		writeJSON(w, subscriberResponse(actor))
	})

	r.Delete("/subscribers", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if err := subscribeService.Unsubscribe(r.Context(), id); err != nil {
			if errors.Is(err, domain.ErrActorNotFound) {
				writeError(w, http.StatusNotFound, "subscriber not found")
				return
			}
			logger.Error().Err(err).Msg("api: подписчик не удалён")
			writeError(w, http.StatusInternalServerError, "failed to delete subscriber")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/inbox", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var activity announceActivity
		if err := json.NewDecoder(r.Body).Decode(&activity); err != nil {
			writeError(w, http.StatusBadRequest, "invalid activity")
			return
		}
		// Анонсы принимаются только от доверенного бота; остальное молча игнорируется.
		if !activity.accepted(cfg.Bot.URI) {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		job := domain.AnnouncementJob{
			ID:         uuid.NewString(),
			BotURI:     activity.Actor,
			Object:     activity.Object.Object,
			ReceivedAt: time.Now().UTC(),
		}
		if err := announcements.Enqueue(r.Context(), job); err != nil {
			logger.Error().Err(err).Str("object", job.Object.URI).Msg("api: анонс не поставлен в очередь")
			writeError(w, http.StatusInternalServerError, "failed to enqueue announcement")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": job.ID})
	})

	r.Get("/mailer/{frequency}", func(w http.ResponseWriter, r *http.Request) {
		frequency := domain.Frequency(chi.URLParam(r, "frequency"))
		outcomes, err := mailerService.ProcessQueue(r.Context(), frequency)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownFrequency) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			logger.Error().Err(err).Msg("api: пачка рассылки не обработана")
			writeError(w, http.StatusInternalServerError, "failed to process queue")
			return
		}
		writeJSON(w, outcomes)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: r}
	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("api: старт")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildAnnouncementQueue(cfg config.AppConfig) (domain.AnnouncementQueue, error) {
	if cfg.AMQPURL != "" {
		return queue.NewRabbitAnnouncementQueue(cfg.AMQPURL, cfg.Queues.Announcements)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return queue.NewRedisAnnouncementQueue(client, cfg.Queues.Announcements), nil
}

// announceActivity — входящая активность каталога: Announce поверх Create/Update.
type announceActivity struct {
	Actor  string `json:"actor"`
	Type   string `json:"type"`
	Object struct {
		Type   string                 `json:"type"`
		Object domain.AnnouncedObject `json:"object"`
	} `json:"object"`
}

func (a announceActivity) accepted(botURI string) bool {
	if a.Actor != botURI || a.Type != "Announce" {
		return false
	}
	if a.Object.Type != "Create" && a.Object.Type != "Update" {
		return false
	}
	return a.Object.Object.URI != ""
}

func subscriberResponse(actor domain.Actor) map[string]any {
	resp := map[string]any{
		"id":        actor.URI,
		"email":     actor.Email,
		"themes":    actor.Interests,
		"frequency": string(actor.Frequency),
	}
	if actor.Location != nil {
		resp["location"] = actor.Location
	}
	return resp
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
