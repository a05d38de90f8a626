package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	AnnouncementsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "announcements_total",
		Help: "Количество обработанных анонсов",
	})
	MatchCandidatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "match_candidates_total",
		Help: "Количество проверенных фолловеров",
	})
	MatchedFollowersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matched_followers_total",
		Help: "Количество совпавших подписчиков",
	})
	MailQueueCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mail_queue_created_total",
		Help: "Созданные записи очереди рассылки",
	})
	MailQueueMergedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mail_queue_merged_total",
		Help: "Слияния проектов в открытые записи очереди",
	})
	MailSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_sent_total",
		Help: "Отправленные письма по типу",
	}, []string{"kind"})
	MailSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mail_send_errors_total",
		Help: "Ошибки отправки писем",
	})
	DigestBatchSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "digest_batch_seconds",
		Help:    "Время обработки пачки рассылки",
		Buckets: prometheus.DefBuckets,
	}, []string{"frequency"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		AnnouncementsTotal,
		MatchCandidatesTotal,
		MatchedFollowersTotal,
		MailQueueCreatedTotal,
		MailQueueMergedTotal,
		MailSentTotal,
		MailSendErrors,
		DigestBatchSeconds,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveMatch записывает количество кандидатов и совпадений одного анонса.
func ObserveMatch(candidates, matched int) {
	AnnouncementsTotal.Inc()
	MatchCandidatesTotal.Add(float64(candidates))
	MatchedFollowersTotal.Add(float64(matched))
}

// ObserveDigestBatch записывает длительность обработки пачки рассылки.
func ObserveDigestBatch(frequency string, start time.Time) {
	DigestBatchSeconds.WithLabelValues(frequency).Observe(time.Since(start).Seconds())
}
