package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"match-mailer/internal/adapters/lookup"
	"match-mailer/internal/adapters/render"
	"match-mailer/internal/adapters/repo"
	"match-mailer/internal/adapters/smtp"
	"match-mailer/internal/domain"
	"match-mailer/internal/infra/cache"
	"match-mailer/internal/infra/config"
	"match-mailer/internal/infra/db"
	applog "match-mailer/internal/infra/log"
	"match-mailer/internal/infra/metrics"
	"match-mailer/internal/usecase/mailer"
)

// Защита от второй реплики: пачка одной периодичности за день запускается один раз.
const batchOnceTTL = 23 * time.Hour

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	renderer, err := render.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: не удалось разобрать шаблоны")
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
		logger.Fatal().Err(err).Msg("dispatcher: не удалось создать SMTP-отправитель")
	}

	directory, err := lookup.NewClient(cfg.Bot.DirectoryURL, cfg.Bot.URI)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: не удалось создать клиент каталога")
	}

	mailerService := mailer.NewService(repoAdapter, repoAdapter, directory, directory, sender, renderer, cfg.HomeURL, logger.With().Str("component", "mailer").Logger())

	var once domain.Cache = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))

	runBatch := func(frequency domain.Frequency) {
		key := "digest_batch:" + string(frequency) + ":" + time.Now().UTC().Format("2006-01-02")
		err := once.Once(key, batchOnceTTL, func() error {
			outcomes, err := mailerService.ProcessQueue(ctx, frequency)
			if err != nil {
				return err
			}
			delivered := 0
			for _, outcome := range outcomes {
				if len(outcome.Accepted) > 0 {
					delivered++
				}
			}
			logger.Info().Str("frequency", string(frequency)).Int("records", len(outcomes)).Int("delivered", delivered).Msg("dispatcher: пачка обработана")
			return nil
		})
		if err != nil {
			logger.Error().Err(err).Str("frequency", string(frequency)).Msg("dispatcher: пачка не обработана")
		}
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Dispatch.DailySpec, func() { runBatch(domain.FrequencyDaily) }); err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: некорректное расписание daily")
	}
	if _, err := scheduler.AddFunc(cfg.Dispatch.WeeklySpec, func() { runBatch(domain.FrequencyWeekly) }); err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: некорректное расписание weekly")
	}

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	scheduler.Start()
	logger.Info().Str("daily", cfg.Dispatch.DailySpec).Str("weekly", cfg.Dispatch.WeeklySpec).Msg("dispatcher: старт")

	<-ctx.Done()
	logger.Info().Msg("dispatcher: остановка")
	<-scheduler.Stop().Done()
}
