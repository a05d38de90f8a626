package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

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
	"match-mailer/internal/infra/queue"
	"match-mailer/internal/usecase/mailer"
	"match-mailer/internal/usecase/match"
)

// Повторно доставленный анонс не обрабатывается второй раз в течение суток.
const announcementOnceTTL = 24 * time.Hour

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	renderer, err := render.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось разобрать шаблоны")
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
		logger.Fatal().Err(err).Msg("worker: не удалось создать SMTP-отправитель")
	}

	directory, err := lookup.NewClient(cfg.Bot.DirectoryURL, cfg.Bot.URI)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать клиент каталога")
	}

	mailerService := mailer.NewService(repoAdapter, repoAdapter, directory, directory, sender, renderer, cfg.HomeURL, logger.With().Str("component", "mailer").Logger())
	matchService := match.NewService(repoAdapter, mailerService, logger.With().Str("component", "match").Logger())

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	var once domain.Cache = cache.NewRedis(redisClient)

	var announcements domain.AnnouncementQueue
	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbitAnnouncementQueue(cfg.AMQPURL, cfg.Queues.Announcements)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось создать очередь анонсов")
		}
		defer rabbit.Close()
		announcements = rabbit
	} else {
		announcements = queue.NewRedisAnnouncementQueue(redisClient, cfg.Queues.Announcements)
	}

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	logger.Info().Msg("worker: старт")

	for {
		job, ack, err := announcements.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info().Msg("worker: остановка")
				return
			}
			logger.Error().Err(err).Msg("worker: ошибка чтения очереди")
			continue
		}

		err = once.Once("announcement:"+job.ID, announcementOnceTTL, func() error {
			return processAnnouncement(ctx, directory, matchService, cfg.Bot.URI, job)
		})
		if err != nil {
			logger.Error().Err(err).Str("object", job.Object.URI).Msg("worker: анонс не обработан")
		}
		if ackErr := ack(err == nil); ackErr != nil {
			logger.Error().Err(ackErr).Str("job", job.ID).Msg("worker: подтверждение не отправлено")
		}
	}
}

// processAnnouncement заново запрашивает список фолловеров и запускает матчинг:
// состав фолловеров мог измениться с момента анонса.
func processAnnouncement(ctx context.Context, followers domain.FollowerSource, matcher *match.Service, botURI string, job domain.AnnouncementJob) error {
	if job.BotURI != "" {
		botURI = job.BotURI
	}
	snapshot, err := followers.ListFollowers(ctx, botURI)
	if err != nil {
		return err
	}
	return matcher.HandleAnnouncement(ctx, job.Object, snapshot)
}
