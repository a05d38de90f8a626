package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	HomeURL     string `envconfig:"HOME_URL" default:"http://localhost:8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	AMQPURL   string `envconfig:"AMQP_URL"`

	Bot struct {
		// URI бота резолвится один раз при старте и дальше не меняется.
		URI          string `envconfig:"MATCH_BOT_URI"`
		DirectoryURL string `envconfig:"DIRECTORY_URL"`
	} `envconfig:""`

	SMTP struct {
		Host      string `envconfig:"SMTP_HOST"`
		Port      int    `envconfig:"SMTP_PORT" default:"465"`
		User      string `envconfig:"SMTP_USER"`
		Pass      string `envconfig:"SMTP_PASS"`
		FromEmail string `envconfig:"FROM_EMAIL"`
		FromName  string `envconfig:"FROM_NAME"`
	} `envconfig:""`

	Queues struct {
		Announcements string `envconfig:"ANNOUNCEMENT_QUEUE_KEY" default:"announcement_jobs"`
	} `envconfig:""`

	Dispatch struct {
		DailySpec  string `envconfig:"DAILY_CRON" default:"0 7 * * *"`
		WeeklySpec string `envconfig:"WEEKLY_CRON" default:"0 7 * * 1"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
