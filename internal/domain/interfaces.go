package domain

import (
	"context"
	"time"
)

// ActorRepo управляет подписчиками.
type ActorRepo interface {
	// Upsert создаёт или обновляет подписчика и возвращает признак создания.
	Upsert(ctx context.Context, actor Actor) (Actor, bool, error)
	GetByURI(ctx context.Context, uri string) (Actor, error)
	Delete(ctx context.Context, uri string) error
}

// FollowerSource возвращает актуальный список подписчиков бота.
// Список запрашивается заново на каждый анонс: состав мог измениться.
type FollowerSource interface {
	ListFollowers(ctx context.Context, botURI string) ([]string, error)
}

// ObjectResolver возвращает анонсированные проекты по их идентификаторам.
type ObjectResolver interface {
	ResolveObjects(ctx context.Context, ids []string) ([]AnnouncedObject, error)
}

// InterestResolver возвращает метки интересов по их идентификаторам.
type InterestResolver interface {
	ResolveLabels(ctx context.Context, ids []string) ([]InterestLabel, error)
}

// MailQueueRepo управляет записями очереди рассылки.
type MailQueueRepo interface {
	// FindOpen возвращает открытую запись пары (подписчик, периодичность)
	// или ErrMailNotFound.
	FindOpen(ctx context.Context, actorURI string, frequency Frequency) (MailQueueRecord, error)
	// Create создаёт открытую запись; при конкурентной вставке второй
	// открытой записи возвращает ErrOpenRecordExists.
	Create(ctx context.Context, record MailQueueRecord) (MailQueueRecord, error)
	// UpdateObjects заменяет набор проектов открытой записи.
	UpdateObjects(ctx context.Context, id string, objects []string) error
	// ListOpenByFrequency возвращает открытые записи в порядке создания.
	ListOpenByFrequency(ctx context.Context, frequency Frequency) ([]MailQueueRecord, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkError(ctx context.Context, id string, response string) error
}

// MailSender отправляет письма.
type MailSender interface {
	Send(ctx context.Context, mail OutgoingMail) (SendResult, error)
}

// DigestRenderer рендерит HTML-тело писем.
type DigestRenderer interface {
	RenderNotification(nctx NotificationContext) (string, error)
	RenderConfirmation(cctx ConfirmationContext) (string, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
