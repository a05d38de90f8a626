package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"match-mailer/internal/domain"
	"match-mailer/internal/infra/metrics"
)

// Темы писем повторяют исходную рассылку Fabrique.
const (
	notificationSubject = "Nouveaux projets sur la Fabrique"
	confirmationSubject = "Notification des nouveaux projets sur la Fabrique"
)

const enqueueRetryMax = 2

// Service реализует накопление очереди рассылки и отправку дайджестов.
type Service struct {
	actors    domain.ActorRepo
	queue     domain.MailQueueRepo
	objects   domain.ObjectResolver
	interests domain.InterestResolver
	sender    domain.MailSender
	renderer  domain.DigestRenderer
	baseURL   string
	locks     keyedMutex
	logger    zerolog.Logger
}

// NewService создаёт сервис рассылки.
func NewService(actors domain.ActorRepo, queue domain.MailQueueRepo, objects domain.ObjectResolver, interests domain.InterestResolver, sender domain.MailSender, renderer domain.DigestRenderer, baseURL string, logger zerolog.Logger) *Service {
	return &Service{actors: actors, queue: queue, objects: objects, interests: interests, sender: sender, renderer: renderer, baseURL: baseURL, logger: logger}
}

// Enqueue добавляет проект в открытую запись подписчика или создаёт новую.
// Операция сериализуется по паре (подписчик, периодичность), а конкурентная
// вставка из другого процесса превращается в повторное слияние, так что
// открытая запись у пары всегда одна.
func (s *Service) Enqueue(ctx context.Context, actor domain.Actor, objectURI string) error {
	if !actor.Frequency.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownFrequency, actor.Frequency)
	}

	unlock := s.locks.Lock(actor.URI + "|" + string(actor.Frequency))
	defer unlock()

	for attempt := 0; attempt < enqueueRetryMax; attempt++ {
		record, err := s.queue.FindOpen(ctx, actor.URI, actor.Frequency)
		switch {
		case err == nil:
			objects := mergeObjects(record.Objects, objectURI)
			if len(objects) == len(record.Objects) {
				// Проект уже в очереди.
				return nil
			}
			if err := s.queue.UpdateObjects(ctx, record.ID, objects); err != nil {
				return fmt.Errorf("обновление записи очереди: %w", err)
			}
			metrics.MailQueueMergedTotal.Inc()
			return nil
		case errors.Is(err, domain.ErrMailNotFound):
			_, err := s.queue.Create(ctx, domain.MailQueueRecord{
				ID:        uuid.NewString(),
				ActorURI:  actor.URI,
				Objects:   []string{objectURI},
				Frequency: actor.Frequency,
			})
			if errors.Is(err, domain.ErrOpenRecordExists) {
				// Запись успел создать кто-то другой, сливаемся в неё.
				continue
			}
			if err != nil {
				return fmt.Errorf("создание записи очереди: %w", err)
			}
			metrics.MailQueueCreatedTotal.Inc()
			return nil
		default:
			return fmt.Errorf("поиск открытой записи: %w", err)
		}
	}
	return domain.ErrOpenRecordExists
}

// ProcessQueue рассылает дайджесты по всем открытым записям указанной
// периодичности. Записи обрабатываются в порядке создания; неудача одной
// записи не прерывает пачку. Возвращается итог по каждой записи.
func (s *Service) ProcessQueue(ctx context.Context, frequency domain.Frequency) ([]domain.DeliveryOutcome, error) {
	if !frequency.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownFrequency, frequency)
	}
	start := time.Now()
	defer metrics.ObserveDigestBatch(string(frequency), start)

	records, err := s.queue.ListOpenByFrequency(ctx, frequency)
	if err != nil {
		return nil, fmt.Errorf("выборка очереди: %w", err)
	}

	outcomes := make([]domain.DeliveryOutcome, 0, len(records))
	for _, record := range records {
		outcomes = append(outcomes, s.dispatch(ctx, record))
	}
	return outcomes, nil
}

func (s *Service) dispatch(ctx context.Context, record domain.MailQueueRecord) domain.DeliveryOutcome {
	outcome := domain.DeliveryOutcome{RecordID: record.ID, ActorURI: record.ActorURI}

	result, err := s.SendNotificationMail(ctx, record)
	if err != nil {
		response := result.Response
		if response == "" {
			response = err.Error()
		}
		outcome.Response = response
		s.closeWithError(ctx, record.ID, response)
		s.logger.Error().Err(err).Str("record", record.ID).Str("actor", record.ActorURI).Msg("mailer: дайджест не отправлен")
		return outcome
	}

	outcome.Accepted = result.Accepted
	outcome.Response = result.Response
	if len(result.Accepted) > 0 {
		if err := s.queue.MarkSent(ctx, record.ID, time.Now().UTC()); err != nil {
			s.logger.Error().Err(err).Str("record", record.ID).Msg("mailer: не удалось пометить запись отправленной")
		}
		metrics.MailSentTotal.WithLabelValues("notification").Inc()
	} else {
		s.closeWithError(ctx, record.ID, result.Response)
	}
	return outcome
}

func (s *Service) closeWithError(ctx context.Context, recordID, response string) {
	metrics.MailSendErrors.Inc()
	if err := s.queue.MarkError(ctx, recordID, response); err != nil {
		s.logger.Error().Err(err).Str("record", recordID).Msg("mailer: не удалось записать ошибку доставки")
	}
}

// SendNotificationMail рендерит и отправляет один дайджест по записи очереди.
func (s *Service) SendNotificationMail(ctx context.Context, record domain.MailQueueRecord) (domain.SendResult, error) {
	actor, err := s.actors.GetByURI(ctx, record.ActorURI)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("получение подписчика: %w", err)
	}

	labels, err := s.interests.ResolveLabels(ctx, actor.Interests)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("метки интересов: %w", err)
	}

	projects, err := s.objects.ResolveObjects(ctx, record.Objects)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("получение проектов: %w", err)
	}

	html, err := s.renderer.RenderNotification(domain.NotificationContext{
		Projects:       projects,
		LocationLine:   locationLine(actor.Location),
		InterestLine:   interestLine(labels),
		PreferencesURL: s.preferencesURL(actor),
		Email:          actor.Email,
	})
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("рендер дайджеста: %w", err)
	}

	return s.sender.Send(ctx, domain.OutgoingMail{To: actor.Email, Subject: notificationSubject, HTMLBody: html})
}

// SendConfirmationMail отправляет письмо-подтверждение новой подписки.
func (s *Service) SendConfirmationMail(ctx context.Context, actor domain.Actor) (domain.SendResult, error) {
	labels, err := s.interests.ResolveLabels(ctx, actor.Interests)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("метки интересов: %w", err)
	}

	html, err := s.renderer.RenderConfirmation(domain.ConfirmationContext{
		LocationLine:   locationLine(actor.Location),
		InterestLine:   interestLine(labels),
		FrequencyLine:  frequencyLine(actor.Frequency),
		PreferencesURL: s.preferencesURL(actor),
		Email:          actor.Email,
	})
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("рендер подтверждения: %w", err)
	}

	result, err := s.sender.Send(ctx, domain.OutgoingMail{To: actor.Email, Subject: confirmationSubject, HTMLBody: html})
	if err == nil {
		metrics.MailSentTotal.WithLabelValues("confirmation").Inc()
	}
	return result, err
}

func (s *Service) preferencesURL(actor domain.Actor) string {
	return s.baseURL + "?id=" + url.QueryEscape(actor.URI)
}

// mergeObjects добавляет uri в набор с сохранением порядка и без дублей.
func mergeObjects(existing []string, uri string) []string {
	for _, known := range existing {
		if known == uri {
			return existing
		}
	}
	merged := make([]string, 0, len(existing)+1)
	merged = append(merged, existing...)
	return append(merged, uri)
}

func locationLine(location *domain.Location) string {
	if !location.HasPoint() {
		return "Dans le monde entier"
	}
	return fmt.Sprintf("A %g km de chez vous", location.RadiusM/1000)
}

func interestLine(labels []domain.InterestLabel) string {
	names := make([]string, 0, len(labels))
	for _, label := range labels {
		names = append(names, label.Label)
	}
	return "Concernant les thématiques: " + strings.Join(names, ", ")
}

func frequencyLine(frequency domain.Frequency) string {
	if frequency == domain.FrequencyDaily {
		return "une fois par jour"
	}
	return "une fois par semaine"
}
