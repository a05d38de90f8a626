package match

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"match-mailer/internal/domain"
	"match-mailer/internal/infra/metrics"
)

// Accumulator ставит совпавший проект в очередь рассылки подписчика.
type Accumulator interface {
	Enqueue(ctx context.Context, actor domain.Actor, objectURI string) error
}

// Service реализует отбор подписчиков для анонсированных проектов.
type Service struct {
	actors      domain.ActorRepo
	accumulator Accumulator
	logger      zerolog.Logger
}

// NewService создаёт сервис матчинга.
func NewService(actors domain.ActorRepo, accumulator Accumulator, logger zerolog.Logger) *Service {
	return &Service{actors: actors, accumulator: accumulator, logger: logger}
}

// FilterMatching возвращает подписчиков, чьи интересы пересекаются с проектом
// и чьё географическое ограничение выполнено. Порядок результата повторяет
// порядок входного списка. Нерезолвящийся подписчик пропускается: одна битая
// запись не должна срывать обработку анонса.
func (s *Service) FilterMatching(ctx context.Context, object domain.AnnouncedObject, followerURIs []string) ([]domain.Actor, error) {
	var matched []domain.Actor
	for _, uri := range followerURIs {
		actor, err := s.actors.GetByURI(ctx, uri)
		if err != nil {
			s.logger.Debug().Err(err).Str("actor", uri).Msg("match: подписчик недоступен, пропускаем")
			continue
		}
		if !InterestsIntersect(actor.Interests, object.Interests) {
			continue
		}
		if !WithinRadius(actor.Location, object.Location) {
			continue
		}
		matched = append(matched, actor)
	}
	metrics.ObserveMatch(len(followerURIs), len(matched))
	return matched, nil
}

// HandleAnnouncement обрабатывает анонс: отбирает подписчиков по снимку
// списка фолловеров и пополняет их очереди рассылки.
func (s *Service) HandleAnnouncement(ctx context.Context, object domain.AnnouncedObject, followerURIs []string) error {
	matched, err := s.FilterMatching(ctx, object, followerURIs)
	if err != nil {
		return fmt.Errorf("отбор подписчиков: %w", err)
	}
	for _, actor := range matched {
		if err := s.accumulator.Enqueue(ctx, actor, object.URI); err != nil {
			return fmt.Errorf("постановка в очередь %s: %w", actor.URI, err)
		}
	}
	s.logger.Info().Str("object", object.URI).Int("followers", len(followerURIs)).Int("matched", len(matched)).Msg("match: анонс обработан")
	return nil
}
