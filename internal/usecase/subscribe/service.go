package subscribe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"match-mailer/internal/domain"
)

// Режимы географии из формы подписки.
const (
	LocationCloseToMe  = "close-to-me"
	LocationWholeWorld = "whole-world"
)

// Радиус по умолчанию в метрах, если подписчик его не указал.
const defaultRadiusM = 25000

// ErrEmailRequired возвращается, если в форме не указана почта.
var ErrEmailRequired = errors.New("не указан адрес почты")

// Confirmer отправляет письмо-подтверждение подписки.
type Confirmer interface {
	SendConfirmationMail(ctx context.Context, actor domain.Actor) (domain.SendResult, error)
}

// FollowRegistrar подписывает нового актёра на бота в каталоге.
type FollowRegistrar interface {
	RegisterFollow(ctx context.Context, actorURI string) error
}

// Subscription — данные формы подписки. Координаты и радиус приходят
// строками и разбираются на границе.
type Subscription struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	Interests    []string `json:"themes"`
	Frequency    string   `json:"frequency"`
	LocationMode string   `json:"location"`
	Address      string   `json:"address,omitempty"`
	Latitude     string   `json:"latitude,omitempty"`
	Longitude    string   `json:"longitude,omitempty"`
	Radius       string   `json:"radius,omitempty"`
}

// Service управляет подписчиками.
type Service struct {
	actors    domain.ActorRepo
	confirmer Confirmer
	follows   FollowRegistrar
	homeURL   string
	logger    zerolog.Logger
}

// NewService создаёт сервис подписки. homeURL — база для идентификаторов
// подписчиков, пришедших без собственного.
func NewService(actors domain.ActorRepo, confirmer Confirmer, follows FollowRegistrar, homeURL string, logger zerolog.Logger) *Service {
	return &Service{actors: actors, confirmer: confirmer, follows: follows, homeURL: homeURL, logger: logger}
}

// Subscribe создаёт или обновляет подписчика. Новому подписчику регистрируется
// фолловинг бота и отправляется письмо-подтверждение; ошибка письма подписку
// не отменяет.
func (s *Service) Subscribe(ctx context.Context, sub Subscription) (domain.Actor, bool, error) {
	if strings.TrimSpace(sub.Email) == "" {
		return domain.Actor{}, false, ErrEmailRequired
	}
	frequency := domain.Frequency(sub.Frequency)
	if !frequency.Valid() {
		return domain.Actor{}, false, fmt.Errorf("%w: %q", domain.ErrUnknownFrequency, sub.Frequency)
	}

	// Форма могла прийти без идентификатора: новому подписчику он выдаётся
	// здесь, иначе все безымянные подписки схлопнулись бы в одну запись.
	uri := sub.ID
	if uri == "" {
		uri = s.newSubscriberURI()
	}

	var existing *domain.Actor
	if sub.ID != "" {
		actor, err := s.actors.GetByURI(ctx, sub.ID)
		switch {
		case err == nil:
			existing = &actor
		case errors.Is(err, domain.ErrActorNotFound):
			// Идентификатор будет использован при создании.
		default:
			return domain.Actor{}, false, fmt.Errorf("получение подписчика: %w", err)
		}
	}

	location, err := resolveLocation(sub, existing)
	if err != nil {
		return domain.Actor{}, false, err
	}

	actor := domain.Actor{
		URI:       uri,
		Email:     strings.TrimSpace(sub.Email),
		Interests: sub.Interests,
		Frequency: frequency,
		Location:  location,
	}

	saved, created, err := s.actors.Upsert(ctx, actor)
	if err != nil {
		return domain.Actor{}, false, fmt.Errorf("сохранение подписчика: %w", err)
	}

	if created {
		if err := s.follows.RegisterFollow(ctx, saved.URI); err != nil {
			s.logger.Error().Err(err).Str("actor", saved.URI).Msg("subscribe: не удалось зарегистрировать фолловинг бота")
		}
		if _, err := s.confirmer.SendConfirmationMail(ctx, saved); err != nil {
			s.logger.Error().Err(err).Str("actor", saved.URI).Msg("subscribe: письмо-подтверждение не отправлено")
		}
	}

	return saved, created, nil
}

func (s *Service) newSubscriberURI() string {
	base := strings.TrimRight(s.homeURL, "/")
	if base == "" {
		return uuid.NewString()
	}
	return base + "/subscribers/" + uuid.NewString()
}

// Get возвращает подписчика по идентификатору.
func (s *Service) Get(ctx context.Context, uri string) (domain.Actor, error) {
	return s.actors.GetByURI(ctx, uri)
}

// Unsubscribe удаляет подписчика.
func (s *Service) Unsubscribe(ctx context.Context, uri string) error {
	if err := s.actors.Delete(ctx, uri); err != nil {
		return fmt.Errorf("удаление подписчика: %w", err)
	}
	return nil
}

// resolveLocation повторяет логику исходной формы: режим "рядом со мной" с
// координатами задаёт точку и радиус, без координат — обновляет только радиус
// у существующей точки, режим "весь мир" сбрасывает географию.
func resolveLocation(sub Subscription, existing *domain.Actor) (*domain.Location, error) {
	switch sub.LocationMode {
	case LocationCloseToMe:
		radius, err := parseRadius(sub.Radius)
		if err != nil {
			return nil, err
		}
		if sub.Latitude != "" || sub.Longitude != "" {
			lat, err := parseCoordinate("latitude", sub.Latitude)
			if err != nil {
				return nil, err
			}
			lon, err := parseCoordinate("longitude", sub.Longitude)
			if err != nil {
				return nil, err
			}
			return &domain.Location{Name: sub.Address, Latitude: &lat, Longitude: &lon, RadiusM: radius}, nil
		}
		if existing != nil && existing.Location != nil {
			updated := *existing.Location
			updated.RadiusM = radius
			return &updated, nil
		}
		return &domain.Location{RadiusM: radius}, nil
	case LocationWholeWorld, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: неизвестный режим %q", domain.ErrMalformedLocation, sub.LocationMode)
	}
}

func parseCoordinate(name, raw string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", domain.ErrMalformedLocation, name, raw)
	}
	return value, nil
}

func parseRadius(raw string) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultRadiusM, nil
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: radius %q", domain.ErrMalformedLocation, raw)
	}
	return value, nil
}
