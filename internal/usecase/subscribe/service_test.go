package subscribe

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"match-mailer/internal/domain"
)

type stubActors struct {
	actors map[string]domain.Actor
}

func (s *stubActors) Upsert(_ context.Context, actor domain.Actor) (domain.Actor, bool, error) {
	_, exists := s.actors[actor.URI]
	if s.actors == nil {
		s.actors = map[string]domain.Actor{}
	}
	s.actors[actor.URI] = actor
	return actor, !exists, nil
}

func (s *stubActors) GetByURI(_ context.Context, uri string) (domain.Actor, error) {
	actor, ok := s.actors[uri]
	if !ok {
		return domain.Actor{}, domain.ErrActorNotFound
	}
	return actor, nil
}

func (s *stubActors) Delete(_ context.Context, uri string) error {
	if _, ok := s.actors[uri]; !ok {
		return domain.ErrActorNotFound
	}
	delete(s.actors, uri)
	return nil
}

type stubConfirmer struct {
	confirmed []string
}

func (s *stubConfirmer) SendConfirmationMail(_ context.Context, actor domain.Actor) (domain.SendResult, error) {
	s.confirmed = append(s.confirmed, actor.URI)
	return domain.SendResult{Accepted: []string{actor.Email}}, nil
}

type stubFollows struct {
	followed []string
}

func (s *stubFollows) RegisterFollow(_ context.Context, actorURI string) error {
	s.followed = append(s.followed, actorURI)
	return nil
}

func newTestService(existing map[string]domain.Actor) (*Service, *stubActors, *stubConfirmer, *stubFollows) {
	actors := &stubActors{actors: existing}
	if actors.actors == nil {
		actors.actors = map[string]domain.Actor{}
	}
	confirmer := &stubConfirmer{}
	follows := &stubFollows{}
	return NewService(actors, confirmer, follows, "https://fabrique.example.org/", zerolog.Nop()), actors, confirmer, follows
}

func TestSubscribeCreatesActor(t *testing.T) {
	service, actors, confirmer, follows := newTestService(nil)

	sub := Subscription{
		ID:           "https://e.org/actors/x",
		Email:        "x@example.org",
		Interests:    []string{"https://e.org/themes/a"},
		Frequency:    "weekly",
		LocationMode: LocationCloseToMe,
		Address:      "Paris",
		Latitude:     "48.85",
		Longitude:    "2.35",
		Radius:       "25000",
	}
	actor, created, err := service.Subscribe(context.Background(), sub)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !created {
		t.Fatalf("ожидали создание нового подписчика")
	}
	if actor.Location == nil || !actor.Location.HasPoint() || actor.Location.RadiusM != 25000 {
		t.Fatalf("ожидали географию с точкой и радиусом 25000, получили %+v", actor.Location)
	}
	if len(confirmer.confirmed) != 1 {
		t.Fatalf("новому подписчику должно уйти письмо-подтверждение")
	}
	if len(follows.followed) != 1 {
		t.Fatalf("новый подписчик должен зафолловить бота")
	}
	if _, ok := actors.actors[sub.ID]; !ok {
		t.Fatalf("подписчик должен сохраниться")
	}
}

func TestSubscribeWithoutIDGeneratesDistinctActors(t *testing.T) {
	service, actors, confirmer, _ := newTestService(nil)

	first, created, err := service.Subscribe(context.Background(), Subscription{Email: "a@example.org", Frequency: "weekly"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !created || first.URI == "" {
		t.Fatalf("безымянной подписке должен выдаваться идентификатор, получили %+v", first)
	}
	if !strings.HasPrefix(first.URI, "https://fabrique.example.org/subscribers/") {
		t.Fatalf("идентификатор должен строиться от базового адреса, получили %q", first.URI)
	}

	second, created, err := service.Subscribe(context.Background(), Subscription{Email: "b@example.org", Frequency: "weekly"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !created || second.URI == first.URI {
		t.Fatalf("вторая безымянная подписка не должна затирать первую: %q и %q", first.URI, second.URI)
	}
	if len(actors.actors) != 2 {
		t.Fatalf("ожидали двух подписчиков, получили %d", len(actors.actors))
	}
	if len(confirmer.confirmed) != 2 {
		t.Fatalf("каждому новому подписчику должно уйти подтверждение, получили %d", len(confirmer.confirmed))
	}
	if actors.actors[first.URI].Email != "a@example.org" {
		t.Fatalf("почта первого подписчика не должна меняться, получили %q", actors.actors[first.URI].Email)
	}
}

func TestSubscribeUpdateDoesNotResendConfirmation(t *testing.T) {
	lat, lon := 48.85, 2.35
	existing := domain.Actor{
		URI:       "https://e.org/actors/x",
		Email:     "x@example.org",
		Frequency: domain.FrequencyWeekly,
		Location:  &domain.Location{Name: "Paris", Latitude: &lat, Longitude: &lon, RadiusM: 25000},
	}
	service, _, confirmer, _ := newTestService(map[string]domain.Actor{existing.URI: existing})

	sub := Subscription{
		ID:           existing.URI,
		Email:        existing.Email,
		Frequency:    "daily",
		LocationMode: LocationCloseToMe,
		Radius:       "50000",
	}
	actor, created, err := service.Subscribe(context.Background(), sub)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if created {
		t.Fatalf("обновление не должно считаться созданием")
	}
	if len(confirmer.confirmed) != 0 {
		t.Fatalf("при обновлении подтверждение не отправляется")
	}
	// Без новых координат обновляется только радиус существующей точки.
	if actor.Location == nil || !actor.Location.HasPoint() || actor.Location.RadiusM != 50000 {
		t.Fatalf("ожидали сохранение точки с новым радиусом, получили %+v", actor.Location)
	}
}

func TestSubscribeWholeWorldClearsLocation(t *testing.T) {
	lat, lon := 48.85, 2.35
	existing := domain.Actor{
		URI:       "https://e.org/actors/x",
		Email:     "x@example.org",
		Frequency: domain.FrequencyWeekly,
		Location:  &domain.Location{Latitude: &lat, Longitude: &lon, RadiusM: 25000},
	}
	service, _, _, _ := newTestService(map[string]domain.Actor{existing.URI: existing})

	actor, _, err := service.Subscribe(context.Background(), Subscription{
		ID:           existing.URI,
		Email:        existing.Email,
		Frequency:    "weekly",
		LocationMode: LocationWholeWorld,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if actor.Location != nil {
		t.Fatalf("режим whole-world должен сбрасывать географию")
	}
}

func TestSubscribeMalformedCoordinates(t *testing.T) {
	service, _, _, _ := newTestService(nil)

	_, _, err := service.Subscribe(context.Background(), Subscription{
		ID:           "https://e.org/actors/x",
		Email:        "x@example.org",
		Frequency:    "weekly",
		LocationMode: LocationCloseToMe,
		Latitude:     "not-a-number",
		Longitude:    "2.35",
	})
	if !errors.Is(err, domain.ErrMalformedLocation) {
		t.Fatalf("ожидали ErrMalformedLocation, получили %v", err)
	}
}

func TestSubscribeDefaultRadius(t *testing.T) {
	service, _, _, _ := newTestService(nil)

	actor, _, err := service.Subscribe(context.Background(), Subscription{
		ID:           "https://e.org/actors/x",
		Email:        "x@example.org",
		Frequency:    "weekly",
		LocationMode: LocationCloseToMe,
		Latitude:     "48.85",
		Longitude:    "2.35",
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if actor.Location == nil || actor.Location.RadiusM != 25000 {
		t.Fatalf("без радиуса должен применяться радиус по умолчанию 25000, получили %+v", actor.Location)
	}
}

func TestSubscribeUnknownFrequency(t *testing.T) {
	service, _, _, _ := newTestService(nil)
	_, _, err := service.Subscribe(context.Background(), Subscription{ID: "https://e.org/x", Email: "x@example.org", Frequency: "hourly"})
	if !errors.Is(err, domain.ErrUnknownFrequency) {
		t.Fatalf("ожидали ErrUnknownFrequency, получили %v", err)
	}
}

func TestSubscribeEmailRequired(t *testing.T) {
	service, _, _, _ := newTestService(nil)
	_, _, err := service.Subscribe(context.Background(), Subscription{ID: "https://e.org/x", Frequency: "weekly"})
	if !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("ожидали ErrEmailRequired, получили %v", err)
	}
}

func TestUnsubscribe(t *testing.T) {
	existing := domain.Actor{URI: "https://e.org/actors/x", Email: "x@example.org", Frequency: domain.FrequencyWeekly}
	service, actors, _, _ := newTestService(map[string]domain.Actor{existing.URI: existing})

	if err := service.Unsubscribe(context.Background(), existing.URI); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, ok := actors.actors[existing.URI]; ok {
		t.Fatalf("подписчик должен быть удалён")
	}
	if err := service.Unsubscribe(context.Background(), existing.URI); !errors.Is(err, domain.ErrActorNotFound) {
		t.Fatalf("повторное удаление должно вернуть ErrActorNotFound, получили %v", err)
	}
}
