package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"match-mailer/internal/domain"
)

type stubActors struct {
	actors map[string]domain.Actor
}

func (s *stubActors) Upsert(_ context.Context, actor domain.Actor) (domain.Actor, bool, error) {
	return actor, false, nil
}

func (s *stubActors) GetByURI(_ context.Context, uri string) (domain.Actor, error) {
	actor, ok := s.actors[uri]
	if !ok {
		return domain.Actor{}, domain.ErrActorNotFound
	}
	return actor, nil
}

func (s *stubActors) Delete(context.Context, string) error { return nil }

// stubQueue — репозиторий очереди в памяти, повторяющий контракт Postgres:
// одна открытая запись на пару, закрытые записи не изменяются.
type stubQueue struct {
	records []domain.MailQueueRecord
}

func (s *stubQueue) FindOpen(_ context.Context, actorURI string, frequency domain.Frequency) (domain.MailQueueRecord, error) {
	for _, record := range s.records {
		if record.ActorURI == actorURI && record.Frequency == frequency && record.Open() {
			return record, nil
		}
	}
	return domain.MailQueueRecord{}, domain.ErrMailNotFound
}

func (s *stubQueue) Create(_ context.Context, record domain.MailQueueRecord) (domain.MailQueueRecord, error) {
	for _, existing := range s.records {
		if existing.ActorURI == record.ActorURI && existing.Frequency == record.Frequency && existing.Open() {
			return domain.MailQueueRecord{}, domain.ErrOpenRecordExists
		}
	}
	record.CreatedAt = time.Now().UTC()
	s.records = append(s.records, record)
	return record, nil
}

func (s *stubQueue) UpdateObjects(_ context.Context, id string, objects []string) error {
	for i, record := range s.records {
		if record.ID == id && record.Open() {
			s.records[i].Objects = objects
			return nil
		}
	}
	return domain.ErrMailNotFound
}

func (s *stubQueue) ListOpenByFrequency(_ context.Context, frequency domain.Frequency) ([]domain.MailQueueRecord, error) {
	var open []domain.MailQueueRecord
	for _, record := range s.records {
		if record.Frequency == frequency && record.Open() {
			open = append(open, record)
		}
	}
	return open, nil
}

func (s *stubQueue) MarkSent(_ context.Context, id string, at time.Time) error {
	for i, record := range s.records {
		if record.ID == id && record.Open() {
			ts := at
			s.records[i].SentAt = &ts
			return nil
		}
	}
	return domain.ErrMailNotFound
}

func (s *stubQueue) MarkError(_ context.Context, id string, response string) error {
	for i, record := range s.records {
		if record.ID == id && record.Open() {
			resp := response
			s.records[i].ErrorResponse = &resp
			return nil
		}
	}
	return domain.ErrMailNotFound
}

func (s *stubQueue) byActor(actorURI string) []domain.MailQueueRecord {
	var found []domain.MailQueueRecord
	for _, record := range s.records {
		if record.ActorURI == actorURI {
			found = append(found, record)
		}
	}
	return found
}

type stubObjects struct{}

func (stubObjects) ResolveObjects(_ context.Context, ids []string) ([]domain.AnnouncedObject, error) {
	objects := make([]domain.AnnouncedObject, 0, len(ids))
	for _, id := range ids {
		objects = append(objects, domain.AnnouncedObject{URI: id, Name: "Projet " + id})
	}
	return objects, nil
}

type stubInterests struct{}

func (stubInterests) ResolveLabels(_ context.Context, ids []string) ([]domain.InterestLabel, error) {
	labels := make([]domain.InterestLabel, 0, len(ids))
	for _, id := range ids {
		labels = append(labels, domain.InterestLabel{URI: id, Label: "Thème " + id})
	}
	return labels, nil
}

// stubSender отклоняет адресатов из reject и падает для адресатов из fail.
type stubSender struct {
	reject map[string]bool
	fail   map[string]bool
	sent   []domain.OutgoingMail
}

func (s *stubSender) Send(_ context.Context, mail domain.OutgoingMail) (domain.SendResult, error) {
	if s.fail[mail.To] {
		return domain.SendResult{Response: "connection refused"}, errors.New("connection refused")
	}
	s.sent = append(s.sent, mail)
	if s.reject[mail.To] {
		return domain.SendResult{Response: "550 mailbox unavailable"}, nil
	}
	return domain.SendResult{Accepted: []string{mail.To}, Response: "250 ok"}, nil
}

type stubRenderer struct{}

func (stubRenderer) RenderNotification(nctx domain.NotificationContext) (string, error) {
	return fmt.Sprintf("<html>%s|%s|%d</html>", nctx.LocationLine, nctx.InterestLine, len(nctx.Projects)), nil
}

func (stubRenderer) RenderConfirmation(cctx domain.ConfirmationContext) (string, error) {
	return fmt.Sprintf("<html>%s|%s</html>", cctx.FrequencyLine, cctx.LocationLine), nil
}

func newTestService(actors map[string]domain.Actor) (*Service, *stubQueue, *stubSender) {
	queue := &stubQueue{}
	sender := &stubSender{reject: map[string]bool{}, fail: map[string]bool{}}
	service := NewService(&stubActors{actors: actors}, queue, stubObjects{}, stubInterests{}, sender, stubRenderer{}, "https://fabrique.example.org/", zerolog.Nop())
	return service, queue, sender
}

func weeklyActor(uri, email string) domain.Actor {
	return domain.Actor{URI: uri, Email: email, Interests: []string{"https://e.org/themes/a"}, Frequency: domain.FrequencyWeekly}
}

func TestEnqueueCreatesRecord(t *testing.T) {
	service, queue, _ := newTestService(nil)
	actor := weeklyActor("https://e.org/x", "x@example.org")

	if err := service.Enqueue(context.Background(), actor, "https://e.org/o1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	records := queue.byActor(actor.URI)
	if len(records) != 1 {
		t.Fatalf("ожидали 1 запись, получили %d", len(records))
	}
	if len(records[0].Objects) != 1 || records[0].Objects[0] != "https://e.org/o1" {
		t.Fatalf("ожидали проект o1 в записи, получили %v", records[0].Objects)
	}
	if !records[0].Open() {
		t.Fatalf("новая запись должна быть открытой")
	}
}

func TestEnqueueMergesIntoOpenRecord(t *testing.T) {
	service, queue, _ := newTestService(nil)
	actor := weeklyActor("https://e.org/x", "x@example.org")

	if err := service.Enqueue(context.Background(), actor, "https://e.org/o1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	firstID := queue.byActor(actor.URI)[0].ID

	if err := service.Enqueue(context.Background(), actor, "https://e.org/o2"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	records := queue.byActor(actor.URI)
	if len(records) != 1 {
		t.Fatalf("вторая постановка должна слиться в существующую запись, получили %d записей", len(records))
	}
	if records[0].ID != firstID {
		t.Fatalf("идентичность записи должна сохраняться при слиянии")
	}
	if len(records[0].Objects) != 2 {
		t.Fatalf("ожидали 2 проекта, получили %v", records[0].Objects)
	}
}

func TestEnqueueIdempotent(t *testing.T) {
	service, queue, _ := newTestService(nil)
	actor := weeklyActor("https://e.org/x", "x@example.org")

	for i := 0; i < 3; i++ {
		if err := service.Enqueue(context.Background(), actor, "https://e.org/o1"); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}

	records := queue.byActor(actor.URI)
	if len(records) != 1 || len(records[0].Objects) != 1 {
		t.Fatalf("повторная постановка того же проекта не должна дублировать его: %v", records)
	}
}

func TestEnqueueAfterCloseOpensNewRecord(t *testing.T) {
	service, queue, _ := newTestService(nil)
	actor := weeklyActor("https://e.org/x", "x@example.org")

	if err := service.Enqueue(context.Background(), actor, "https://e.org/o1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	closedID := queue.byActor(actor.URI)[0].ID
	if err := queue.MarkSent(context.Background(), closedID, time.Now().UTC()); err != nil {
		t.Fatalf("не удалось закрыть запись: %v", err)
	}

	if err := service.Enqueue(context.Background(), actor, "https://e.org/o2"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	records := queue.byActor(actor.URI)
	if len(records) != 2 {
		t.Fatalf("после закрытия должна появиться новая запись, получили %d", len(records))
	}
	if records[1].ID == closedID {
		t.Fatalf("закрытая запись не должна изменяться")
	}
	if len(records[0].Objects) != 1 {
		t.Fatalf("закрытая запись не должна пополняться")
	}
}

func TestEnqueueUnknownFrequency(t *testing.T) {
	service, _, _ := newTestService(nil)
	actor := domain.Actor{URI: "https://e.org/x", Frequency: "hourly"}
	if err := service.Enqueue(context.Background(), actor, "https://e.org/o1"); !errors.Is(err, domain.ErrUnknownFrequency) {
		t.Fatalf("ожидали ErrUnknownFrequency, получили %v", err)
	}
}

func TestProcessQueueOutcomes(t *testing.T) {
	actorOK := weeklyActor("https://e.org/ok", "ok@example.org")
	actorRejected := weeklyActor("https://e.org/rej", "rej@example.org")
	service, queue, sender := newTestService(map[string]domain.Actor{
		actorOK.URI:       actorOK,
		actorRejected.URI: actorRejected,
	})
	sender.reject["rej@example.org"] = true

	if err := service.Enqueue(context.Background(), actorOK, "https://e.org/o1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := service.Enqueue(context.Background(), actorRejected, "https://e.org/o2"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	outcomes, err := service.ProcessQueue(context.Background(), domain.FrequencyWeekly)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("ожидали итог по каждой записи, получили %d", len(outcomes))
	}

	okRecord := queue.byActor(actorOK.URI)[0]
	if okRecord.SentAt == nil || okRecord.ErrorResponse != nil {
		t.Fatalf("успешная запись должна закрыться через SentAt")
	}
	rejRecord := queue.byActor(actorRejected.URI)[0]
	if rejRecord.ErrorResponse == nil || rejRecord.SentAt != nil {
		t.Fatalf("отклонённая запись должна закрыться через ErrorResponse")
	}
	if !strings.Contains(*rejRecord.ErrorResponse, "550") {
		t.Fatalf("в ErrorResponse должен попасть ответ транспорта, получили %q", *rejRecord.ErrorResponse)
	}
}

func TestProcessQueueFailureIsolatedPerRecord(t *testing.T) {
	actorFail := weeklyActor("https://e.org/fail", "fail@example.org")
	actorOK := weeklyActor("https://e.org/ok", "ok@example.org")
	service, queue, sender := newTestService(map[string]domain.Actor{
		actorFail.URI: actorFail,
		actorOK.URI:   actorOK,
	})
	sender.fail["fail@example.org"] = true

	if err := service.Enqueue(context.Background(), actorFail, "https://e.org/o1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := service.Enqueue(context.Background(), actorOK, "https://e.org/o2"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	outcomes, err := service.ProcessQueue(context.Background(), domain.FrequencyWeekly)
	if err != nil {
		t.Fatalf("ошибка транспорта не должна срывать пачку: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("ожидали 2 итога, получили %d", len(outcomes))
	}
	if queue.byActor(actorOK.URI)[0].SentAt == nil {
		t.Fatalf("вторая запись должна быть отправлена несмотря на ошибку первой")
	}
	if queue.byActor(actorFail.URI)[0].ErrorResponse == nil {
		t.Fatalf("ошибка транспорта должна закрыть запись через ErrorResponse")
	}
}

func TestProcessQueueExcludesClosedRecords(t *testing.T) {
	actor := weeklyActor("https://e.org/x", "x@example.org")
	service, _, sender := newTestService(map[string]domain.Actor{actor.URI: actor})

	if err := service.Enqueue(context.Background(), actor, "https://e.org/o1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := service.ProcessQueue(context.Background(), domain.FrequencyWeekly); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	outcomes, err := service.ProcessQueue(context.Background(), domain.FrequencyWeekly)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("закрытые записи не должны обрабатываться повторно")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("письмо не должно отправляться второй раз")
	}
}

func TestProcessQueueActorNotFoundClosesRecord(t *testing.T) {
	actor := weeklyActor("https://e.org/ghost", "ghost@example.org")
	service, queue, _ := newTestService(nil) // подписчик удалён после постановки

	if err := service.Enqueue(context.Background(), actor, "https://e.org/o1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	outcomes, err := service.ProcessQueue(context.Background(), domain.FrequencyWeekly)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Response == "" {
		t.Fatalf("ожидали итог с ошибкой, получили %v", outcomes)
	}
	if queue.byActor(actor.URI)[0].ErrorResponse == nil {
		t.Fatalf("запись без подписчика должна закрыться через ErrorResponse")
	}
}

func TestProcessQueueUnknownFrequency(t *testing.T) {
	service, _, _ := newTestService(nil)
	if _, err := service.ProcessQueue(context.Background(), "hourly"); !errors.Is(err, domain.ErrUnknownFrequency) {
		t.Fatalf("ожидали ErrUnknownFrequency, получили %v", err)
	}
}

func TestSendConfirmationMail(t *testing.T) {
	actor := weeklyActor("https://e.org/x", "x@example.org")
	service, _, sender := newTestService(map[string]domain.Actor{actor.URI: actor})

	result, err := service.SendConfirmationMail(context.Background(), actor)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(result.Accepted) != 1 || result.Accepted[0] != actor.Email {
		t.Fatalf("письмо должно быть принято для %s", actor.Email)
	}
	mail := sender.sent[0]
	if mail.Subject != confirmationSubject {
		t.Fatalf("ожидали тему подтверждения, получили %q", mail.Subject)
	}
	if !strings.Contains(mail.HTMLBody, "une fois par semaine") {
		t.Fatalf("в письме должна быть периодичность словами: %q", mail.HTMLBody)
	}
}

func TestLocationLine(t *testing.T) {
	if line := locationLine(nil); line != "Dans le monde entier" {
		t.Fatalf("без географии ожидали мировую строку, получили %q", line)
	}
	lat, lon := 48.85, 2.35
	line := locationLine(&domain.Location{Latitude: &lat, Longitude: &lon, RadiusM: 25000})
	if line != "A 25 km de chez vous" {
		t.Fatalf("ожидали строку с радиусом 25 км, получили %q", line)
	}
}

func TestMergeObjects(t *testing.T) {
	merged := mergeObjects([]string{"a", "b"}, "c")
	if len(merged) != 3 || merged[2] != "c" {
		t.Fatalf("новый проект должен добавляться в конец: %v", merged)
	}
	same := mergeObjects([]string{"a", "b"}, "b")
	if len(same) != 2 {
		t.Fatalf("дубликат не должен добавляться: %v", same)
	}
}
