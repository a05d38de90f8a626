package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"match-mailer/internal/domain"
	"match-mailer/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
//
// Схема:
//
//	CREATE TABLE subscribers (
//	    uri TEXT PRIMARY KEY,
//	    email TEXT NOT NULL,
//	    interests TEXT[] NOT NULL DEFAULT '{}',
//	    frequency TEXT NOT NULL,
//	    location_name TEXT,
//	    latitude DOUBLE PRECISION,
//	    longitude DOUBLE PRECISION,
//	    radius_m DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE mail_queue (
//	    id UUID PRIMARY KEY,
//	    actor_uri TEXT NOT NULL REFERENCES subscribers(uri) ON DELETE CASCADE,
//	    objects TEXT[] NOT NULL,
//	    frequency TEXT NOT NULL,
//	    sent_at TIMESTAMPTZ,
//	    error_response TEXT,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE UNIQUE INDEX mail_queue_open_actor_freq
//	    ON mail_queue (actor_uri, frequency)
//	    WHERE sent_at IS NULL AND error_response IS NULL;
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ActorRepo     = (*Postgres)(nil)
	_ domain.MailQueueRepo = (*Postgres)(nil)
)

const openRecordIndexName = "mail_queue_open_actor_freq"

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Upsert реализует domain.ActorRepo.
func (p *Postgres) Upsert(ctx context.Context, actor domain.Actor) (domain.Actor, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		locationName sql.NullString
		latitude     sql.NullFloat64
		longitude    sql.NullFloat64
		radius       float64
	)
	if actor.Location != nil {
		if actor.Location.Name != "" {
			locationName = sql.NullString{String: actor.Location.Name, Valid: true}
		}
		if actor.Location.Latitude != nil {
			latitude = sql.NullFloat64{Float64: *actor.Location.Latitude, Valid: true}
		}
		if actor.Location.Longitude != nil {
			longitude = sql.NullFloat64{Float64: *actor.Location.Longitude, Valid: true}
		}
		radius = actor.Location.RadiusM
	}

	interests := actor.Interests
	if interests == nil {
		interests = []string{}
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO subscribers (uri, email, interests, frequency, location_name, latitude, longitude, radius_m)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (uri) DO UPDATE SET
    email = EXCLUDED.email,
    interests = EXCLUDED.interests,
    frequency = EXCLUDED.frequency,
    location_name = EXCLUDED.location_name,
    latitude = EXCLUDED.latitude,
    longitude = EXCLUDED.longitude,
    radius_m = EXCLUDED.radius_m,
    updated_at = now()
RETURNING uri, email, interests, frequency, location_name, latitude, longitude, radius_m, created_at, updated_at, (xmax = 0) AS inserted
`, actor.URI, actor.Email, interests, string(actor.Frequency), locationName, latitude, longitude, radius)

	var created bool
	saved, err := scanActor(row, &created)
	metrics.ObserveNetworkRequest("postgres", "subscribers_upsert", "subscribers", start, err)
	if err != nil {
		return domain.Actor{}, false, err
	}
	return saved, created, nil
}

// GetByURI возвращает подписчика по идентификатору.
func (p *Postgres) GetByURI(ctx context.Context, uri string) (domain.Actor, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT uri, email, interests, frequency, location_name, latitude, longitude, radius_m, created_at, updated_at
FROM subscribers WHERE uri=$1
`, uri)
	actor, err := scanActor(row, nil)
	metrics.ObserveNetworkRequest("postgres", "subscribers_get", "subscribers", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Actor{}, domain.ErrActorNotFound
	}
	return actor, err
}

// Delete удаляет подписчика вместе с его очередью рассылки.
func (p *Postgres) Delete(ctx context.Context, uri string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM subscribers WHERE uri=$1`, uri)
	metrics.ObserveNetworkRequest("postgres", "subscribers_delete", "subscribers", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrActorNotFound
	}
	return nil
}

func scanActor(row pgx.Row, created *bool) (domain.Actor, error) {
	var (
		actor        domain.Actor
		frequency    string
		locationName sql.NullString
		latitude     sql.NullFloat64
		longitude    sql.NullFloat64
		radius       float64
	)
	dest := []any{&actor.URI, &actor.Email, &actor.Interests, &frequency, &locationName, &latitude, &longitude, &radius, &actor.CreatedAt, &actor.UpdatedAt}
	if created != nil {
		dest = append(dest, created)
	}
	if err := row.Scan(dest...); err != nil {
		return domain.Actor{}, err
	}
	actor.Frequency = domain.Frequency(frequency)
	if locationName.Valid || latitude.Valid || longitude.Valid || radius > 0 {
		location := &domain.Location{Name: locationName.String, RadiusM: radius}
		if latitude.Valid {
			value := latitude.Float64
			location.Latitude = &value
		}
		if longitude.Valid {
			value := longitude.Float64
			location.Longitude = &value
		}
		actor.Location = location
	}
	return actor, nil
}

// FindOpen возвращает открытую запись пары (подписчик, периодичность).
func (p *Postgres) FindOpen(ctx context.Context, actorURI string, frequency domain.Frequency) (domain.MailQueueRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT id, actor_uri, objects, frequency, sent_at, error_response, created_at, updated_at
FROM mail_queue
WHERE actor_uri=$1 AND frequency=$2 AND sent_at IS NULL AND error_response IS NULL
ORDER BY created_at
LIMIT 1
`, actorURI, string(frequency))
	record, err := scanMailRecord(row)
	metrics.ObserveNetworkRequest("postgres", "mail_queue_find_open", "mail_queue", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MailQueueRecord{}, domain.ErrMailNotFound
	}
	return record, err
}

// Create создаёт открытую запись. Частичный уникальный индекс гарантирует
// одну открытую запись на пару (подписчик, периодичность); нарушение
// транслируется в domain.ErrOpenRecordExists.
func (p *Postgres) Create(ctx context.Context, record domain.MailQueueRecord) (domain.MailQueueRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	objects := record.Objects
	if objects == nil {
		objects = []string{}
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO mail_queue (id, actor_uri, objects, frequency)
VALUES ($1, $2, $3, $4)
RETURNING id, actor_uri, objects, frequency, sent_at, error_response, created_at, updated_at
`, record.ID, record.ActorURI, objects, string(record.Frequency))
	saved, err := scanMailRecord(row)
	metrics.ObserveNetworkRequest("postgres", "mail_queue_create", "mail_queue", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == openRecordIndexName {
			return domain.MailQueueRecord{}, domain.ErrOpenRecordExists
		}
		return domain.MailQueueRecord{}, err
	}
	return saved, nil
}

// UpdateObjects заменяет набор проектов открытой записи. Закрытая запись не
// изменяется: если запись успели закрыть, возвращается ErrMailNotFound.
func (p *Postgres) UpdateObjects(ctx context.Context, id string, objects []string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE mail_queue SET objects=$2, updated_at=now()
WHERE id=$1 AND sent_at IS NULL AND error_response IS NULL
`, id, objects)
	metrics.ObserveNetworkRequest("postgres", "mail_queue_update_objects", "mail_queue", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrMailNotFound
	}
	return nil
}

// ListOpenByFrequency возвращает открытые записи периодичности FIFO по
// времени создания.
func (p *Postgres) ListOpenByFrequency(ctx context.Context, frequency domain.Frequency) ([]domain.MailQueueRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, actor_uri, objects, frequency, sent_at, error_response, created_at, updated_at
FROM mail_queue
WHERE frequency=$1 AND sent_at IS NULL AND error_response IS NULL
ORDER BY created_at
`, string(frequency))
	metrics.ObserveNetworkRequest("postgres", "mail_queue_list_open", "mail_queue", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.MailQueueRecord
	for rows.Next() {
		record, err := scanMailRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// MarkSent закрывает запись как отправленную. Повторное закрытие не
// перезаписывает уже выставленный статус.
func (p *Postgres) MarkSent(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE mail_queue SET sent_at=$2, updated_at=now()
WHERE id=$1 AND sent_at IS NULL AND error_response IS NULL
`, id, at)
	metrics.ObserveNetworkRequest("postgres", "mail_queue_mark_sent", "mail_queue", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrMailNotFound
	}
	return nil
}

// MarkError закрывает запись с ответом транспорта об ошибке.
func (p *Postgres) MarkError(ctx context.Context, id string, response string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE mail_queue SET error_response=$2, updated_at=now()
WHERE id=$1 AND sent_at IS NULL AND error_response IS NULL
`, id, response)
	metrics.ObserveNetworkRequest("postgres", "mail_queue_mark_error", "mail_queue", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrMailNotFound
	}
	return nil
}

func scanMailRecord(row pgx.Row) (domain.MailQueueRecord, error) {
	var (
		record        domain.MailQueueRecord
		frequency     string
		sentAt        sql.NullTime
		errorResponse sql.NullString
	)
	if err := row.Scan(&record.ID, &record.ActorURI, &record.Objects, &frequency, &sentAt, &errorResponse, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return domain.MailQueueRecord{}, err
	}
	record.Frequency = domain.Frequency(frequency)
	if sentAt.Valid {
		ts := sentAt.Time
		record.SentAt = &ts
	}
	if errorResponse.Valid {
		response := errorResponse.String
		record.ErrorResponse = &response
	}
	return record, nil
}
