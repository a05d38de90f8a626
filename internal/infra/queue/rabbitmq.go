package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"match-mailer/internal/domain"
	"match-mailer/internal/infra/metrics"
)

// RabbitAnnouncementQueue реализует очередь анонсов через AMQP.
type RabbitAnnouncementQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

// NewRabbitAnnouncementQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitAnnouncementQueue(amqpURL, queue string) (*RabbitAnnouncementQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitAnnouncementQueue{conn: conn, channel: channel, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitAnnouncementQueue) Enqueue(ctx context.Context, job domain.AnnouncementJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу; ack подтверждает обработку либо
// возвращает сообщение в очередь для повторной доставки.
func (q *RabbitAnnouncementQueue) Receive(ctx context.Context) (domain.AnnouncementJob, domain.AnnouncementAckFunc, error) {
	noop := func(bool) error { return nil }
	if q.deliveries == nil {
		deliveries, err := q.channel.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			return domain.AnnouncementJob{}, noop, fmt.Errorf("consume: %w", err)
		}
		q.deliveries = deliveries
	}

	for {
		select {
		case <-ctx.Done():
			return domain.AnnouncementJob{}, noop, ctx.Err()
		case delivery, ok := <-q.deliveries:
			if !ok {
				return domain.AnnouncementJob{}, noop, errors.New("rabbitmq queue: channel closed")
			}
			var job domain.AnnouncementJob
			if err := json.Unmarshal(delivery.Body, &job); err != nil {
				// Нечитаемое сообщение не вернётся в очередь.
				_ = delivery.Nack(false, false)
				return domain.AnnouncementJob{}, noop, fmt.Errorf("decode job: %w", err)
			}
			ack := func(success bool) error {
				if success {
					return delivery.Ack(false)
				}
				return delivery.Nack(false, true)
			}
			return job, ack, nil
		}
	}
}

// Close закрывает канал и соединение.
func (q *RabbitAnnouncementQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
