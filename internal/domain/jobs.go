package domain

import (
	"context"
	"time"
)

// AnnouncementJob — задача обработки одного анонса проекта.
type AnnouncementJob struct {
	ID         string          `json:"job_id,omitempty"`
	BotURI     string          `json:"bot_uri"`
	Object     AnnouncedObject `json:"object"`
	ReceivedAt time.Time       `json:"received_at"`
}

// AnnouncementAckFunc подтверждает обработку или запрашивает повторную доставку задачи.
type AnnouncementAckFunc func(success bool) error

// AnnouncementQueue описывает очередь задач обработки анонсов.
type AnnouncementQueue interface {
	Enqueue(ctx context.Context, job AnnouncementJob) error
	Receive(ctx context.Context) (AnnouncementJob, AnnouncementAckFunc, error)
}
