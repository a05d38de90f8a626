package smtp

import (
	"context"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"

	"match-mailer/internal/domain"
	"match-mailer/internal/infra/metrics"
)

// Config описывает SMTP-транспорт.
type Config struct {
	Host      string
	Port      int
	User      string
	Pass      string
	FromEmail string
	FromName  string
}

// Sender реализует domain.MailSender через SMTP.
type Sender struct {
	client    *gomail.Client
	fromEmail string
	fromName  string
}

var _ domain.MailSender = (*Sender)(nil)

// NewSender создаёт SMTP-отправитель.
func NewSender(cfg Config) (*Sender, error) {
	client, err := gomail.NewClient(cfg.Host,
		gomail.WithPort(cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.User),
		gomail.WithPassword(cfg.Pass),
		gomail.WithTLSPortPolicy(gomail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &Sender{client: client, fromEmail: cfg.FromEmail, fromName: cfg.FromName}, nil
}

// Send отправляет письмо. Ответ транспорта непрозрачен для вызывающего:
// при отказе текст ошибки попадает в Response и в errorResponse записи.
func (s *Sender) Send(ctx context.Context, mail domain.OutgoingMail) (domain.SendResult, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return domain.SendResult{}, fmt.Errorf("адрес отправителя: %w", err)
	}
	if err := msg.To(mail.To); err != nil {
		return domain.SendResult{Response: err.Error()}, fmt.Errorf("адрес получателя: %w", err)
	}
	msg.Subject(mail.Subject)
	msg.SetBodyString(gomail.TypeTextHTML, mail.HTMLBody)

	start := time.Now()
	err := s.client.DialAndSendWithContext(ctx, msg)
	metrics.ObserveNetworkRequest("smtp", "send", "mail", start, err)
	if err != nil {
		return domain.SendResult{Response: err.Error()}, fmt.Errorf("отправка письма: %w", err)
	}
	return domain.SendResult{Accepted: []string{mail.To}}, nil
}
