package render

import (
	"embed"
	"fmt"
	"html/template"
	"strings"

	"match-mailer/internal/domain"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Renderer рендерит HTML писем из встроенных шаблонов.
type Renderer struct {
	templates *template.Template
}

var _ domain.DigestRenderer = (*Renderer)(nil)

// New разбирает встроенные шаблоны.
func New() (*Renderer, error) {
	templates, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{templates: templates}, nil
}

// RenderNotification рендерит письмо-дайджест.
func (r *Renderer) RenderNotification(nctx domain.NotificationContext) (string, error) {
	return r.render("notification.html", nctx)
}

// RenderConfirmation рендерит письмо-подтверждение подписки.
func (r *Renderer) RenderConfirmation(cctx domain.ConfirmationContext) (string, error) {
	return r.render("confirmation.html", cctx)
}

func (r *Renderer) render(name string, data any) (string, error) {
	var buf strings.Builder
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
