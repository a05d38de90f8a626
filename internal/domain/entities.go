package domain

import (
	"encoding/json"
	"time"
)

// Frequency — периодичность доставки дайджеста подписчику.
type Frequency string

const (
	// FrequencyDaily — рассылка раз в день.
	FrequencyDaily Frequency = "daily"
	// FrequencyWeekly — рассылка раз в неделю.
	FrequencyWeekly Frequency = "weekly"
)

// Valid сообщает, поддерживается ли периодичность.
func (f Frequency) Valid() bool {
	return f == FrequencyDaily || f == FrequencyWeekly
}

// Location описывает географическое ограничение подписчика или координаты проекта.
// Latitude и Longitude — указатели: подписчик мог задать только радиус без адреса.
type Location struct {
	Name      string   `json:"name,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	RadiusM   float64  `json:"radius,omitempty"`
}

// HasPoint сообщает, заданы ли координаты.
func (l *Location) HasPoint() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

// Actor — подписчик: почта, интересы, периодичность и необязательная география.
type Actor struct {
	URI       string
	Email     string
	Interests []string
	Frequency Frequency
	Location  *Location
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InterestSet — список интересов. Каталог отдаёт поле interestOf либо
// строкой, либо массивом строк; одиночная строка читается как множество
// из одного элемента.
type InterestSet []string

// UnmarshalJSON принимает строку или массив строк.
func (s *InterestSet) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*s = InterestSet{single}
	return nil
}

// AnnouncedObject — анонсированный проект. Неизменяем после анонса.
type AnnouncedObject struct {
	URI       string      `json:"id"`
	Name      string      `json:"name,omitempty"`
	Interests InterestSet `json:"interestOf"`
	Location  *Location   `json:"location,omitempty"`
}

// InterestLabel — человекочитаемая метка интереса.
type InterestLabel struct {
	URI   string `json:"id"`
	Label string `json:"preferedLabel"`
}

// MailQueueRecord — накопленная, но ещё не отправленная почта подписчика.
// Запись открыта, пока не выставлен ни SentAt, ни ErrorResponse; после
// закрытия она больше не изменяется.
type MailQueueRecord struct {
	ID            string
	ActorURI      string
	Objects       []string
	Frequency     Frequency
	SentAt        *time.Time
	ErrorResponse *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Open сообщает, открыта ли запись для накопления.
func (r MailQueueRecord) Open() bool {
	return r.SentAt == nil && r.ErrorResponse == nil
}

// OutgoingMail — готовое к отправке письмо.
type OutgoingMail struct {
	To       string
	Subject  string
	HTMLBody string
}

// SendResult — ответ транспорта: принятые адресаты и непрозрачный ответ сервера.
type SendResult struct {
	Accepted []string
	Response string
}

// DeliveryOutcome — итог обработки одной записи очереди при рассылке.
type DeliveryOutcome struct {
	RecordID string   `json:"record_id"`
	ActorURI string   `json:"actor"`
	Accepted []string `json:"accepted,omitempty"`
	Response string   `json:"response,omitempty"`
}

// NotificationContext — данные для рендера письма-дайджеста.
type NotificationContext struct {
	Projects       []AnnouncedObject
	LocationLine   string
	InterestLine   string
	PreferencesURL string
	Email          string
}

// ConfirmationContext — данные для рендера письма-подтверждения подписки.
type ConfirmationContext struct {
	LocationLine   string
	InterestLine   string
	FrequencyLine  string
	PreferencesURL string
	Email          string
}
