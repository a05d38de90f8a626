package domain

import "errors"

// ErrActorNotFound возвращается, если подписчик не найден.
var ErrActorNotFound = errors.New("подписчик не найден")

// ErrMailNotFound возвращается, если открытая запись очереди не найдена.
var ErrMailNotFound = errors.New("открытая запись очереди не найдена")

// ErrOpenRecordExists возвращается при попытке создать вторую открытую запись
// для пары (подписчик, периодичность).
var ErrOpenRecordExists = errors.New("открытая запись для подписчика уже существует")

// ErrUnknownFrequency возвращается при неизвестной периодичности рассылки.
var ErrUnknownFrequency = errors.New("неизвестная периодичность рассылки")

// ErrMalformedLocation возвращается, если координаты или радиус не разбираются
// в число. Проверка выполняется на границе, чтобы NaN не дошёл до матчера.
var ErrMalformedLocation = errors.New("некорректные координаты или радиус")
