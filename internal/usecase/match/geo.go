package match

import (
	"math"

	"match-mailer/internal/domain"
)

const (
	degToRad        = math.Pi / 180
	earthDiameterKm = 12742
)

// Distance возвращает расстояние по дуге большого круга в километрах.
// Для совпадающих точек возвращает 0.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	a := 0.5 - math.Cos((lat2-lat1)*degToRad)/2 +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*(1-math.Cos((lon2-lon1)*degToRad))/2
	// Ошибки округления могут дать малое отрицательное значение под корнем.
	if a < 0 {
		a = 0
	}
	return earthDiameterKm * math.Asin(math.Sqrt(a))
}

// WithinRadius проверяет географическое ограничение подписчика.
// Подписчик без координат получает анонсы со всего мира; проект без координат
// не проходит проверку, если подписчик ограничил географию. Радиус хранится
// в метрах, расстояние считается в километрах.
func WithinRadius(actor, object *domain.Location) bool {
	if !actor.HasPoint() {
		return true
	}
	if !object.HasPoint() {
		return false
	}
	distance := Distance(*actor.Latitude, *actor.Longitude, *object.Latitude, *object.Longitude)
	return distance <= actor.RadiusM/1000
}
