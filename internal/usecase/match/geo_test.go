package match

import (
	"math"
	"testing"

	"match-mailer/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }

func TestDistanceIdenticalPoints(t *testing.T) {
	if d := Distance(48.85, 2.35, 48.85, 2.35); d != 0 {
		t.Fatalf("ожидали 0 для совпадающих точек, получили %f", d)
	}
}

func TestDistanceHalfCircumference(t *testing.T) {
	d := Distance(0, 0, 0, 180)
	const expected = 20015.0
	if math.Abs(d-expected) > expected*0.01 {
		t.Fatalf("ожидали около %f км, получили %f", expected, d)
	}
}

func TestDistanceAntipodalStable(t *testing.T) {
	d := Distance(90, 0, -90, 0)
	if math.IsNaN(d) {
		t.Fatalf("не ожидали NaN для антиподов")
	}
	const expected = 20015.0
	if math.Abs(d-expected) > expected*0.01 {
		t.Fatalf("ожидали около %f км, получили %f", expected, d)
	}
}

func TestWithinRadiusActorWithoutLocation(t *testing.T) {
	object := &domain.Location{Latitude: floatPtr(48.85), Longitude: floatPtr(2.35)}
	if !WithinRadius(nil, object) {
		t.Fatalf("подписчик без географии должен получать все проекты")
	}
	// Радиус без координат — тоже отсутствие ограничения.
	if !WithinRadius(&domain.Location{RadiusM: 25000}, object) {
		t.Fatalf("подписчик без координат должен получать все проекты")
	}
}

func TestWithinRadiusObjectWithoutLocation(t *testing.T) {
	actor := &domain.Location{Latitude: floatPtr(48.85), Longitude: floatPtr(2.35), RadiusM: 25000}
	if WithinRadius(actor, nil) {
		t.Fatalf("проект без координат не должен проходить географическую проверку")
	}
	if WithinRadius(actor, &domain.Location{}) {
		t.Fatalf("проект без широты не должен проходить географическую проверку")
	}
}

func TestWithinRadiusBoundary(t *testing.T) {
	actor := &domain.Location{Latitude: floatPtr(48.85), Longitude: floatPtr(2.35), RadiusM: 25000}
	near := &domain.Location{Latitude: floatPtr(48.95), Longitude: floatPtr(2.35)} // ~11 км
	far := &domain.Location{Latitude: floatPtr(49.21), Longitude: floatPtr(2.35)}  // ~40 км

	if !WithinRadius(actor, near) {
		t.Fatalf("точка в 11 км должна попадать в радиус 25 км")
	}
	if WithinRadius(actor, far) {
		t.Fatalf("точка в 40 км не должна попадать в радиус 25 км")
	}
}
