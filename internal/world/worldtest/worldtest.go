// Package worldtest builds small seeded worlds for engine tests.
package worldtest

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"starlane-server/internal/shared/database"
	"starlane-server/internal/shared/database/dbtest"
	"starlane-server/internal/world"
)

var Start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type Fixture struct {
	DB   *database.DB
	Repo *world.Repository
}

func New(t testing.TB) *Fixture {
	t.Helper()
	db := dbtest.Open(t)
	return &Fixture{DB: db, Repo: world.NewRepository(db, slog.Default())}
}

func (f *Fixture) Location(t testing.TB, name string, kind world.LocationType, system string, opts ...func(*world.Location)) *world.Location {
	t.Helper()
	l := world.Location{Name: name, Type: kind, System: system, Wealth: 5, Population: 1000}
	for _, opt := range opts {
		opt(&l)
	}
	loc, err := f.Repo.CreateLocation(context.Background(), nil, l)
	if err != nil {
		t.Fatalf("CreateLocation(%s): %v", name, err)
	}
	return loc
}

func (f *Fixture) Corridor(t testing.TB, name string, from, to int64, travelTime, fuel, danger int) *world.Corridor {
	t.Helper()
	c, err := f.Repo.CreateCorridor(context.Background(), nil, world.Corridor{
		Name:        name,
		Origin:      from,
		Destination: to,
		TravelTime:  travelTime,
		FuelCost:    fuel,
		Danger:      danger,
		Active:      true,
	})
	if err != nil {
		t.Fatalf("CreateCorridor(%s): %v", name, err)
	}
	return c
}

// Character creates a logged-in character docked at a location with a
// 100-fuel, efficiency-5 ship.
func (f *Fixture) Character(t testing.TB, userID int64, name string, at int64, money int) *world.Character {
	t.Helper()
	ctx := context.Background()
	_, err := f.Repo.CreateCharacter(ctx, nil, world.NewCharacter{
		UserID:     userID,
		Name:       name,
		Money:      money,
		LocationID: &at,
		Now:        Start,
	})
	if err != nil {
		t.Fatalf("CreateCharacter(%s): %v", name, err)
	}
	_, err = f.Repo.CreateShip(ctx, nil, world.NewShip{
		OwnerID:        userID,
		Name:           name + "'s Ship",
		ShipType:       "Shuttle",
		FuelCapacity:   100,
		HullIntegrity:  100,
		FuelEfficiency: 5,
		CombatRating:   10,
		DockedAt:       &at,
	})
	if err != nil {
		t.Fatalf("CreateShip(%s): %v", name, err)
	}
	if _, err := f.Repo.SetLoggedIn(ctx, nil, userID, true, Start); err != nil {
		t.Fatalf("SetLoggedIn(%s): %v", name, err)
	}
	c, err := f.Repo.GetCharacter(ctx, nil, userID)
	if err != nil {
		t.Fatalf("GetCharacter(%s): %v", name, err)
	}
	return c
}

func (f *Fixture) Exec(t testing.TB, query string, args ...any) {
	t.Helper()
	dbtest.Exec(t, f.DB, query, args...)
}

func (f *Fixture) Int(t testing.TB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := f.DB.QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return n
}

func Faction(name string) func(*world.Location) {
	return func(l *world.Location) { l.Faction = name }
}

func Federal(l *world.Location) { l.Services.FederalSupplies = true }

func At(x, y float64) func(*world.Location) {
	return func(l *world.Location) { l.X, l.Y = x, y }
}
