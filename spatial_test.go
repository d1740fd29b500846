package main

import (
	"errors"
	"math"
	"testing"
)

func openArena(t *testing.T, w, h int, towers map[string][]*Entity) *Arena {
	t.Helper()
	a, err := CreateArena(ArenaTemplate{ID: "open", Width: w, Height: h}, towers)
	if err != nil {
		t.Fatalf("CreateArena: %v", err)
	}
	return a
}

func testUnit(id int64, owner string, x, y int) *Entity {
	return &Entity{ID: id, Kind: KindTroop, OwnerID: owner, X: x, Y: y, Size: 1, Health: 100, MaxHealth: 100, State: StateIdle, Vision: 5, Range: 1, HitSpeed: 1}
}

func testTower(id int64, owner string, tt TowerType, x, y, size int) *Entity {
	return NewTower(id, owner, TowerTemplate{Type: tt, HP: 1000, Damage: 50, Range: 5, HitSpeed: 1, Size: size}, x, y)
}

func TestCalculateDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b *Entity
		want float64
	}{
		{"unit to unit", testUnit(1, "a", 0, 0), testUnit(2, "b", 3, 4), 5},
		{"adjacent to footprint", testUnit(1, "a", 7, 4), testTower(2, "b", TowerLeader, 7, 0, 4), 1},
		{"diagonal to footprint", testUnit(1, "a", 12, 5), testTower(2, "b", TowerLeader, 7, 0, 4), math.Sqrt(8)},
		{"inside footprint", testUnit(1, "a", 8, 1), testTower(2, "b", TowerLeader, 7, 0, 4), 0},
	}
	for _, tt := range tests {
		if got := CalculateDistance(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: got %f, want %f", tt.name, got, tt.want)
		}
		if got := CalculateDistance(tt.b, tt.a); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s reversed: got %f, want %f", tt.name, got, tt.want)
		}
	}
}

func TestNearestTowerWinsOverLeader(t *testing.T) {
	guardian := testTower(1, "bob", TowerGuardian, 4, 0, 1)
	leader := testTower(2, "bob", TowerLeader, 0, 7, 1)
	a := openArena(t, 20, 20, map[string][]*Entity{"bob": {guardian, leader}})
	troop := testUnit(10, "alice", 0, 0)

	got, err := a.GetNearestEnemyTower(troop)
	if err != nil {
		t.Fatal(err)
	}
	if got != guardian {
		t.Errorf("expected the guardian at distance 4, got tower %d", got.ID)
	}
}

func TestNearestTowerTiePrefersLeader(t *testing.T) {
	guardian := testTower(1, "bob", TowerGuardian, 4, 0, 1)
	leader := testTower(2, "bob", TowerLeader, 0, 4, 1)
	a := openArena(t, 20, 20, map[string][]*Entity{"bob": {guardian, leader}})

	got, err := a.GetNearestEnemyTower(testUnit(10, "alice", 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if got != leader {
		t.Errorf("expected the leader on a tie, got tower %d", got.ID)
	}
}

func TestNearestTowerSkipsFallenAndOwnTowers(t *testing.T) {
	guardian := testTower(1, "bob", TowerGuardian, 2, 0, 1)
	leader := testTower(2, "bob", TowerLeader, 0, 9, 1)
	own := testTower(3, "alice", TowerGuardian, 1, 0, 1)
	a := openArena(t, 20, 20, map[string][]*Entity{"bob": {guardian, leader}, "alice": {own}})
	guardian.TakeDamage(guardian.Health)
	a.RemoveEntity(guardian)

	got, err := a.GetNearestEnemyTower(testUnit(10, "alice", 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if got != leader {
		t.Errorf("expected the leader once the guardian fell, got %v", got)
	}
}

func TestNearestTowerWithoutEnemyTowers(t *testing.T) {
	a := openArena(t, 10, 10, map[string][]*Entity{"alice": {testTower(1, "alice", TowerLeader, 0, 0, 1)}})

	_, err := a.GetNearestEnemyTower(testUnit(10, "alice", 5, 5))
	if !errors.Is(err, ErrTowersNotFound) {
		t.Errorf("expected ErrTowersNotFound, got %v", err)
	}
}

func TestGetEnemiesInVision(t *testing.T) {
	a := openArena(t, 12, 12, nil)
	viewer := testUnit(1, "alice", 5, 5)
	viewer.Vision = 3
	south := testUnit(2, "bob", 5, 7)
	north := testUnit(3, "bob", 5, 3)
	far := testUnit(4, "bob", 5, 9)
	friend := testUnit(5, "alice", 6, 5)
	dead := testUnit(6, "bob", 4, 5)
	for _, e := range []*Entity{viewer, south, north, far, friend, dead} {
		if err := a.PlaceEntity(e); err != nil {
			t.Fatal(err)
		}
	}
	dead.State = StateDead

	seen := a.GetEnemiesInVision(viewer)
	if len(seen) != 2 {
		t.Fatalf("expected 2 enemies in vision, got %d", len(seen))
	}
	// Equal distance: lower id first.
	if seen[0] != south || seen[1] != north {
		t.Errorf("unexpected order: %d, %d", seen[0].ID, seen[1].ID)
	}
}

func TestGetEnemyTroopsInRangeIgnoresBuildings(t *testing.T) {
	a := openArena(t, 12, 12, nil)
	tower := testUnit(1, "alice", 5, 5)
	tower.Range = 4
	building := testUnit(2, "bob", 5, 6)
	building.Kind = KindBuilding
	troop := testUnit(3, "bob", 5, 8)
	for _, e := range []*Entity{tower, building, troop} {
		if err := a.PlaceEntity(e); err != nil {
			t.Fatal(err)
		}
	}

	got := a.GetEnemyTroopsInRange(tower)
	if len(got) != 1 || got[0] != troop {
		t.Errorf("expected only the troop, got %d targets", len(got))
	}
}
