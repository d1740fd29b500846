package main

import (
	"errors"
	"testing"
)

func TestCreateArenaRiverAndBridges(t *testing.T) {
	g := newTestGame(t)
	a := g.Arena

	if a.Width != 18 || a.Height != 32 {
		t.Fatalf("expected 18x32, got %dx%d", a.Width, a.Height)
	}
	for _, y := range []int{15, 16} {
		for x := 0; x < a.Width; x++ {
			c, _ := a.Cell(x, y)
			bridge := x == 3 || x == 14
			if c.Walkable != bridge {
				t.Errorf("cell (%d,%d) walkable=%v, want %v", x, y, c.Walkable, bridge)
			}
		}
	}
	occupied := 0
	for _, c := range a.Cells {
		if c.Occupant != 0 {
			occupied++
			if c.Walkable {
				t.Fatal("tower cells must not be walkable")
			}
		}
	}
	// Two leaders of 4x4 and four guardians of 3x3.
	if occupied != 2*16+4*9 {
		t.Errorf("expected %d tower cells, got %d", 2*16+4*9, occupied)
	}
}

func TestSideOf(t *testing.T) {
	a := openArena(t, 18, 32, nil)
	if a.SideOf(16) != 0 || a.SideOf(31) != 0 {
		t.Error("bottom half belongs to side 0")
	}
	if a.SideOf(15) != 1 || a.SideOf(0) != 1 {
		t.Error("top half belongs to side 1")
	}
}

func TestPlaceEntityRejectsTakenCells(t *testing.T) {
	a := openArena(t, 5, 5, nil)
	first := testUnit(1, "alice", 2, 2)
	if err := a.PlaceEntity(first); err != nil {
		t.Fatal(err)
	}

	if err := a.PlaceEntity(testUnit(2, "bob", 2, 2)); !errors.Is(err, ErrInvalidSpawnPosition) {
		t.Errorf("expected ErrInvalidSpawnPosition, got %v", err)
	}
	if err := a.PlaceEntity(testUnit(3, "bob", 5, 0)); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
	big := testUnit(4, "bob", 1, 1)
	big.Kind = KindBuilding
	big.Size = 2
	if err := a.PlaceEntity(big); !errors.Is(err, ErrInvalidSpawnPosition) {
		t.Errorf("overlapping footprint: expected ErrInvalidSpawnPosition, got %v", err)
	}
	if a.OccupantCount() != 1 {
		t.Errorf("failed placements left %d occupants", a.OccupantCount())
	}
	if err := a.CheckInvariants(); err != nil {
		t.Error(err)
	}
}

func TestPlaceEntityRejectsTowers(t *testing.T) {
	a := openArena(t, 5, 5, nil)
	if err := a.PlaceEntity(testTower(1, "alice", TowerGuardian, 0, 0, 1)); !errors.Is(err, ErrInvalidSpawnPosition) {
		t.Errorf("expected towers to be refused, got %v", err)
	}
}

func TestMoveAndRemoveEntity(t *testing.T) {
	a := openArena(t, 5, 5, nil)
	e := testUnit(1, "alice", 0, 0)
	if err := a.PlaceEntity(e); err != nil {
		t.Fatal(err)
	}
	if err := a.MoveEntity(e, 1, 0); err != nil {
		t.Fatal(err)
	}
	if !a.IsFree(0, 0) || a.IsFree(1, 0) {
		t.Error("move did not transfer occupancy")
	}

	blocker := testUnit(2, "bob", 2, 0)
	if err := a.PlaceEntity(blocker); err != nil {
		t.Fatal(err)
	}
	if err := a.MoveEntity(e, 2, 0); err == nil {
		t.Error("moving onto an occupied cell should fail")
	}

	a.RemoveEntity(e)
	if !a.IsFree(1, 0) || a.Entity(e.ID) != nil {
		t.Error("remove did not release the unit")
	}
}

func TestCellOutOfBounds(t *testing.T) {
	a := openArena(t, 5, 5, nil)
	if _, err := a.Cell(-1, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestCheckInvariantsDetectsCorruption(t *testing.T) {
	a := openArena(t, 5, 5, nil)
	e := testUnit(1, "alice", 1, 1)
	if err := a.PlaceEntity(e); err != nil {
		t.Fatal(err)
	}

	a.Cells[0].Occupant = 99
	if err := a.CheckInvariants(); !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("ghost occupant: expected ErrCorruptSnapshot, got %v", err)
	}
	a.Cells[0].Occupant = 0

	e.State = StateDead
	if err := a.CheckInvariants(); !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("dead occupant: expected ErrCorruptSnapshot, got %v", err)
	}
}

func TestAllocateTowersNeedsBothSides(t *testing.T) {
	cat := testCatalog(t)
	tmpl := ArenaTemplate{
		ID:     "lopsided",
		Width:  10,
		Height: 10,
		Towers: []TowerPlacement{{Side: 0, Type: TowerLeader, X: 0, Y: 6}},
	}
	var next int64
	_, err := AllocateTowers(cat, tmpl, [2]string{"alice", "bob"}, func() int64 { next++; return next })
	if !errors.Is(err, ErrTowersNotFound) {
		t.Errorf("expected ErrTowersNotFound, got %v", err)
	}
}
