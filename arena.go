package main

import (
	"fmt"
	"sort"
)

// Cell is one grid square of the arena
type Cell struct {
	Walkable bool  `msgpack:"w"`
	Occupant int64 `msgpack:"o"`
}

// Arena is the battlefield of one session. It owns the grid and the live
// troops and buildings, and references each player's towers.
type Arena struct {
	TemplateID string               `msgpack:"tpl"`
	Width      int                  `msgpack:"w"`
	Height     int                  `msgpack:"h"`
	Cells      []Cell               `msgpack:"cells"`
	Entities   map[int64]*Entity    `msgpack:"ents"`
	Towers     map[string][]*Entity `msgpack:"towers"`
}

// AllocateTowers builds the towers of both players from the arena template.
// players[i] defends side i. nextID hands out entity ids.
func AllocateTowers(cat *Catalog, tmpl ArenaTemplate, players [2]string, nextID func() int64) (map[string][]*Entity, error) {
	towers := make(map[string][]*Entity, 2)
	for _, p := range tmpl.Towers {
		if p.Side < 0 || p.Side > 1 {
			return nil, fmt.Errorf("arena %q: tower side %d: %w", tmpl.ID, p.Side, ErrInvalidSide)
		}
		def, err := cat.Tower(p.Type)
		if err != nil {
			return nil, err
		}
		owner := players[p.Side]
		towers[owner] = append(towers[owner], NewTower(nextID(), owner, def, p.X, p.Y))
	}
	for _, owner := range players {
		if len(towers[owner]) == 0 {
			return nil, fmt.Errorf("arena %q has no towers for %s: %w", tmpl.ID, owner, ErrTowersNotFound)
		}
	}
	return towers, nil
}

// CreateArena builds the grid for tmpl and seeds the towers on their
// footprints.
func CreateArena(tmpl ArenaTemplate, towers map[string][]*Entity) (*Arena, error) {
	if tmpl.Width <= 0 || tmpl.Height <= 0 {
		return nil, fmt.Errorf("arena %q has invalid size %dx%d: %w", tmpl.ID, tmpl.Width, tmpl.Height, ErrTemplateNotFound)
	}
	a := &Arena{
		TemplateID: tmpl.ID,
		Width:      tmpl.Width,
		Height:     tmpl.Height,
		Cells:      make([]Cell, tmpl.Width*tmpl.Height),
		Entities:   make(map[int64]*Entity),
		Towers:     make(map[string][]*Entity, len(towers)),
	}
	for i := range a.Cells {
		a.Cells[i].Walkable = true
	}

	bridges := make(map[int]bool, len(tmpl.Bridges))
	for _, x := range tmpl.Bridges {
		bridges[x] = true
	}
	for _, y := range tmpl.BlockedRows {
		if y < 0 || y >= a.Height {
			continue
		}
		for x := 0; x < a.Width; x++ {
			if !bridges[x] {
				a.Cells[a.index(x, y)].Walkable = false
			}
		}
	}

	owners := make([]string, 0, len(towers))
	for owner := range towers {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	for _, owner := range owners {
		for _, t := range towers[owner] {
			if err := a.place(t); err != nil {
				return nil, fmt.Errorf("seed tower %d: %w", t.ID, err)
			}
			a.Towers[owner] = append(a.Towers[owner], t)
		}
	}
	return a, nil
}

func (a *Arena) index(x, y int) int {
	return y*a.Width + x
}

// InBounds reports whether (x,y) is on the grid
func (a *Arena) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < a.Width && y < a.Height
}

// Cell returns the cell at (x,y)
func (a *Arena) Cell(x, y int) (*Cell, error) {
	if !a.InBounds(x, y) {
		return nil, fmt.Errorf("cell (%d,%d) on %dx%d arena: %w", x, y, a.Width, a.Height, ErrOutOfBounds)
	}
	return &a.Cells[a.index(x, y)], nil
}

// IsFree reports whether a unit could stand on (x,y)
func (a *Arena) IsFree(x, y int) bool {
	if !a.InBounds(x, y) {
		return false
	}
	c := a.Cells[a.index(x, y)]
	return c.Walkable && c.Occupant == 0
}

// SideOf returns the side owning row y: side 0 holds the bottom half
func (a *Arena) SideOf(y int) int {
	if y >= a.Height/2 {
		return 0
	}
	return 1
}

// PlaceEntity puts a troop or building on the grid. Every footprint cell
// must be free.
func (a *Arena) PlaceEntity(e *Entity) error {
	if e.Kind == KindTower {
		return fmt.Errorf("towers are seeded by CreateArena: %w", ErrInvalidSpawnPosition)
	}
	if err := a.place(e); err != nil {
		return err
	}
	a.Entities[e.ID] = e
	return nil
}

func (a *Arena) place(e *Entity) error {
	cells := e.Footprint()
	for _, p := range cells {
		if !a.InBounds(p.X, p.Y) {
			return fmt.Errorf("entity %d at (%d,%d): %w", e.ID, p.X, p.Y, ErrOutOfBounds)
		}
		if !a.IsFree(p.X, p.Y) {
			return fmt.Errorf("entity %d at (%d,%d): %w", e.ID, p.X, p.Y, ErrInvalidSpawnPosition)
		}
	}
	for _, p := range cells {
		c := &a.Cells[a.index(p.X, p.Y)]
		c.Walkable = false
		c.Occupant = e.ID
	}
	return nil
}

// RemoveEntity releases the entity's cells. Troops and buildings leave the
// entity collection; towers stay in the tower map.
func (a *Arena) RemoveEntity(e *Entity) {
	for _, p := range e.Footprint() {
		if !a.InBounds(p.X, p.Y) {
			continue
		}
		c := &a.Cells[a.index(p.X, p.Y)]
		if c.Occupant == e.ID {
			c.Occupant = 0
			c.Walkable = true
		}
	}
	if e.Kind != KindTower {
		delete(a.Entities, e.ID)
	}
}

// MoveEntity steps a single-cell unit to (x,y), which must be free
func (a *Arena) MoveEntity(e *Entity, x, y int) error {
	if !a.IsFree(x, y) {
		return fmt.Errorf("move %d to (%d,%d): %w", e.ID, x, y, ErrInvalidSpawnPosition)
	}
	from := &a.Cells[a.index(e.X, e.Y)]
	if from.Occupant == e.ID {
		from.Occupant = 0
		from.Walkable = true
	}
	to := &a.Cells[a.index(x, y)]
	to.Occupant = e.ID
	to.Walkable = false
	e.X, e.Y = x, y
	return nil
}

// Entity finds a troop, building or tower by id
func (a *Arena) Entity(id int64) *Entity {
	if e, ok := a.Entities[id]; ok {
		return e
	}
	for _, towers := range a.Towers {
		for _, t := range towers {
			if t.ID == id {
				return t
			}
		}
	}
	return nil
}

// TowersOf returns the towers of a player, or ErrTowersNotFound
func (a *Arena) TowersOf(userID string) ([]*Entity, error) {
	towers, ok := a.Towers[userID]
	if !ok || len(towers) == 0 {
		return nil, fmt.Errorf("player %s: %w", userID, ErrTowersNotFound)
	}
	return towers, nil
}

// Leader returns the leader tower of a player
func (a *Arena) Leader(userID string) *Entity {
	for _, t := range a.Towers[userID] {
		if t.IsLeader() {
			return t
		}
	}
	return nil
}

// SortedEntities returns troops and buildings by ascending id
func (a *Arena) SortedEntities() []*Entity {
	list := make([]*Entity, 0, len(a.Entities))
	for _, e := range a.Entities {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// SortedTowers returns every tower by ascending id
func (a *Arena) SortedTowers() []*Entity {
	var list []*Entity
	for _, towers := range a.Towers {
		list = append(list, towers...)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// OccupantCount counts distinct occupants on the grid
func (a *Arena) OccupantCount() int {
	seen := make(map[int64]struct{})
	for _, c := range a.Cells {
		if c.Occupant != 0 {
			seen[c.Occupant] = struct{}{}
		}
	}
	return len(seen)
}

// LiveCount counts live troops, buildings and towers
func (a *Arena) LiveCount() int {
	n := 0
	for _, e := range a.Entities {
		if e.Alive() {
			n++
		}
	}
	for _, towers := range a.Towers {
		for _, t := range towers {
			if t.Alive() {
				n++
			}
		}
	}
	return n
}

// CheckInvariants verifies that grid occupancy matches the live entities.
// A failure means the arena was corrupted.
func (a *Arena) CheckInvariants() error {
	if len(a.Cells) != a.Width*a.Height {
		return fmt.Errorf("grid has %d cells, want %d: %w", len(a.Cells), a.Width*a.Height, ErrCorruptSnapshot)
	}
	for i, c := range a.Cells {
		if c.Occupant == 0 {
			continue
		}
		e := a.Entity(c.Occupant)
		x, y := i%a.Width, i/a.Width
		if e == nil || !e.Alive() || !e.Occupies(x, y) {
			return fmt.Errorf("cell (%d,%d) claims occupant %d: %w", x, y, c.Occupant, ErrCorruptSnapshot)
		}
	}
	if occ, live := a.OccupantCount(), a.LiveCount(); occ != live {
		return fmt.Errorf("%d occupants for %d live entities: %w", occ, live, ErrCorruptSnapshot)
	}
	return nil
}

// Clone returns a deep copy; tower map entries point at the copied towers
func (a *Arena) Clone() *Arena {
	c := &Arena{
		TemplateID: a.TemplateID,
		Width:      a.Width,
		Height:     a.Height,
		Cells:      append([]Cell(nil), a.Cells...),
		Entities:   make(map[int64]*Entity, len(a.Entities)),
		Towers:     make(map[string][]*Entity, len(a.Towers)),
	}
	for id, e := range a.Entities {
		c.Entities[id] = e.Clone()
	}
	for owner, towers := range a.Towers {
		list := make([]*Entity, len(towers))
		for i, t := range towers {
			list[i] = t.Clone()
		}
		c.Towers[owner] = list
	}
	return c
}
