package main

import "fmt"

// Point is a grid cell coordinate
type Point struct {
	X int `msgpack:"x" json:"x"`
	Y int `msgpack:"y" json:"y"`
}

// EntityKind tags which capabilities an Entity carries
type EntityKind uint8

const (
	KindTroop    EntityKind = 1
	KindBuilding EntityKind = 2
	KindTower    EntityKind = 3
)

func (k EntityKind) String() string {
	switch k {
	case KindTroop:
		return "troop"
	case KindBuilding:
		return "building"
	case KindTower:
		return "tower"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// EntityState is the behaviour state of a unit
type EntityState string

const (
	StateIdle      EntityState = "idle"
	StateMoving    EntityState = "moving"
	StateAttacking EntityState = "attacking"
	StateDead      EntityState = "dead"
)

// Entity is anything placed on the arena grid: troops, buildings and towers.
// Fields that only make sense for one kind are left zero on the others.
type Entity struct {
	ID      int64      `msgpack:"id"`
	Kind    EntityKind `msgpack:"k"`
	OwnerID string     `msgpack:"o"`
	X       int        `msgpack:"x"`
	Y       int        `msgpack:"y"`
	Size    int        `msgpack:"sz"`

	Health    int         `msgpack:"hp"`
	MaxHealth int         `msgpack:"mhp"`
	State     EntityState `msgpack:"st"`

	TargetID int64 `msgpack:"tid"`
	TargetX  int   `msgpack:"tx"`
	TargetY  int   `msgpack:"ty"`

	CardID string `msgpack:"c,omitempty"`
	Level  int    `msgpack:"lv,omitempty"`

	Damage   int     `msgpack:"dmg"`
	Range    float64 `msgpack:"rng"`
	Vision   float64 `msgpack:"vis"`
	HitSpeed int     `msgpack:"hs"`
	Cooldown int     `msgpack:"cd"`

	// Troops
	Path []Point `msgpack:"p,omitempty"`
	// Buildings
	Lifetime int `msgpack:"lt,omitempty"`
	// Towers
	TowerType TowerType `msgpack:"tt,omitempty"`
}

// NewEntityFromCard builds the arena unit for a played card. Spells have no
// arena presence and are rejected.
func NewEntityFromCard(id int64, pc PlayerCard, card Card, levelMul float64, x, y int) (*Entity, error) {
	e := &Entity{
		ID:       id,
		OwnerID:  pc.OwnerID,
		X:        x,
		Y:        y,
		Size:     1,
		State:    StateIdle,
		CardID:   card.ID,
		Level:    pc.Level,
		Damage:   scaleStat(card.Damage, levelMul),
		Range:    card.Range,
		Vision:   card.Vision,
		HitSpeed: card.HitSpeed,
	}
	e.Health = scaleStat(card.HP, levelMul)
	e.MaxHealth = e.Health

	switch card.Type {
	case CardTroop:
		e.Kind = KindTroop
	case CardBuilding:
		e.Kind = KindBuilding
		e.Lifetime = card.Lifetime
	default:
		return nil, fmt.Errorf("card %q of type %q: %w", card.ID, card.Type, ErrInvalidCardType)
	}
	if e.HitSpeed < 1 {
		e.HitSpeed = 1
	}
	return e, nil
}

// NewTower builds a tower entity from its template
func NewTower(id int64, ownerID string, tmpl TowerTemplate, x, y int) *Entity {
	return &Entity{
		ID:        id,
		Kind:      KindTower,
		OwnerID:   ownerID,
		X:         x,
		Y:         y,
		Size:      tmpl.Size,
		Health:    tmpl.HP,
		MaxHealth: tmpl.HP,
		State:     StateIdle,
		Damage:    tmpl.Damage,
		Range:     tmpl.Range,
		Vision:    tmpl.Range,
		HitSpeed:  tmpl.HitSpeed,
		TowerType: tmpl.Type,
	}
}

func scaleStat(base int, mul float64) int {
	return int(float64(base)*mul + 0.5)
}

// Alive reports whether the entity still takes part in the battle
func (e *Entity) Alive() bool {
	return e != nil && e.State != StateDead && e.Health > 0
}

// IsLeader reports whether the entity is a leader tower
func (e *Entity) IsLeader() bool {
	return e.Kind == KindTower && e.TowerType == TowerLeader
}

// Occupies reports whether the cell lies inside the entity's footprint
func (e *Entity) Occupies(x, y int) bool {
	return x >= e.X && x < e.X+e.Size && y >= e.Y && y < e.Y+e.Size
}

// Footprint lists the cells the entity covers
func (e *Entity) Footprint() []Point {
	size := e.Size
	if size < 1 {
		size = 1
	}
	cells := make([]Point, 0, size*size)
	for dy := 0; dy < size; dy++ {
		for dx := 0; dx < size; dx++ {
			cells = append(cells, Point{X: e.X + dx, Y: e.Y + dy})
		}
	}
	return cells
}

// TakeDamage applies damage and returns the damage dealt and whether this
// hit killed the entity. Dead entities ignore further hits.
func (e *Entity) TakeDamage(damage int) (int, bool) {
	if !e.Alive() || damage <= 0 {
		return 0, false
	}
	if damage > e.Health {
		damage = e.Health
	}
	e.Health -= damage
	if e.Health <= 0 {
		e.Health = 0
		e.State = StateDead
		e.Path = nil
		return damage, true
	}
	return damage, false
}

// Clone returns a deep copy
func (e *Entity) Clone() *Entity {
	c := *e
	if e.Path != nil {
		c.Path = append([]Point(nil), e.Path...)
	}
	return &c
}
