package main

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CardType distinguishes how a card enters the arena
type CardType string

const (
	CardTroop    CardType = "troop"
	CardBuilding CardType = "building"
	CardSpell    CardType = "spell"
)

// TowerType is the kind of a defensive tower
type TowerType string

const (
	TowerLeader   TowerType = "leader"
	TowerGuardian TowerType = "guardian"
)

// Card is the catalog template a PlayerCard is leveled from
type Card struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Type     CardType `yaml:"type" json:"type"`
	Cost     float64  `yaml:"cost" json:"cost"`
	HP       int      `yaml:"hp" json:"hp"`
	Damage   int      `yaml:"damage" json:"damage"`
	HitSpeed int      `yaml:"hit_speed" json:"hitSpeed"` // ticks between attacks
	Range    float64  `yaml:"range" json:"range"`        // cells
	Vision   float64  `yaml:"vision" json:"vision"`      // cells
	Lifetime int      `yaml:"lifetime" json:"lifetime"`  // ticks, buildings only
}

// TowerTemplate describes one kind of tower
type TowerTemplate struct {
	Type     TowerType `yaml:"type"`
	HP       int       `yaml:"hp"`
	Damage   int       `yaml:"damage"`
	Range    float64   `yaml:"range"`
	HitSpeed int       `yaml:"hit_speed"`
	Size     int       `yaml:"size"`
}

// TowerPlacement puts a tower footprint (top-left corner) on one side
type TowerPlacement struct {
	Side int       `yaml:"side"`
	Type TowerType `yaml:"type"`
	X    int       `yaml:"x"`
	Y    int       `yaml:"y"`
}

// ArenaTemplate is the layout metadata of a battlefield
type ArenaTemplate struct {
	ID          string           `yaml:"id"`
	Width       int              `yaml:"width"`
	Height      int              `yaml:"height"`
	BlockedRows []int            `yaml:"blocked_rows"`
	Bridges     []int            `yaml:"bridges"`
	Towers      []TowerPlacement `yaml:"towers"`
}

// Catalog is the read-only reference data shared by every session
type Catalog struct {
	Cards      []Card          `yaml:"cards"`
	LevelBonus float64         `yaml:"level_bonus"`
	TowerDefs  []TowerTemplate `yaml:"towers"`
	Arenas     []ArenaTemplate `yaml:"arenas"`

	cards  map[string]Card
	towers map[TowerType]TowerTemplate
}

// CatalogSource loads card and tower templates
type CatalogSource interface {
	LoadCatalog() (*Catalog, error)
}

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// FileCatalog reads the catalog from a YAML file, or the embedded default
// when Path is empty.
type FileCatalog struct {
	Path string
}

// LoadCatalog implements CatalogSource
func (f FileCatalog) LoadCatalog() (*Catalog, error) {
	data := defaultCatalogYAML
	if f.Path != "" {
		b, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", f.Path, err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and indexes a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	c.cards = make(map[string]Card, len(c.Cards))
	for _, card := range c.Cards {
		switch card.Type {
		case CardTroop, CardBuilding, CardSpell:
		default:
			return fmt.Errorf("card %q: unknown type %q", card.ID, card.Type)
		}
		if card.HitSpeed < 1 {
			card.HitSpeed = 1
		}
		c.cards[card.ID] = card
	}
	c.towers = make(map[TowerType]TowerTemplate, len(c.TowerDefs))
	for _, t := range c.TowerDefs {
		if t.Size < 1 {
			return fmt.Errorf("tower %q: size must be >= 1", t.Type)
		}
		if t.HitSpeed < 1 {
			t.HitSpeed = 1
		}
		c.towers[t.Type] = t
	}
	if len(c.Arenas) == 0 {
		return fmt.Errorf("catalog has no arenas")
	}
	for _, a := range c.Arenas {
		for _, p := range a.Towers {
			if _, ok := c.towers[p.Type]; !ok {
				return fmt.Errorf("arena %q: no template for tower %q", a.ID, p.Type)
			}
		}
	}
	return nil
}

// Card looks up a card template by id
func (c *Catalog) Card(id string) (Card, error) {
	card, ok := c.cards[id]
	if !ok {
		return Card{}, fmt.Errorf("card %q: %w", id, ErrCardNotFound)
	}
	return card, nil
}

// Tower looks up a tower template by type
func (c *Catalog) Tower(t TowerType) (TowerTemplate, error) {
	tmpl, ok := c.towers[t]
	if !ok {
		return TowerTemplate{}, fmt.Errorf("tower %q: %w", t, ErrTemplateNotFound)
	}
	return tmpl, nil
}

// Arena returns the arena template with the given id; empty id selects the
// first (active) arena.
func (c *Catalog) Arena(id string) (ArenaTemplate, error) {
	for _, a := range c.Arenas {
		if id == "" || a.ID == id {
			return a, nil
		}
	}
	return ArenaTemplate{}, fmt.Errorf("arena %q: %w", id, ErrTemplateNotFound)
}

// LevelMultiplier scales card stats for a PlayerCard level
func (c *Catalog) LevelMultiplier(level int) float64 {
	if level < 1 {
		level = 1
	}
	return 1 + c.LevelBonus*float64(level-1)
}
