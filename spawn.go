package main

import "fmt"

// SpawnCard plays cardID from userID's hand onto (x,y). Checks run in a
// fixed order and nothing is changed unless all of them pass. On success the
// entity is on the grid, the elixir is paid and the hand has cycled.
func (g *Game) SpawnCard(cat *Catalog, userID, cardID string, x, y int, ev *Events) (*Entity, Point, error) {
	if g.Ended() {
		return nil, Point{}, fmt.Errorf("session %s: %w", g.ID, ErrSessionEnded)
	}

	p, err := g.Player(userID)
	if err != nil {
		return nil, Point{}, fmt.Errorf("user %s is not in session %s: %w", userID, g.ID, ErrCardNotInHand)
	}
	slot := p.HandIndex(cardID)
	if slot < 0 {
		return nil, Point{}, fmt.Errorf("card %q for %s: %w", cardID, userID, ErrCardNotInHand)
	}

	if !g.Arena.InBounds(x, y) {
		return nil, Point{}, fmt.Errorf("spawn at (%d,%d): %w", x, y, ErrOutOfBounds)
	}
	if g.Arena.SideOf(y) != p.Side {
		return nil, Point{}, fmt.Errorf("row %d is not on side %d: %w", y, p.Side, ErrInvalidSide)
	}
	if !g.Arena.IsFree(x, y) {
		return nil, Point{}, fmt.Errorf("cell (%d,%d) is taken: %w", x, y, ErrInvalidSpawnPosition)
	}

	card, err := cat.Card(cardID)
	if err != nil {
		return nil, Point{}, err
	}
	if !p.CanAfford(card.Cost) {
		return nil, Point{}, fmt.Errorf("%s has %.2f elixir, %s costs %v: %w", userID, p.Elixir, cardID, card.Cost, ErrNotEnoughElixir)
	}

	pc := p.Hand[slot]
	e, err := NewEntityFromCard(g.NextEntityID+1, pc, card, cat.LevelMultiplier(pc.Level), x, y)
	if err != nil {
		return nil, Point{}, err
	}
	if err := g.Arena.PlaceEntity(e); err != nil {
		return nil, Point{}, err
	}
	g.NextEntityID = e.ID

	p.Spend(card.Cost)
	p.PlayCard(slot)
	next, _ := p.NextCard()

	ev.Group(EvtCardSpawned, CardSpawnedMsg{
		UnitID:     e.ID,
		UserID:     userID,
		CardID:     cardID,
		Level:      pc.Level,
		X:          x,
		Y:          y,
		Health:     e.Health,
		MaxHealth:  e.MaxHealth,
		NextCardID: next.CardID,
	})
	ev.Client(p.ConnectionID, EvtElixirUpdated, ElixirUpdatedMsg{
		ConnectionID: p.ConnectionID,
		Elixir:       p.Elixir,
	})
	return e, Point{X: x, Y: y}, nil
}
