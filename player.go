package main

import "time"

// PlayerCard is a player's leveled copy of a catalog card
type PlayerCard struct {
	CardID  string `msgpack:"c" json:"cardId"`
	Level   int    `msgpack:"l" json:"level"`
	OwnerID string `msgpack:"o" json:"-"`
}

// PlayerState is one side of a session
type PlayerState struct {
	UserID string `msgpack:"uid"`
	Name   string `msgpack:"n"`
	Side   int    `msgpack:"s"`

	// Hand holds the playable cards followed by the next-card slot.
	Hand []PlayerCard `msgpack:"h"`
	// Queue is the rest of the deck cycle, oldest first.
	Queue []PlayerCard `msgpack:"q"`

	Elixir float64 `msgpack:"e"`

	Connected      bool      `msgpack:"con"`
	ConnectionID   string    `msgpack:"cid"`
	DisconnectedAt time.Time `msgpack:"dat"`
}

// NewPlayerState deals the opening hand from deck. deck must hold at least
// handSize+1 cards.
func NewPlayerState(userID, name string, side int, deck []PlayerCard, handSize int, elixir float64, connectionID string) *PlayerState {
	cards := make([]PlayerCard, len(deck))
	copy(cards, deck)
	for i := range cards {
		cards[i].OwnerID = userID
	}
	n := handSize + 1
	if n > len(cards) {
		n = len(cards)
	}
	return &PlayerState{
		UserID:       userID,
		Name:         name,
		Side:         side,
		Hand:         cards[:n:n],
		Queue:        append([]PlayerCard(nil), cards[n:]...),
		Elixir:       elixir,
		Connected:    connectionID != "",
		ConnectionID: connectionID,
	}
}

// playable is the number of hand slots that may be spent
func (p *PlayerState) playable() int {
	if len(p.Hand) == 0 {
		return 0
	}
	return len(p.Hand) - 1
}

// HandIndex returns the playable slot holding cardID, or -1
func (p *PlayerState) HandIndex(cardID string) int {
	for i := 0; i < p.playable(); i++ {
		if p.Hand[i].CardID == cardID {
			return i
		}
	}
	return -1
}

// NextCard is the card waiting in the next-card slot
func (p *PlayerState) NextCard() (PlayerCard, bool) {
	if len(p.Hand) == 0 {
		return PlayerCard{}, false
	}
	return p.Hand[len(p.Hand)-1], true
}

// PlayCard consumes the card in slot i: the next card takes its place, the
// head of the queue becomes the next card and the played card goes to the
// back of the queue.
func (p *PlayerState) PlayCard(i int) PlayerCard {
	played := p.Hand[i]
	last := len(p.Hand) - 1
	p.Hand[i] = p.Hand[last]
	p.Queue = append(p.Queue, played)
	p.Hand[last] = p.Queue[0]
	p.Queue = p.Queue[1:]
	return played
}

// CanAfford reports whether cost can be paid from the current balance
func (p *PlayerState) CanAfford(cost float64) bool {
	return p.Elixir >= cost
}

// Spend debits exactly cost. Callers check CanAfford first.
func (p *PlayerState) Spend(cost float64) {
	p.Elixir -= cost
}

// RegenElixir adds amount, clamped to max. It returns true when the balance
// changed.
func (p *PlayerState) RegenElixir(amount, max float64) bool {
	before := p.Elixir
	p.Elixir = Clamp(p.Elixir+amount, 0, max)
	return p.Elixir != before
}

// Attach records a live transport handle
func (p *PlayerState) Attach(connectionID string) {
	p.Connected = true
	p.ConnectionID = connectionID
	p.DisconnectedAt = time.Time{}
}

// Detach marks the player disconnected. It is idempotent.
func (p *PlayerState) Detach(now time.Time) bool {
	if !p.Connected {
		return false
	}
	p.Connected = false
	p.ConnectionID = ""
	p.DisconnectedAt = now
	return true
}

// Clone returns a deep copy
func (p *PlayerState) Clone() *PlayerState {
	c := *p
	c.Hand = append([]PlayerCard(nil), p.Hand...)
	c.Queue = append([]PlayerCard(nil), p.Queue...)
	return &c
}
