package main

import (
	"fmt"
	"time"
)

// GameStatus is the lifecycle stage of a session
type GameStatus string

const (
	StatusActive GameStatus = "active"
	StatusEnded  GameStatus = "ended"
)

// End reasons
const (
	ReasonLeaderDestroyed = "leader_destroyed"
	ReasonTimeUp          = "time_up"
	ReasonForfeit         = "forfeit"
	ReasonAbandoned       = "abandoned"
)

// Rules are the tuning values a simulation step needs
type Rules struct {
	MaxElixir         float64
	ElixirPerTick     float64
	MatchDuration     time.Duration
	DisconnectTimeout time.Duration
}

// RulesFromConfig extracts the step rules from the server config
func RulesFromConfig(cfg Config) Rules {
	return Rules{
		MaxElixir:         cfg.MaxElixir,
		ElixirPerTick:     cfg.ElixirPerTick(),
		MatchDuration:     cfg.MatchDuration,
		DisconnectTimeout: cfg.DisconnectTimeout,
	}
}

// Game holds the state for one session. It is the unit that gets persisted.
type Game struct {
	ID           string          `msgpack:"id"`
	Players      [2]*PlayerState `msgpack:"players"`
	Arena        *Arena          `msgpack:"arena"`
	Status       GameStatus      `msgpack:"status"`
	WinnerID     string          `msgpack:"winner"`
	EndReason    string          `msgpack:"reason"`
	Tick         uint64          `msgpack:"tick"`
	StartedAt    time.Time       `msgpack:"started"`
	NextEntityID int64           `msgpack:"next_id"`

	// Version is the durable version this copy was loaded at or saved as.
	Version int64 `msgpack:"-"`
}

// NewGame lays out a fresh session for two players. Entity ids for the
// towers are handed out from the game's own sequence.
func NewGame(id string, cat *Catalog, arenaID string, players [2]*PlayerState, startedAt time.Time) (*Game, error) {
	g := &Game{
		ID:        id,
		Players:   players,
		Status:    StatusActive,
		StartedAt: startedAt,
	}
	for _, p := range players {
		if !p.Connected && p.DisconnectedAt.IsZero() {
			p.DisconnectedAt = startedAt
		}
	}
	tmpl, err := cat.Arena(arenaID)
	if err != nil {
		return nil, err
	}
	towers, err := AllocateTowers(cat, tmpl, [2]string{players[0].UserID, players[1].UserID}, g.allocID)
	if err != nil {
		return nil, err
	}
	g.Arena, err = CreateArena(tmpl, towers)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Game) allocID() int64 {
	g.NextEntityID++
	return g.NextEntityID
}

// Player returns the state of a participant
func (g *Game) Player(userID string) (*PlayerState, error) {
	for _, p := range g.Players {
		if p != nil && p.UserID == userID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("user %s in session %s: %w", userID, g.ID, ErrPlayerNotFound)
}

// Opponent returns the other participant
func (g *Game) Opponent(userID string) *PlayerState {
	for _, p := range g.Players {
		if p != nil && p.UserID != userID {
			return p
		}
	}
	return nil
}

// Ended reports whether the session is over
func (g *Game) Ended() bool {
	return g.Status == StatusEnded
}

// Validate checks a loaded game before it is advanced
func (g *Game) Validate() error {
	if g.Players[0] == nil || g.Players[1] == nil || g.Players[0].UserID == g.Players[1].UserID {
		return fmt.Errorf("session %s must have two distinct players: %w", g.ID, ErrCorruptSnapshot)
	}
	if g.Arena == nil {
		return fmt.Errorf("session %s has no arena: %w", g.ID, ErrCorruptSnapshot)
	}
	for _, p := range g.Players {
		if _, err := g.Arena.TowersOf(p.UserID); err != nil {
			return fmt.Errorf("session %s: %w", g.ID, err)
		}
		if g.Arena.Leader(p.UserID) == nil {
			return fmt.Errorf("session %s: %s has no leader tower: %w", g.ID, p.UserID, ErrCorruptSnapshot)
		}
	}
	if err := g.Arena.CheckInvariants(); err != nil {
		return fmt.Errorf("session %s: %w", g.ID, err)
	}
	return nil
}

// Clone returns a deep copy the caller may mutate freely
func (g *Game) Clone() *Game {
	c := *g
	for i, p := range g.Players {
		if p != nil {
			c.Players[i] = p.Clone()
		}
	}
	if g.Arena != nil {
		c.Arena = g.Arena.Clone()
	}
	return &c
}

// Step advances the session by one tick: elixir, combat, then win checks.
func (g *Game) Step(rules Rules, now time.Time, ev *Events) {
	if g.Ended() {
		return
	}
	g.Tick++

	for _, p := range g.Players {
		if p.RegenElixir(rules.ElixirPerTick, rules.MaxElixir) {
			ev.Client(p.ConnectionID, EvtElixirUpdated, ElixirUpdatedMsg{
				ConnectionID: p.ConnectionID,
				Elixir:       p.Elixir,
			})
		}
	}

	g.resolveCombat(ev)
	if g.Ended() {
		return
	}

	if rules.MatchDuration > 0 && !now.Before(g.StartedAt.Add(rules.MatchDuration)) {
		g.endGame(g.leadingPlayer(), ReasonTimeUp, ev)
		return
	}
	if rules.DisconnectTimeout > 0 && g.abandoned(now, rules.DisconnectTimeout) {
		g.endGame("", ReasonAbandoned, ev)
	}
}

// abandoned reports whether both players have been gone for at least d
func (g *Game) abandoned(now time.Time, d time.Duration) bool {
	for _, p := range g.Players {
		if p.Connected || now.Sub(p.DisconnectedAt) < d {
			return false
		}
	}
	return true
}

// leadingPlayer decides a timed-out match: more standing towers wins, then
// more remaining tower health. Empty means a draw.
func (g *Game) leadingPlayer() string {
	var towers, health [2]int
	for i, p := range g.Players {
		for _, t := range g.Arena.Towers[p.UserID] {
			if t.Alive() {
				towers[i]++
				health[i] += t.Health
			}
		}
	}
	switch {
	case towers[0] != towers[1]:
		if towers[0] > towers[1] {
			return g.Players[0].UserID
		}
		return g.Players[1].UserID
	case health[0] != health[1]:
		if health[0] > health[1] {
			return g.Players[0].UserID
		}
		return g.Players[1].UserID
	}
	return ""
}

// Forfeit ends the session in favour of userID's opponent
func (g *Game) Forfeit(userID string, ev *Events) error {
	if g.Ended() {
		return ErrSessionEnded
	}
	if _, err := g.Player(userID); err != nil {
		return err
	}
	g.endGame(g.Opponent(userID).UserID, ReasonForfeit, ev)
	return nil
}

// endGame is the only place a session ends, so end_game fires once.
func (g *Game) endGame(winnerID, reason string, ev *Events) {
	if g.Ended() {
		return
	}
	g.Status = StatusEnded
	g.WinnerID = winnerID
	g.EndReason = reason
	ev.Group(EvtEndGame, EndGameMsg{WinnerID: winnerID, Reason: reason})
}

// StateFor renders the session as seen by viewerID; only the viewer's own
// hand is included.
func (g *Game) StateFor(viewerID string) GameStateMsg {
	msg := GameStateMsg{
		SessionID: g.ID,
		Tick:      g.Tick,
		Width:     g.Arena.Width,
		Height:    g.Arena.Height,
		Status:    g.Status,
		WinnerID:  g.WinnerID,
	}
	for _, p := range g.Players {
		view := PlayerView{
			UserID:    p.UserID,
			Name:      p.Name,
			Side:      p.Side,
			Elixir:    p.Elixir,
			Connected: p.Connected,
		}
		if p.UserID == viewerID {
			view.Hand = append([]PlayerCard(nil), p.Hand...)
		}
		msg.Players = append(msg.Players, view)
	}
	for _, t := range g.Arena.SortedTowers() {
		msg.Units = append(msg.Units, unitState(t))
	}
	for _, e := range g.Arena.SortedEntities() {
		msg.Units = append(msg.Units, unitState(e))
	}
	return msg
}

func unitState(e *Entity) UnitState {
	return UnitState{
		ID:        e.ID,
		Kind:      e.Kind.String(),
		OwnerID:   e.OwnerID,
		CardID:    e.CardID,
		Tower:     e.TowerType,
		X:         e.X,
		Y:         e.Y,
		Size:      e.Size,
		Health:    e.Health,
		MaxHealth: e.MaxHealth,
		State:     e.State,
	}
}
