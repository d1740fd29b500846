package main

import "encoding/json"

// Client -> Server message types
const (
	MsgAuth    = "auth"
	MsgQueue   = "queue"
	MsgDequeue = "dequeue"
	MsgSpawn   = "spawn"
	MsgLeave   = "leave"
	MsgRejoin  = "rejoin"
	MsgList    = "list"
)

// Server -> Client event names
const (
	EvtAuthOK         = "auth_ok"
	EvtQueued         = "queued"
	EvtDequeued       = "dequeued"
	EvtMatchFound     = "match_found"
	EvtGameState      = "game_state"
	EvtCardSpawned    = "card_spawned"
	EvtTroopMoved     = "troop_moved"
	EvtUnitDamaged    = "unit_damaged"
	EvtUnitKilled     = "unit_killed"
	EvtUnitExpired    = "unit_expired"
	EvtTowerDestroyed = "tower_destroyed"
	EvtElixirUpdated  = "elixir_updated"
	EvtEndGame        = "end_game"
	EvtSessions       = "sessions"
	EvtError          = "error"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is an incoming message with its payload left raw until routed
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// AuthMsg carries the bearer token identifying the user
type AuthMsg struct {
	Token string `json:"token"`
}

// SpawnMsg asks to play a card at a cell
type SpawnMsg struct {
	SessionID string `json:"sid"`
	CardID    string `json:"cardId"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
}

// SessionMsg names the session a leave/rejoin applies to
type SessionMsg struct {
	SessionID string `json:"sid"`
}

// AuthOKMsg confirms the identity bound to the connection
type AuthOKMsg struct {
	UserID       string `json:"userId"`
	Name         string `json:"name"`
	ConnectionID string `json:"connectionId"`
	SessionID    string `json:"sid,omitempty"` // live session to rejoin, if any
}

// MatchFoundMsg tells a queued player which session they were placed in
type MatchFoundMsg struct {
	SessionID  string `json:"sid"`
	OpponentID string `json:"opponentId"`
	Opponent   string `json:"opponent"`
	Side       int    `json:"side"`
}

// CardSpawnedMsg is broadcast when a card enters the arena
type CardSpawnedMsg struct {
	UnitID     int64  `json:"unitId"`
	UserID     string `json:"userId"`
	CardID     string `json:"cardId"`
	Level      int    `json:"level"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Health     int    `json:"health"`
	MaxHealth  int    `json:"maxHealth"`
	NextCardID string `json:"nextCardId"`
}

// TroopMovedMsg is broadcast for every step a troop takes
type TroopMovedMsg struct {
	TroopID  int64       `json:"troopId"`
	PlayerID string      `json:"playerId"`
	CardID   string      `json:"cardId"`
	X        int         `json:"x"`
	Y        int         `json:"y"`
	State    EntityState `json:"state"`
}

// UnitDamagedMsg is broadcast for every hit
type UnitDamagedMsg struct {
	AttackerID int64 `json:"attackerId"`
	TargetID   int64 `json:"targetId"`
	Damage     int   `json:"damage"`
	Health     int   `json:"health"`
	MaxHealth  int   `json:"maxHealth"`
}

// UnitKilledMsg is broadcast when a unit or tower dies
type UnitKilledMsg struct {
	UnitID int64 `json:"unitId"`
}

// UnitExpiredMsg is broadcast when a building's lifetime runs out
type UnitExpiredMsg struct {
	UnitID int64 `json:"unitId"`
}

// TowerDestroyedMsg is broadcast alongside the kill of a tower
type TowerDestroyedMsg struct {
	TowerID int64     `json:"towerId"`
	OwnerID string    `json:"ownerId"`
	Type    TowerType `json:"type"`
}

// ElixirUpdatedMsg is sent to one player when their balance changes
type ElixirUpdatedMsg struct {
	ConnectionID string  `json:"connectionId"`
	Elixir       float64 `json:"elixir"`
}

// EndGameMsg is broadcast once when the session ends. An empty winner is
// a draw.
type EndGameMsg struct {
	WinnerID string `json:"winnerId"`
	Reason   string `json:"reason,omitempty"`
}

// UnitState is one unit or tower in a game_state frame
type UnitState struct {
	ID        int64       `json:"id"`
	Kind      string      `json:"kind"`
	OwnerID   string      `json:"ownerId"`
	CardID    string      `json:"cardId,omitempty"`
	Tower     TowerType   `json:"tower,omitempty"`
	X         int         `json:"x"`
	Y         int         `json:"y"`
	Size      int         `json:"size"`
	Health    int         `json:"health"`
	MaxHealth int         `json:"maxHealth"`
	State     EntityState `json:"state"`
}

// PlayerView is what a player may see of a PlayerState
type PlayerView struct {
	UserID    string       `json:"userId"`
	Name      string       `json:"name"`
	Side      int          `json:"side"`
	Elixir    float64      `json:"elixir"`
	Connected bool         `json:"connected"`
	Hand      []PlayerCard `json:"hand,omitempty"`
}

// GameStateMsg is the full state sent on rejoin
type GameStateMsg struct {
	SessionID string       `json:"sid"`
	Tick      uint64       `json:"tick"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	Players   []PlayerView `json:"players"`
	Units     []UnitState  `json:"units"`
	Status    GameStatus   `json:"status"`
	WinnerID  string       `json:"winnerId,omitempty"`
}

// SessionInfo is used in the session list
type SessionInfo struct {
	ID      string   `json:"id"`
	Players []string `json:"players"`
	Tick    uint64   `json:"tick"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Code Code   `json:"code"`
	Msg  string `json:"msg"`
}

// Notification is one outgoing event. An empty ConnectionID addresses the
// whole session group.
type Notification struct {
	Event        string
	Payload      interface{}
	ConnectionID string
}

// Events collects the notifications produced by one session step. They are
// dispatched only after the step has been persisted.
type Events struct {
	list []Notification
}

// Group queues an event for every member of the session
func (e *Events) Group(event string, payload interface{}) {
	e.list = append(e.list, Notification{Event: event, Payload: payload})
}

// Client queues an event for a single connection. Disconnected players
// (empty id) are skipped.
func (e *Events) Client(connectionID, event string, payload interface{}) {
	if connectionID == "" {
		return
	}
	e.list = append(e.list, Notification{Event: event, Payload: payload, ConnectionID: connectionID})
}

// List returns the queued notifications in order
func (e *Events) List() []Notification {
	return e.list
}

// Dispatch sends every queued notification. Delivery is fire-and-forget.
func (e *Events) Dispatch(n Notifier, sessionID string) {
	if n == nil {
		return
	}
	for _, ev := range e.list {
		if ev.ConnectionID != "" {
			n.NotifyClient(ev.ConnectionID, ev.Event, ev.Payload)
		} else {
			n.NotifyGroup(sessionID, ev.Event, ev.Payload)
		}
	}
}

// Notifier delivers events to connected clients
type Notifier interface {
	NotifyGroup(sessionID, event string, payload interface{})
	NotifyClient(connectionID, event string, payload interface{})
}

// GroupMembership binds connections to a session's broadcast group
type GroupMembership interface {
	JoinGroup(sessionID, connectionID string)
	LeaveGroup(sessionID, connectionID string)
}
