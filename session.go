package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const sessionMailboxSize = 64

// errUnchanged lets a mutation report that there is nothing to save
var errUnchanged = errors.New("unchanged")

// Session is one running match. All work on its game runs on the session's
// own goroutine, one job at a time, so ticks and player commands never
// interleave.
type Session struct {
	ID      string
	Players [2]string

	mgr      *SessionManager
	jobs     chan func()
	done     chan struct{}
	stopOnce sync.Once

	// game is the last copy this session saved or loaded. Only the session
	// goroutine touches it; nil forces a reload.
	game *Game

	ticking atomic.Bool
	tick    atomic.Uint64
}

func newSession(mgr *SessionManager, g *Game) *Session {
	s := &Session{
		ID:      g.ID,
		Players: [2]string{g.Players[0].UserID, g.Players[1].UserID},
		mgr:     mgr,
		jobs:    make(chan func(), sessionMailboxSize),
		done:    make(chan struct{}),
		game:    g,
	}
	s.tick.Store(g.Tick)
	return s
}

const (
	jobPending int32 = iota
	jobStarted
	jobCancelled
)

// Run processes jobs until the session is stopped
func (s *Session) Run() {
	for {
		select {
		case job := <-s.jobs:
			if s.Stopped() {
				return
			}
			s.runJob(job)
		case <-s.done:
			return
		}
	}
}

// runJob isolates a panicking job to this session
func (s *Session) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session %s: job panicked: %v", s.ID, r)
			s.game = nil
		}
	}()
	job()
}

// Stop terminates the session goroutine. Queued jobs are dropped.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Stopped reports whether the session has been stopped
func (s *Session) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Do runs fn on the session goroutine and waits for its result. A job that
// has started always reports back, even past ctx or a stop; a job that has
// not started by then never runs.
func (s *Session) Do(ctx context.Context, fn func() error) error {
	var state atomic.Int32 // jobPending, jobStarted or jobCancelled
	result := make(chan error, 1)
	job := func() {
		if ctx.Err() != nil || !state.CompareAndSwap(jobPending, jobStarted) {
			state.CompareAndSwap(jobPending, jobCancelled)
			return
		}
		err := fmt.Errorf("session %s: command aborted", s.ID)
		defer func() { result <- err }()
		err = fn()
	}

	select {
	case s.jobs <- job:
	case <-s.done:
		return fmt.Errorf("session %s: %w", s.ID, ErrSessionEnded)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-s.done:
		if state.CompareAndSwap(jobPending, jobCancelled) {
			return fmt.Errorf("session %s: %w", s.ID, ErrSessionEnded)
		}
	case <-ctx.Done():
		if state.CompareAndSwap(jobPending, jobCancelled) {
			return ctx.Err()
		}
	}
	if state.Load() == jobCancelled {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("session %s: %w", s.ID, ErrSessionEnded)
	}
	return <-result
}

// PostTick schedules one simulation step without blocking. It returns false
// when the previous tick is still queued or running, or the mailbox is full.
func (s *Session) PostTick(now time.Time) bool {
	if s.Stopped() || !s.ticking.CompareAndSwap(false, true) {
		return false
	}
	job := func() {
		defer s.ticking.Store(false)
		s.step(now)
	}
	select {
	case s.jobs <- job:
		return true
	default:
		s.ticking.Store(false)
		return false
	}
}

// Tick returns the last persisted simulation tick
func (s *Session) Tick() uint64 {
	return s.tick.Load()
}

func (s *Session) step(now time.Time) {
	ctx, cancel := s.mgr.commandContext()
	defer cancel()

	rules := s.mgr.rules
	_, err := s.update(ctx, s.mgr.cfg.MaxConcurrencyRetries, func(g *Game, ev *Events) error {
		if g.Ended() {
			return errUnchanged
		}
		g.Step(rules, now, ev)
		return nil
	})
	if err != nil {
		log.Printf("session %s: tick failed: %v", s.ID, err)
		s.mgr.analytics.Track(TrackTickFailure, "", s.ID, map[string]string{"code": string(ErrorCode(err))})
	}
}

// update runs one load, mutate, conditional save cycle on the session
// goroutine. On success the cached game moves forward, the events go out
// and a game that just ended is wound down.
func (s *Session) update(ctx context.Context, retries int, fn func(g *Game, ev *Events) error) (*Game, error) {
	next, ev, err := Mutate(ctx, s.mgr.store, s.ID, retries, s.game, fn)
	if errors.Is(err, errUnchanged) {
		if s.game != nil && s.game.Ended() {
			s.mgr.finish(s, s.game)
		}
		return s.game, nil
	}
	if err != nil {
		var ce *ConcurrencyError
		if errors.As(err, &ce) {
			s.mgr.analytics.Track(TrackConflictLost, "", s.ID, map[string]int{"retries": ce.Retries})
		}
		// Whatever we hold may be stale now.
		s.game = nil
		return nil, err
	}

	s.game = next
	s.tick.Store(next.Tick)
	ev.Dispatch(s.mgr.notifier, s.ID)
	if next.Ended() {
		s.mgr.finish(s, next)
	}
	return next, nil
}

// SessionDeps are the collaborators a SessionManager works with
type SessionDeps struct {
	Store     SnapshotStore
	Notifier  Notifier
	Groups    GroupMembership
	Catalog   *Catalog
	Decks     DeckSource
	Analytics *Analytics
	History   *DB
}

// SessionManager handles creation, lookup and teardown of sessions
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]string

	cfg       Config
	rules     Rules
	store     SnapshotStore
	notifier  Notifier
	groups    GroupMembership
	catalog   *Catalog
	decks     DeckSource
	analytics *Analytics
	history   *DB

	now func() time.Time
}

// NewSessionManager creates a new SessionManager
func NewSessionManager(cfg Config, deps SessionDeps) *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*Session),
		byUser:    make(map[string]string),
		cfg:       cfg,
		rules:     RulesFromConfig(cfg),
		store:     deps.Store,
		notifier:  deps.Notifier,
		groups:    deps.Groups,
		catalog:   deps.Catalog,
		decks:     deps.Decks,
		analytics: deps.Analytics,
		history:   deps.History,
		now:       time.Now,
	}
}

// reserve claims both users for sessionID, or fails if either is taken
func (sm *SessionManager) reserve(sessionID string, users ...string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, u := range users {
		if _, ok := sm.byUser[u]; ok {
			return fmt.Errorf("user %s: %w", u, ErrAlreadyInSession)
		}
	}
	for _, u := range users {
		sm.byUser[u] = sessionID
	}
	return nil
}

func (sm *SessionManager) release(sessionID string, users ...string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, u := range users {
		if sm.byUser[u] == sessionID {
			delete(sm.byUser, u)
		}
	}
}

// CreateSession starts a match between two queued players. a defends side
// 0 and b side 1.
func (sm *SessionManager) CreateSession(ctx context.Context, a, b QueueEntry) (*Session, error) {
	if a.UserID == b.UserID {
		return nil, fmt.Errorf("user %s cannot play themselves: %w", a.UserID, ErrAlreadyInSession)
	}
	id := GenerateUUID()
	if err := sm.reserve(id, a.UserID, b.UserID); err != nil {
		return nil, err
	}

	sess, err := sm.createSession(ctx, id, a, b)
	if err != nil {
		sm.release(id, a.UserID, b.UserID)
		return nil, err
	}
	return sess, nil
}

func (sm *SessionManager) createSession(ctx context.Context, id string, a, b QueueEntry) (*Session, error) {
	var players [2]*PlayerState
	for i, entry := range [2]QueueEntry{a, b} {
		deck, err := sm.decks.DeckFor(ctx, entry.UserID)
		if err != nil {
			return nil, err
		}
		players[i] = NewPlayerState(entry.UserID, entry.Name, i, deck, sm.cfg.HandSize, sm.cfg.StartingElixir, entry.ConnectionID)
	}

	g, err := NewGame(id, sm.catalog, "", players, sm.now())
	if err != nil {
		return nil, err
	}
	data, err := EncodeGame(g)
	if err != nil {
		return nil, err
	}
	if err := sm.store.Create(ctx, id, data); err != nil {
		return nil, err
	}

	sess := sm.register(g)
	for _, p := range players {
		sm.joinGroup(id, p.ConnectionID)
	}
	sm.analytics.Track(TrackMatchStart, a.UserID, id, map[string]string{"opponent": b.UserID})
	sm.analytics.Track(TrackMatchStart, b.UserID, id, map[string]string{"opponent": a.UserID})
	log.Printf("session %s: %s vs %s", id, a.UserID, b.UserID)
	return sess, nil
}

// register adds a loaded or new game to the active set and starts it
func (sm *SessionManager) register(g *Game) *Session {
	sess := newSession(sm, g)
	sm.mu.Lock()
	sm.sessions[g.ID] = sess
	for _, p := range g.Players {
		sm.byUser[p.UserID] = g.ID
	}
	n := len(sm.sessions)
	sm.mu.Unlock()

	sm.analytics.SetActiveSessions(n)
	go sess.Run()
	return sess
}

// Resume brings back sessions that were still stored when the server went
// down. Nobody is connected after a restart, so every player starts
// disconnected.
func (sm *SessionManager) Resume(ctx context.Context, ids []string) int {
	resumed := 0
	now := sm.now()
	for _, id := range ids {
		g, err := LoadGame(ctx, sm.store, id)
		if err != nil {
			log.Printf("resume session %s: %v", id, err)
			continue
		}
		sess := sm.register(g)
		err = sess.Do(ctx, func() error {
			_, err := sess.update(ctx, sm.cfg.MaxConcurrencyRetries, func(g *Game, ev *Events) error {
				if g.Ended() {
					return errUnchanged
				}
				for _, p := range g.Players {
					p.Detach(now)
				}
				return nil
			})
			return err
		})
		if err != nil {
			log.Printf("resume session %s: %v", id, err)
			continue
		}
		resumed++
	}
	return resumed
}

// Get returns a running session
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess, ok := sm.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return sess, nil
}

// SessionOf returns the session a user is playing in, or ""
func (sm *SessionManager) SessionOf(userID string) string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.byUser[userID]
}

// InSession reports whether a user is in a running session
func (sm *SessionManager) InSession(userID string) bool {
	return sm.SessionOf(userID) != ""
}

// Active returns the running sessions
func (sm *SessionManager) Active() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	list := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		list = append(list, s)
	}
	return list
}

// Count returns the number of running sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// TickAll posts one tick to every running session and returns how many
// accepted it
func (sm *SessionManager) TickAll(now time.Time) int {
	n := 0
	for _, s := range sm.Active() {
		if s.PostTick(now) {
			n++
		} else if !s.Stopped() {
			log.Printf("session %s: previous tick still running, skipping", s.ID)
		}
	}
	return n
}

// SpawnCard plays a card for userID in a session. It returns a copy of the
// placed entity and the cell it occupies.
func (sm *SessionManager) SpawnCard(ctx context.Context, sessionID, userID, cardID string, x, y int) (*Entity, Point, error) {
	sess, err := sm.Get(sessionID)
	if err != nil {
		return nil, Point{}, err
	}
	var (
		spawned *Entity
		cell    Point
	)
	err = sess.Do(ctx, func() error {
		_, err := sess.update(ctx, sm.cfg.MaxConcurrencyRetries, func(g *Game, ev *Events) error {
			e, p, err := g.SpawnCard(sm.catalog, userID, cardID, x, y, ev)
			if err != nil {
				return err
			}
			spawned, cell = e.Clone(), p
			return nil
		})
		return err
	})
	if err != nil {
		return nil, Point{}, err
	}
	sm.analytics.Track(TrackCardPlayed, userID, sessionID, map[string]interface{}{"card": cardID, "x": x, "y": y})
	return spawned, cell, nil
}

// LeaveSession forfeits the match for userID
func (sm *SessionManager) LeaveSession(ctx context.Context, sessionID, userID string) error {
	sess, err := sm.Get(sessionID)
	if err != nil {
		return err
	}
	return sess.Do(ctx, func() error {
		_, err := sess.update(ctx, sm.cfg.MaxConcurrencyRetries, func(g *Game, ev *Events) error {
			return g.Forfeit(userID, ev)
		})
		return err
	})
}

// MarkDisconnected records that a player's transport went away. It makes a
// single attempt and keeps the player in the session.
func (sm *SessionManager) MarkDisconnected(ctx context.Context, sessionID, userID, connectionID string) error {
	sess, err := sm.Get(sessionID)
	if err != nil {
		return err
	}
	now := sm.now()
	err = sess.Do(ctx, func() error {
		_, err := sess.update(ctx, 0, func(g *Game, ev *Events) error {
			p, err := g.Player(userID)
			if err != nil {
				return err
			}
			// A newer connection already took over.
			if connectionID != "" && p.ConnectionID != connectionID {
				return errUnchanged
			}
			if !p.Detach(now) {
				return errUnchanged
			}
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}
	sm.leaveGroup(sessionID, connectionID)
	sm.analytics.Track(TrackDisconnect, userID, sessionID, nil)
	return nil
}

// Reconnect binds a new connection to userID's seat and sends them the
// full game state
func (sm *SessionManager) Reconnect(ctx context.Context, sessionID, userID, connectionID string) error {
	sess, err := sm.Get(sessionID)
	if err != nil {
		return err
	}
	var previous string
	err = sess.Do(ctx, func() error {
		_, err := sess.update(ctx, sm.cfg.MaxConcurrencyRetries, func(g *Game, ev *Events) error {
			if g.Ended() {
				return fmt.Errorf("session %s: %w", g.ID, ErrSessionEnded)
			}
			p, err := g.Player(userID)
			if err != nil {
				return err
			}
			previous = p.ConnectionID
			p.Attach(connectionID)
			ev.Client(connectionID, EvtGameState, g.StateFor(userID))
			return nil
		})
		if err == nil {
			// Still on the session goroutine, so no broadcast can slip in
			// between the state frame and the join.
			if previous != "" && previous != connectionID {
				sm.leaveGroup(sessionID, previous)
			}
			sm.joinGroup(sessionID, connectionID)
		}
		return err
	})
	if err != nil {
		return err
	}
	sm.analytics.Track(TrackReconnect, userID, sessionID, nil)
	return nil
}

// ListSessions returns info about all active sessions
func (sm *SessionManager) ListSessions() []SessionInfo {
	sessions := sm.Active()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	list := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		list = append(list, SessionInfo{
			ID:      s.ID,
			Players: []string{s.Players[0], s.Players[1]},
			Tick:    s.Tick(),
		})
	}
	return list
}

// finish takes an ended game out of the active set. It runs on the
// session goroutine.
func (sm *SessionManager) finish(s *Session, g *Game) {
	sm.mu.Lock()
	if sm.sessions[s.ID] != s {
		sm.mu.Unlock()
		return
	}
	delete(sm.sessions, s.ID)
	for _, u := range s.Players {
		if sm.byUser[u] == s.ID {
			delete(sm.byUser, u)
		}
	}
	n := len(sm.sessions)
	sm.mu.Unlock()

	s.Stop()
	sm.analytics.SetActiveSessions(n)

	ctx, cancel := sm.commandContext()
	defer cancel()
	duration := sm.now().Sub(g.StartedAt)
	if sm.history != nil {
		if _, err := sm.history.RecordMatch(ctx, g, duration); err != nil {
			log.Printf("session %s: record match: %v", s.ID, err)
		}
	}
	if err := sm.store.Delete(ctx, s.ID); err != nil {
		log.Printf("session %s: delete snapshot: %v", s.ID, err)
	}
	for _, p := range g.Players {
		sm.leaveGroup(s.ID, p.ConnectionID)
	}
	sm.analytics.Track(TrackMatchEnd, g.WinnerID, s.ID, map[string]interface{}{"reason": g.EndReason, "ticks": g.Tick})
	log.Printf("session %s ended: winner=%q reason=%s", s.ID, g.WinnerID, g.EndReason)
}

// commandContext bounds storage work done outside a caller's request
func (sm *SessionManager) commandContext() (context.Context, context.CancelFunc) {
	if sm.cfg.CommandTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), sm.cfg.CommandTimeout)
}

func (sm *SessionManager) joinGroup(sessionID, connectionID string) {
	if sm.groups != nil && connectionID != "" {
		sm.groups.JoinGroup(sessionID, connectionID)
	}
}

func (sm *SessionManager) leaveGroup(sessionID, connectionID string) {
	if sm.groups != nil && connectionID != "" {
		sm.groups.LeaveGroup(sessionID, connectionID)
	}
}

// Close stops every running session. Snapshots stay in the store.
func (sm *SessionManager) Close() {
	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.sessions = make(map[string]*Session)
	sm.byUser = make(map[string]string)
	sm.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
