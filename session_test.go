package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestManager(t *testing.T, store SnapshotStore) (*SessionManager, *mockNotifier) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CommandTimeout = 2 * time.Second
	notifier := newMockNotifier()
	sm := NewSessionManager(cfg, SessionDeps{
		Store:    store,
		Notifier: notifier,
		Groups:   notifier,
		Catalog:  testCatalog(t),
		Decks: StarterDecks{
			Cards:   cfg.StarterCards,
			MinSize: cfg.HandSize + 1,
			MaxSize: cfg.MaxDeckSize,
		},
	})
	sm.now = func() time.Time { return testStart }
	t.Cleanup(sm.Close)
	return sm, notifier
}

func startMatch(t *testing.T, sm *SessionManager) *Session {
	t.Helper()
	sess, err := sm.CreateSession(context.Background(),
		QueueEntry{UserID: "alice", Name: "Alice", ConnectionID: "conn-alice"},
		QueueEntry{UserID: "bob", Name: "Bob", ConnectionID: "conn-bob"},
	)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func storedGame(t *testing.T, store SnapshotStore, sessionID string) *Game {
	t.Helper()
	g, err := LoadGame(context.Background(), store, sessionID)
	if err != nil {
		t.Fatalf("load %s: %v", sessionID, err)
	}
	return g
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateSession(t *testing.T) {
	store := NewMemoryStore()
	sm, notifier := newTestManager(t, store)
	sess := startMatch(t, sm)

	if sm.SessionOf("alice") != sess.ID || sm.SessionOf("bob") != sess.ID {
		t.Error("both players should map to the new session")
	}
	if sm.Count() != 1 {
		t.Errorf("expected 1 session, got %d", sm.Count())
	}
	if !notifier.inGroup(sess.ID, "conn-alice") || !notifier.inGroup(sess.ID, "conn-bob") {
		t.Error("both connections should join the session group")
	}

	g := storedGame(t, store, sess.ID)
	if g.Version != 0 || g.Players[0].UserID != "alice" || g.Players[1].Side != 1 {
		t.Errorf("unexpected stored game: version=%d p0=%s p1 side=%d", g.Version, g.Players[0].UserID, g.Players[1].Side)
	}
	if g.Players[0].Elixir != 5 || len(g.Players[0].Hand) != 5 {
		t.Errorf("unexpected opening state: elixir=%v hand=%d", g.Players[0].Elixir, len(g.Players[0].Hand))
	}
}

func TestCreateSessionRejectsBusyPlayer(t *testing.T) {
	sm, _ := newTestManager(t, NewMemoryStore())
	startMatch(t, sm)

	_, err := sm.CreateSession(context.Background(),
		QueueEntry{UserID: "alice", ConnectionID: "c1"},
		QueueEntry{UserID: "carol", ConnectionID: "c2"},
	)
	if !errors.Is(err, ErrAlreadyInSession) {
		t.Errorf("expected ErrAlreadyInSession, got %v", err)
	}
	if sm.InSession("carol") {
		t.Error("carol must not be left reserved")
	}
	if sm.Count() != 1 {
		t.Errorf("expected 1 session, got %d", sm.Count())
	}

	_, err = sm.CreateSession(context.Background(), QueueEntry{UserID: "dave"}, QueueEntry{UserID: "dave"})
	if !errors.Is(err, ErrAlreadyInSession) {
		t.Errorf("self match: expected ErrAlreadyInSession, got %v", err)
	}
}

func TestSpawnCardThroughManager(t *testing.T) {
	store := NewMemoryStore()
	sm, notifier := newTestManager(t, store)
	sess := startMatch(t, sm)
	ctx := context.Background()

	e, cell, err := sm.SpawnCard(ctx, sess.ID, "alice", "knight", 5, 20)
	if err != nil {
		t.Fatal(err)
	}
	if e.OwnerID != "alice" || cell != (Point{X: 5, Y: 20}) {
		t.Errorf("unexpected spawn result %+v at %+v", e, cell)
	}

	g := storedGame(t, store, sess.ID)
	if g.Version != 1 || g.Players[0].Elixir != 2 {
		t.Errorf("expected version 1 with 2 elixir, got version %d with %v", g.Version, g.Players[0].Elixir)
	}
	spawned := notifier.groupEvents(EvtCardSpawned)
	if len(spawned) != 1 || spawned[0].To != sess.ID {
		t.Fatalf("expected 1 card_spawned to the session, got %+v", spawned)
	}
	if n := len(notifier.clientEvents("conn-alice", EvtElixirUpdated)); n != 1 {
		t.Errorf("expected 1 elixir update for alice, got %d", n)
	}

	_, _, err = sm.SpawnCard(ctx, sess.ID, "alice", "archer", 5, 10)
	if !errors.Is(err, ErrInvalidSide) {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}
	if g := storedGame(t, store, sess.ID); g.Version != 1 {
		t.Errorf("rejected spawn was saved as version %d", g.Version)
	}
	if n := len(notifier.groupEvents(EvtCardSpawned)); n != 1 {
		t.Errorf("rejected spawn was broadcast, %d card_spawned", n)
	}

	if _, _, err := sm.SpawnCard(ctx, "missing", "alice", "knight", 5, 20); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSpawnCardReloadsAfterOutsideWrite(t *testing.T) {
	store := NewMemoryStore()
	sm, _ := newTestManager(t, store)
	sess := startMatch(t, sm)
	ctx := context.Background()

	// Another node moves the session forward behind our back.
	if _, _, err := Mutate(ctx, store, sess.ID, 0, nil, func(g *Game, ev *Events) error {
		g.Players[0].Elixir = 10
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if _, _, err := sm.SpawnCard(ctx, sess.ID, "alice", "giant", 5, 20); err != nil {
		t.Fatalf("spawn should retry on the new version: %v", err)
	}
	g := storedGame(t, store, sess.ID)
	if g.Version != 2 || g.Players[0].Elixir != 5 {
		t.Errorf("expected version 2 with 5 elixir, got version %d with %v", g.Version, g.Players[0].Elixir)
	}
}

func TestSpawnTimedOutInMailboxIsNotApplied(t *testing.T) {
	store := NewMemoryStore()
	sm, notifier := newTestManager(t, store)
	sess := startMatch(t, sm)

	started := make(chan struct{})
	release := make(chan struct{})
	go sess.Do(context.Background(), func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, _, err := sm.SpawnCard(ctx, sess.ID, "alice", "knight", 5, 20)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	close(release)
	if err := sess.Do(context.Background(), func() error { return nil }); err != nil {
		t.Fatal(err)
	}

	g := storedGame(t, store, sess.ID)
	if g.Version != 0 || g.Players[0].Elixir != 5 {
		t.Errorf("timed out spawn was applied: version %d, elixir %v", g.Version, g.Players[0].Elixir)
	}
	for _, e := range g.Arena.Entities {
		if e.OwnerID == "alice" && e.Kind != KindTower {
			t.Errorf("timed out spawn left %s on the grid", e.CardID)
		}
	}
	if n := len(notifier.groupEvents(EvtCardSpawned)); n != 0 {
		t.Errorf("timed out spawn was broadcast, %d card_spawned", n)
	}

	if _, _, err := sm.SpawnCard(context.Background(), sess.ID, "alice", "knight", 5, 20); err != nil {
		t.Fatalf("retry after timeout: %v", err)
	}
	if g := storedGame(t, store, sess.ID); g.Version != 1 || g.Players[0].Elixir != 2 {
		t.Errorf("expected version 1 with 2 elixir, got version %d with %v", g.Version, g.Players[0].Elixir)
	}
}

func TestStartedCommandReportsPastDeadline(t *testing.T) {
	sm, _ := newTestManager(t, NewMemoryStore())
	sess := startMatch(t, sm)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := sess.Do(ctx, func() error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Errorf("a started command must report its own result, got %v (ran=%v)", err, ran)
	}
}

func TestConcurrentSpawnsOnOneCell(t *testing.T) {
	store := NewMemoryStore()
	sm, notifier := newTestManager(t, store)
	// Buildings hold their cell, so only one spawn can claim it.
	sm.decks = StarterDecks{
		Cards:   []string{"cannon", "tesla", "knight", "archer", "giant", "goblin", "musketeer", "valkyrie"},
		MinSize: 5,
		MaxSize: 8,
	}
	sess := startMatch(t, sm)
	ctx := context.Background()
	if _, _, err := Mutate(ctx, store, sess.ID, 0, nil, func(g *Game, ev *Events) error {
		g.Players[0].Elixir = 10
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	ticker := make(chan struct{})
	go func() {
		defer close(ticker)
		for i := 1; i <= 20; i++ {
			select {
			case <-stop:
				return
			default:
			}
			sm.TickAll(testStart.Add(time.Duration(i) * time.Second))
			time.Sleep(time.Millisecond)
		}
	}()

	var (
		wg       sync.WaitGroup
		ok       atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 16; i++ {
		card := "cannon"
		if i%2 == 1 {
			card = "tesla"
		}
		wg.Add(1)
		go func(card string) {
			defer wg.Done()
			_, _, err := sm.SpawnCard(ctx, sess.ID, "alice", card, 5, 20)
			switch {
			case err == nil:
				ok.Add(1)
			case IsValidation(err):
				rejected.Add(1)
			default:
				t.Errorf("spawn %s: unexpected error %v", card, err)
			}
		}(card)
	}
	wg.Wait()
	close(stop)
	<-ticker
	if err := sess.Do(ctx, func() error { return nil }); err != nil {
		t.Fatal(err)
	}

	if ok.Load() != 1 || rejected.Load() != 15 {
		t.Errorf("expected 1 spawn and 15 rejections, got %d and %d", ok.Load(), rejected.Load())
	}
	g := storedGame(t, store, sess.ID)
	if err := g.Arena.CheckInvariants(); err != nil {
		t.Errorf("invariants broken: %v", err)
	}
	buildings := 0
	for _, e := range g.Arena.Entities {
		if e.Kind == KindBuilding {
			buildings++
			if e.X != 5 || e.Y != 20 {
				t.Errorf("building at (%d,%d), want (5,20)", e.X, e.Y)
			}
		}
	}
	if buildings != 1 {
		t.Errorf("expected 1 building on the grid, got %d", buildings)
	}
	if n := len(notifier.groupEvents(EvtCardSpawned)); n != 1 {
		t.Errorf("expected 1 card_spawned, got %d", n)
	}
}

func TestTickAdvancesSession(t *testing.T) {
	store := NewMemoryStore()
	sm, notifier := newTestManager(t, store)
	sess := startMatch(t, sm)

	started := make(chan struct{})
	release := make(chan struct{})
	go sess.Do(context.Background(), func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	now := testStart.Add(time.Second)
	if !sess.PostTick(now) {
		t.Fatal("first tick should be accepted")
	}
	if sess.PostTick(now) {
		t.Error("a second tick must not queue while one is pending")
	}
	close(release)

	waitFor(t, "tick 1", func() bool { return sess.Tick() == 1 })
	g := storedGame(t, store, sess.ID)
	if g.Tick != 1 || g.Version != 1 {
		t.Errorf("expected tick 1 at version 1, got tick %d version %d", g.Tick, g.Version)
	}
	if n := len(notifier.clientEvents("conn-alice", EvtElixirUpdated)); n != 1 {
		t.Errorf("expected 1 elixir update, got %d", n)
	}

	waitFor(t, "tick slot free", func() bool { return !sess.ticking.Load() })
	if n := sm.TickAll(now.Add(time.Second)); n != 1 {
		t.Errorf("expected 1 session ticked, got %d", n)
	}
	waitFor(t, "tick 2", func() bool { return sess.Tick() == 2 })
}

func TestLeaderDestroyedEndsSession(t *testing.T) {
	store := NewMemoryStore()
	sm, notifier := newTestManager(t, store)
	sess := startMatch(t, sm)
	ctx := context.Background()

	err := sess.Do(ctx, func() error {
		_, err := sess.update(ctx, 0, func(g *Game, ev *Events) error {
			g.Arena.Leader("bob").Health = 1
			knight := testUnit(g.allocID(), "alice", 7, 4)
			knight.Damage = 160
			return g.Arena.PlaceEntity(knight)
		})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	if n := sm.TickAll(testStart.Add(time.Second)); n != 1 {
		t.Fatalf("expected 1 session ticked, got %d", n)
	}
	// Group teardown is the last step of winding a session down.
	waitFor(t, "session teardown", func() bool {
		return !notifier.inGroup(sess.ID, "conn-alice") && !notifier.inGroup(sess.ID, "conn-bob")
	})

	ended := notifier.groupEvents(EvtEndGame)
	if len(ended) != 1 {
		t.Fatalf("expected exactly 1 end_game, got %d", len(ended))
	}
	if msg := ended[0].Payload.(EndGameMsg); msg.WinnerID != "alice" || msg.Reason != ReasonLeaderDestroyed {
		t.Errorf("unexpected end_game %+v", msg)
	}
	if sm.Count() != 0 || sm.InSession("alice") || sm.InSession("bob") {
		t.Error("ended session still active")
	}
	if !sess.Stopped() {
		t.Error("ended session goroutine still running")
	}
	if _, _, err := store.Load(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ended snapshot should be deleted, got %v", err)
	}
	if n := sm.TickAll(testStart.Add(2 * time.Second)); n != 0 {
		t.Errorf("ended session was ticked again (%d)", n)
	}
}

func TestLeaveSessionForfeits(t *testing.T) {
	sm, notifier := newTestManager(t, NewMemoryStore())
	sess := startMatch(t, sm)
	ctx := context.Background()

	if err := sm.LeaveSession(ctx, sess.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	ended := notifier.groupEvents(EvtEndGame)
	if len(ended) != 1 || ended[0].Payload.(EndGameMsg).WinnerID != "bob" {
		t.Fatalf("expected bob to win by forfeit, got %+v", ended)
	}
	if sm.InSession("alice") {
		t.Error("forfeiting player still in session")
	}
	if err := sm.LeaveSession(ctx, sess.ID, "alice"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMarkDisconnectedIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	sm, notifier := newTestManager(t, store)
	sess := startMatch(t, sm)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := sm.MarkDisconnected(ctx, sess.ID, "alice", "conn-alice"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	g := storedGame(t, store, sess.ID)
	if g.Version != 1 {
		t.Errorf("expected a single save, store at version %d", g.Version)
	}
	if g.Players[0].Connected || !g.Players[0].DisconnectedAt.Equal(testStart) {
		t.Errorf("alice should be disconnected since %v: %+v", testStart, g.Players[0])
	}
	if notifier.inGroup(sess.ID, "conn-alice") {
		t.Error("dropped connection still in the session group")
	}
	if !sm.InSession("alice") {
		t.Error("a disconnect must keep the seat")
	}

	// A connection that was already replaced is ignored.
	if err := sm.MarkDisconnected(ctx, sess.ID, "bob", "old-conn"); err != nil {
		t.Fatal(err)
	}
	if g := storedGame(t, store, sess.ID); !g.Players[1].Connected || g.Version != 1 {
		t.Error("stale disconnect changed bob's seat")
	}
}

func TestReconnectSendsGameState(t *testing.T) {
	store := NewMemoryStore()
	sm, notifier := newTestManager(t, store)
	sess := startMatch(t, sm)
	ctx := context.Background()

	if err := sm.MarkDisconnected(ctx, sess.ID, "alice", "conn-alice"); err != nil {
		t.Fatal(err)
	}
	if err := sm.Reconnect(ctx, sess.ID, "alice", "conn-alice-2"); err != nil {
		t.Fatal(err)
	}

	states := notifier.clientEvents("conn-alice-2", EvtGameState)
	if len(states) != 1 {
		t.Fatalf("expected 1 game_state, got %d", len(states))
	}
	state := states[0].Payload.(GameStateMsg)
	if state.SessionID != sess.ID || len(state.Players) != 2 {
		t.Errorf("unexpected game_state %+v", state)
	}
	for _, p := range state.Players {
		if p.UserID == "alice" && (len(p.Hand) != 5 || !p.Connected) {
			t.Errorf("alice's view is incomplete: %+v", p)
		}
	}
	if !notifier.inGroup(sess.ID, "conn-alice-2") {
		t.Error("new connection did not join the session group")
	}
	if g := storedGame(t, store, sess.ID); g.Players[0].ConnectionID != "conn-alice-2" {
		t.Errorf("seat bound to %q", g.Players[0].ConnectionID)
	}

	if err := sm.Reconnect(ctx, sess.ID, "carol", "conn-carol"); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("expected ErrPlayerNotFound, got %v", err)
	}
}

func TestReconnectReplacesLiveConnection(t *testing.T) {
	sm, notifier := newTestManager(t, NewMemoryStore())
	sess := startMatch(t, sm)

	if err := sm.Reconnect(context.Background(), sess.ID, "bob", "conn-bob-2"); err != nil {
		t.Fatal(err)
	}
	if notifier.inGroup(sess.ID, "conn-bob") || !notifier.inGroup(sess.ID, "conn-bob-2") {
		t.Error("old connection should be swapped for the new one")
	}
}

func TestResumeAndAbandon(t *testing.T) {
	store := NewMemoryStore()
	first, _ := newTestManager(t, store)
	sess := startMatch(t, first)
	first.Close()

	second, notifier := newTestManager(t, store)
	if n := second.Resume(context.Background(), []string{sess.ID, "missing"}); n != 1 {
		t.Fatalf("expected 1 resumed session, got %d", n)
	}
	if second.SessionOf("alice") != sess.ID {
		t.Fatal("resumed session not registered")
	}
	g := storedGame(t, store, sess.ID)
	if g.Players[0].Connected || g.Players[1].Connected {
		t.Error("nobody is connected after a restart")
	}

	// Nobody came back within the disconnect timeout.
	second.TickAll(testStart.Add(31 * time.Second))
	waitFor(t, "abandoned session removed", func() bool { return second.Count() == 0 })
	ended := notifier.groupEvents(EvtEndGame)
	if len(ended) != 1 || ended[0].Payload.(EndGameMsg).Reason != ReasonAbandoned {
		t.Errorf("expected an abandoned end_game, got %+v", ended)
	}
}

func TestListSessionsSorted(t *testing.T) {
	sm, _ := newTestManager(t, NewMemoryStore())
	ctx := context.Background()
	for _, pair := range [][2]string{{"a", "b"}, {"c", "d"}, {"e", "f"}} {
		if _, err := sm.CreateSession(ctx, QueueEntry{UserID: pair[0]}, QueueEntry{UserID: pair[1]}); err != nil {
			t.Fatal(err)
		}
	}

	list := sm.ListSessions()
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID > list[i].ID {
			t.Error("sessions not sorted by id")
		}
	}
	if len(list[0].Players) != 2 {
		t.Errorf("expected 2 players per session, got %d", len(list[0].Players))
	}
}

func TestCommandAfterStopFails(t *testing.T) {
	sm, _ := newTestManager(t, NewMemoryStore())
	sess := startMatch(t, sm)
	sess.Stop()

	err := sess.Do(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
	if sess.PostTick(testStart) {
		t.Error("stopped session accepted a tick")
	}
}
