package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
)

// Engine wires the battle services together: storage, sessions,
// matchmaking, the game clock and the websocket hub.
type Engine struct {
	Config     Config
	Catalog    *Catalog
	DB         *DB
	Store      SnapshotStore
	Analytics  *Analytics
	Auth       *Auth
	Hub        *Hub
	Sessions   *SessionManager
	Matchmaker *Matchmaker
	Scheduler  *Scheduler
}

// NewEngine builds an engine. db may be nil, in which case snapshots live
// in memory and nothing survives a restart.
func NewEngine(cfg Config, catalogSrc CatalogSource, db *DB) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cat, err := catalogSrc.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	minDeck := cfg.HandSize + 1
	starter := make([]PlayerCard, 0, len(cfg.StarterCards))
	for _, id := range cfg.StarterCards {
		starter = append(starter, PlayerCard{CardID: id, Level: 1})
	}
	if err := ValidateDeck(cat, starter, minDeck, cfg.MaxDeckSize); err != nil {
		return nil, fmt.Errorf("starter cards: %w", err)
	}

	e := &Engine{Config: cfg, Catalog: cat, DB: db}
	if db != nil {
		e.Store = db
	} else {
		e.Store = NewMemoryStore()
	}
	e.Analytics = NewAnalytics(db)
	e.Auth = NewAuth(db, cfg.JWTSecret)
	e.Hub = NewHub(db, e.Auth, e.Analytics, cfg.CommandTimeout)
	e.Sessions = NewSessionManager(cfg, SessionDeps{
		Store:    e.Store,
		Notifier: e.Hub,
		Groups:   e.Hub,
		Catalog:  cat,
		Decks: StarterDecks{
			Cards:   cfg.StarterCards,
			MinSize: minDeck,
			MaxSize: cfg.MaxDeckSize,
			Catalog: cat,
			Saved:   db,
		},
		Analytics: e.Analytics,
		History:   db,
	})
	e.Matchmaker = NewMatchmaker(e.Sessions, e.Hub, e.Analytics, cfg.MatchRetryInterval, cfg.CommandTimeout)
	e.Hub.Attach(e.Sessions, e.Matchmaker)
	e.Scheduler = NewScheduler(cfg.TickInterval, e.Sessions)
	return e, nil
}

// Start resumes stored sessions and starts the background loops
func (e *Engine) Start(ctx context.Context) {
	if e.DB != nil {
		ids, err := e.DB.SessionIDs(ctx)
		if err != nil {
			log.Printf("list stored sessions: %v", err)
		} else if len(ids) > 0 {
			n := e.Sessions.Resume(ctx, ids)
			log.Printf("resumed %d of %d stored sessions", n, len(ids))
		}
	}
	go e.Hub.Run()
	e.Matchmaker.Start()
	e.Scheduler.Start()
}

// Handler returns the HTTP routes
func (e *Engine) Handler() http.Handler {
	return SetupRoutes(e.Hub)
}

// Stop halts the clock first so no tick starts during teardown
func (e *Engine) Stop() {
	e.Scheduler.Stop()
	e.Matchmaker.Stop()
	e.Sessions.Close()
	e.Hub.Stop()
	e.Analytics.Stop()
}
