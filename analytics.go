package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Event types for analytics tracking
const (
	TrackMatchStart   = "match_start"
	TrackMatchEnd     = "match_end"
	TrackCardPlayed   = "card_played"
	TrackQueued       = "queued"
	TrackDisconnect   = "disconnect"
	TrackReconnect    = "reconnect"
	TrackTickFailure  = "tick_failure"
	TrackConflictLost = "concurrency_exceeded"
)

// AnalyticsEvent represents a single trackable event
type AnalyticsEvent struct {
	Type      string
	UserID    string
	SessionID string
	Data      string // JSON metadata (optional)
	Timestamp time.Time
}

// Analytics handles event tracking with batched background writes
type Analytics struct {
	db     *DB
	events chan AnalyticsEvent
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	// Live metrics
	mu              sync.RWMutex
	concurrentPeers int
	activeSessions  int
	queuedPlayers   int
}

// NewAnalytics creates and starts the analytics background writer. db may be
// nil, in which case events are counted live but never stored.
func NewAnalytics(db *DB) *Analytics {
	a := &Analytics{
		db:     db,
		events: make(chan AnalyticsEvent, 1024),
		stop:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writer()
	return a
}

// Track enqueues an event for async persistence (non-blocking). data is
// marshalled to JSON when not nil.
func (a *Analytics) Track(evtType, userID, sessionID string, data interface{}) {
	if a == nil {
		return
	}
	var meta string
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			meta = string(b)
		}
	}
	select {
	case a.events <- AnalyticsEvent{
		Type:      evtType,
		UserID:    userID,
		SessionID: sessionID,
		Data:      meta,
		Timestamp: time.Now().UTC(),
	}:
	default:
		// Channel full, drop rather than stall a session
	}
}

// SetConcurrentPeers updates live connection count metric
func (a *Analytics) SetConcurrentPeers(n int) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.concurrentPeers = n
	a.mu.Unlock()
}

// SetActiveSessions updates live session count metric
func (a *Analytics) SetActiveSessions(n int) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.activeSessions = n
	a.mu.Unlock()
}

// SetQueuedPlayers updates the matchmaking queue length metric
func (a *Analytics) SetQueuedPlayers(n int) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.queuedPlayers = n
	a.mu.Unlock()
}

// LiveMetrics is a point-in-time view of server load
type LiveMetrics struct {
	Peers    int `json:"peers"`
	Sessions int `json:"sessions"`
	Queued   int `json:"queued"`
}

// GetLiveMetrics returns current live metrics
func (a *Analytics) GetLiveMetrics() LiveMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return LiveMetrics{Peers: a.concurrentPeers, Sessions: a.activeSessions, Queued: a.queuedPlayers}
}

// Stop gracefully shuts down the analytics writer
func (a *Analytics) Stop() {
	a.once.Do(func() { close(a.stop) })
	a.wg.Wait()
}

// writer is the background goroutine that batches and writes events to DB
func (a *Analytics) writer() {
	defer a.wg.Done()

	batch := make([]AnalyticsEvent, 0, 64)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt := <-a.events:
			batch = append(batch, evt)
			if len(batch) >= 50 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.stop:
			// Drain what is already buffered
		drain:
			for {
				select {
				case evt := <-a.events:
					batch = append(batch, evt)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				a.flush(batch)
			}
			return
		}
	}
}

// flush writes a batch of events to the database
func (a *Analytics) flush(events []AnalyticsEvent) {
	if a.db == nil || len(events) == 0 {
		return
	}
	tx, err := a.db.conn.Begin()
	if err != nil {
		log.Printf("analytics: begin tx error: %v", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO analytics_events (event_type, user_id, session_id, data, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		log.Printf("analytics: prepare error: %v", err)
		return
	}
	defer stmt.Close()

	for _, evt := range events {
		uid := sql.NullString{String: evt.UserID, Valid: evt.UserID != ""}
		sid := sql.NullString{String: evt.SessionID, Valid: evt.SessionID != ""}
		data := sql.NullString{String: evt.Data, Valid: evt.Data != ""}
		if _, err := stmt.Exec(evt.Type, uid, sid, data, evt.Timestamp.Format(time.RFC3339)); err != nil {
			log.Printf("analytics: insert error: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("analytics: commit error: %v", err)
	}
}

// --- Query methods for the API ---

// DAUCount returns number of distinct users active today
func (a *Analytics) DAUCount() (int, error) {
	if a.db == nil {
		return 0, nil
	}
	var count int
	err := a.db.conn.QueryRow(`
		SELECT COUNT(DISTINCT user_id) FROM analytics_events
		WHERE user_id IS NOT NULL AND created_at >= date('now')
	`).Scan(&count)
	return count, err
}

// EndReasonStats returns finished matches grouped by how they ended over
// the last N days
func (a *Analytics) EndReasonStats(days int) ([]MatchAnalytics, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT COALESCE(json_extract(data, '$.reason'), 'unknown') as reason, COUNT(*) as cnt,
			AVG(CAST(json_extract(data, '$.ticks') AS REAL)) as avg_ticks
		FROM analytics_events
		WHERE event_type = ? AND json_valid(data) AND created_at >= date('now', '-' || ? || ' days')
		GROUP BY reason
		ORDER BY cnt DESC
	`, TrackMatchEnd, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []MatchAnalytics
	for rows.Next() {
		var m MatchAnalytics
		var avg sql.NullFloat64
		if err := rows.Scan(&m.Reason, &m.Count, &avg); err != nil {
			continue
		}
		m.AvgTicks = avg.Float64
		result = append(result, m)
	}
	return result, rows.Err()
}

// EventCounts returns counts of each event type for the last N days
func (a *Analytics) EventCounts(days int) (map[string]int, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT event_type, COUNT(*) FROM analytics_events
		WHERE created_at >= date('now', '-' || ? || ' days')
		GROUP BY event_type ORDER BY COUNT(*) DESC
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var evtType string
		var count int
		if err := rows.Scan(&evtType, &count); err != nil {
			continue
		}
		result[evtType] = count
	}
	return result, rows.Err()
}

// PopularCards returns the most played cards
func (a *Analytics) PopularCards(limit int) ([]CardAnalytics, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT COALESCE(json_extract(data, '$.card'), 'unknown') as card, COUNT(*) as cnt
		FROM analytics_events
		WHERE event_type = ? AND json_valid(data)
		GROUP BY card ORDER BY cnt DESC LIMIT ?
	`, TrackCardPlayed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CardAnalytics
	for rows.Next() {
		var ca CardAnalytics
		if err := rows.Scan(&ca.CardID, &ca.Count); err != nil {
			continue
		}
		result = append(result, ca)
	}
	return result, rows.Err()
}

// MatchAnalytics holds aggregated match statistics
type MatchAnalytics struct {
	Reason   string  `json:"reason"`
	Count    int     `json:"count"`
	AvgTicks float64 `json:"avg_ticks"`
}

// CardAnalytics holds play count per card
type CardAnalytics struct {
	CardID string `json:"card_id"`
	Count  int    `json:"count"`
}
