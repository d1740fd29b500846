package main

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// QueueEntry is a player waiting for an opponent
type QueueEntry struct {
	UserID       string
	Name         string
	ConnectionID string
	EnqueuedAt   time.Time
}

// SessionCreator turns a pair of queued players into a running session
type SessionCreator interface {
	CreateSession(ctx context.Context, a, b QueueEntry) (*Session, error)
	InSession(userID string) bool
}

// Matchmaker pairs waiting players first come, first served
type Matchmaker struct {
	mu      sync.Mutex
	queue   *list.List               // of QueueEntry, oldest first
	index   map[string]*list.Element // userID -> element
	pairing sync.Mutex               // one pairing pass at a time

	sessions  SessionCreator
	notifier  Notifier
	analytics *Analytics
	retry     time.Duration
	timeout   time.Duration

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewMatchmaker creates a Matchmaker. retry is how often a stalled queue
// is retried in the background; zero disables the loop.
func NewMatchmaker(sessions SessionCreator, notifier Notifier, analytics *Analytics, retry, timeout time.Duration) *Matchmaker {
	return &Matchmaker{
		queue:     list.New(),
		index:     make(map[string]*list.Element),
		sessions:  sessions,
		notifier:  notifier,
		analytics: analytics,
		retry:     retry,
		timeout:   timeout,
		stop:      make(chan struct{}),
	}
}

// EnqueuePlayer adds a user to the back of the queue and tries to pair
func (m *Matchmaker) EnqueuePlayer(ctx context.Context, userID, name, connectionID string) error {
	if m.sessions.InSession(userID) {
		return fmt.Errorf("user %s: %w", userID, ErrAlreadyInSession)
	}

	m.mu.Lock()
	if _, ok := m.index[userID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("user %s: %w", userID, ErrAlreadyInQueue)
	}
	m.index[userID] = m.queue.PushBack(QueueEntry{
		UserID:       userID,
		Name:         name,
		ConnectionID: connectionID,
		EnqueuedAt:   time.Now(),
	})
	n := m.queue.Len()
	m.mu.Unlock()

	m.analytics.SetQueuedPlayers(n)
	m.analytics.Track(TrackQueued, userID, "", nil)
	m.Pair(ctx)
	return nil
}

// DequeuePlayer removes a waiting user. Unknown users are ignored.
func (m *Matchmaker) DequeuePlayer(userID string) bool {
	m.mu.Lock()
	el, ok := m.index[userID]
	if ok {
		m.queue.Remove(el)
		delete(m.index, userID)
	}
	n := m.queue.Len()
	m.mu.Unlock()

	m.analytics.SetQueuedPlayers(n)
	return ok
}

// Len returns the number of waiting players
func (m *Matchmaker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// Queued reports whether a user is waiting
func (m *Matchmaker) Queued(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.index[userID]
	return ok
}

// popPair removes the two oldest entries, or reports false
func (m *Matchmaker) popPair() (QueueEntry, QueueEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queue.Len() < 2 {
		return QueueEntry{}, QueueEntry{}, false
	}
	a := m.queue.Remove(m.queue.Front()).(QueueEntry)
	b := m.queue.Remove(m.queue.Front()).(QueueEntry)
	delete(m.index, a.UserID)
	delete(m.index, b.UserID)
	return a, b, true
}

// requeue puts entries back at the head in their original order
func (m *Matchmaker) requeue(entries ...QueueEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if _, ok := m.index[e.UserID]; ok {
			continue
		}
		m.index[e.UserID] = m.queue.PushFront(e)
	}
}

// Pair creates sessions while at least two players wait. An entry is in
// either the queue or a pair being created, never both, so nobody is paired
// twice.
func (m *Matchmaker) Pair(ctx context.Context) int {
	m.pairing.Lock()
	defer m.pairing.Unlock()

	created := 0
	for {
		a, b, ok := m.popPair()
		if !ok {
			break
		}

		cctx, cancel := m.createContext(ctx)
		sess, err := m.sessions.CreateSession(cctx, a, b)
		cancel()
		if err != nil {
			if errors.Is(err, ErrAlreadyInSession) {
				// Whoever is already playing drops out of the queue.
				for _, e := range []QueueEntry{a, b} {
					if !m.sessions.InSession(e.UserID) {
						m.requeue(e)
					}
				}
				continue
			}
			log.Printf("matchmaking: pair %s/%s: %v", a.UserID, b.UserID, err)
			m.requeue(a, b)
			break
		}

		created++
		m.notifyMatch(sess.ID, a, b, 0)
		m.notifyMatch(sess.ID, b, a, 1)
	}
	m.analytics.SetQueuedPlayers(m.Len())
	return created
}

func (m *Matchmaker) createContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *Matchmaker) notifyMatch(sessionID string, self, opponent QueueEntry, side int) {
	if m.notifier == nil || self.ConnectionID == "" {
		return
	}
	m.notifier.NotifyClient(self.ConnectionID, EvtMatchFound, MatchFoundMsg{
		SessionID:  sessionID,
		OpponentID: opponent.UserID,
		Opponent:   opponent.Name,
		Side:       side,
	})
}

// Start runs the background retry loop
func (m *Matchmaker) Start() {
	if m.retry <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.retry)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Pair(context.Background())
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop ends the retry loop
func (m *Matchmaker) Stop() {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
}
