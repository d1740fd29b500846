package main

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
)

// Hub manages all connected clients. It is the transport side of the
// engine: it delivers session events to connections and keeps the
// per-session broadcast groups.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	conns      map[string]*Client         // connectionID -> client
	groups     map[string]map[string]bool // sessionID -> connectionIDs
	unregister chan *Client
	stop       chan struct{}
	once       sync.Once

	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int

	// Online users: userID -> *Client
	onlineMu    sync.RWMutex
	onlineUsers map[string]*Client

	db         *DB
	auth       *Auth
	analytics  *Analytics
	sessions   *SessionManager
	matchmaker *Matchmaker
	timeout    time.Duration
}

// NewHub creates a new Hub. Attach must be called before clients connect.
func NewHub(db *DB, auth *Auth, analytics *Analytics, timeout time.Duration) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		conns:       make(map[string]*Client),
		groups:      make(map[string]map[string]bool),
		unregister:  make(chan *Client, 64),
		stop:        make(chan struct{}),
		ipConns:     make(map[string]int),
		onlineUsers: make(map[string]*Client),
		db:          db,
		auth:        auth,
		analytics:   analytics,
		timeout:     timeout,
	}
}

// Attach wires the game services the clients talk to
func (h *Hub) Attach(sessions *SessionManager, matchmaker *Matchmaker) {
	h.sessions = sessions
	h.matchmaker = matchmaker
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	h.ipConns[ip]++
	h.totalConns++
	n := h.totalConns
	h.connMu.Unlock()
	h.analytics.SetConcurrentPeers(n)
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
	n := h.totalConns
	h.connMu.Unlock()
	h.analytics.SetConcurrentPeers(n)
}

// Register makes a new connection addressable before its pumps start
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	h.conns[client.id] = client
}

// Run processes unregister events
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				delete(h.conns, client.id)
				for _, members := range h.groups {
					delete(members, client.id)
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.dropClient(client)

		case <-h.stop:
			return
		}
	}
}

// Stop ends the Run loop
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.stop) })
}

// dropClient releases what a closed connection held: its queue slot and its
// seat's live connection. The seat itself survives.
func (h *Hub) dropClient(c *Client) {
	userID := c.UserID()
	if userID == "" {
		return
	}
	if h.GetOnlineClient(userID) == c {
		h.SetOffline(userID)
	}
	if h.matchmaker != nil {
		h.matchmaker.DequeuePlayer(userID)
	}
	if h.sessions == nil {
		return
	}
	sessionID := h.sessions.SessionOf(userID)
	if sessionID == "" {
		return
	}
	go func() {
		ctx, cancel := h.commandContext()
		defer cancel()
		if err := h.sessions.MarkDisconnected(ctx, sessionID, userID, c.id); err != nil {
			log.Printf("mark %s disconnected in %s: %v", userID, sessionID, err)
		}
	}()
}

// commandContext bounds one session command; a zero timeout means no limit
func (h *Hub) commandContext() (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), h.timeout)
}

// JoinGroup adds a connection to a session's broadcast group
func (h *Hub) JoinGroup(sessionID, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[sessionID]
	if !ok {
		members = make(map[string]bool)
		h.groups[sessionID] = members
	}
	members[connectionID] = true
}

// LeaveGroup removes a connection from a session's broadcast group
func (h *Hub) LeaveGroup(sessionID, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[sessionID]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(h.groups, sessionID)
	}
}

// NotifyGroup sends an event to every connection in a session's group
func (h *Hub) NotifyGroup(sessionID, event string, payload interface{}) {
	data, err := json.Marshal(Envelope{T: event, Data: payload})
	if err != nil {
		log.Printf("marshal %s: %v", event, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id := range h.groups[sessionID] {
		if c, ok := h.conns[id]; ok {
			c.SendRaw(data)
		}
	}
}

// NotifyClient sends an event to one connection
func (h *Hub) NotifyClient(connectionID, event string, payload interface{}) {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.SendJSON(Envelope{T: event, Data: payload})
}

// SetOnline marks an authenticated user as online and returns the client
// it replaced, if any
func (h *Hub) SetOnline(userID string, client *Client) *Client {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	prev := h.onlineUsers[userID]
	h.onlineUsers[userID] = client
	if prev == client {
		return nil
	}
	return prev
}

// SetOffline removes an authenticated user from online tracking
func (h *Hub) SetOffline(userID string) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	delete(h.onlineUsers, userID)
}

// GetOnlineClient returns the client for an online user
func (h *Hub) GetOnlineClient(userID string) *Client {
	h.onlineMu.RLock()
	defer h.onlineMu.RUnlock()
	return h.onlineUsers[userID]
}
