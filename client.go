package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	id         string
	remoteAddr string
	msgCount   int
	msgResetAt time.Time

	// Identity, set once the token checks out
	mu     sync.RWMutex
	userID string
	name   string
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		id:         GenerateUUID(),
		remoteAddr: remoteAddr,
	}
}

// UserID returns the authenticated user, or ""
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) identity() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.name
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

func (c *Client) sendError(err error) {
	c.SendJSON(Envelope{T: EvtError, Data: ErrorMsg{Code: ErrorCode(err), Msg: err.Error()}})
}

func (c *Client) commandContext() (context.Context, context.CancelFunc) {
	return c.hub.commandContext()
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}

	if env.T == MsgAuth {
		c.handleAuth(env.D)
		return
	}
	if c.UserID() == "" {
		c.sendError(ErrUnauthenticated)
		return
	}

	switch env.T {
	case MsgList:
		c.handleList()
	case MsgQueue:
		c.handleQueue()
	case MsgDequeue:
		c.handleDequeue()
	case MsgSpawn:
		c.handleSpawn(env.D)
	case MsgLeave:
		c.handleLeave(env.D)
	case MsgRejoin:
		c.handleRejoin(env.D)
	}
}

func (c *Client) handleAuth(data json.RawMessage) {
	var msg AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	userID, name, err := c.hub.auth.ValidateToken(msg.Token)
	if err != nil {
		c.sendError(ErrUnauthenticated)
		return
	}
	c.mu.Lock()
	c.userID, c.name = userID, name
	c.mu.Unlock()
	c.hub.SetOnline(userID, c)

	c.SendJSON(Envelope{T: EvtAuthOK, Data: AuthOKMsg{
		UserID:       userID,
		Name:         name,
		ConnectionID: c.id,
		SessionID:    c.hub.sessions.SessionOf(userID),
	}})
}

func (c *Client) handleList() {
	c.SendJSON(Envelope{T: EvtSessions, Data: c.hub.sessions.ListSessions()})
}

func (c *Client) handleQueue() {
	userID, name := c.identity()
	ctx, cancel := c.commandContext()
	defer cancel()
	if err := c.hub.matchmaker.EnqueuePlayer(ctx, userID, name, c.id); err != nil {
		c.sendError(err)
		return
	}
	// Pairing may already have happened; match_found follows in that case.
	if c.hub.matchmaker.Queued(userID) {
		c.SendJSON(Envelope{T: EvtQueued})
	}
}

func (c *Client) handleDequeue() {
	c.hub.matchmaker.DequeuePlayer(c.UserID())
	c.SendJSON(Envelope{T: EvtDequeued})
}

// sessionFor resolves the session a command targets; an empty id means the
// caller's current session
func (c *Client) sessionFor(sessionID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	if sid := c.hub.sessions.SessionOf(c.UserID()); sid != "" {
		return sid, nil
	}
	return "", ErrSessionNotFound
}

func (c *Client) handleSpawn(data json.RawMessage) {
	var msg SpawnMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sid, err := c.sessionFor(msg.SessionID)
	if err != nil {
		c.sendError(err)
		return
	}
	ctx, cancel := c.commandContext()
	defer cancel()
	if _, _, err := c.hub.sessions.SpawnCard(ctx, sid, c.UserID(), msg.CardID, msg.X, msg.Y); err != nil {
		if !IsValidation(err) && !IsNotFound(err) && !errors.Is(err, ErrSessionEnded) {
			log.Printf("spawn %s in %s: %v", c.UserID(), sid, err)
		}
		c.sendError(err)
	}
}

func (c *Client) handleLeave(data json.RawMessage) {
	var msg SessionMsg
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
	}
	sid, err := c.sessionFor(msg.SessionID)
	if err != nil {
		c.sendError(err)
		return
	}
	ctx, cancel := c.commandContext()
	defer cancel()
	if err := c.hub.sessions.LeaveSession(ctx, sid, c.UserID()); err != nil {
		c.sendError(err)
	}
}

func (c *Client) handleRejoin(data json.RawMessage) {
	var msg SessionMsg
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
	}
	sid, err := c.sessionFor(msg.SessionID)
	if err != nil {
		c.sendError(err)
		return
	}
	ctx, cancel := c.commandContext()
	defer cancel()
	if err := c.hub.sessions.Reconnect(ctx, sid, c.UserID(), c.id); err != nil {
		c.sendError(err)
	}
}
