package main

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

// StatsResponse is served at /api/stats
type StatsResponse struct {
	Live     LiveMetrics      `json:"live"`
	Sessions []SessionInfo    `json:"sessions"`
	Events   map[string]int   `json:"events,omitempty"`
	Reasons  []MatchAnalytics `json:"end_reasons,omitempty"`
	Cards    []CardAnalytics  `json:"popular_cards,omitempty"`
	DAU      int              `json:"dau"`
}

// SetupRoutes configures HTTP routes
func SetupRoutes(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()

	// Guest sign-up: returns a bearer token for the websocket auth message
	mux.HandleFunc("POST /api/guest", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req)
		}
		id, name, token, err := hub.auth.Guest(req.Name, extractIP(r))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"userId": id, "name": name, "token": token})
	})

	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		resp := StatsResponse{
			Live:     hub.analytics.GetLiveMetrics(),
			Sessions: hub.sessions.ListSessions(),
		}
		if counts, err := hub.analytics.EventCounts(7); err == nil {
			resp.Events = counts
		}
		if reasons, err := hub.analytics.EndReasonStats(7); err == nil {
			resp.Reasons = reasons
		}
		if cards, err := hub.analytics.PopularCards(10); err == nil {
			resp.Cards = cards
		}
		if dau, err := hub.analytics.DAUCount(); err == nil {
			resp.DAU = dau
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		if hub.db == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no database"})
			return
		}
		userID, _, err := hub.auth.ValidateToken(bearerToken(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 100 {
			limit = 20
		}
		rows, err := hub.db.GetMatchHistory(userID, limit)
		if err != nil {
			log.Printf("match history for %s: %v", userID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
			return
		}
		writeJSON(w, http.StatusOK, rows)
	})

	// Saved deck of the caller; players without one get the starter cards
	mux.HandleFunc("GET /api/deck", func(w http.ResponseWriter, r *http.Request) {
		if hub.db == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no database"})
			return
		}
		userID, _, err := hub.auth.ValidateToken(bearerToken(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		deck, err := hub.db.GetPlayerDeck(r.Context(), userID)
		if err != nil {
			log.Printf("deck for %s: %v", userID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
			return
		}
		if deck == nil {
			deck = []PlayerCard{}
		}
		writeJSON(w, http.StatusOK, deck)
	})

	mux.HandleFunc("PUT /api/deck", func(w http.ResponseWriter, r *http.Request) {
		if hub.db == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no database"})
			return
		}
		userID, _, err := hub.auth.ValidateToken(bearerToken(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		player, err := hub.db.GetPlayerByID(userID)
		if err != nil || player == nil {
			writeJSON(w, http.StatusNotFound, ErrorMsg{Code: CodePlayerNotFound, Msg: ErrPlayerNotFound.Error()})
			return
		}

		var deck []PlayerCard
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&deck); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid deck"})
			return
		}
		for i := range deck {
			deck[i].OwnerID = userID
			if deck[i].Level < 1 {
				deck[i].Level = 1
			}
		}
		cfg := hub.sessions.cfg
		if err := ValidateDeck(hub.sessions.catalog, deck, cfg.HandSize+1, cfg.MaxDeckSize); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorMsg{Code: ErrorCode(err), Msg: err.Error()})
			return
		}
		if err := hub.db.SetPlayerDeck(r.Context(), userID, deck); err != nil {
			log.Printf("save deck for %s: %v", userID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
			return
		}
		writeJSON(w, http.StatusOK, deck)
	})

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade error: %v", err)
			return
		}

		hub.TrackConnect(ip)

		client := NewClient(hub, conn, ip)
		hub.Register(client)

		go client.WritePump()
		go client.ReadPump()
	})

	return mux
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("token")
}
