package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	jwtExpiry       = 7 * 24 * time.Hour // 7 days
	minNameLen      = 2
	maxNameLen      = 16
	guestRateWindow = 60 * time.Second
	maxGuestPerIP   = 10
)

// Claims identify the user behind a connection. Subject holds the user id.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Auth issues and checks bearer tokens
type Auth struct {
	db        *DB
	jwtSecret []byte

	// Rate limiting for guest sign-ups (IP -> attempts)
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAuth creates a new Auth handler. A non-empty secret wins over the one
// stored in the database.
func NewAuth(db *DB, secret string) *Auth {
	key := []byte(secret)
	if secret == "" {
		key = loadOrCreateSecret(db)
	}
	return &Auth{
		db:        db,
		jwtSecret: key,
		rateMap:   make(map[string]*rateEntry),
	}
}

// loadOrCreateSecret loads the JWT secret from the database, or generates
// and persists a new one if none exists.
func loadOrCreateSecret(db *DB) []byte {
	if db != nil {
		if h := db.GetSetting("jwt_secret"); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting("jwt_secret", hex.EncodeToString(secret)); err != nil {
			log.Printf("warning: could not persist JWT secret: %v", err)
		}
	}
	return secret
}

// Guest creates a guest identity and returns (userID, name, token)
func (a *Auth) Guest(name, ip string) (string, string, string, error) {
	if !a.checkRate(ip) {
		return "", "", "", fmt.Errorf("too many sign-ups, try again later")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = GenerateGuestName()
	}
	if len(name) < minNameLen || len(name) > maxNameLen {
		return "", "", "", fmt.Errorf("name must be %d-%d characters", minNameLen, maxNameLen)
	}

	id := GenerateUUID()
	if a.db != nil {
		if err := a.db.CreateGuest(id, name); err != nil {
			log.Printf("create guest: %v", err)
			return "", "", "", fmt.Errorf("failed to create guest")
		}
	}
	token, err := a.IssueToken(id, name)
	if err != nil {
		return "", "", "", fmt.Errorf("internal error")
	}
	return id, name, token, nil
}

// IssueToken signs a token for a user
func (a *Auth) IssueToken(userID, name string) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtExpiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// ValidateToken validates a JWT and returns (userID, name, error)
func (a *Auth) ValidateToken(tokenStr string) (string, string, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%v: %w", err, ErrUnauthenticated)
	}
	if !token.Valid || claims.Subject == "" {
		return "", "", fmt.Errorf("invalid token: %w", ErrUnauthenticated)
	}
	return claims.Subject, claims.Name, nil
}

func (a *Auth) checkRate(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(guestRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxGuestPerIP
}

// GenerateGuestName creates a unique guest name like "Guest_a3f2"
func GenerateGuestName() string {
	return "Guest_" + GenerateID(3)
}
