package main

import (
	"context"
	"fmt"
)

// DeckSource supplies the deck a user brings into a match
type DeckSource interface {
	DeckFor(ctx context.Context, userID string) ([]PlayerCard, error)
}

// StarterDecks hands every user the configured starter cards at level 1,
// unless Saved holds a deck they built themselves.
type StarterDecks struct {
	Cards   []string
	MaxSize int
	MinSize int
	Catalog *Catalog
	Saved   *DB
}

func (s StarterDecks) DeckFor(ctx context.Context, userID string) ([]PlayerCard, error) {
	if s.Saved != nil {
		deck, err := s.Saved.GetPlayerDeck(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("deck for %s: %w", userID, err)
		}
		deck = s.trim(deck)
		if len(deck) >= s.MinSize && s.valid(deck) {
			return deck, nil
		}
	}

	deck := make([]PlayerCard, 0, len(s.Cards))
	for _, id := range s.Cards {
		deck = append(deck, PlayerCard{CardID: id, Level: 1, OwnerID: userID})
	}
	if len(deck) < s.MinSize {
		return nil, fmt.Errorf("starter deck has %d cards, need %d: %w", len(deck), s.MinSize, ErrCardNotFound)
	}
	return s.trim(deck), nil
}

// valid rejects saved decks that name cards the catalog no longer has
func (s StarterDecks) valid(deck []PlayerCard) bool {
	if s.Catalog == nil {
		return true
	}
	return ValidateDeck(s.Catalog, deck, s.MinSize, len(deck)) == nil
}

func (s StarterDecks) trim(deck []PlayerCard) []PlayerCard {
	if s.MaxSize > 0 && len(deck) > s.MaxSize {
		deck = deck[:s.MaxSize]
	}
	return deck
}

// ValidateDeck checks that every card exists and the size is within limits
func ValidateDeck(cat *Catalog, deck []PlayerCard, minSize, maxSize int) error {
	if len(deck) < minSize || len(deck) > maxSize {
		return fmt.Errorf("deck has %d cards, want %d to %d: %w", len(deck), minSize, maxSize, ErrInvalidCardType)
	}
	seen := make(map[string]bool, len(deck))
	for _, pc := range deck {
		if _, err := cat.Card(pc.CardID); err != nil {
			return err
		}
		if seen[pc.CardID] {
			return fmt.Errorf("card %q listed twice: %w", pc.CardID, ErrInvalidCardType)
		}
		seen[pc.CardID] = true
	}
	return nil
}
