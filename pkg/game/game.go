// Package game defines the review record returned by the aggregator.
package game

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
)

// Game is a single reviewed game. Records are treated as immutable once received.
type Game struct {
	// Slug uniquely identifies the game and is the deduplication key.
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Image       string `json:"image"`
	Score       Score  `json:"score"`
	Description string `json:"description"`
	// ReleaseDate is passed through as the aggregator formats it.
	ReleaseDate string `json:"releaseDate"`
}

// Score is a critic score. The aggregator sends either a number or a
// placeholder string such as "tbd".
type Score struct {
	Text  string
	Value float64
	Valid bool
}

// NewScore builds a numeric score.
func NewScore(v float64) Score {
	return Score{Text: strconv.FormatFloat(v, 'f', -1, 64), Value: v, Valid: true}
}

// String returns the score as displayed.
func (s Score) String() string {
	if s.Text == "" {
		return "tbd"
	}
	return s.Text
}

// MarshalJSON writes numeric scores as numbers and everything else as strings.
func (s Score) MarshalJSON() ([]byte, error) {
	if s.Valid {
		return []byte(strconv.FormatFloat(s.Value, 'f', -1, 64)), nil
	}
	if s.Text == "" {
		return []byte("null"), nil
	}
	return json.Marshal(s.Text)
}

// UnmarshalJSON accepts a number, a string or null.
func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Score{}
		return nil
	}

	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("decode score: %w", err)
		}
		text = strings.TrimSpace(text)
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			*s = Score{Text: text, Value: v, Valid: true}
			return nil
		}
		*s = Score{Text: text}
		return nil
	}

	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("decode score: %w", err)
	}
	*s = NewScore(v)
	return nil
}

// Normalize fills in a missing slug from the title.
// It returns false when the record has neither and cannot be deduplicated.
func Normalize(g Game) (Game, bool) {
	g.Slug = strings.TrimSpace(g.Slug)
	if g.Slug == "" {
		if strings.TrimSpace(g.Title) == "" {
			return g, false
		}
		g.Slug = slug.Make(g.Title)
	}
	return g, g.Slug != ""
}
