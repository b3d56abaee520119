package models

import "fmt"

// RatingEvent is one observed (user, item, rating, timestamp) tuple. It is
// treated as immutable once created.
type RatingEvent struct {
	UserID    string  `json:"user_id" db:"user_id"`
	ItemID    string  `json:"item_id" db:"item_id"`
	Rating    float64 `json:"rating" db:"rating"`
	Timestamp int64   `json:"timestamp" db:"timestamp"`
}

func (r RatingEvent) String() string {
	return fmt.Sprintf("User %s rated %s (%.1f)", r.UserID, r.ItemID, r.Rating)
}

type RateRequest struct {
	ItemID    string   `json:"item_id" validate:"required,max=64"`
	Rating    *float64 `json:"rating" validate:"required,min=0,max=10"`
	Timestamp int64    `json:"timestamp,omitempty" validate:"omitempty,min=0"`
}

type HistoryEntry struct {
	ItemID      string  `json:"item_id"`
	Description string  `json:"description"`
	Rating      float64 `json:"rating"`
	Timestamp   int64   `json:"timestamp"`
}

type HistoryResponse struct {
	UserID  string         `json:"user_id"`
	History []HistoryEntry `json:"history"`
}
