package models

import "time"

type Recommendation struct {
	ItemID      string `json:"item_id"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

type RecommendationResponse struct {
	UserID          string           `json:"user_id"`
	Algorithm       string           `json:"algorithm"`
	Recommendations []Recommendation `json:"recommendations"`
	GeneratedAt     time.Time        `json:"generated_at"`
	CacheHit        bool             `json:"cache_hit"`
}

type PredictionResponse struct {
	UserID    string  `json:"user_id"`
	ItemID    string  `json:"item_id"`
	Rating    float64 `json:"rating"`
	Algorithm string  `json:"algorithm"`
}

type ItemSearchResponse struct {
	Query string `json:"query"`
	Items []Item `json:"items"`
}

type RebuildResponse struct {
	Algorithm  string        `json:"algorithm"`
	Users      int           `json:"users"`
	Items      int           `json:"items"`
	Duration   time.Duration `json:"duration_ns"`
	FinishedAt time.Time     `json:"finished_at"`
}
