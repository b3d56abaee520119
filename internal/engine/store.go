package engine

import "github.com/temcen/recengine/pkg/models"

// RatingStore keeps per-user and per-item rating histories. Every event is
// stored once and referenced from both histories. Ids are additionally kept
// in first-seen order so that index assignment never depends on map
// iteration.
type RatingStore struct {
	userHistories map[string][]*models.RatingEvent
	itemHistories map[string][]*models.RatingEvent
	userOrder     []string
	itemOrder     []string
	events        int
}

func NewRatingStore() *RatingStore {
	return &RatingStore{
		userHistories: make(map[string][]*models.RatingEvent),
		itemHistories: make(map[string][]*models.RatingEvent),
	}
}

// Add records one event in both histories.
func (s *RatingStore) Add(userID, itemID string, rating float64, timestamp int64) *models.RatingEvent {
	event := &models.RatingEvent{
		UserID:    userID,
		ItemID:    itemID,
		Rating:    rating,
		Timestamp: timestamp,
	}

	if _, ok := s.userHistories[userID]; !ok {
		s.userOrder = append(s.userOrder, userID)
	}
	if _, ok := s.itemHistories[itemID]; !ok {
		s.itemOrder = append(s.itemOrder, itemID)
	}
	s.userHistories[userID] = append(s.userHistories[userID], event)
	s.itemHistories[itemID] = append(s.itemHistories[itemID], event)
	s.events++

	return event
}

// UserHistory returns the user's events in insertion order. The slice must not
// be modified by the caller.
func (s *RatingStore) UserHistory(userID string) []*models.RatingEvent {
	return s.userHistories[userID]
}

func (s *RatingStore) ItemHistory(itemID string) []*models.RatingEvent {
	return s.itemHistories[itemID]
}

// Users returns user ids in first-seen order.
func (s *RatingStore) Users() []string { return s.userOrder }

// Items returns item ids in first-seen order.
func (s *RatingStore) Items() []string { return s.itemOrder }

func (s *RatingStore) HasUser(userID string) bool {
	_, ok := s.userHistories[userID]
	return ok
}

func (s *RatingStore) HasItem(itemID string) bool {
	_, ok := s.itemHistories[itemID]
	return ok
}

func (s *RatingStore) NumUsers() int  { return len(s.userOrder) }
func (s *RatingStore) NumItems() int  { return len(s.itemOrder) }
func (s *RatingStore) NumEvents() int { return s.events }

// UserMean is the arithmetic mean of the user's ratings.
func (s *RatingStore) UserMean(userID string) (float64, bool) {
	return meanOf(s.userHistories[userID])
}

func (s *RatingStore) ItemMean(itemID string) (float64, bool) {
	return meanOf(s.itemHistories[itemID])
}

// LatestRating returns the most recently added rating the user gave the item.
func (s *RatingStore) LatestRating(userID, itemID string) (float64, bool) {
	history := s.userHistories[userID]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ItemID == itemID {
			return history[i].Rating, true
		}
	}
	return 0, false
}

// RatedItems returns the set of items the user has rated.
func (s *RatingStore) RatedItems(userID string) map[string]struct{} {
	history := s.userHistories[userID]
	seen := make(map[string]struct{}, len(history))
	for _, r := range history {
		seen[r.ItemID] = struct{}{}
	}
	return seen
}

// Snapshot copies a user's history out of the store.
func (s *RatingStore) Snapshot(userID string) []models.RatingEvent {
	history := s.userHistories[userID]
	out := make([]models.RatingEvent, len(history))
	for i, r := range history {
		out[i] = *r
	}
	return out
}

func meanOf(events []*models.RatingEvent) (float64, bool) {
	if len(events) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, r := range events {
		sum += r.Rating
	}
	return sum / float64(len(events)), true
}
