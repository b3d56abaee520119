// Package loader reads rating events and item descriptions from the
// supported data sources.
package loader

import (
	"context"
	"sort"

	"github.com/temcen/recengine/pkg/models"
)

// UnknownItem is the description of an item missing from the catalog.
const UnknownItem = "Unknown"

// RecordSource produces rating events lazily.
type RecordSource interface {
	// Records calls fn for every rating event until fn returns an error.
	Records(ctx context.Context, fn func(models.RatingEvent) error) error
}

// Loader is a RecordSource that also resolves item ids to display text.
// Engines never read descriptions.
type Loader interface {
	RecordSource
	ItemDescription(itemID string) string
	ItemGenres(itemID string) []string
	Items() []models.Item
}

// catalog is the in-memory item table shared by the loaders.
type catalog struct {
	items map[string]models.Item
}

func newCatalog(items []models.Item) catalog {
	c := catalog{items: make(map[string]models.Item, len(items))}
	for _, item := range items {
		c.items[item.ItemID] = item
	}
	return c
}

func (c catalog) ItemDescription(itemID string) string {
	item, ok := c.items[itemID]
	if !ok {
		return UnknownItem
	}
	return item.String()
}

func (c catalog) ItemGenres(itemID string) []string {
	item, ok := c.items[itemID]
	if !ok {
		return []string{}
	}
	return item.Genres
}

// Items returns the catalog ordered by item id.
func (c catalog) Items() []models.Item {
	out := make([]models.Item, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// Collect drains a loader into a slice.
func Collect(ctx context.Context, l Loader) ([]models.RatingEvent, error) {
	var events []models.RatingEvent
	err := l.Records(ctx, func(e models.RatingEvent) error {
		events = append(events, e)
		return nil
	})
	return events, err
}
