package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/pkg/models"
)

const (
	ratingsCypher = `
		MATCH (u:User)-[r:RATED]->(i:Item)
		RETURN u.id AS user_id, i.id AS item_id, r.rating AS rating, r.timestamp AS timestamp
		ORDER BY r.timestamp`
	itemsCypher = `
		MATCH (i:Item)
		RETURN i.id AS item_id, i.name AS name, i.genres AS genres`
	mergeRatingCypher = `
		MERGE (u:User {id: $user_id})
		MERGE (i:Item {id: $item_id})
		MERGE (u)-[r:RATED]->(i)
		SET r.rating = $rating, r.timestamp = $timestamp`
)

// Neo4jLoader reads the rating graph (:User)-[:RATED {rating, timestamp}]->(:Item).
type Neo4jLoader struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *logrus.Logger

	once       sync.Once
	catalog    catalog
	catalogErr error
}

func NewNeo4jLoader(driver neo4j.DriverWithContext, database string, logger *logrus.Logger) *Neo4jLoader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Neo4jLoader{driver: driver, database: database, logger: logger}
}

func (l *Neo4jLoader) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return l.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: l.database})
}

func (l *Neo4jLoader) Records(ctx context.Context, fn func(models.RatingEvent) error) error {
	session := l.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, ratingsCypher, nil)
	if err != nil {
		return fmt.Errorf("failed to query rating graph: %w", err)
	}

	count := 0
	for result.Next(ctx) {
		event, err := ratingFromRecord(result.Record())
		if err != nil {
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
		count++
	}
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to iterate rating graph: %w", err)
	}

	l.logger.WithField("ratings", count).Debug("Neo4j ratings streamed")
	return nil
}

// PutRecord merges a RATED relationship, replacing any earlier rating.
func (l *Neo4jLoader) PutRecord(ctx context.Context, e models.RatingEvent) error {
	session := l.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.Run(ctx, mergeRatingCypher, map[string]interface{}{
		"user_id":   e.UserID,
		"item_id":   e.ItemID,
		"rating":    e.Rating,
		"timestamp": e.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to store rating: %w", err)
	}
	return nil
}

func (l *Neo4jLoader) ensureItems(ctx context.Context) error {
	l.once.Do(func() {
		session := l.session(ctx, neo4j.AccessModeRead)
		defer session.Close(ctx)

		result, err := session.Run(ctx, itemsCypher, nil)
		if err != nil {
			l.catalogErr = fmt.Errorf("failed to query items: %w", err)
			return
		}

		var items []models.Item
		for result.Next(ctx) {
			items = append(items, itemFromRecord(result.Record()))
		}
		if err := result.Err(); err != nil {
			l.catalogErr = fmt.Errorf("failed to iterate items: %w", err)
			return
		}
		l.catalog = newCatalog(items)
	})
	return l.catalogErr
}

func (l *Neo4jLoader) ItemDescription(itemID string) string {
	if err := l.ensureItems(context.Background()); err != nil {
		l.logger.WithError(err).Warn("Item catalog unavailable")
		return UnknownItem
	}
	return l.catalog.ItemDescription(itemID)
}

func (l *Neo4jLoader) ItemGenres(itemID string) []string {
	if err := l.ensureItems(context.Background()); err != nil {
		return []string{}
	}
	return l.catalog.ItemGenres(itemID)
}

func (l *Neo4jLoader) Items() []models.Item {
	if err := l.ensureItems(context.Background()); err != nil {
		l.logger.WithError(err).Warn("Item catalog unavailable")
		return []models.Item{}
	}
	return l.catalog.Items()
}

func ratingFromRecord(record *neo4j.Record) (models.RatingEvent, error) {
	userID, ok := record.Get("user_id")
	if !ok || userID == nil {
		return models.RatingEvent{}, fmt.Errorf("rating record without user_id")
	}
	itemID, ok := record.Get("item_id")
	if !ok || itemID == nil {
		return models.RatingEvent{}, fmt.Errorf("rating record without item_id")
	}
	rawRating, _ := record.Get("rating")
	rating, ok := toFloat(rawRating)
	if !ok {
		return models.RatingEvent{}, fmt.Errorf("rating record for %v/%v has invalid rating %v", userID, itemID, rawRating)
	}
	rawTimestamp, _ := record.Get("timestamp")
	timestamp, _ := toFloat(rawTimestamp)

	return models.RatingEvent{
		UserID:    fmt.Sprint(userID),
		ItemID:    fmt.Sprint(itemID),
		Rating:    rating,
		Timestamp: int64(timestamp),
	}, nil
}

func itemFromRecord(record *neo4j.Record) models.Item {
	item := models.Item{Genres: []string{}}
	if v, ok := record.Get("item_id"); ok && v != nil {
		item.ItemID = fmt.Sprint(v)
	}
	if v, ok := record.Get("name"); ok && v != nil {
		item.Name = fmt.Sprint(v)
	}
	if v, ok := record.Get("genres"); ok {
		switch genres := v.(type) {
		case []interface{}:
			for _, g := range genres {
				item.Genres = append(item.Genres, fmt.Sprint(g))
			}
		case string:
			if genres != "" {
				item.Genres = strings.Split(genres, ",")
			}
		}
	}
	return item
}

// toFloat accepts the numeric types the driver returns for properties.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
