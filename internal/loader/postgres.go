package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/pkg/models"
)

// DatabaseQuerier is the subset of *pgxpool.Pool the Postgres loader needs.
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	schemaItems = `CREATE TABLE IF NOT EXISTS items (
		item_id VARCHAR(16) PRIMARY KEY,
		name VARCHAR(256),
		genres VARCHAR(256)
	)`
	schemaRatings = `CREATE TABLE IF NOT EXISTS ratings (
		item_id VARCHAR(16),
		user_id VARCHAR(16),
		rating DOUBLE PRECISION,
		timestamp BIGINT,
		PRIMARY KEY (item_id, user_id)
	)`

	selectRatings = `SELECT item_id, user_id, rating, timestamp FROM ratings ORDER BY timestamp`
	selectItems   = `SELECT item_id, name, genres FROM items`

	insertItem   = `INSERT INTO items (item_id, name, genres) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	upsertRating = `INSERT INTO ratings (item_id, user_id, rating, timestamp) VALUES ($1, $2, $3, $4)
		ON CONFLICT (item_id, user_id) DO UPDATE SET rating = EXCLUDED.rating, timestamp = EXCLUDED.timestamp`

	// Column widths of the items table.
	maxNameLength   = 128
	maxGenresLength = 128

	defaultBatchSize = 10000
)

// PostgresLoader reads ratings and items from PostgreSQL and writes new
// ratings back. The item table is read lazily on first description lookup.
type PostgresLoader struct {
	db     DatabaseQuerier
	logger *logrus.Logger

	once       sync.Once
	catalog    catalog
	catalogErr error
}

func NewPostgresLoader(db DatabaseQuerier, logger *logrus.Logger) *PostgresLoader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PostgresLoader{db: db, logger: logger}
}

// InitSchema creates the items and ratings tables when missing.
func (l *PostgresLoader) InitSchema(ctx context.Context) error {
	for _, stmt := range []string{schemaItems, schemaRatings} {
		if _, err := l.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (l *PostgresLoader) Records(ctx context.Context, fn func(models.RatingEvent) error) error {
	rows, err := l.db.Query(ctx, selectRatings)
	if err != nil {
		return fmt.Errorf("failed to query ratings: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var e models.RatingEvent
		if err := rows.Scan(&e.ItemID, &e.UserID, &e.Rating, &e.Timestamp); err != nil {
			return fmt.Errorf("failed to scan rating: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate ratings: %w", err)
	}

	l.logger.WithField("ratings", count).Debug("Postgres ratings streamed")
	return nil
}

func (l *PostgresLoader) ensureItems(ctx context.Context) error {
	l.once.Do(func() {
		rows, err := l.db.Query(ctx, selectItems)
		if err != nil {
			l.catalogErr = fmt.Errorf("failed to query items: %w", err)
			return
		}
		defer rows.Close()

		var items []models.Item
		for rows.Next() {
			var item models.Item
			var genres string
			if err := rows.Scan(&item.ItemID, &item.Name, &genres); err != nil {
				l.catalogErr = fmt.Errorf("failed to scan item: %w", err)
				return
			}
			if genres != "" {
				item.Genres = strings.Split(genres, ",")
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			l.catalogErr = fmt.Errorf("failed to iterate items: %w", err)
			return
		}
		l.catalog = newCatalog(items)
	})
	return l.catalogErr
}

func (l *PostgresLoader) ItemDescription(itemID string) string {
	if err := l.ensureItems(context.Background()); err != nil {
		l.logger.WithError(err).Warn("Item catalog unavailable")
		return UnknownItem
	}
	return l.catalog.ItemDescription(itemID)
}

func (l *PostgresLoader) ItemGenres(itemID string) []string {
	if err := l.ensureItems(context.Background()); err != nil {
		return []string{}
	}
	return l.catalog.ItemGenres(itemID)
}

func (l *PostgresLoader) Items() []models.Item {
	if err := l.ensureItems(context.Background()); err != nil {
		l.logger.WithError(err).Warn("Item catalog unavailable")
		return []models.Item{}
	}
	return l.catalog.Items()
}

// ReplaceItems inserts items, keeping rows that already exist. Names and
// genre lists are truncated to the column widths.
func (l *PostgresLoader) ReplaceItems(ctx context.Context, items []models.Item) error {
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		for _, item := range items {
			name := truncate(item.Name, maxNameLength)
			genres := truncate(strings.Join(item.Genres, ","), maxGenresLength)
			if _, err := tx.Exec(ctx, insertItem, item.ItemID, name, genres); err != nil {
				return fmt.Errorf("failed to insert item %s: %w", item.ItemID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.WithField("items", len(items)).Info("Items written to Postgres")
	return nil
}

// ReplaceRatings upserts every event from src, committing every batchSize
// rows. batchSize <= 0 selects the default.
func (l *PostgresLoader) ReplaceRatings(ctx context.Context, src RecordSource, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var buffer []models.RatingEvent
	written := 0
	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if err := l.upsert(ctx, buffer); err != nil {
			return err
		}
		written += len(buffer)
		buffer = buffer[:0]
		return nil
	}

	err := src.Records(ctx, func(e models.RatingEvent) error {
		buffer = append(buffer, e)
		if len(buffer) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return written, err
	}
	if err := flush(); err != nil {
		return written, err
	}

	l.logger.WithField("ratings", written).Info("Ratings written to Postgres")
	return written, nil
}

func (l *PostgresLoader) upsert(ctx context.Context, events []models.RatingEvent) error {
	return l.inTx(ctx, func(tx pgx.Tx) error {
		for _, e := range events {
			if _, err := tx.Exec(ctx, upsertRating, e.ItemID, e.UserID, e.Rating, e.Timestamp); err != nil {
				return fmt.Errorf("failed to upsert rating: %w", err)
			}
		}
		return nil
	})
}

// inTx runs fn in a transaction, rolling back when fn fails.
func (l *PostgresLoader) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			l.logger.WithError(rbErr).Warn("Failed to roll back transaction")
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Import creates the schema, then copies the catalog and every rating of src
// into Postgres. It returns the number of ratings written.
func (l *PostgresLoader) Import(ctx context.Context, src Loader, batchSize int) (int, error) {
	if err := l.InitSchema(ctx); err != nil {
		return 0, err
	}
	if err := l.ReplaceItems(ctx, src.Items()); err != nil {
		return 0, err
	}
	return l.ReplaceRatings(ctx, src, batchSize)
}

// PutRecord upserts a single rating on (item_id, user_id).
func (l *PostgresLoader) PutRecord(ctx context.Context, e models.RatingEvent) error {
	if _, err := l.db.Exec(ctx, upsertRating, e.ItemID, e.UserID, e.Rating, e.Timestamp); err != nil {
		return fmt.Errorf("failed to store rating: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
