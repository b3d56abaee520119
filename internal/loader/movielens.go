package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/pkg/models"
)

// MovieLensLoader reads the MovieLens CSV layout: ratings.csv with
// userId,movieId,rating,timestamp and movies.csv with movieId,title,genres
// (genres separated by "|"). Ratings are streamed from disk on every Records
// call; movies are loaded once.
type MovieLensLoader struct {
	catalog
	dir    string
	limit  int
	logger *logrus.Logger
}

// NewMovieLensLoader loads movies.csv from dir. limit caps the number of
// ratings read; 0 means no cap.
func NewMovieLensLoader(dir string, limit int, logger *logrus.Logger) (*MovieLensLoader, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	items, err := readMovies(filepath.Join(dir, "movies.csv"))
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"dir":   dir,
		"items": len(items),
	}).Info("MovieLens catalog loaded")

	return &MovieLensLoader{
		catalog: newCatalog(items),
		dir:     dir,
		limit:   limit,
		logger:  logger,
	}, nil
}

func (l *MovieLensLoader) Records(ctx context.Context, fn func(models.RatingEvent) error) error {
	path := filepath.Join(l.dir, "ratings.csv")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open ratings: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	columns, err := header(r, path, "userId", "movieId", "rating", "timestamp")
	if err != nil {
		return err
	}

	read := 0
	for l.limit <= 0 || read < l.limit {
		if read%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		event, err := parseRating(row, columns)
		if err != nil {
			line, _ := r.FieldPos(0)
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if err := fn(event); err != nil {
			return err
		}
		read++
	}

	l.logger.WithField("ratings", read).Debug("MovieLens ratings streamed")
	return nil
}

func parseRating(row []string, columns map[string]int) (models.RatingEvent, error) {
	rating, err := strconv.ParseFloat(row[columns["rating"]], 64)
	if err != nil {
		return models.RatingEvent{}, fmt.Errorf("invalid rating: %w", err)
	}
	timestamp, err := strconv.ParseInt(row[columns["timestamp"]], 10, 64)
	if err != nil {
		return models.RatingEvent{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	return models.RatingEvent{
		UserID:    row[columns["userId"]],
		ItemID:    row[columns["movieId"]],
		Rating:    rating,
		Timestamp: timestamp,
	}, nil
}

func readMovies(path string) ([]models.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open movies: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	columns, err := header(r, path, "movieId", "title", "genres")
	if err != nil {
		return nil, err
	}

	var items []models.Item
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		items = append(items, models.Item{
			ItemID: row[columns["movieId"]],
			Name:   row[columns["title"]],
			Genres: strings.Split(row[columns["genres"]], "|"),
		})
	}
	return items, nil
}

// header reads the first row and maps the required column names to indices.
func header(r *csv.Reader, path string, required ...string) (map[string]int, error) {
	row, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	columns := make(map[string]int, len(row))
	for i, name := range row {
		columns[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, name)
		}
	}
	return columns, nil
}
