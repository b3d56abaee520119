package loader

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/recengine/pkg/models"
)

func TestRatingFromRecord(t *testing.T) {
	keys := []string{"user_id", "item_id", "rating", "timestamp"}

	tests := []struct {
		name    string
		values  []any
		want    models.RatingEvent
		wantErr bool
	}{
		{
			name:   "string ids and float rating",
			values: []any{"u1", "i1", 4.5, int64(100)},
			want:   models.RatingEvent{UserID: "u1", ItemID: "i1", Rating: 4.5, Timestamp: 100},
		},
		{
			name:   "integer ids and rating",
			values: []any{int64(7), int64(42), int64(3), int64(5)},
			want:   models.RatingEvent{UserID: "7", ItemID: "42", Rating: 3, Timestamp: 5},
		},
		{
			name:   "missing timestamp",
			values: []any{"u1", "i1", 2.0, nil},
			want:   models.RatingEvent{UserID: "u1", ItemID: "i1", Rating: 2},
		},
		{
			name:    "missing user",
			values:  []any{nil, "i1", 2.0, int64(1)},
			wantErr: true,
		},
		{
			name:    "non-numeric rating",
			values:  []any{"u1", "i1", "five", int64(1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ratingFromRecord(&neo4j.Record{Keys: keys, Values: tt.values})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestItemFromRecord(t *testing.T) {
	keys := []string{"item_id", "name", "genres"}

	item := itemFromRecord(&neo4j.Record{Keys: keys, Values: []any{"i1", "Heat", []any{"Action", "Crime"}}})
	assert.Equal(t, models.Item{ItemID: "i1", Name: "Heat", Genres: []string{"Action", "Crime"}}, item)

	item = itemFromRecord(&neo4j.Record{Keys: keys, Values: []any{"i2", "Clue", "Comedy,Mystery"}})
	assert.Equal(t, []string{"Comedy", "Mystery"}, item.Genres)

	item = itemFromRecord(&neo4j.Record{Keys: keys, Values: []any{"i3", nil, nil}})
	assert.Equal(t, "", item.Name)
	assert.Empty(t, item.Genres)
}
