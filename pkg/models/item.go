package models

import (
	"fmt"
	"strings"
)

// Item is the descriptive record of a catalog entry. Algorithms never read it.
type Item struct {
	ItemID string   `json:"item_id" db:"item_id"`
	Name   string   `json:"name" db:"name"`
	Genres []string `json:"genres" db:"genres"`
}

func (i Item) String() string {
	return fmt.Sprintf("Movie #%s: %s (genres: %s)", i.ItemID, i.Name, strings.Join(i.Genres, ","))
}
