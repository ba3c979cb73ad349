// Package models defines the core domain entities: items, price observations, signals and decisions.
package models

import (
	"errors"
	"time"
)

// Item represents a single tradable card tracked on the marketplace.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Rating    int       `json:"rating"`
	RarityTag string    `json:"rarity,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks item field constraints.
func (i *Item) Validate() error {
	if i.ID == "" {
		return errors.New("item ID must not be empty")
	}
	if i.Name == "" {
		return errors.New("item name must not be empty")
	}
	if i.Rating < 0 || i.Rating > 99 {
		return errors.New("item rating must be between 0 and 99")
	}
	return nil
}

// PriceObservation is one scrape of the current BIN listings for an item.
// Prices are ascending; an empty list means the item has no active listings.
type PriceObservation struct {
	ItemID     string    `json:"item_id"`
	ObservedAt time.Time `json:"observed_at"`
	Prices     []int64   `json:"prices"`
}

// Extinct reports whether the observation saw zero listings.
func (o *PriceObservation) Extinct() bool {
	return len(o.Prices) == 0
}

// Validate checks observation field constraints.
func (o *PriceObservation) Validate() error {
	if o.ItemID == "" {
		return errors.New("observation item ID must not be empty")
	}
	for i, p := range o.Prices {
		if p <= 0 {
			return errors.New("observation prices must be positive")
		}
		if i > 0 && p < o.Prices[i-1] {
			return errors.New("observation prices must be sorted ascending")
		}
	}
	return nil
}
