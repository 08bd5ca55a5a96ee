// Package catalogdb provides transactional record storage for the cattery
// catalog: entities and their ordered image collections, backed by bbolt.
package catalogdb

import "time"

// Cat is a cat profile, keyed by slug.
type Cat struct {
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Breed       string    `json:"breed,omitempty"`
	Description string    `json:"description,omitempty"`
	BirthDate   string    `json:"birth_date,omitempty"`
	Retired     bool      `json:"retired,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Litter is a litter of kittens, keyed by a store-assigned numeric id.
// Litter names are unique across the catalog.
type Litter struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DamSlug     string    `json:"dam_slug,omitempty"`
	SireName    string    `json:"sire_name,omitempty"`
	Description string    `json:"description,omitempty"`
	BornAt      string    `json:"born_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BlogPost is a blog entry, keyed by slug. Tags feed the stale-path
// computation on update.
type BlogPost struct {
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Published bool      `json:"published,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LitterWeek is one week of kitten pictures for a litter, keyed by a
// store-assigned numeric id.
type LitterWeek struct {
	ID        int64     `json:"id"`
	LitterID  int64     `json:"litter_id"`
	Week      int       `json:"week"`
	Caption   string    `json:"caption,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
