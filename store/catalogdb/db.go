package catalogdb

import (
	"context"
	"errors"

	cattery "github.com/meadowfold/cattery"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("catalogdb: not found")

	// ErrConflict is returned when a create would violate a uniqueness
	// constraint (duplicate cat/post slug, duplicate litter name).
	ErrConflict = errors.New("catalogdb: conflict")

	// ErrInvalidReorder is returned when a reorder set is not exactly the
	// owner's current non-primary asset ids.
	ErrInvalidReorder = errors.New("catalogdb: invalid reorder set")
)

// CatalogDB is the storage port for the mutation pipeline. Every mutating
// operation runs as a single transaction; the store's single writer
// serializes rank assignment so no two assets of one owner ever share a rank.
type CatalogDB interface {
	// Lifecycle
	Open(path string) error
	Close() error

	// Cats
	CreateCat(ctx context.Context, c *Cat) error
	GetCat(ctx context.Context, slug string) (*Cat, error)
	UpdateCat(ctx context.Context, c *Cat) error
	// DeleteCat removes the cat and cascades its assets, returning the
	// asset references captured before the cascade.
	DeleteCat(ctx context.Context, slug string) ([]cattery.AssetRef, error)
	ListCats(ctx context.Context) ([]*Cat, error)

	// Litters
	CreateLitter(ctx context.Context, l *Litter) error
	GetLitter(ctx context.Context, id int64) (*Litter, error)
	UpdateLitter(ctx context.Context, l *Litter) error
	// DeleteLitter cascades the litter's weeks and every asset owned by
	// the litter or one of its weeks.
	DeleteLitter(ctx context.Context, id int64) ([]cattery.AssetRef, error)
	ListLitters(ctx context.Context) ([]*Litter, error)

	// Blog posts
	CreatePost(ctx context.Context, p *BlogPost) error
	GetPost(ctx context.Context, slug string) (*BlogPost, error)
	UpdatePost(ctx context.Context, p *BlogPost) error
	DeletePost(ctx context.Context, slug string) ([]cattery.AssetRef, error)
	ListPosts(ctx context.Context) ([]*BlogPost, error)

	// Litter picture weeks
	CreateLitterWeek(ctx context.Context, w *LitterWeek) error
	GetLitterWeek(ctx context.Context, id int64) (*LitterWeek, error)
	UpdateLitterWeek(ctx context.Context, w *LitterWeek) error
	DeleteLitterWeek(ctx context.Context, id int64) ([]cattery.AssetRef, error)
	ListLitterWeeks(ctx context.Context, litterID int64) ([]*LitterWeek, error)

	// Ordered asset collections
	AppendAsset(ctx context.Context, owner cattery.OwnerKey, src string, width, height int, placeholder string) (cattery.AssetRef, error)
	ReorderAssets(ctx context.Context, owner cattery.OwnerKey, orderedIDs []string) error
	RemoveAsset(ctx context.Context, owner cattery.OwnerKey, assetID string) (cattery.AssetRef, error)
	ListAssets(ctx context.Context, owner cattery.OwnerKey) ([]cattery.AssetRef, error)
}

// New creates a new CatalogDB backed by bbolt.
func New() CatalogDB {
	return NewBoltDB()
}
