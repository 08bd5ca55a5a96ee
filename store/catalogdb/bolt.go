package catalogdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	cattery "github.com/meadowfold/cattery"
)

// BoltDB implements CatalogDB using bbolt.
type BoltDB struct {
	db     *bbolt.DB
	codec  *RecordCodec
	logger *slog.Logger
	now    func() time.Time
	noSync bool // disables fsync per transaction (for testing only)
}

// BoltDBOption configures a BoltDB instance.
type BoltDBOption func(*BoltDB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) BoltDBOption {
	return func(b *BoltDB) {
		b.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) BoltDBOption {
	return func(b *BoltDB) {
		b.now = now
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) BoltDBOption {
	return func(b *BoltDB) {
		b.noSync = noSync
	}
}

// NewBoltDB creates a new BoltDB instance with options.
func NewBoltDB(opts ...BoltDBOption) *BoltDB {
	b := &BoltDB{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the database at the given path.
func (b *BoltDB) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	if err := b.createBuckets(); err != nil {
		_ = db.Close()
		return err
	}

	codec, err := NewRecordCodec()
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("creating record codec: %w", err)
	}
	b.codec = codec

	b.logger.Debug("opened catalogdb", "path", path, "noSync", b.noSync)
	return nil
}

func (b *BoltDB) createBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			bucketCats,
			bucketLitters,
			bucketLitterNames,
			bucketPosts,
			bucketLitterWeeks,
			bucketWeeksByLitter,
			bucketAssets,
			bucketAssetsByRank,
			bucketSeq,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database and releases resources.
func (b *BoltDB) Close() error {
	if b.codec != nil {
		b.codec.Close()
		b.codec = nil
	}
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing catalogdb")
	return b.db.Close()
}

// putRecord JSON-encodes v, passes it through the codec and stores it.
func (b *BoltDB) putRecord(bucket *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	stored, err := b.codec.Encode(data)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return bucket.Put(key, stored)
}

// getRecord loads, decodes and unmarshals a stored record into v.
// Returns ErrNotFound if the key does not exist.
func (b *BoltDB) getRecord(bucket *bbolt.Bucket, key []byte, v any) error {
	val := bucket.Get(key)
	if val == nil {
		return ErrNotFound
	}
	return b.decodeRecord(val, v)
}

// decodeRecord decodes and unmarshals a stored value into v.
func (b *BoltDB) decodeRecord(val []byte, v any) error {
	data, err := b.codec.Decode(val)
	if err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return json.Unmarshal(data, v)
}

// nextSeq returns the next value of a named sequence.
func nextSeq(tx *bbolt.Tx, name string) (int64, error) {
	bucket := tx.Bucket(bucketSeq)
	if bucket == nil {
		return 0, fmt.Errorf("seq bucket not found")
	}
	var last int64
	if val := bucket.Get([]byte(name)); val != nil {
		last, _ = strconv.ParseInt(string(val), 10, 64)
	}
	next := last + 1
	if err := bucket.Put([]byte(name), []byte(strconv.FormatInt(next, 10))); err != nil {
		return 0, fmt.Errorf("advancing sequence %s: %w", name, err)
	}
	return next, nil
}

// ownerExistsInTx reports whether the owning entity exists.
func ownerExistsInTx(tx *bbolt.Tx, owner cattery.OwnerKey) bool {
	var bucket *bbolt.Bucket
	switch owner.Kind {
	case cattery.OwnerCat:
		bucket = tx.Bucket(bucketCats)
	case cattery.OwnerLitter:
		bucket = tx.Bucket(bucketLitters)
	case cattery.OwnerPost:
		bucket = tx.Bucket(bucketPosts)
	case cattery.OwnerLitterWeek:
		bucket = tx.Bucket(bucketLitterWeeks)
	default:
		return false
	}
	if bucket == nil {
		return false
	}
	return bucket.Get([]byte(owner.ID)) != nil
}

// Cats

// CreateCat stores a new cat. Returns ErrConflict if the slug is taken.
func (b *BoltDB) CreateCat(_ context.Context, c *Cat) error {
	if c.Slug == "" {
		return fmt.Errorf("cat slug is required")
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCats)
		if bucket.Get([]byte(c.Slug)) != nil {
			return ErrConflict
		}
		now := b.now()
		c.CreatedAt = now
		c.UpdatedAt = now
		return b.putRecord(bucket, []byte(c.Slug), c)
	})
}

// GetCat retrieves a cat by slug.
func (b *BoltDB) GetCat(_ context.Context, slug string) (*Cat, error) {
	var c Cat
	err := b.db.View(func(tx *bbolt.Tx) error {
		return b.getRecord(tx.Bucket(bucketCats), []byte(slug), &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCat rewrites an existing cat's fields. Returns ErrNotFound if the
// slug does not exist.
func (b *BoltDB) UpdateCat(_ context.Context, c *Cat) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCats)
		var existing Cat
		if err := b.getRecord(bucket, []byte(c.Slug), &existing); err != nil {
			return err
		}
		c.CreatedAt = existing.CreatedAt
		c.UpdatedAt = b.now()
		return b.putRecord(bucket, []byte(c.Slug), c)
	})
}

// DeleteCat removes a cat and its asset collection. The returned references
// are captured before the cascade so the caller can schedule object cleanup.
func (b *BoltDB) DeleteCat(_ context.Context, slug string) ([]cattery.AssetRef, error) {
	var removed []cattery.AssetRef
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCats)
		if bucket.Get([]byte(slug)) == nil {
			return ErrNotFound
		}
		var err error
		removed, err = b.deleteOwnerAssetsInTx(tx, cattery.NewOwnerKey(cattery.OwnerCat, slug))
		if err != nil {
			return err
		}
		return bucket.Delete([]byte(slug))
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ListCats returns all cats.
func (b *BoltDB) ListCats(_ context.Context) ([]*Cat, error) {
	var cats []*Cat
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCats).ForEach(func(_, v []byte) error {
			var c Cat
			if err := b.decodeRecord(v, &c); err != nil {
				return err
			}
			cats = append(cats, &c)
			return nil
		})
	})
	return cats, err
}

// Litters

// CreateLitter stores a new litter, assigning its id. Returns ErrConflict if
// the name is already taken.
func (b *BoltDB) CreateLitter(_ context.Context, l *Litter) error {
	if l.Name == "" {
		return fmt.Errorf("litter name is required")
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(bucketLitterNames)
		if names.Get([]byte(l.Name)) != nil {
			return ErrConflict
		}
		id, err := nextSeq(tx, "litter")
		if err != nil {
			return err
		}
		l.ID = id
		now := b.now()
		l.CreatedAt = now
		l.UpdatedAt = now
		if err := b.putRecord(tx.Bucket(bucketLitters), idKey(id), l); err != nil {
			return err
		}
		return names.Put([]byte(l.Name), idKey(id))
	})
}

// GetLitter retrieves a litter by id.
func (b *BoltDB) GetLitter(_ context.Context, id int64) (*Litter, error) {
	var l Litter
	err := b.db.View(func(tx *bbolt.Tx) error {
		return b.getRecord(tx.Bucket(bucketLitters), idKey(id), &l)
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// UpdateLitter rewrites an existing litter's fields, keeping the name
// uniqueness index in step. Returns ErrConflict if a rename collides.
func (b *BoltDB) UpdateLitter(_ context.Context, l *Litter) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketLitters)
		var existing Litter
		if err := b.getRecord(bucket, idKey(l.ID), &existing); err != nil {
			return err
		}
		if l.Name != existing.Name {
			names := tx.Bucket(bucketLitterNames)
			if names.Get([]byte(l.Name)) != nil {
				return ErrConflict
			}
			if err := names.Delete([]byte(existing.Name)); err != nil {
				return fmt.Errorf("deleting name index: %w", err)
			}
			if err := names.Put([]byte(l.Name), idKey(l.ID)); err != nil {
				return fmt.Errorf("putting name index: %w", err)
			}
		}
		l.CreatedAt = existing.CreatedAt
		l.UpdatedAt = b.now()
		return b.putRecord(bucket, idKey(l.ID), l)
	})
}

// DeleteLitter removes a litter, its picture weeks, and every asset owned by
// the litter or one of its weeks, returning the cascaded asset references.
func (b *BoltDB) DeleteLitter(_ context.Context, id int64) ([]cattery.AssetRef, error) {
	var removed []cattery.AssetRef
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketLitters)
		var l Litter
		if err := b.getRecord(bucket, idKey(id), &l); err != nil {
			return err
		}

		// Cascade picture weeks first, collecting their assets.
		weekIDs, err := b.weekIDsInTx(tx, id)
		if err != nil {
			return err
		}
		for _, weekID := range weekIDs {
			refs, err := b.deleteLitterWeekInTx(tx, id, weekID)
			if err != nil {
				return err
			}
			removed = append(removed, refs...)
		}

		refs, err := b.deleteOwnerAssetsInTx(tx, cattery.NewOwnerKey(cattery.OwnerLitter, strconv.FormatInt(id, 10)))
		if err != nil {
			return err
		}
		removed = append(removed, refs...)

		if err := tx.Bucket(bucketLitterNames).Delete([]byte(l.Name)); err != nil {
			return fmt.Errorf("deleting name index: %w", err)
		}
		return bucket.Delete(idKey(id))
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ListLitters returns all litters.
func (b *BoltDB) ListLitters(_ context.Context) ([]*Litter, error) {
	var litters []*Litter
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLitters).ForEach(func(_, v []byte) error {
			var l Litter
			if err := b.decodeRecord(v, &l); err != nil {
				return err
			}
			litters = append(litters, &l)
			return nil
		})
	})
	return litters, err
}

// Blog posts

// CreatePost stores a new blog post. Returns ErrConflict if the slug is taken.
func (b *BoltDB) CreatePost(_ context.Context, p *BlogPost) error {
	if p.Slug == "" {
		return fmt.Errorf("post slug is required")
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPosts)
		if bucket.Get([]byte(p.Slug)) != nil {
			return ErrConflict
		}
		now := b.now()
		p.CreatedAt = now
		p.UpdatedAt = now
		return b.putRecord(bucket, []byte(p.Slug), p)
	})
}

// GetPost retrieves a blog post by slug.
func (b *BoltDB) GetPost(_ context.Context, slug string) (*BlogPost, error) {
	var p BlogPost
	err := b.db.View(func(tx *bbolt.Tx) error {
		return b.getRecord(tx.Bucket(bucketPosts), []byte(slug), &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePost rewrites an existing blog post's fields.
func (b *BoltDB) UpdatePost(_ context.Context, p *BlogPost) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPosts)
		var existing BlogPost
		if err := b.getRecord(bucket, []byte(p.Slug), &existing); err != nil {
			return err
		}
		p.CreatedAt = existing.CreatedAt
		p.UpdatedAt = b.now()
		return b.putRecord(bucket, []byte(p.Slug), p)
	})
}

// DeletePost removes a blog post and its asset collection.
func (b *BoltDB) DeletePost(_ context.Context, slug string) ([]cattery.AssetRef, error) {
	var removed []cattery.AssetRef
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPosts)
		if bucket.Get([]byte(slug)) == nil {
			return ErrNotFound
		}
		var err error
		removed, err = b.deleteOwnerAssetsInTx(tx, cattery.NewOwnerKey(cattery.OwnerPost, slug))
		if err != nil {
			return err
		}
		return bucket.Delete([]byte(slug))
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ListPosts returns all blog posts.
func (b *BoltDB) ListPosts(_ context.Context) ([]*BlogPost, error) {
	var posts []*BlogPost
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPosts).ForEach(func(_, v []byte) error {
			var p BlogPost
			if err := b.decodeRecord(v, &p); err != nil {
				return err
			}
			posts = append(posts, &p)
			return nil
		})
	})
	return posts, err
}

// Litter picture weeks

// CreateLitterWeek stores a new picture week, assigning its id. Returns
// ErrNotFound if the parent litter does not exist.
func (b *BoltDB) CreateLitterWeek(_ context.Context, w *LitterWeek) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketLitters).Get(idKey(w.LitterID)) == nil {
			return ErrNotFound
		}
		id, err := nextSeq(tx, "litterweek")
		if err != nil {
			return err
		}
		w.ID = id
		now := b.now()
		w.CreatedAt = now
		w.UpdatedAt = now
		if err := b.putRecord(tx.Bucket(bucketLitterWeeks), idKey(id), w); err != nil {
			return err
		}
		return tx.Bucket(bucketWeeksByLitter).Put(makeWeekIndexKey(w.LitterID, id), idKey(id))
	})
}

// GetLitterWeek retrieves a picture week by id.
func (b *BoltDB) GetLitterWeek(_ context.Context, id int64) (*LitterWeek, error) {
	var w LitterWeek
	err := b.db.View(func(tx *bbolt.Tx) error {
		return b.getRecord(tx.Bucket(bucketLitterWeeks), idKey(id), &w)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// UpdateLitterWeek rewrites an existing picture week's fields. The parent
// litter cannot change.
func (b *BoltDB) UpdateLitterWeek(_ context.Context, w *LitterWeek) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketLitterWeeks)
		var existing LitterWeek
		if err := b.getRecord(bucket, idKey(w.ID), &existing); err != nil {
			return err
		}
		w.LitterID = existing.LitterID
		w.CreatedAt = existing.CreatedAt
		w.UpdatedAt = b.now()
		return b.putRecord(bucket, idKey(w.ID), w)
	})
}

// DeleteLitterWeek removes a picture week and its asset collection.
func (b *BoltDB) DeleteLitterWeek(_ context.Context, id int64) ([]cattery.AssetRef, error) {
	var removed []cattery.AssetRef
	err := b.db.Update(func(tx *bbolt.Tx) error {
		var w LitterWeek
		if err := b.getRecord(tx.Bucket(bucketLitterWeeks), idKey(id), &w); err != nil {
			return err
		}
		var err error
		removed, err = b.deleteLitterWeekInTx(tx, w.LitterID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// deleteLitterWeekInTx removes a week record, its index entry and its assets.
func (b *BoltDB) deleteLitterWeekInTx(tx *bbolt.Tx, litterID, weekID int64) ([]cattery.AssetRef, error) {
	removed, err := b.deleteOwnerAssetsInTx(tx, cattery.NewOwnerKey(cattery.OwnerLitterWeek, strconv.FormatInt(weekID, 10)))
	if err != nil {
		return nil, err
	}
	if err := tx.Bucket(bucketWeeksByLitter).Delete(makeWeekIndexKey(litterID, weekID)); err != nil {
		return nil, fmt.Errorf("deleting week index: %w", err)
	}
	if err := tx.Bucket(bucketLitterWeeks).Delete(idKey(weekID)); err != nil {
		return nil, fmt.Errorf("deleting week: %w", err)
	}
	return removed, nil
}

// weekIDsInTx returns the ids of a litter's picture weeks.
func (b *BoltDB) weekIDsInTx(tx *bbolt.Tx, litterID int64) ([]int64, error) {
	var ids []int64
	prefix := makeLitterPrefix(litterID)
	cursor := tx.Bucket(bucketWeeksByLitter).Cursor()
	for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
		id, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing week id %q: %w", v, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListLitterWeeks returns a litter's picture weeks.
func (b *BoltDB) ListLitterWeeks(_ context.Context, litterID int64) ([]*LitterWeek, error) {
	var weeks []*LitterWeek
	err := b.db.View(func(tx *bbolt.Tx) error {
		ids, err := b.weekIDsInTx(tx, litterID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var w LitterWeek
			if err := b.getRecord(tx.Bucket(bucketLitterWeeks), idKey(id), &w); err != nil {
				return err
			}
			weeks = append(weeks, &w)
		}
		return nil
	})
	return weeks, err
}

// Compile-time interface check
var _ CatalogDB = (*BoltDB)(nil)
