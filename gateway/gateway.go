package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/meadowfold/cattery"
	"github.com/meadowfold/cattery/store/catalogdb"
)

// Dispatcher receives the stale-path set produced by a committed
// mutation. Implementations must not block the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, req cattery.InvalidationRequest)
}

// Cleaner removes orphaned objects after their references are gone.
type Cleaner interface {
	Delete(ctx context.Context, keys []string)
}

// Option configures the gateway.
type Option func(*Gateway)

// WithLogger sets the logger used by the gateway.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithDimensionProber overrides the dimension prober.
func WithDimensionProber(prober DimensionProber) Option {
	return func(g *Gateway) {
		g.prober = prober
	}
}

// Gateway is the single entry point for catalog mutations. It commits
// the change, computes the stale-path set, and hands consistency work
// to the dispatcher and cleaner after the commit. Dispatch and cleanup
// failures never fail the mutation.
type Gateway struct {
	db         catalogdb.CatalogDB
	dispatcher Dispatcher
	cleaner    Cleaner
	prober     DimensionProber
	logger     *slog.Logger
}

// New creates a gateway over the supplied store and consistency agents.
func New(db catalogdb.CatalogDB, dispatcher Dispatcher, cleaner Cleaner, opts ...Option) *Gateway {
	g := &Gateway{
		db:         db,
		dispatcher: dispatcher,
		cleaner:    cleaner,
		prober:     NewHTTPDimensionProber(nil),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(g)
	}

	g.logger = g.logger.With("component", "gateway")

	return g
}

func (g *Gateway) invalidate(ctx context.Context, paths ...string) {
	req := cattery.NewInvalidationRequest(paths...)
	if req.Empty() {
		return
	}
	g.dispatcher.Dispatch(ctx, req)
}

func (g *Gateway) cleanupAssets(ctx context.Context, removed []cattery.AssetRef) {
	if len(removed) == 0 {
		return
	}

	keys := make([]string, 0, len(removed))
	for _, ref := range removed {
		key, err := cattery.ObjectKey(ref.Src)
		if err != nil {
			g.logger.Warn("skipping cleanup for unparseable asset source",
				"src", ref.Src, "error", err)
			continue
		}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return
	}

	// The mutation request may be cancelled the moment the response is
	// written. Cleanup must still run.
	g.cleaner.Delete(context.WithoutCancel(ctx), keys)
}

// CreateCat stores a new cat and invalidates its pages.
func (g *Gateway) CreateCat(ctx context.Context, cat *catalogdb.Cat) error {
	if err := g.db.CreateCat(ctx, cat); err != nil {
		return wrapStoreError("cat", err)
	}

	g.invalidate(ctx, catPaths(cat.Slug)...)

	return nil
}

// GetCat returns a cat by slug.
func (g *Gateway) GetCat(ctx context.Context, slug string) (*catalogdb.Cat, error) {
	cat, err := g.db.GetCat(ctx, slug)
	if err != nil {
		return nil, wrapStoreError("cat", err)
	}
	return cat, nil
}

// ListCats returns all cats.
func (g *Gateway) ListCats(ctx context.Context) ([]*catalogdb.Cat, error) {
	cats, err := g.db.ListCats(ctx)
	if err != nil {
		return nil, wrapStoreError("cats", err)
	}
	return cats, nil
}

// UpdateCat updates a cat and invalidates its pages.
func (g *Gateway) UpdateCat(ctx context.Context, cat *catalogdb.Cat) error {
	if err := g.db.UpdateCat(ctx, cat); err != nil {
		return wrapStoreError("cat", err)
	}

	g.invalidate(ctx, catPaths(cat.Slug)...)

	return nil
}

// DeleteCat removes a cat, schedules its gallery objects for deletion
// and invalidates its pages.
func (g *Gateway) DeleteCat(ctx context.Context, slug string) error {
	removed, err := g.db.DeleteCat(ctx, slug)
	if err != nil {
		return wrapStoreError("cat", err)
	}

	g.invalidate(ctx, catPaths(slug)...)
	g.cleanupAssets(ctx, removed)

	return nil
}

// CreateLitter stores a new litter and invalidates its pages.
func (g *Gateway) CreateLitter(ctx context.Context, litter *catalogdb.Litter) error {
	if err := g.db.CreateLitter(ctx, litter); err != nil {
		return wrapStoreError("litter", err)
	}

	g.invalidate(ctx, litterPaths(litter.ID)...)

	return nil
}

// GetLitter returns a litter by ID.
func (g *Gateway) GetLitter(ctx context.Context, id int64) (*catalogdb.Litter, error) {
	litter, err := g.db.GetLitter(ctx, id)
	if err != nil {
		return nil, wrapStoreError("litter", err)
	}
	return litter, nil
}

// ListLitters returns all litters.
func (g *Gateway) ListLitters(ctx context.Context) ([]*catalogdb.Litter, error) {
	litters, err := g.db.ListLitters(ctx)
	if err != nil {
		return nil, wrapStoreError("litters", err)
	}
	return litters, nil
}

// UpdateLitter updates a litter and invalidates its pages.
func (g *Gateway) UpdateLitter(ctx context.Context, litter *catalogdb.Litter) error {
	if err := g.db.UpdateLitter(ctx, litter); err != nil {
		return wrapStoreError("litter", err)
	}

	g.invalidate(ctx, litterPaths(litter.ID)...)

	return nil
}

// DeleteLitter removes a litter with its weeks, schedules all attached
// gallery objects for deletion and invalidates its pages.
func (g *Gateway) DeleteLitter(ctx context.Context, id int64) error {
	removed, err := g.db.DeleteLitter(ctx, id)
	if err != nil {
		return wrapStoreError("litter", err)
	}

	g.invalidate(ctx, litterPaths(id)...)
	g.cleanupAssets(ctx, removed)

	return nil
}

// CreatePost stores a new blog post and invalidates its pages,
// including a tag page per tag.
func (g *Gateway) CreatePost(ctx context.Context, post *catalogdb.BlogPost) error {
	if err := g.db.CreatePost(ctx, post); err != nil {
		return wrapStoreError("post", err)
	}

	g.invalidate(ctx, postPaths(post.Slug, post.Tags)...)

	return nil
}

// GetPost returns a blog post by slug.
func (g *Gateway) GetPost(ctx context.Context, slug string) (*catalogdb.BlogPost, error) {
	post, err := g.db.GetPost(ctx, slug)
	if err != nil {
		return nil, wrapStoreError("post", err)
	}
	return post, nil
}

// ListPosts returns all blog posts.
func (g *Gateway) ListPosts(ctx context.Context) ([]*catalogdb.BlogPost, error) {
	posts, err := g.db.ListPosts(ctx)
	if err != nil {
		return nil, wrapStoreError("posts", err)
	}
	return posts, nil
}

// UpdatePost updates a blog post. Tag pages for both the previous and
// the new tag set are invalidated so a removed tag's listing drops the
// post.
func (g *Gateway) UpdatePost(ctx context.Context, post *catalogdb.BlogPost) error {
	previous, err := g.db.GetPost(ctx, post.Slug)
	if err != nil {
		return wrapStoreError("post", err)
	}

	if err := g.db.UpdatePost(ctx, post); err != nil {
		return wrapStoreError("post", err)
	}

	tags := append(append([]string{}, previous.Tags...), post.Tags...)
	g.invalidate(ctx, postPaths(post.Slug, tags)...)

	return nil
}

// DeletePost removes a blog post, schedules its gallery objects for
// deletion and invalidates its pages.
func (g *Gateway) DeletePost(ctx context.Context, slug string) error {
	previous, err := g.db.GetPost(ctx, slug)
	if err != nil {
		return wrapStoreError("post", err)
	}

	removed, err := g.db.DeletePost(ctx, slug)
	if err != nil {
		return wrapStoreError("post", err)
	}

	g.invalidate(ctx, postPaths(slug, previous.Tags)...)
	g.cleanupAssets(ctx, removed)

	return nil
}

// CreateLitterWeek stores a weekly update and invalidates the parent
// litter page.
func (g *Gateway) CreateLitterWeek(ctx context.Context, week *catalogdb.LitterWeek) error {
	if err := g.db.CreateLitterWeek(ctx, week); err != nil {
		return wrapStoreError("litter week", err)
	}

	g.invalidate(ctx, litterWeekPaths(week.LitterID)...)

	return nil
}

// GetLitterWeek returns a weekly update by ID.
func (g *Gateway) GetLitterWeek(ctx context.Context, id int64) (*catalogdb.LitterWeek, error) {
	week, err := g.db.GetLitterWeek(ctx, id)
	if err != nil {
		return nil, wrapStoreError("litter week", err)
	}
	return week, nil
}

// ListLitterWeeks returns the weekly updates of a litter.
func (g *Gateway) ListLitterWeeks(ctx context.Context, litterID int64) ([]*catalogdb.LitterWeek, error) {
	weeks, err := g.db.ListLitterWeeks(ctx, litterID)
	if err != nil {
		return nil, wrapStoreError("litter weeks", err)
	}
	return weeks, nil
}

// UpdateLitterWeek updates a weekly update and invalidates the parent
// litter page.
func (g *Gateway) UpdateLitterWeek(ctx context.Context, week *catalogdb.LitterWeek) error {
	if err := g.db.UpdateLitterWeek(ctx, week); err != nil {
		return wrapStoreError("litter week", err)
	}

	g.invalidate(ctx, litterWeekPaths(week.LitterID)...)

	return nil
}

// DeleteLitterWeek removes a weekly update, schedules its gallery
// objects for deletion and invalidates the parent litter page.
func (g *Gateway) DeleteLitterWeek(ctx context.Context, id int64) error {
	week, err := g.db.GetLitterWeek(ctx, id)
	if err != nil {
		return wrapStoreError("litter week", err)
	}

	removed, err := g.db.DeleteLitterWeek(ctx, id)
	if err != nil {
		return wrapStoreError("litter week", err)
	}

	g.invalidate(ctx, litterWeekPaths(week.LitterID)...)
	g.cleanupAssets(ctx, removed)

	return nil
}

// AddImage appends an uploaded image to the owner's gallery. The
// dimensions are probed from the stored object before anything is
// written; a failed probe aborts the mutation so the catalog never
// references an image it cannot describe.
func (g *Gateway) AddImage(ctx context.Context, owner cattery.OwnerKey, src, placeholder string) (cattery.AssetRef, error) {
	width, height, err := g.prober.Probe(ctx, src)
	if err != nil {
		return cattery.AssetRef{}, &Error{
			Code:    CodeDimensionLookupFailed,
			Message: fmt.Sprintf("failed to read dimensions for %s", src),
			err:     err,
		}
	}

	ref, err := g.db.AppendAsset(ctx, owner, src, width, height, placeholder)
	if err != nil {
		return cattery.AssetRef{}, wrapStoreError("gallery owner", err)
	}

	g.invalidateOwner(ctx, owner)

	return ref, nil
}

// ReorderImages rewrites the gallery order behind the primary image.
func (g *Gateway) ReorderImages(ctx context.Context, owner cattery.OwnerKey, orderedIDs []string) error {
	if err := g.db.ReorderAssets(ctx, owner, orderedIDs); err != nil {
		return wrapStoreError("gallery owner", err)
	}

	g.invalidateOwner(ctx, owner)

	return nil
}

// RemoveImage detaches an image from the gallery and schedules its
// object for deletion.
func (g *Gateway) RemoveImage(ctx context.Context, owner cattery.OwnerKey, assetID string) error {
	removed, err := g.db.RemoveAsset(ctx, owner, assetID)
	if err != nil {
		return wrapStoreError("gallery image", err)
	}

	g.invalidateOwner(ctx, owner)
	g.cleanupAssets(ctx, []cattery.AssetRef{removed})

	return nil
}

// ListImages returns the owner's gallery in rank order.
func (g *Gateway) ListImages(ctx context.Context, owner cattery.OwnerKey) ([]cattery.AssetRef, error) {
	refs, err := g.db.ListAssets(ctx, owner)
	if err != nil {
		return nil, wrapStoreError("gallery owner", err)
	}
	return refs, nil
}

// invalidateOwner dispatches the detail page of an image mutation's
// owner. Listings only show primary images, which galleries never
// move, so the detail page is the full stale set.
func (g *Gateway) invalidateOwner(ctx context.Context, owner cattery.OwnerKey) {
	var week *catalogdb.LitterWeek

	if owner.Kind == cattery.OwnerLitterWeek {
		id, err := strconv.ParseInt(owner.ID, 10, 64)
		if err != nil {
			g.logger.Warn("invalid litter week id in owner key", "owner", owner.String())
			return
		}
		week, err = g.db.GetLitterWeek(ctx, id)
		if err != nil {
			g.logger.Warn("failed to resolve litter for week invalidation",
				"owner", owner.String(), "error", err)
			return
		}
	}

	if path := ownerDetailPath(owner, week); path != "" {
		g.invalidate(ctx, path)
	}
}
