package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meadowfold/cattery"
	"github.com/meadowfold/cattery/store/catalogdb"
)

type recordingDispatcher struct {
	requests []cattery.InvalidationRequest
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req cattery.InvalidationRequest) {
	d.requests = append(d.requests, req)
}

func (d *recordingDispatcher) lastPaths(t *testing.T) []string {
	t.Helper()
	require.NotEmpty(t, d.requests)
	return d.requests[len(d.requests)-1].Paths()
}

type recordingCleaner struct {
	batches [][]string
}

func (c *recordingCleaner) Delete(_ context.Context, keys []string) {
	c.batches = append(c.batches, keys)
}

type fixedProber struct {
	width  int
	height int
	err    error
}

func (p *fixedProber) Probe(context.Context, string) (int, int, error) {
	return p.width, p.height, p.err
}

func setupGateway(t *testing.T, prober DimensionProber) (*Gateway, catalogdb.CatalogDB, *recordingDispatcher, *recordingCleaner) {
	t.Helper()

	db := catalogdb.NewBoltDB(catalogdb.WithNoSync(true))
	require.NoError(t, db.Open(filepath.Join(t.TempDir(), "catalog.db")))
	t.Cleanup(func() { _ = db.Close() })

	dispatcher := &recordingDispatcher{}
	cleaner := &recordingCleaner{}

	opts := []Option{}
	if prober != nil {
		opts = append(opts, WithDimensionProber(prober))
	}

	return New(db, dispatcher, cleaner, opts...), db, dispatcher, cleaner
}

func TestCreateCat_InvalidatesDetailAndListings(t *testing.T) {
	g, _, dispatcher, _ := setupGateway(t, nil)

	err := g.CreateCat(context.Background(), &catalogdb.Cat{Slug: "mila", Name: "Mila"})
	require.NoError(t, err)

	require.Equal(t, []string{"/cats/mila", "/", "/cats"}, dispatcher.lastPaths(t))
}

func TestCreateCat_DuplicateSlugIsConflict(t *testing.T) {
	g, _, dispatcher, _ := setupGateway(t, nil)

	ctx := context.Background()
	require.NoError(t, g.CreateCat(ctx, &catalogdb.Cat{Slug: "mila", Name: "Mila"}))

	err := g.CreateCat(ctx, &catalogdb.Cat{Slug: "mila", Name: "Other Mila"})
	require.Error(t, err)
	require.Equal(t, CodeConflict, CodeOf(err))

	// only the first create dispatched
	require.Len(t, dispatcher.requests, 1)
}

func TestGetCat_NotFound(t *testing.T) {
	g, _, _, _ := setupGateway(t, nil)

	_, err := g.GetCat(context.Background(), "nope")
	require.Error(t, err)
	require.Equal(t, CodeNotFound, CodeOf(err))
}

func TestUpdatePost_InvalidatesOldAndNewTagPages(t *testing.T) {
	g, _, dispatcher, _ := setupGateway(t, nil)

	ctx := context.Background()
	require.NoError(t, g.CreatePost(ctx, &catalogdb.BlogPost{
		Slug:  "spring-kittens",
		Title: "Spring Kittens",
		Tags:  []string{"summer", "2024"},
	}))

	require.NoError(t, g.UpdatePost(ctx, &catalogdb.BlogPost{
		Slug:  "spring-kittens",
		Title: "Spring Kittens",
		Tags:  []string{"2024", "kittens"},
	}))

	require.Equal(t,
		[]string{"/blog/spring-kittens", "/", "/blog", "/tag/summer", "/tag/2024", "/tag/kittens"},
		dispatcher.lastPaths(t))
}

func TestDeleteCat_SchedulesObjectCleanup(t *testing.T) {
	g, db, dispatcher, cleaner := setupGateway(t, nil)

	ctx := context.Background()
	require.NoError(t, g.CreateCat(ctx, &catalogdb.Cat{Slug: "mila", Name: "Mila"}))

	owner := cattery.NewOwnerKey(cattery.OwnerCat, "mila")
	for _, src := range []string{
		"https://img.example.com/images/a.jpg",
		"https://img.example.com/images/b.jpg",
		"https://img.example.com/images/c.jpg",
	} {
		_, err := db.AppendAsset(ctx, owner, src, 640, 480, "")
		require.NoError(t, err)
	}

	require.NoError(t, g.DeleteCat(ctx, "mila"))

	require.Equal(t, []string{"/cats/mila", "/", "/cats"}, dispatcher.lastPaths(t))
	require.Len(t, cleaner.batches, 1)
	require.Equal(t, []string{"images/a.jpg", "images/b.jpg", "images/c.jpg"}, cleaner.batches[0])
}

func TestAddImage_StoresProbedDimensions(t *testing.T) {
	g, _, dispatcher, _ := setupGateway(t, &fixedProber{width: 640, height: 480})

	ctx := context.Background()
	require.NoError(t, g.CreateCat(ctx, &catalogdb.Cat{Slug: "mila", Name: "Mila"}))

	owner := cattery.NewOwnerKey(cattery.OwnerCat, "mila")
	ref, err := g.AddImage(ctx, owner, "https://img.example.com/images/a.jpg", "b64preview")
	require.NoError(t, err)

	require.Equal(t, 640, ref.Width)
	require.Equal(t, 480, ref.Height)
	require.Equal(t, "b64preview", ref.Placeholder)
	require.True(t, ref.IsPrimary())

	require.Equal(t, []string{"/cats/mila"}, dispatcher.lastPaths(t))
}

func TestAddImage_ProbeFailureAbortsMutation(t *testing.T) {
	g, db, dispatcher, _ := setupGateway(t, &fixedProber{err: errors.New("boom")})

	ctx := context.Background()
	require.NoError(t, g.CreateCat(ctx, &catalogdb.Cat{Slug: "mila", Name: "Mila"}))
	createDispatches := len(dispatcher.requests)

	owner := cattery.NewOwnerKey(cattery.OwnerCat, "mila")
	_, err := g.AddImage(ctx, owner, "https://img.example.com/images/a.jpg", "")
	require.Error(t, err)
	require.Equal(t, CodeDimensionLookupFailed, CodeOf(err))

	// nothing stored, nothing dispatched
	refs, err := db.ListAssets(ctx, owner)
	require.NoError(t, err)
	require.Empty(t, refs)
	require.Len(t, dispatcher.requests, createDispatches)
}

func TestReorderImages_InvalidSet(t *testing.T) {
	g, _, _, _ := setupGateway(t, &fixedProber{width: 1, height: 1})

	ctx := context.Background()
	require.NoError(t, g.CreateCat(ctx, &catalogdb.Cat{Slug: "mila", Name: "Mila"}))

	owner := cattery.NewOwnerKey(cattery.OwnerCat, "mila")
	_, err := g.AddImage(ctx, owner, "https://img.example.com/images/a.jpg", "")
	require.NoError(t, err)

	err = g.ReorderImages(ctx, owner, []string{"no-such-asset"})
	require.Error(t, err)
	require.Equal(t, CodeInvalidReorder, CodeOf(err))
}

func TestRemoveImage_CleansObject(t *testing.T) {
	g, _, dispatcher, cleaner := setupGateway(t, &fixedProber{width: 1, height: 1})

	ctx := context.Background()
	require.NoError(t, g.CreateCat(ctx, &catalogdb.Cat{Slug: "mila", Name: "Mila"}))

	owner := cattery.NewOwnerKey(cattery.OwnerCat, "mila")
	_, err := g.AddImage(ctx, owner, "https://img.example.com/images/a.jpg", "")
	require.NoError(t, err)
	ref, err := g.AddImage(ctx, owner, "https://img.example.com/images/b.jpg", "")
	require.NoError(t, err)

	require.NoError(t, g.RemoveImage(ctx, owner, ref.ID))

	require.Equal(t, []string{"/cats/mila"}, dispatcher.lastPaths(t))
	require.Len(t, cleaner.batches, 1)
	require.Equal(t, []string{"images/b.jpg"}, cleaner.batches[0])
}

func TestWeekImageInvalidatesParentLitterPage(t *testing.T) {
	g, _, dispatcher, _ := setupGateway(t, &fixedProber{width: 1, height: 1})

	ctx := context.Background()
	litter := &catalogdb.Litter{Name: "A Litter"}
	require.NoError(t, g.CreateLitter(ctx, litter))

	week := &catalogdb.LitterWeek{LitterID: litter.ID, Week: 1}
	require.NoError(t, g.CreateLitterWeek(ctx, week))

	owner := cattery.NewOwnerKey(cattery.OwnerLitterWeek, strconv.FormatInt(week.ID, 10))
	_, err := g.AddImage(ctx, owner, "https://img.example.com/images/w1.jpg", "")
	require.NoError(t, err)

	require.Equal(t, []string{"/litters/" + strconv.FormatInt(litter.ID, 10)}, dispatcher.lastPaths(t))
}
