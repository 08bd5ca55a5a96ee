package catalogdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	cattery "github.com/meadowfold/cattery"
)

func setupTestDB(t *testing.T) *BoltDB {
	t.Helper()
	db := NewBoltDB(WithNoSync(true))
	path := filepath.Join(t.TempDir(), "catalog.db")
	require.NoError(t, db.Open(path))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestCat(t *testing.T, db *BoltDB, slug string) cattery.OwnerKey {
	t.Helper()
	require.NoError(t, db.CreateCat(context.Background(), &Cat{Slug: slug, Name: slug}))
	return cattery.NewOwnerKey(cattery.OwnerCat, slug)
}

func appendN(t *testing.T, db *BoltDB, owner cattery.OwnerKey, n int) []cattery.AssetRef {
	t.Helper()
	refs := make([]cattery.AssetRef, 0, n)
	for i := 0; i < n; i++ {
		ref, err := db.AppendAsset(context.Background(), owner, "https://assets.example.com/images/x.jpg", 800, 600, "")
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	return refs
}

func TestAppendAsset_RankAssignment(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	owner := newTestCat(t, db, "luna")

	refs := appendN(t, db, owner, 3)
	require.Equal(t, 1, refs[0].Rank)
	require.Equal(t, 2, refs[1].Rank)
	require.Equal(t, 3, refs[2].Rank)
	require.True(t, refs[0].IsPrimary())

	assets, err := db.ListAssets(ctx, owner)
	require.NoError(t, err)
	require.Len(t, assets, 3)
	for i, a := range assets {
		require.Equal(t, i+1, a.Rank)
	}
	// Append always lands last.
	require.Equal(t, refs[2].ID, assets[2].ID)
}

func TestAppendAsset_OwnerNotFound(t *testing.T) {
	db := setupTestDB(t)
	owner := cattery.NewOwnerKey(cattery.OwnerCat, "ghost")
	_, err := db.AppendAsset(context.Background(), owner, "https://assets.example.com/images/x.jpg", 1, 1, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendAsset_RankPastGap(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	owner := newTestCat(t, db, "luna")
	refs := appendN(t, db, owner, 3)

	// Removing the middle asset leaves a gap; the next append still goes
	// past the current maximum.
	_, err := db.RemoveAsset(ctx, owner, refs[1].ID)
	require.NoError(t, err)

	next, err := db.AppendAsset(ctx, owner, "https://assets.example.com/images/x.jpg", 100, 100, "")
	require.NoError(t, err)
	require.Equal(t, 4, next.Rank)
}

func TestReorderAssets(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	owner := newTestCat(t, db, "luna")
	refs := appendN(t, db, owner, 3)
	p1, p2, p3 := refs[0], refs[1], refs[2]

	// Identity order leaves ranks unchanged.
	require.NoError(t, db.ReorderAssets(ctx, owner, []string{p2.ID, p3.ID}))
	assets, err := db.ListAssets(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, []string{p1.ID, p2.ID, p3.ID}, assetIDs(assets))
	require.Equal(t, []int{1, 2, 3}, ranks(assets))

	// Swapped order renumbers as index+2; the primary keeps rank 1.
	require.NoError(t, db.ReorderAssets(ctx, owner, []string{p3.ID, p2.ID}))
	assets, err = db.ListAssets(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, []string{p1.ID, p3.ID, p2.ID}, assetIDs(assets))
	require.Equal(t, []int{1, 2, 3}, ranks(assets))
}

func TestReorderAssets_InvalidSets(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	owner := newTestCat(t, db, "luna")
	other := newTestCat(t, db, "milo")
	refs := appendN(t, db, owner, 3)
	foreign := appendN(t, db, other, 1)

	tests := []struct {
		name string
		ids  []string
	}{
		{name: "missing id", ids: []string{refs[1].ID}},
		{name: "foreign id", ids: []string{refs[1].ID, foreign[0].ID}},
		{name: "includes primary", ids: []string{refs[0].ID, refs[1].ID, refs[2].ID}},
		{name: "duplicate id", ids: []string{refs[1].ID, refs[1].ID}},
		{name: "empty", ids: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.ReorderAssets(ctx, owner, tt.ids)
			require.ErrorIs(t, err, ErrInvalidReorder)

			// Ranks are untouched on rejection.
			assets, err := db.ListAssets(ctx, owner)
			require.NoError(t, err)
			require.Equal(t, []int{1, 2, 3}, ranks(assets))
		})
	}
}

func TestRemoveAsset(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	owner := newTestCat(t, db, "luna")
	refs := appendN(t, db, owner, 3)

	removed, err := db.RemoveAsset(ctx, owner, refs[1].ID)
	require.NoError(t, err)
	require.Equal(t, refs[1].ID, removed.ID)
	require.Equal(t, refs[1].Src, removed.Src)

	// The gap at rank 2 is permitted; order stays rank-ascending.
	assets, err := db.ListAssets(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, []string{refs[0].ID, refs[2].ID}, assetIDs(assets))
	require.Equal(t, []int{1, 3}, ranks(assets))
}

func TestRemoveAsset_WrongOwner(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	owner := newTestCat(t, db, "luna")
	other := newTestCat(t, db, "milo")
	refs := appendN(t, db, owner, 1)

	_, err := db.RemoveAsset(ctx, other, refs[0].ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = db.RemoveAsset(ctx, owner, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

// Reorder-then-remove scenario across the whole collection lifecycle.
func TestCollectionLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	owner := newTestCat(t, db, "cat-42")
	refs := appendN(t, db, owner, 3)
	p1, p2, p3 := refs[0], refs[1], refs[2]

	require.NoError(t, db.ReorderAssets(ctx, owner, []string{p3.ID, p2.ID}))

	assets, err := db.ListAssets(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, []string{p1.ID, p3.ID, p2.ID}, assetIDs(assets))
	require.Equal(t, []int{1, 2, 3}, ranks(assets))

	removed, err := db.RemoveAsset(ctx, owner, p3.ID)
	require.NoError(t, err)
	require.Equal(t, p3.ID, removed.ID)

	assets, err = db.ListAssets(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, []string{p1.ID, p2.ID}, assetIDs(assets))
	require.Equal(t, []int{1, 3}, ranks(assets))

	next, err := db.AppendAsset(ctx, owner, "https://assets.example.com/images/x.jpg", 100, 100, "")
	require.NoError(t, err)
	require.Equal(t, 4, next.Rank)
}

func TestListAssets_OwnerNotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.ListAssets(context.Background(), cattery.NewOwnerKey(cattery.OwnerPost, "ghost"))
	require.ErrorIs(t, err, ErrNotFound)
}

func assetIDs(assets []cattery.AssetRef) []string {
	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	return ids
}

func ranks(assets []cattery.AssetRef) []int {
	out := make([]int, len(assets))
	for i, a := range assets {
		out[i] = a.Rank
	}
	return out
}
