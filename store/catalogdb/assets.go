package catalogdb

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	cattery "github.com/meadowfold/cattery"
)

// AppendAsset adds an asset to the tail of an owner's collection, assigning
// rank = max(existing ranks) + 1. The first asset of an owner gets rank 1 and
// becomes the primary image implicitly. Rank assignment and insert run in one
// write transaction, so two concurrent appends never share a rank.
func (b *BoltDB) AppendAsset(_ context.Context, owner cattery.OwnerKey, src string, width, height int, placeholder string) (cattery.AssetRef, error) {
	var ref cattery.AssetRef
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if !ownerExistsInTx(tx, owner) {
			return ErrNotFound
		}

		maxRank := 0
		prefix := makeOwnerPrefix(owner)
		cursor := tx.Bucket(bucketAssetsByRank).Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			maxRank = parseRankKey(k)
		}

		ref = cattery.AssetRef{
			ID:          uuid.NewString(),
			Owner:       owner,
			Src:         src,
			Width:       width,
			Height:      height,
			Placeholder: placeholder,
			Rank:        maxRank + 1,
		}

		if err := b.putRecord(tx.Bucket(bucketAssets), []byte(ref.ID), &ref); err != nil {
			return err
		}
		return tx.Bucket(bucketAssetsByRank).Put(makeRankKey(owner, ref.Rank), []byte(ref.ID))
	})
	if err != nil {
		return cattery.AssetRef{}, err
	}
	return ref, nil
}

// ReorderAssets rewrites the ranks of an owner's non-primary assets to match
// the given order, as rank = index + 2. The primary asset (rank 1) is never
// part of a reorder and keeps its slot. Returns ErrInvalidReorder unless
// orderedIDs is exactly a permutation of the owner's current non-primary
// asset ids.
func (b *BoltDB) ReorderAssets(_ context.Context, owner cattery.OwnerKey, orderedIDs []string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if !ownerExistsInTx(tx, owner) {
			return ErrNotFound
		}

		current, err := b.listAssetsInTx(tx, owner)
		if err != nil {
			return err
		}

		nonPrimary := make(map[string]cattery.AssetRef)
		for _, a := range current {
			if !a.IsPrimary() {
				nonPrimary[a.ID] = a
			}
		}

		if len(orderedIDs) != len(nonPrimary) {
			return ErrInvalidReorder
		}
		seen := make(map[string]struct{}, len(orderedIDs))
		for _, id := range orderedIDs {
			if _, ok := nonPrimary[id]; !ok {
				return ErrInvalidReorder
			}
			if _, dup := seen[id]; dup {
				return ErrInvalidReorder
			}
			seen[id] = struct{}{}
		}

		rankBucket := tx.Bucket(bucketAssetsByRank)
		assetBucket := tx.Bucket(bucketAssets)

		// Drop the old index entries, then rewrite records and index in the
		// requested order. Slot 1 stays with the primary.
		for _, a := range nonPrimary {
			if err := rankBucket.Delete(makeRankKey(owner, a.Rank)); err != nil {
				return fmt.Errorf("deleting rank index: %w", err)
			}
		}
		for i, id := range orderedIDs {
			a := nonPrimary[id]
			a.Rank = i + 2
			if err := b.putRecord(assetBucket, []byte(a.ID), &a); err != nil {
				return err
			}
			if err := rankBucket.Put(makeRankKey(owner, a.Rank), []byte(a.ID)); err != nil {
				return fmt.Errorf("putting rank index: %w", err)
			}
		}
		return nil
	})
}

// RemoveAsset deletes one asset from an owner's collection and returns the
// removed reference so the caller can schedule object cleanup. Remaining
// ranks are not renumbered; gaps are permitted.
func (b *BoltDB) RemoveAsset(_ context.Context, owner cattery.OwnerKey, assetID string) (cattery.AssetRef, error) {
	var removed cattery.AssetRef
	err := b.db.Update(func(tx *bbolt.Tx) error {
		assetBucket := tx.Bucket(bucketAssets)
		if err := b.getRecord(assetBucket, []byte(assetID), &removed); err != nil {
			return err
		}
		if removed.Owner != owner {
			// Assets are never visible through a foreign owner.
			return ErrNotFound
		}
		if err := tx.Bucket(bucketAssetsByRank).Delete(makeRankKey(owner, removed.Rank)); err != nil {
			return fmt.Errorf("deleting rank index: %w", err)
		}
		return assetBucket.Delete([]byte(assetID))
	})
	if err != nil {
		return cattery.AssetRef{}, err
	}
	return removed, nil
}

// ListAssets returns an owner's assets in ascending rank order. Each call is
// a fresh consistent snapshot.
func (b *BoltDB) ListAssets(_ context.Context, owner cattery.OwnerKey) ([]cattery.AssetRef, error) {
	var assets []cattery.AssetRef
	err := b.db.View(func(tx *bbolt.Tx) error {
		if !ownerExistsInTx(tx, owner) {
			return ErrNotFound
		}
		var err error
		assets, err = b.listAssetsInTx(tx, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

// listAssetsInTx walks the rank index for an owner, rank-ascending.
func (b *BoltDB) listAssetsInTx(tx *bbolt.Tx, owner cattery.OwnerKey) ([]cattery.AssetRef, error) {
	var assets []cattery.AssetRef
	assetBucket := tx.Bucket(bucketAssets)
	prefix := makeOwnerPrefix(owner)
	cursor := tx.Bucket(bucketAssetsByRank).Cursor()
	for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
		var a cattery.AssetRef
		if err := b.getRecord(assetBucket, v, &a); err != nil {
			return nil, fmt.Errorf("loading asset %s: %w", v, err)
		}
		assets = append(assets, a)
	}
	return assets, nil
}

// deleteOwnerAssetsInTx removes an owner's entire collection, returning the
// references captured before deletion.
func (b *BoltDB) deleteOwnerAssetsInTx(tx *bbolt.Tx, owner cattery.OwnerKey) ([]cattery.AssetRef, error) {
	removed, err := b.listAssetsInTx(tx, owner)
	if err != nil {
		return nil, err
	}
	assetBucket := tx.Bucket(bucketAssets)
	rankBucket := tx.Bucket(bucketAssetsByRank)
	for _, a := range removed {
		if err := rankBucket.Delete(makeRankKey(owner, a.Rank)); err != nil {
			return nil, fmt.Errorf("deleting rank index: %w", err)
		}
		if err := assetBucket.Delete([]byte(a.ID)); err != nil {
			return nil, fmt.Errorf("deleting asset: %w", err)
		}
	}
	return removed, nil
}
