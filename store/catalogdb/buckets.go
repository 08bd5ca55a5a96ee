package catalogdb

import (
	"encoding/binary"
	"strconv"

	cattery "github.com/meadowfold/cattery"
)

// Bucket names for bbolt storage.
var (
	bucketCats        = []byte("cats")         // slug -> Cat record
	bucketLitters     = []byte("litters")      // decimal id -> Litter record
	bucketLitterNames = []byte("litter_names") // name -> decimal id (uniqueness)
	bucketPosts       = []byte("posts")        // slug -> BlogPost record
	bucketLitterWeeks = []byte("litterweeks")  // decimal id -> LitterWeek record

	// weeks_by_litter is a secondary index so a litter delete can cascade
	// its weeks without a full scan.
	bucketWeeksByLitter = []byte("weeks_by_litter") // litter id|week id -> week id

	bucketAssets       = []byte("assets")         // asset id -> AssetRef record
	bucketAssetsByRank = []byte("assets_by_rank") // owner|8-byte rank -> asset id

	bucketSeq = []byte("seq") // name -> last assigned numeric id
)

// encodeRank converts a rank to a fixed-width big-endian byte slice so the
// rank index sorts lexicographically in rank order.
func encodeRank(rank int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(rank)) //nolint:gosec // ranks are strictly positive
	return buf
}

// decodeRank converts a big-endian byte slice back to a rank.
func decodeRank(b []byte) int {
	if len(b) < 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(b[:8])) //nolint:gosec // ranks fit in int
}

// makeRankKey creates a key for the assets_by_rank index.
// Format: [owner kind/id][separator][8-byte rank]
func makeRankKey(owner cattery.OwnerKey, rank int) []byte {
	prefix := makeOwnerPrefix(owner)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	copy(key[len(prefix):], encodeRank(rank))
	return key
}

// makeOwnerPrefix creates the rank-index prefix for an owner.
// Format: [owner kind/id][separator]
func makeOwnerPrefix(owner cattery.OwnerKey) []byte {
	s := owner.String()
	prefix := make([]byte, len(s)+1)
	copy(prefix, s)
	prefix[len(s)] = 0 // null separator
	return prefix
}

// parseRankKey extracts the rank from an assets_by_rank index key.
func parseRankKey(key []byte) int {
	for i, b := range key {
		if b == 0 {
			return decodeRank(key[i+1:])
		}
	}
	return 0
}

// makeWeekIndexKey creates a key for the weeks_by_litter index.
// Format: [litter id][separator][week id]
func makeWeekIndexKey(litterID, weekID int64) []byte {
	l := strconv.FormatInt(litterID, 10)
	w := strconv.FormatInt(weekID, 10)
	key := make([]byte, len(l)+1+len(w))
	copy(key, l)
	key[len(l)] = 0 // null separator
	copy(key[len(l)+1:], w)
	return key
}

// makeLitterPrefix creates the weeks_by_litter prefix for a litter.
func makeLitterPrefix(litterID int64) []byte {
	l := strconv.FormatInt(litterID, 10)
	prefix := make([]byte, len(l)+1)
	copy(prefix, l)
	prefix[len(l)] = 0
	return prefix
}

// idKey converts a numeric id to its bucket key form.
func idKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}
