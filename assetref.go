package cattery

import (
	"fmt"
	"net/url"
	"strings"
)

// OwnerKind identifies the entity type that owns an asset.
type OwnerKind string

const (
	OwnerCat        OwnerKind = "cat"
	OwnerLitter     OwnerKind = "litter"
	OwnerPost       OwnerKind = "post"
	OwnerLitterWeek OwnerKind = "litterweek"
)

// ValidOwnerKind reports whether k is one of the known owner kinds.
func ValidOwnerKind(k OwnerKind) bool {
	switch k {
	case OwnerCat, OwnerLitter, OwnerPost, OwnerLitterWeek:
		return true
	}
	return false
}

// OwnerKey identifies the entity an asset belongs to. An asset belongs to
// exactly one owner for its lifetime; reparenting is not supported.
type OwnerKey struct {
	Kind OwnerKind
	ID   string
}

// NewOwnerKey creates an OwnerKey for the given kind and id.
func NewOwnerKey(kind OwnerKind, id string) OwnerKey {
	return OwnerKey{Kind: kind, ID: id}
}

// String returns the canonical form "kind/id".
func (o OwnerKey) String() string {
	return string(o.Kind) + "/" + o.ID
}

// IsZero reports whether the key is unset.
func (o OwnerKey) IsZero() bool {
	return o.Kind == "" && o.ID == ""
}

// ParseOwnerKey parses the canonical "kind/id" form.
func ParseOwnerKey(s string) (OwnerKey, error) {
	kind, id, ok := strings.Cut(s, "/")
	if !ok || id == "" {
		return OwnerKey{}, fmt.Errorf("invalid owner key %q", s)
	}
	k := OwnerKind(kind)
	if !ValidOwnerKind(k) {
		return OwnerKey{}, fmt.Errorf("unknown owner kind %q in owner key %q", kind, s)
	}
	return OwnerKey{Kind: k, ID: id}, nil
}

// PrimaryRank is the rank reserved for an owner's primary (profile) image.
// The primary asset is excluded from gallery reordering and always renders
// first.
const PrimaryRank = 1

// AssetRef is a stored pointer to an externally hosted image: the public URL,
// its dimensions, an optional low-resolution placeholder, and the rank that
// orders it within its owner's collection. Ranks are unique per owner and
// strictly positive; gaps are permitted after removals.
type AssetRef struct {
	ID          string    `json:"id"`
	Owner       OwnerKey  `json:"owner"`
	Src         string    `json:"src"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Placeholder string    `json:"placeholder,omitempty"` // base64 low-res preview
	Rank        int       `json:"rank"`
}

// IsPrimary reports whether this asset is the owner's profile image.
func (a AssetRef) IsPrimary() bool {
	return a.Rank == PrimaryRank
}

// Object key layout.

// ObjectKeyPrefix is the prefix under which uploaded images are stored in
// the object store.
const ObjectKeyPrefix = "images"

// ObjectKey derives the object-store key for an asset's public URL by
// stripping the host prefix and any query string. The public URL of an
// uploaded object is "<public base>/<key>".
func ObjectKey(src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("parsing asset src %q: %w", src, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", fmt.Errorf("asset src %q has no object key", src)
	}
	return key, nil
}

// InvalidationRequest is an ephemeral value produced by a mutation and
// consumed exactly once by the invalidation dispatcher: the ordered set of
// publicly cached paths made stale by the mutation. Redundant invalidation
// is harmless, so no merging across requests is needed.
type InvalidationRequest struct {
	paths []string
}

// NewInvalidationRequest builds a request from the given paths, dropping
// duplicates while preserving first-seen order.
func NewInvalidationRequest(paths ...string) InvalidationRequest {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return InvalidationRequest{paths: out}
}

// Paths returns the ordered path set.
func (r InvalidationRequest) Paths() []string {
	return r.paths
}

// Empty reports whether the request carries no paths.
func (r InvalidationRequest) Empty() bool {
	return len(r.paths) == 0
}
