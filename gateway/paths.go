package gateway

import (
	"fmt"

	"github.com/meadowfold/cattery"
	"github.com/meadowfold/cattery/store/catalogdb"
)

// Stale-path computation. Every mutation produces the set of public
// paths whose rendered output may now be out of date. Entity mutations
// touch the detail page plus the listings that surface the entity;
// image-only mutations touch the detail page alone because listings
// render only the primary image, which galleries never move.

func catPaths(slug string) []string {
	return []string{fmt.Sprintf("/cats/%s", slug), "/", "/cats"}
}

func litterPaths(id int64) []string {
	return []string{fmt.Sprintf("/litters/%d", id), "/", "/litters"}
}

func postPaths(slug string, tags []string) []string {
	paths := []string{fmt.Sprintf("/blog/%s", slug), "/", "/blog"}
	for _, tag := range tags {
		paths = append(paths, fmt.Sprintf("/tag/%s", tag))
	}
	return paths
}

func litterWeekPaths(litterID int64) []string {
	return []string{fmt.Sprintf("/litters/%d", litterID)}
}

// ownerDetailPath resolves the single detail page for an image mutation.
// Week galleries render on the parent litter page, so a week mutation
// resolves to the litter path.
func ownerDetailPath(owner cattery.OwnerKey, week *catalogdb.LitterWeek) string {
	switch owner.Kind {
	case cattery.OwnerCat:
		return fmt.Sprintf("/cats/%s", owner.ID)
	case cattery.OwnerLitter:
		return fmt.Sprintf("/litters/%s", owner.ID)
	case cattery.OwnerPost:
		return fmt.Sprintf("/blog/%s", owner.ID)
	case cattery.OwnerLitterWeek:
		if week != nil {
			return fmt.Sprintf("/litters/%d", week.LitterID)
		}
	}
	return ""
}
