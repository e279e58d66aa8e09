package recordkey

import (
	"strings"

	"github.com/google/uuid"

	"github.com/leaguekv/leaguekv/pkg/models/kverror"
	"github.com/leaguekv/leaguekv/pkg/models/topology"
)

const suffixLen = 8

// NewID returns a fresh identifier for a record living in zone z.
// Uniqueness is statistical; the engine verifies the write afterwards.
func NewID(z topology.Zone) (string, error) {
	if !z.Valid() {
		return "", kverror.Newf(kverror.KV_RESOLUTION_ERROR, "cannot generate id for zone %d", z)
	}
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	hex := strings.ReplaceAll(u.String(), "-", "")
	return string(z.Letter()) + hex[:suffixLen], nil
}

// FlipZoneLetter swaps a leading A/B (either case), leaving other ids alone.
func FlipZoneLetter(id string) string {
	if id == "" {
		return id
	}
	var flipped byte
	switch id[0] {
	case 'A':
		flipped = 'B'
	case 'B':
		flipped = 'A'
	case 'a':
		flipped = 'b'
	case 'b':
		flipped = 'a'
	default:
		return id
	}
	return string(flipped) + id[1:]
}

func StorageKey(category, id string) string {
	return category + ":" + id
}

// ParseStorageKey splits "<category>:<id>" at the first colon.
func ParseStorageKey(key string) (category string, id string, ok bool) {
	return strings.Cut(key, ":")
}

// RelationKey names the set of childCategory ids attached to a parent record.
func RelationKey(parentCategory, parentID, childCategory string) string {
	return parentCategory + ":" + parentID + ":" + childCategory + "s"
}

// Pattern matches every record key of a category.
func Pattern(category string) string {
	return category + ":*"
}
