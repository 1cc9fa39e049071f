// Package bucket models archived index buckets: their encoded identifiers,
// the time window used to select them, and the ordered set passed between
// restore stages.
package bucket

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedName is returned when a directory name does not encode a bucket.
var ErrMalformedName = errors.New("malformed bucket name")

// ID is a parsed bucket identifier.
// Bucket directories are named {prefix}_{end_epoch}_{start_epoch}[_extra],
// e.g. db_1615852800_1615766400_42. Only the first three fields carry meaning.
type ID struct {
	Name      string // directory name, used verbatim at the filesystem boundary
	Prefix    string
	EndTime   int64
	StartTime int64
	Extra     string
}

// ParseID decomposes a bucket directory name.
func ParseID(name string) (ID, error) {
	parts := strings.SplitN(name, "_", 4)
	if len(parts) < 3 {
		return ID{}, fmt.Errorf("%w: %q has %d underscore-delimited fields, need 3",
			ErrMalformedName, name, len(parts))
	}

	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q end time %q: %v", ErrMalformedName, name, parts[1], err)
	}

	start, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q start time %q: %v", ErrMalformedName, name, parts[2], err)
	}

	id := ID{
		Name:      name,
		Prefix:    parts[0],
		EndTime:   end,
		StartTime: start,
	}
	if len(parts) == 4 {
		id.Extra = parts[3]
	}
	return id, nil
}

// MustParseID is like ParseID but panics on error. Intended for tests and constants.
func MustParseID(name string) ID {
	id, err := ParseID(name)
	if err != nil {
		panic(err)
	}
	return id
}

// WellFormed reports whether the encoded range is ordered (start <= end).
// Zero-width buckets are well formed.
func (id ID) WellFormed() bool {
	return id.StartTime <= id.EndTime
}

// String returns the directory name.
func (id ID) String() string {
	return id.Name
}
