package bucket

import "fmt"

// Select parses every archive entry name and keeps the buckets that fall
// inside the window. Names are visited in the given order. A name that does
// not parse aborts selection: an archive holding foreign entries needs an
// operator to look at it.
func Select(names []string, w Window) (Set, error) {
	out := NewSet()
	for _, name := range names {
		id, err := ParseID(name)
		if err != nil {
			return Set{}, fmt.Errorf("select buckets: %w", err)
		}
		if w.Contains(id) {
			out.Add(id)
		}
	}
	return out, nil
}
