package bucket

// Set is a collection of unique bucket identifiers.
// Iteration follows insertion order so reports are stable for a given listing.
type Set struct {
	ids   []ID
	index map[string]int
}

// NewSet creates a set from the given identifiers, dropping duplicates.
func NewSet(ids ...ID) Set {
	s := Set{index: make(map[string]int, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id. It returns false if the set already holds a bucket with the same name.
func (s *Set) Add(id ID) bool {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, ok := s.index[id.Name]; ok {
		return false
	}
	s.index[id.Name] = len(s.ids)
	s.ids = append(s.ids, id)
	return true
}

// Contains reports whether a bucket with the given name is in the set.
func (s Set) Contains(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Len returns the number of buckets.
func (s Set) Len() int {
	return len(s.ids)
}

// IDs returns a copy of the identifiers in insertion order.
func (s Set) IDs() []ID {
	out := make([]ID, len(s.ids))
	copy(out, s.ids)
	return out
}

// Names returns the directory names in insertion order.
func (s Set) Names() []string {
	out := make([]string, len(s.ids))
	for i, id := range s.ids {
		out[i] = id.Name
	}
	return out
}

// Subtract returns a new set holding the buckets of s that are not named in remove.
func (s Set) Subtract(remove ...ID) Set {
	drop := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		drop[id.Name] = struct{}{}
	}

	out := NewSet()
	for _, id := range s.ids {
		if _, ok := drop[id.Name]; !ok {
			out.Add(id)
		}
	}
	return out
}
