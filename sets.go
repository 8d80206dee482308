package relay

// orderedSet is an insertion-ordered set of comparable values. It is not
// safe for concurrent use on its own: every instance is owned by the volatile
// State and mutated only under its lock, so per-set locks would be redundant
// and would break the atomicity of drain against gc.
type orderedSet[T comparable] struct {
	index map[T]int
	items []T
}

func newOrderedSet[T comparable](items ...T) *orderedSet[T] {
	s := &orderedSet[T]{
		index: make(map[T]int, len(items)),
		items: make([]T, 0, len(items)),
	}
	for _, item := range items {
		s.add(item)
	}
	return s
}

// add appends item if absent, returning true on a successful insertion.
func (s *orderedSet[T]) add(item T) bool {
	if _, exists := s.index[item]; exists {
		return false
	}
	s.index[item] = len(s.items)
	s.items = append(s.items, item)
	return true
}

// remove deletes item preserving the order of the remainder, returning true
// if the item was present.
func (s *orderedSet[T]) remove(item T) bool {
	pos, exists := s.index[item]
	if !exists {
		return false
	}
	delete(s.index, item)

	s.items = append(s.items[:pos], s.items[pos+1:]...)
	for i := pos; i < len(s.items); i++ {
		s.index[s.items[i]] = i
	}
	return true
}

func (s *orderedSet[T]) has(item T) bool {
	_, exists := s.index[item]
	return exists
}

func (s *orderedSet[T]) len() int {
	return len(s.items)
}

// values returns the members in insertion order. The slice is a copy.
func (s *orderedSet[T]) values() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}
