// Package collection merges overlapping, labeled item sequences into a single
// deduplicated sequence.
package collection

// Source is one labeled input sequence.
type Source[T any] struct {
	Tag   string
	Items []T
}

// Item is an emitted value together with the tag of the source it came from.
type Item[T any] struct {
	Value T
	Tag   string
}

// Merge walks sources in order and emits the first occurrence of each id,
// tagged with the source it was first seen in. Later occurrences are skipped
// and never re-tagged, so source order decides which tag wins.
func Merge[T any, K comparable](id func(T) K, sources ...Source[T]) []Item[T] {
	n := 0
	for _, s := range sources {
		n += len(s.Items)
	}
	seen := make(map[K]struct{}, n)
	out := make([]Item[T], 0, n)
	for _, s := range sources {
		for _, v := range s.Items {
			k := id(v)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, Item[T]{Value: v, Tag: s.Tag})
		}
	}
	return out
}

// Unique keeps the first occurrence of each id in items.
func Unique[T any, K comparable](id func(T) K, items []T) []T {
	return Values(Merge(id, Source[T]{Items: items}))
}

// Values strips tags from merged items.
func Values[T any](items []Item[T]) []T {
	out := make([]T, len(items))
	for i, it := range items {
		out[i] = it.Value
	}
	return out
}

// Set is an incremental form of the same keep-first rule, for sequences that
// grow one element at a time.
type Set[K comparable] struct {
	seen map[K]struct{}
}

func NewSet[K comparable]() *Set[K] {
	return &Set[K]{seen: make(map[K]struct{})}
}

// Add marks k as seen and reports whether it was new.
func (s *Set[K]) Add(k K) bool {
	if _, ok := s.seen[k]; ok {
		return false
	}
	s.seen[k] = struct{}{}
	return true
}

func (s *Set[K]) Has(k K) bool {
	_, ok := s.seen[k]
	return ok
}

func (s *Set[K]) Len() int { return len(s.seen) }
