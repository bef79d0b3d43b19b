package jobqueue

import (
	"sort"
	"strconv"
)

// Key identifies one interaction entry within a run. Indexed sources use the
// decimal index ("0", "1", ...); mapping sources use the mapping key.
type Key string

func indexKey(i int) Key {
	return Key(strconv.Itoa(i))
}

// Source is the collection a run iterates over.
type Source interface {
	// Len is the number of entries.
	Len() int
	// KeyAt is the key of the entry at index.
	KeyAt(index int) Key
	// Keyed returns the explicit key order for mapping sources, or nil when
	// keys are derived from the index.
	Keyed() []Key
	// Item resolves the entry stored under key.
	Item(key Key) (any, bool)
}

type sliceSource[T any] struct {
	items []T
}

// FromSlice wraps an ordered collection. Keys are the decimal indices.
func FromSlice[T any](items []T) Source {
	return sliceSource[T]{items: items}
}

func (s sliceSource[T]) Len() int { return len(s.items) }

func (s sliceSource[T]) KeyAt(index int) Key { return indexKey(index) }

func (s sliceSource[T]) Keyed() []Key { return nil }

func (s sliceSource[T]) Item(key Key) (any, bool) {
	i, err := strconv.Atoi(string(key))
	if err != nil || i < 0 || i >= len(s.items) {
		return nil, false
	}
	return s.items[i], true
}

type mapSource[T any] struct {
	keys  []Key
	items map[string]T
}

// FromMap wraps a mapping. Entries are visited in ascending key order.
func FromMap[T any](items map[string]T) Source {
	names := make([]string, 0, len(items))
	for k := range items {
		names = append(names, k)
	}
	sort.Strings(names)
	return FromKeyed(names, items)
}

// FromKeyed wraps a mapping with an explicit key order. Keys missing from
// the mapping resolve to a nil item.
func FromKeyed[T any](keys []string, items map[string]T) Source {
	ks := make([]Key, len(keys))
	for i, k := range keys {
		ks[i] = Key(k)
	}
	return mapSource[T]{keys: ks, items: items}
}

func (s mapSource[T]) Len() int { return len(s.keys) }

func (s mapSource[T]) KeyAt(index int) Key { return s.keys[index] }

func (s mapSource[T]) Keyed() []Key { return s.keys }

func (s mapSource[T]) Item(key Key) (any, bool) {
	v, ok := s.items[string(key)]
	if !ok {
		return nil, false
	}
	return v, true
}
