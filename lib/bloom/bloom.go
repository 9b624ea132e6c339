// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package bloom

import (
	"errors"
	"sort"
)

// ErrOutOfOrderGeneration is returned by Mask.Install when a filter
// with a generation lower than the highest already installed is
// presented. The monotone-superset invariant (spec §4.3) can only be
// verified by the installer — the engine enforces the one constraint
// it can check on its own: generations install in non-decreasing order
// per connection.
var ErrOutOfOrderGeneration = errors.New("bloom: generation older than the highest installed")

// Filter is a fixed-size bit array stamped with a generation number.
// SenderFilter, when non-nil, restricts this generation's rule to
// broadcasts from a single sender connection id. It travels with the
// filter itself rather than with the mask as a whole, since each
// generation is an independent match rule with its own optional
// sender scoping — removing one generation's rule must not affect
// another's sender filter.
type Filter struct {
	Generation   uint64
	Words        []uint64
	SenderFilter *uint64
}

// NewFilter creates a zeroed filter of the given generation with room
// for sizeBits bits (rounded up to a whole number of 64-bit words).
func NewFilter(generation uint64, sizeBits int) *Filter {
	wordCount := (sizeBits + 63) / 64
	if wordCount < 1 {
		wordCount = 1
	}
	return &Filter{Generation: generation, Words: make([]uint64, wordCount)}
}

// SetBit sets bit index (0-based) in the filter.
func (f *Filter) SetBit(index int) {
	word, bit := index/64, uint(index%64)
	for word >= len(f.Words) {
		f.Words = append(f.Words, 0)
	}
	f.Words[word] |= 1 << bit
}

// TestBit reports whether bit index is set.
func (f *Filter) TestBit(index int) bool {
	word, bit := index/64, uint(index%64)
	if word >= len(f.Words) {
		return false
	}
	return f.Words[word]&(1<<bit) != 0
}

// Mask is the set of filters a single connection has installed over
// time, keyed by generation.
type Mask struct {
	filters     map[uint64]*Filter
	generations []uint64 // sorted ascending, kept in sync with filters
}

// NewMask creates an empty mask.
func NewMask() *Mask {
	return &Mask{filters: make(map[uint64]*Filter)}
}

// Install adds filter to the mask under its own generation. Returns
// ErrOutOfOrderGeneration if a higher generation has already been
// installed — generations must install in non-decreasing order.
// Re-installing the same generation replaces the previous filter for
// it (a connection refining its own current-generation subscription).
func (m *Mask) Install(filter *Filter) error {
	if len(m.generations) > 0 {
		highest := m.generations[len(m.generations)-1]
		if filter.Generation < highest {
			return ErrOutOfOrderGeneration
		}
		if filter.Generation == highest {
			m.filters[filter.Generation] = filter
			return nil
		}
	}
	m.filters[filter.Generation] = filter
	m.generations = append(m.generations, filter.Generation)
	return nil
}

// Remove deletes the filter installed for the given generation, if
// any. Reports whether a filter was removed.
func (m *Mask) Remove(generation uint64) bool {
	if _, ok := m.filters[generation]; !ok {
		return false
	}
	delete(m.filters, generation)
	index := sort.Search(len(m.generations), func(i int) bool { return m.generations[i] >= generation })
	if index < len(m.generations) && m.generations[index] == generation {
		m.generations = append(m.generations[:index], m.generations[index+1:]...)
	}
	return true
}

// Empty reports whether the mask has no installed filters.
func (m *Mask) Empty() bool {
	return len(m.generations) == 0
}

// Generations returns the installed generations in ascending order,
// for introspection tools that display a connection's subscription
// history rather than testing against it.
func (m *Mask) Generations() []uint64 {
	return append([]uint64(nil), m.generations...)
}

// nearest returns the installed filter with the highest generation
// that is <= the given generation, or nil if none qualifies.
func (m *Mask) nearest(generation uint64) *Filter {
	// generations is sorted ascending; find the rightmost entry <= generation.
	index := sort.Search(len(m.generations), func(i int) bool { return m.generations[i] > generation })
	if index == 0 {
		return nil
	}
	return m.filters[m.generations[index-1]]
}

// Match reports whether an incoming broadcast filter, sent by srcID,
// matches this mask: the rule whose generation is nearest-at-or-below
// the filter's generation is selected, then the test
// (filter &^ mask) == 0 is applied word by word. If the selected
// rule carries a sender filter, srcID must equal it. A mask with no
// installed generation at or below the filter's generation never
// matches.
func (m *Mask) Match(filter *Filter, srcID uint64) bool {
	selected := m.nearest(filter.Generation)
	if selected == nil {
		return false
	}
	if selected.SenderFilter != nil && *selected.SenderFilter != srcID {
		return false
	}
	for i, word := range filter.Words {
		var maskWord uint64
		if i < len(selected.Words) {
			maskWord = selected.Words[i]
		}
		if word&^maskWord != 0 {
			return false
		}
	}
	return true
}
