/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package hashmap provides a generic open-addressed table keyed by int fd,
// used as the bus's socket registry. Callers serialize access externally
// (the bus protects it with a single coarse lock); the table itself does
// no locking.
package hashmap

const (
	initialCapacity = 16
	maxLoadFactor   = 0.75
)

type slotState uint8

const (
	slotEmpty slotState = iota
	slotFilled
	slotTombstone
)

type slot[V any] struct {
	key   int
	value V
	state slotState
}

// Map is an open-addressed, linear-probing hash table keyed by int fd.
type Map[V any] struct {
	slots []slot[V]
	count int
}

// New returns an empty Map.
func New[V any]() *Map[V] {
	return &Map[V]{
		slots: make([]slot[V], initialCapacity),
	}
}

func (m *Map[V]) index(key int) int {
	// fd values are small non-negative integers in practice; this hash
	// still spreads them evenly for the few negative/huge fds a caller
	// might pass.
	h := uint64(key)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return int(h % uint64(len(m.slots)))
}

func (m *Map[V]) grow() {
	old := m.slots
	m.slots = make([]slot[V], len(old)*2)
	m.count = 0
	for _, s := range old {
		if s.state == slotFilled {
			m.Set(s.key, s.value)
		}
	}
}

// Set inserts or overwrites the value for key. It returns the previous
// value and true if one was replaced.
func (m *Map[V]) Set(key int, value V) (old V, replaced bool) {
	if float64(m.count+1) > maxLoadFactor*float64(len(m.slots)) {
		m.grow()
	}

	idx := m.index(key)
	firstTombstone := -1

	for i := 0; i < len(m.slots); i++ {
		pos := (idx + i) % len(m.slots)
		s := &m.slots[pos]

		if s.state == slotEmpty {
			target := pos
			if firstTombstone >= 0 {
				target = firstTombstone
			}
			m.slots[target] = slot[V]{key: key, value: value, state: slotFilled}
			m.count++
			return old, false
		}

		if s.state == slotTombstone {
			if firstTombstone < 0 {
				firstTombstone = pos
			}
			continue
		}

		if s.key == key {
			old = s.value
			s.value = value
			return old, true
		}
	}

	// table full of tombstones/filled with no match: grow and retry
	m.grow()
	return m.Set(key, value)
}

// Get returns the value for key and true if present.
func (m *Map[V]) Get(key int) (value V, ok bool) {
	idx := m.index(key)

	for i := 0; i < len(m.slots); i++ {
		pos := (idx + i) % len(m.slots)
		s := &m.slots[pos]

		if s.state == slotEmpty {
			return value, false
		}
		if s.state == slotFilled && s.key == key {
			return s.value, true
		}
	}

	return value, false
}

// Remove deletes key from the map. It returns the removed value and true
// if it was present.
func (m *Map[V]) Remove(key int) (old V, ok bool) {
	idx := m.index(key)

	for i := 0; i < len(m.slots); i++ {
		pos := (idx + i) % len(m.slots)
		s := &m.slots[pos]

		if s.state == slotEmpty {
			return old, false
		}
		if s.state == slotFilled && s.key == key {
			old = s.value
			m.slots[pos] = slot[V]{state: slotTombstone}
			m.count--
			return old, true
		}
	}

	return old, false
}

// Len returns the number of entries currently stored.
func (m *Map[V]) Len() int {
	return m.count
}

// Free invokes callback once per stored entry, then empties the map.
func (m *Map[V]) Free(callback func(value V)) {
	for _, s := range m.slots {
		if s.state == slotFilled && callback != nil {
			callback(s.value)
		}
	}
	m.slots = make([]slot[V], initialCapacity)
	m.count = 0
}
