package state

import (
	"bytes"
	"encoding/json"
	"sort"
)

type item struct {
	id      ElemID
	after   ElemID
	value   json.RawMessage
	deleted bool
}

// Array is a replicated ordered collection (RGA). Elements are never
// physically removed: deletes leave tombstones so that later inserts can
// still reference them.
//
// Read methods do not lock. Call them inside Doc.View or Doc.Transact.
type Array struct {
	doc   *Doc
	name  string
	items []*item
	index map[ElemID]*item
}

func newArray(doc *Doc, name string) *Array {
	return &Array{
		doc:   doc,
		name:  name,
		index: make(map[ElemID]*item),
	}
}

func (a *Array) Name() string {
	return a.name
}

// Len returns the number of visible elements.
func (a *Array) Len() int {
	n := 0
	for _, it := range a.items {
		if !it.deleted {
			n++
		}
	}
	return n
}

// Get returns the visible element at index.
func (a *Array) Get(index int) (json.RawMessage, bool) {
	it := a.visibleAt(index)
	if it == nil {
		return nil, false
	}
	return it.value, true
}

// Values returns all visible elements in order.
func (a *Array) Values() []json.RawMessage {
	values := make([]json.RawMessage, 0, len(a.items))
	for _, it := range a.items {
		if !it.deleted {
			values = append(values, it.value)
		}
	}
	return values
}

// IDAt returns the element id of the visible element at index.
func (a *Array) IDAt(index int) (ElemID, bool) {
	it := a.visibleAt(index)
	if it == nil {
		return ElemID{}, false
	}
	return it.id, true
}

// Find returns the first visible element whose value equals value.
func (a *Array) Find(value json.RawMessage) (ElemID, bool) {
	for _, it := range a.items {
		if !it.deleted && bytes.Equal(it.value, value) {
			return it.id, true
		}
	}
	return ElemID{}, false
}

// Observe registers fn for every transaction that modified this array.
func (a *Array) Observe(fn func(*TxEvent)) func() {
	name := a.name
	return a.doc.Observe(func(ev *TxEvent) {
		if ev.Touches(name) {
			fn(ev)
		}
	})
}

// Live reports whether id names an element that is present and not deleted.
func (a *Array) Live(id ElemID) bool {
	it, ok := a.index[id]
	return ok && !it.deleted
}

func (a *Array) visibleAt(index int) *item {
	if index < 0 {
		return nil
	}
	for _, it := range a.items {
		if it.deleted {
			continue
		}
		if index == 0 {
			return it
		}
		index--
	}
	return nil
}

func (a *Array) position(id ElemID) int {
	for i, it := range a.items {
		if it.id == id {
			return i
		}
	}
	return -1
}

// integrate places a new element. It reports false when the reference
// element is not known yet and the op has to wait.
func (a *Array) integrate(id, after ElemID, value json.RawMessage) (applied, ready bool) {
	if _, exists := a.index[id]; exists {
		return false, true
	}
	pos := 0
	if !after.IsZero() {
		ref := a.position(after)
		if ref < 0 {
			return false, false
		}
		pos = ref + 1
	}
	// Concurrent inserts after the same reference are ordered by
	// descending id; skipping larger ids keeps every replica identical.
	for pos < len(a.items) && id.Less(a.items[pos].id) {
		pos++
	}
	it := &item{id: id, after: after, value: value}
	a.items = append(a.items, nil)
	copy(a.items[pos+1:], a.items[pos:])
	a.items[pos] = it
	a.index[id] = it
	return true, true
}

func (a *Array) tombstone(id ElemID) (removed json.RawMessage, applied, ready bool) {
	it, ok := a.index[id]
	if !ok {
		return nil, false, false
	}
	if it.deleted {
		return nil, false, true
	}
	it.deleted = true
	return it.value, true, true
}

type entry struct {
	value json.RawMessage
	stamp ElemID
}

// Map is a replicated key/value map. Concurrent writes to one key resolve
// to the write with the larger ElemID.
//
// Read methods do not lock. Call them inside Doc.View or Doc.Transact.
type Map struct {
	doc     *Doc
	name    string
	entries map[string]entry
}

func newMap(doc *Doc, name string) *Map {
	return &Map{
		doc:     doc,
		name:    name,
		entries: make(map[string]entry),
	}
}

func (m *Map) Name() string {
	return m.name
}

// Get returns the value of key. A key explicitly set to null reads as
// missing.
func (m *Map) Get(key string) (json.RawMessage, bool) {
	e, ok := m.entries[key]
	if !ok || isNull(e.value) {
		return nil, false
	}
	return e.value, true
}

// Stamp returns the id of the write currently holding key.
func (m *Map) Stamp(key string) ElemID {
	return m.entries[key].stamp
}

// Keys returns the present keys in sorted order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !isNull(e.value) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Observe registers fn for every transaction that modified this map.
func (m *Map) Observe(fn func(*TxEvent)) func() {
	name := m.name
	return m.doc.Observe(func(ev *TxEvent) {
		if ev.Touches(name) {
			fn(ev)
		}
	})
}

func (m *Map) set(key string, value json.RawMessage, stamp ElemID) (prev entry, applied bool) {
	cur, ok := m.entries[key]
	if ok && !cur.stamp.Less(stamp) {
		return cur, false
	}
	m.entries[key] = entry{value: value, stamp: stamp}
	return cur, true
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
