package state

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/golang/glog"
)

// Doc is one participant's replica of the shared document: a set of named
// arrays and maps that converge once every replica has seen the same ops.
type Doc struct {
	site  string
	clock Clock

	// mu guards collection contents and pending.
	mu      sync.RWMutex
	pending []Op

	// cmu guards the collection registry, so collections can be resolved
	// while a transaction holds mu.
	cmu    sync.Mutex
	arrays map[string]*Array
	maps   map[string]*Map

	hmu         sync.Mutex
	nextHandler int
	observers   map[int]func(*TxEvent)
	updates     map[int]func(Update)
	queue       []*TxEvent
	dispatching bool
}

func NewDoc() *Doc {
	return NewDocWithSite(NewSiteID())
}

func NewDocWithSite(site string) *Doc {
	return &Doc{
		site:      site,
		arrays:    make(map[string]*Array),
		maps:      make(map[string]*Map),
		observers: make(map[int]func(*TxEvent)),
		updates:   make(map[int]func(Update)),
	}
}

// Site returns this replica's identity.
func (d *Doc) Site() string {
	return d.site
}

// Array returns the named array, creating it on first use.
func (d *Doc) Array(name string) *Array {
	d.cmu.Lock()
	defer d.cmu.Unlock()
	a, ok := d.arrays[name]
	if !ok {
		a = newArray(d, name)
		d.arrays[name] = a
	}
	return a
}

// Map returns the named map, creating it on first use.
func (d *Doc) Map(name string) *Map {
	d.cmu.Lock()
	defer d.cmu.Unlock()
	m, ok := d.maps[name]
	if !ok {
		m = newMap(d, name)
		d.maps[name] = m
	}
	return m
}

// View runs fn with a consistent read of the document.
func (d *Doc) View(fn func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn()
}

// Transact runs fn as one atomic batch. Observers are notified once, after
// the batch is committed and the lock released. The applied changes are
// returned; an empty batch notifies nobody.
func (d *Doc) Transact(origin any, fn func(tx *Tx)) []Change {
	tx := &Tx{doc: d, origin: origin}
	func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		fn(tx)
	}()
	if len(tx.changes) == 0 {
		return nil
	}
	d.emit(&TxEvent{Origin: origin, Site: d.site, Changes: tx.changes})
	return tx.changes
}

// ApplyUpdate integrates ops received from another replica. Ops already
// seen are ignored; ops whose reference element is still missing are held
// until it arrives.
func (d *Doc) ApplyUpdate(u Update) []Change {
	tx := &Tx{doc: d, origin: RemoteOrigin}
	func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for _, op := range u.Ops {
			d.clock.Update(op.ID.Clock)
			if !tx.applyRemote(op) {
				d.pending = append(d.pending, op)
			}
		}
		d.drainPending(tx)
	}()
	if len(tx.changes) == 0 {
		return nil
	}
	glog.V(2).Infof("[crdt] applied %d ops from site %s\n", len(tx.changes), u.Site)
	d.emit(&TxEvent{Origin: RemoteOrigin, Site: u.Site, Changes: tx.changes})
	return tx.changes
}

// Pending returns the number of remote ops waiting for a reference.
func (d *Doc) Pending() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pending)
}

func (d *Doc) drainPending(tx *Tx) {
	for progress := true; progress && len(d.pending) > 0; {
		progress = false
		waiting := d.pending[:0]
		for _, op := range d.pending {
			if tx.applyRemote(op) {
				progress = true
			} else {
				waiting = append(waiting, op)
			}
		}
		d.pending = waiting
	}
}

// Snapshot encodes the whole replica, tombstones included, as a single
// update. Applying it to any replica is idempotent.
func (d *Doc) Snapshot() Update {
	d.cmu.Lock()
	arrays := make([]*Array, 0, len(d.arrays))
	for _, a := range d.arrays {
		arrays = append(arrays, a)
	}
	maps := make([]*Map, 0, len(d.maps))
	for _, m := range d.maps {
		maps = append(maps, m)
	}
	d.cmu.Unlock()
	sort.Slice(arrays, func(i, j int) bool { return arrays[i].name < arrays[j].name })
	sort.Slice(maps, func(i, j int) bool { return maps[i].name < maps[j].name })

	d.mu.RLock()
	defer d.mu.RUnlock()
	var ops []Op
	for _, a := range arrays {
		var deletes []Op
		for _, it := range a.items {
			ops = append(ops, Op{Type: OpInsert, Target: a.name, ID: it.id, After: it.after, Value: it.value})
			if it.deleted {
				deletes = append(deletes, Op{Type: OpDelete, Target: a.name, ID: it.id})
			}
		}
		ops = append(ops, deletes...)
	}
	for _, m := range maps {
		keys := make([]string, 0, len(m.entries))
		for k := range m.entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e := m.entries[k]
			ops = append(ops, Op{Type: OpSet, Target: m.name, ID: e.stamp, Key: k, Value: e.value})
		}
	}
	return Update{Site: d.site, Ops: ops}
}

// Observe registers fn for every committed transaction, local or remote.
func (d *Doc) Observe(fn func(*TxEvent)) func() {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	id := d.nextHandler
	d.nextHandler++
	d.observers[id] = fn
	return func() {
		d.hmu.Lock()
		defer d.hmu.Unlock()
		delete(d.observers, id)
	}
}

// OnUpdate registers fn for every transaction that did not come from
// ApplyUpdate. The transport uses it to forward local edits.
func (d *Doc) OnUpdate(fn func(Update)) func() {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	id := d.nextHandler
	d.nextHandler++
	d.updates[id] = fn
	return func() {
		d.hmu.Lock()
		defer d.hmu.Unlock()
		delete(d.updates, id)
	}
}

// emit queues ev and, unless another call is already draining, delivers the
// queue in commit order. Observers may start new transactions; those are
// appended and delivered by the same loop.
func (d *Doc) emit(ev *TxEvent) {
	d.hmu.Lock()
	d.queue = append(d.queue, ev)
	if d.dispatching {
		d.hmu.Unlock()
		return
	}
	d.dispatching = true
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		observers := sortedHandlers(d.observers)
		updates := sortedHandlers(d.updates)
		d.hmu.Unlock()

		if next.Local() {
			u := next.Update()
			for _, fn := range updates {
				fn(u)
			}
		}
		for _, fn := range observers {
			fn(next)
		}

		d.hmu.Lock()
	}
	d.dispatching = false
	d.hmu.Unlock()
}

func sortedHandlers[T any](handlers map[int]T) []T {
	ids := make([]int, 0, len(handlers))
	for id := range handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, handlers[id])
	}
	return out
}

// Tx is a transaction in progress. It is only valid inside the function
// passed to Transact.
type Tx struct {
	doc     *Doc
	origin  any
	changes []Change
}

func (tx *Tx) Origin() any {
	return tx.origin
}

func (tx *Tx) Array(name string) *Array {
	return tx.doc.Array(name)
}

func (tx *Tx) Map(name string) *Map {
	return tx.doc.Map(name)
}

func (tx *Tx) nextID() ElemID {
	return ElemID{Clock: tx.doc.clock.Tick(), Site: tx.doc.site}
}

// Push appends values to the end of a.
func (tx *Tx) Push(a *Array, values ...json.RawMessage) {
	tx.Insert(a, a.Len(), values...)
}

// Insert places values so that the first one ends up at index. Indexes
// past the end append.
func (tx *Tx) Insert(a *Array, index int, values ...json.RawMessage) {
	var ref ElemID
	if index > 0 {
		n := a.Len()
		if index > n {
			index = n
		}
		if index > 0 {
			ref, _ = a.IDAt(index - 1)
		}
	}
	for _, v := range values {
		ref = tx.insertAfter(a, ref, v)
	}
}

// InsertAfter places value directly after the element ref, which may be a
// tombstone. A zero ref means the head. It returns the new element id, or
// the zero id when ref is unknown.
func (tx *Tx) InsertAfter(a *Array, ref ElemID, value json.RawMessage) ElemID {
	if !ref.IsZero() {
		if _, ok := a.index[ref]; !ok {
			return ElemID{}
		}
	}
	return tx.insertAfter(a, ref, value)
}

func (tx *Tx) insertAfter(a *Array, ref ElemID, value json.RawMessage) ElemID {
	id := tx.nextID()
	v := cloneRaw(value)
	a.integrate(id, ref, v)
	tx.changes = append(tx.changes, Change{
		Op: Op{Type: OpInsert, Target: a.name, ID: id, After: ref, Value: v},
	})
	return id
}

// Delete tombstones length visible elements starting at index.
func (tx *Tx) Delete(a *Array, index, length int) {
	var ids []ElemID
	for i := index; i < index+length; i++ {
		id, ok := a.IDAt(i)
		if !ok {
			break
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		tx.DeleteID(a, id)
	}
}

// DeleteID tombstones one element. It reports whether anything changed.
func (tx *Tx) DeleteID(a *Array, id ElemID) bool {
	removed, applied, _ := a.tombstone(id)
	if !applied {
		return false
	}
	tx.changes = append(tx.changes, Change{
		Op:      Op{Type: OpDelete, Target: a.name, ID: id},
		Removed: removed,
	})
	return true
}

// Set writes key in m. Setting a value equal to the current one is still a
// write: it refreshes the stamp.
func (tx *Tx) Set(m *Map, key string, value json.RawMessage) {
	stamp := tx.nextID()
	v := cloneRaw(value)
	prev, _ := m.set(key, v, stamp)
	tx.changes = append(tx.changes, Change{
		Op:     Op{Type: OpSet, Target: m.name, ID: stamp, Key: key, Value: v},
		Prev:   prev.value,
		PrevID: prev.stamp,
	})
}

// SetJSON marshals value and writes it to key.
func (tx *Tx) SetJSON(m *Map, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	tx.Set(m, key, raw)
	return nil
}

// applyRemote reports false when op has to wait for a reference.
func (tx *Tx) applyRemote(op Op) bool {
	switch op.Type {
	case OpInsert:
		a := tx.doc.Array(op.Target)
		applied, ready := a.integrate(op.ID, op.After, op.Value)
		if applied {
			tx.changes = append(tx.changes, Change{Op: op})
		}
		return ready
	case OpDelete:
		a := tx.doc.Array(op.Target)
		removed, applied, ready := a.tombstone(op.ID)
		if applied {
			tx.changes = append(tx.changes, Change{Op: op, Removed: removed})
		}
		return ready
	case OpSet:
		m := tx.doc.Map(op.Target)
		prev, applied := m.set(op.Key, op.Value, op.ID)
		if applied {
			tx.changes = append(tx.changes, Change{Op: op, Prev: prev.value, PrevID: prev.stamp})
		}
		return true
	default:
		glog.Infof("[crdt] dropping op with unknown type %q\n", op.Type)
		return true
	}
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
