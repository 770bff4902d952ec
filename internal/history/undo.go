// Package history records local edits to the layer document and reverses
// them one coalesced step at a time.
package history

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"CollabBoard/internal/state"
)

// CaptureTimeout is the window within which consecutive local edits merge
// into one undo step.
const CaptureTimeout = 300 * time.Millisecond

// Scope names the collections undo tracks: a root collection and the
// collections it currently owns. Members is called with the document lock
// held and must not lock.
type Scope interface {
	Root() string
	Members() []string
}

type step struct {
	changes []state.Change
}

type originTag string

// Origin marks the transactions the manager itself creates.
var Origin any = originTag("history")

type Manager struct {
	doc   *state.Doc
	scope Scope
	now   func() time.Time
	unsub func()

	// moved maps an element to the copy that replaced it when a delete was
	// reverted. Only touched inside history transactions.
	moved map[state.ElemID]state.ElemID

	mu       sync.Mutex
	tracked  map[string]bool
	undo     []*step
	redo     []*step
	lastEdit time.Time
	onChange func()
}

// New starts tracking LocalOrigin edits inside scope.
func New(doc *state.Doc, scope Scope) *Manager {
	m := &Manager{
		doc:   doc,
		scope: scope,
		now:   time.Now,
		moved: make(map[state.ElemID]state.ElemID),
	}
	m.rebuild()
	m.unsub = doc.Observe(m.observe)
	return m
}

// OnChange registers fn to run whenever CanUndo or CanRedo may have changed.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Manager) Close() {
	m.unsub()
}

// rebuild re-derives the tracked collections from the current root. Layers
// that are gone simply drop out of the set.
func (m *Manager) rebuild() {
	tracked := map[string]bool{m.scope.Root(): true}
	m.doc.View(func() {
		for _, name := range m.scope.Members() {
			tracked[name] = true
		}
	})
	m.mu.Lock()
	m.tracked = tracked
	m.mu.Unlock()
}

func (m *Manager) observe(ev *state.TxEvent) {
	if ev.Touches(m.scope.Root()) {
		m.rebuild()
	}
	if ev.Origin != state.LocalOrigin {
		return
	}

	m.mu.Lock()
	var changes []state.Change
	for _, c := range ev.Changes {
		if m.tracked[c.Op.Target] {
			changes = append(changes, c)
		}
	}
	if len(changes) == 0 {
		m.mu.Unlock()
		return
	}
	now := m.now()
	if n := len(m.undo); n > 0 && !m.lastEdit.IsZero() && now.Sub(m.lastEdit) < CaptureTimeout {
		m.undo[n-1].changes = append(m.undo[n-1].changes, changes...)
	} else {
		m.undo = append(m.undo, &step{changes: changes})
	}
	m.lastEdit = now
	m.redo = nil
	notify := m.onChange
	m.mu.Unlock()

	if notify != nil {
		notify()
	}
}

func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo) > 0
}

func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo) > 0
}

// Clear drops both stacks.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.undo, m.redo = nil, nil
	m.lastEdit = time.Time{}
	notify := m.onChange
	m.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Undo reverses the most recent step. It reports whether the document
// changed; a step whose layers are all gone is consumed without effect.
func (m *Manager) Undo() bool {
	return m.apply(&m.undo, &m.redo, "undo")
}

// Redo reapplies the most recently undone step.
func (m *Manager) Redo() bool {
	return m.apply(&m.redo, &m.undo, "redo")
}

func (m *Manager) apply(from, to *[]*step, what string) bool {
	m.mu.Lock()
	n := len(*from)
	if n == 0 {
		m.mu.Unlock()
		return false
	}
	s := (*from)[n-1]
	*from = (*from)[:n-1]
	// the next edit starts a fresh step
	m.lastEdit = time.Time{}
	m.mu.Unlock()

	inverse := m.doc.Transact(Origin, func(tx *state.Tx) {
		m.revert(tx, s.changes)
	})

	m.mu.Lock()
	if len(inverse) > 0 {
		*to = append(*to, &step{changes: inverse})
	}
	notify := m.onChange
	m.mu.Unlock()

	if notify != nil {
		notify()
	}
	if len(inverse) == 0 {
		glog.V(2).Infof("[history] %s step had no live targets\n", what)
	}
	return len(inverse) > 0
}

// revert applies the inverse of changes in reverse order. Targets outside
// the current scope belong to removed layers and are skipped.
func (m *Manager) revert(tx *state.Tx, changes []state.Change) {
	for i := len(changes) - 1; i >= 0; i-- {
		c := changes[i]
		if !m.inScope(c.Op.Target) {
			continue
		}
		switch c.Op.Type {
		case state.OpInsert:
			arr := tx.Array(c.Op.Target)
			if tx.DeleteID(arr, m.resolve(c.Op.ID)) || c.Op.Target != m.scope.Root() {
				continue
			}
			// a move by someone else replaced our root entry; layer ids are
			// unique, so remove whatever entries now hold it
			for {
				id, ok := arr.Find(c.Op.Value)
				if !ok || !tx.DeleteID(arr, id) {
					break
				}
			}
		case state.OpDelete:
			arr := tx.Array(c.Op.Target)
			id := m.resolve(c.Op.ID)
			if arr.Live(id) {
				continue
			}
			if copied := tx.InsertAfter(arr, id, c.Removed); !copied.IsZero() {
				m.moved[id] = copied
			}
		case state.OpSet:
			mp := tx.Map(c.Op.Target)
			// a later write by someone else wins over our undo
			if mp.Stamp(c.Op.Key) != c.Op.ID {
				continue
			}
			prev := c.Prev
			if prev == nil {
				prev = []byte("null")
			}
			tx.Set(mp, c.Op.Key, prev)
		}
	}
}

// resolve follows id to the element currently standing in for it.
func (m *Manager) resolve(id state.ElemID) state.ElemID {
	for {
		next, ok := m.moved[id]
		if !ok {
			return id
		}
		id = next
	}
}

func (m *Manager) inScope(target string) bool {
	if target == m.scope.Root() {
		return true
	}
	for _, name := range m.scope.Members() {
		if name == target {
			return true
		}
	}
	return false
}
