package state

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func readStrings(t *testing.T, d *Doc, name string) []string {
	t.Helper()
	var out []string
	d.View(func() {
		for _, v := range d.Array(name).Values() {
			var s string
			require.NoError(t, json.Unmarshal(v, &s))
			out = append(out, s)
		}
	})
	return out
}

func TestArrayLocalOps(t *testing.T) {
	d := NewDocWithSite("a")
	arr := d.Array("list")
	d.Transact(LocalOrigin, func(tx *Tx) {
		tx.Push(arr, raw("x"), raw("z"))
		tx.Insert(arr, 1, raw("y"))
	})
	assert.Equal(t, []string{"x", "y", "z"}, readStrings(t, d, "list"))

	d.Transact(LocalOrigin, func(tx *Tx) {
		tx.Delete(arr, 0, 1)
		tx.Insert(arr, 0, raw("w"))
		tx.Insert(arr, 99, raw("end"))
	})
	assert.Equal(t, []string{"w", "y", "z", "end"}, readStrings(t, d, "list"))
}

func TestConcurrentInsertsConverge(t *testing.T) {
	a := NewDocWithSite("a")
	b := NewDocWithSite("b")

	var base Update
	a.OnUpdate(func(u Update) { base = u })
	a.Transact(LocalOrigin, func(tx *Tx) { tx.Push(tx.Array("l"), raw("1"), raw("2")) })
	b.ApplyUpdate(base)

	var fromA, fromB Update
	a.OnUpdate(func(u Update) { fromA = u })
	b.OnUpdate(func(u Update) { fromB = u })
	a.Transact(LocalOrigin, func(tx *Tx) { tx.Insert(tx.Array("l"), 1, raw("a1"), raw("a2")) })
	b.Transact(LocalOrigin, func(tx *Tx) { tx.Insert(tx.Array("l"), 1, raw("b1")) })

	a.ApplyUpdate(fromB)
	b.ApplyUpdate(fromA)

	got := readStrings(t, a, "l")
	assert.Equal(t, got, readStrings(t, b, "l"))
	assert.Len(t, got, 5)
	assert.Equal(t, "1", got[0])
	assert.Equal(t, "2", got[4])
}

func TestDuplicateAndDeletedOps(t *testing.T) {
	a := NewDocWithSite("a")
	b := NewDocWithSite("b")
	var updates []Update
	a.OnUpdate(func(u Update) { updates = append(updates, u) })

	a.Transact(LocalOrigin, func(tx *Tx) { tx.Push(tx.Array("l"), raw("x")) })
	a.Transact(LocalOrigin, func(tx *Tx) { tx.Delete(tx.Array("l"), 0, 1) })

	for _, u := range updates {
		b.ApplyUpdate(u)
	}
	// replaying is harmless
	for _, u := range updates {
		assert.Empty(t, b.ApplyUpdate(u))
	}
	assert.Empty(t, readStrings(t, b, "l"))
}

func TestOutOfOrderDeliveryIsBuffered(t *testing.T) {
	a := NewDocWithSite("a")
	b := NewDocWithSite("b")
	var updates []Update
	a.OnUpdate(func(u Update) { updates = append(updates, u) })

	a.Transact(LocalOrigin, func(tx *Tx) { tx.Push(tx.Array("l"), raw("first")) })
	a.Transact(LocalOrigin, func(tx *Tx) { tx.Push(tx.Array("l"), raw("second")) })
	a.Transact(LocalOrigin, func(tx *Tx) { tx.Delete(tx.Array("l"), 0, 1) })
	require.Len(t, updates, 3)

	b.ApplyUpdate(updates[2])
	b.ApplyUpdate(updates[1])
	assert.Equal(t, 2, b.Pending())
	b.ApplyUpdate(updates[0])
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, []string{"second"}, readStrings(t, b, "l"))
}

func TestMapLastWriterWins(t *testing.T) {
	a := NewDocWithSite("a")
	b := NewDocWithSite("b")
	var fromA, fromB Update
	a.OnUpdate(func(u Update) { fromA = u })
	b.OnUpdate(func(u Update) { fromB = u })

	a.Transact(LocalOrigin, func(tx *Tx) { tx.Set(tx.Map("m"), "name", raw("from a")) })
	b.Transact(LocalOrigin, func(tx *Tx) { tx.Set(tx.Map("m"), "name", raw("from b")) })
	a.ApplyUpdate(fromB)
	b.ApplyUpdate(fromA)

	var va, vb json.RawMessage
	a.View(func() { va, _ = a.Map("m").Get("name") })
	b.View(func() { vb, _ = b.Map("m").Get("name") })
	assert.Equal(t, string(va), string(vb))
	// equal clocks: the larger site wins
	assert.Equal(t, `"from b"`, string(va))
}

func TestSnapshotRebuildsReplica(t *testing.T) {
	a := NewDocWithSite("a")
	a.Transact(LocalOrigin, func(tx *Tx) {
		l := tx.Array("l")
		tx.Push(l, raw("1"), raw("2"), raw("3"))
		tx.Delete(l, 1, 1)
		tx.Set(tx.Map("m"), "k", raw("v"))
	})
	b := NewDocWithSite("b")
	b.ApplyUpdate(a.Snapshot())
	assert.Equal(t, []string{"1", "3"}, readStrings(t, b, "l"))
	assert.Empty(t, b.ApplyUpdate(a.Snapshot()))

	var v json.RawMessage
	b.View(func() { v, _ = b.Map("m").Get("k") })
	assert.Equal(t, `"v"`, string(v))
}

func TestObserversOncePerTransaction(t *testing.T) {
	d := NewDoc()
	arr := d.Array("l")
	calls := 0
	unsubscribe := arr.Observe(func(ev *TxEvent) {
		calls++
		assert.True(t, ev.Local())
		assert.Len(t, ev.Changes, 3)
	})
	d.Transact(LocalOrigin, func(tx *Tx) { tx.Push(arr, raw("a"), raw("b"), raw("c")) })
	assert.Equal(t, 1, calls)

	// other collections do not notify
	d.Transact(LocalOrigin, func(tx *Tx) { tx.Set(tx.Map("m"), "k", raw("v")) })
	assert.Equal(t, 1, calls)

	unsubscribe()
	d.Transact(LocalOrigin, func(tx *Tx) { tx.Push(arr, raw("d")) })
	assert.Equal(t, 1, calls)
}

func TestObserverMayTransact(t *testing.T) {
	d := NewDoc()
	var order []string
	d.Observe(func(ev *TxEvent) {
		order = append(order, fmt.Sprint(ev.Origin))
		if ev.Origin == LocalOrigin {
			d.Transact("follow-up", func(tx *Tx) { tx.Push(tx.Array("log"), raw("x")) })
		}
	})
	d.Transact(LocalOrigin, func(tx *Tx) { tx.Push(tx.Array("l"), raw("a")) })
	assert.Equal(t, []string{"local", "follow-up"}, order)
}

func TestInsertAfterTombstone(t *testing.T) {
	d := NewDoc()
	arr := d.Array("l")
	var deleted ElemID
	d.Transact(LocalOrigin, func(tx *Tx) {
		tx.Push(arr, raw("a"), raw("b"), raw("c"))
		deleted, _ = arr.IDAt(1)
		tx.DeleteID(arr, deleted)
	})
	d.Transact(LocalOrigin, func(tx *Tx) {
		assert.False(t, tx.InsertAfter(arr, deleted, raw("b")).IsZero())
		assert.True(t, tx.InsertAfter(arr, ElemID{Clock: 999, Site: "nobody"}, raw("z")).IsZero())
	})
	assert.Equal(t, []string{"a", "b", "c"}, readStrings(t, d, "l"))
}

func TestPresence(t *testing.T) {
	p := NewPresence("me")
	var published []State
	var events []PresenceEvent
	p.OnLocalChange(func(s State) { published = append(published, s) })
	p.Observe(func(ev PresenceEvent) { events = append(events, ev) })

	require.NoError(t, p.SetLocalField("color", "#ff0000"))
	require.NoError(t, p.SetLocalField("cursor", nil))
	require.Len(t, published, 2)
	assert.Equal(t, "null", string(published[1]["cursor"]))

	p.ApplyRemote("other", State{"color": raw("#00ff00")})
	p.ApplyRemote("me", State{"color": raw("#000000")})
	assert.Equal(t, []string{"me", "other"}, p.Clients())
	assert.Equal(t, `"#ff0000"`, string(p.GetAllStates()["me"]["color"]))

	p.Remove("other")
	p.Remove("other")
	assert.Equal(t, []string{"me"}, p.Clients())
	assert.Equal(t, PresenceEvent{Client: "other", Removed: true}, events[len(events)-1])
	assert.Len(t, events, 4)
}
