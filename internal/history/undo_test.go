package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CollabBoard/internal/canvas"
	"CollabBoard/internal/state"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1000, 0)} }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func objectIDs(l *canvas.Layers, id string) []string {
	layer, _ := l.Get(id)
	out := []string{}
	for _, o := range layer.Objects {
		out = append(out, o.ObjectID())
	}
	return out
}

func setup(t *testing.T) (*canvas.Layers, *Manager, *fakeClock, string) {
	t.Helper()
	layers := canvas.NewLayers(state.NewDocWithSite("a"))
	id := layers.EnsureDefault()
	m := New(layers.Doc(), layers)
	clock := newFakeClock()
	m.now = clock.now
	t.Cleanup(m.Close)
	return layers, m, clock, id
}

func TestUndoSingleStroke(t *testing.T) {
	layers, m, _, id := setup(t)
	assert.False(t, m.CanUndo())

	layers.AddObjectToLayer(id, canvas.Stroke{
		ID:        "s1",
		Points:    []canvas.Point{{X: 0, Y: 0}, {X: 10, Y: 10}},
		Color:     "#000000",
		Thickness: 2,
	})
	require.True(t, m.CanUndo())
	require.True(t, m.Undo())

	assert.Empty(t, objectIDs(layers, id))
	// the bootstrap layer is not undoable
	assert.Len(t, layers.List(), 1)
	assert.False(t, m.Undo())
}

func TestUndoRedoRestoresObjects(t *testing.T) {
	layers, m, clock, id := setup(t)
	layers.AddObjectToLayer(id, canvas.Rectangle{ID: "r", Width: 4, Height: 4, Color: "#ff0000", Thickness: 1})
	clock.advance(time.Second)
	layers.AddObjectToLayer(id, canvas.Image{ID: "img", Src: "data:", Width: 8, Height: 8})
	clock.advance(time.Second)

	layers.ReplaceObject(canvas.Image{ID: "img", Src: "data:", X: 3, Y: 3, Width: 16, Height: 16})
	before, _ := layers.Get(id)

	clock.advance(time.Second)
	layers.ClearLayer(id)
	require.Empty(t, objectIDs(layers, id))

	require.True(t, m.Undo())
	restored, _ := layers.Get(id)
	assert.Equal(t, before.Objects, restored.Objects)

	require.True(t, m.Redo())
	assert.Empty(t, objectIDs(layers, id))
	require.True(t, m.Undo())
	restored, _ = layers.Get(id)
	assert.Equal(t, before.Objects, restored.Objects)

	// undoing the transform puts the image back where it was
	require.True(t, m.Undo())
	ref, ok := layers.FindObject("img")
	require.True(t, ok)
	assert.Equal(t, 1, ref.Index)
	assert.Equal(t, 0.0, ref.Object.(canvas.Image).X)
}

func TestEditsWithinWindowCoalesce(t *testing.T) {
	layers, m, clock, id := setup(t)
	layers.AddObjectToLayer(id, canvas.Text{ID: "a"})
	clock.advance(100 * time.Millisecond)
	layers.AddObjectToLayer(id, canvas.Text{ID: "b"})
	clock.advance(CaptureTimeout + time.Millisecond)
	layers.AddObjectToLayer(id, canvas.Text{ID: "c"})

	require.True(t, m.Undo())
	assert.Equal(t, []string{"a", "b"}, objectIDs(layers, id))
	require.True(t, m.Undo())
	assert.Empty(t, objectIDs(layers, id))
	assert.False(t, m.CanUndo())
	assert.True(t, m.CanRedo())

	// a new edit drops the redo stack
	layers.AddObjectToLayer(id, canvas.Text{ID: "d"})
	assert.False(t, m.CanRedo())
}

func TestUndoOnRemovedLayerIsNoop(t *testing.T) {
	layers, m, clock, base := setup(t)
	other := layers.AddLayer()
	clock.advance(time.Second)
	layers.AddObjectToLayer(other, canvas.Text{ID: "t"})

	// a remote participant removes the layer
	remote := canvas.NewLayers(state.NewDocWithSite("b"))
	remote.Doc().ApplyUpdate(layers.Doc().Snapshot())
	remote.Doc().OnUpdate(func(u state.Update) { layers.Doc().ApplyUpdate(u) })
	remote.RemoveLayer(other)
	require.Equal(t, 1, len(layers.List()))

	assert.False(t, m.Undo())
	assert.Equal(t, []string{base}, []string{layers.List()[0].ID})
}

func TestUndoKeepsRemoteMetadata(t *testing.T) {
	layers, m, clock, id := setup(t)
	layers.RenameLayer(id, "Mine")
	clock.advance(time.Second)

	remote := state.NewDocWithSite("z")
	remote.ApplyUpdate(layers.Doc().Snapshot())
	remote.OnUpdate(func(u state.Update) { layers.Doc().ApplyUpdate(u) })
	remote.Transact(state.LocalOrigin, func(tx *state.Tx) {
		tx.SetJSON(tx.Map(canvas.MetaKey(id)), "name", "Theirs")
	})

	m.Undo()
	layer, _ := layers.Get(id)
	assert.Equal(t, "Theirs", layer.Name)
}

func TestUndoLayerAddAfterRemoteMove(t *testing.T) {
	layers, m, _, base := setup(t)
	added := layers.AddLayer()

	remote := canvas.NewLayers(state.NewDocWithSite("b"))
	remote.Doc().ApplyUpdate(layers.Doc().Snapshot())
	remote.Doc().OnUpdate(func(u state.Update) { layers.Doc().ApplyUpdate(u) })
	remote.MoveLayer(added, 0)
	require.Equal(t, added, layers.List()[0].ID)

	require.True(t, m.Undo())
	list := layers.List()
	require.Len(t, list, 1)
	assert.Equal(t, base, list[0].ID)
	assert.Equal(t, "Layer 1", list[0].Name)
	assert.Equal(t, 0, list[0].ZIndex)

	require.True(t, m.Redo())
	layer, ok := layers.Get(added)
	require.True(t, ok)
	assert.Equal(t, "Layer 2", layer.Name)
	assert.True(t, layer.Visible)
	assert.Len(t, layers.List(), 2)
}

func TestUndoLayerAdd(t *testing.T) {
	layers, m, _, base := setup(t)
	added := layers.AddLayer()
	require.Len(t, layers.List(), 2)

	require.True(t, m.Undo())
	list := layers.List()
	require.Len(t, list, 1)
	assert.Equal(t, base, list[0].ID)
	assert.Equal(t, 0, list[0].ZIndex)

	require.True(t, m.Redo())
	list = layers.List()
	require.Len(t, list, 2)
	assert.Equal(t, added, list[1].ID)
	assert.Equal(t, "Layer 2", list[1].Name)
}
