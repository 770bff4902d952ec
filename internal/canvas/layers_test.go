package canvas

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CollabBoard/internal/state"
)

func newTestLayers(site string) *Layers {
	l := NewLayers(state.NewDocWithSite(site))
	n := 0
	l.newID = func() string {
		n++
		return fmt.Sprintf("%s-L%d", site, n)
	}
	return l
}

func zIndexes(layers []Layer) []int {
	out := make([]int, 0, len(layers))
	for _, layer := range layers {
		out = append(out, layer.ZIndex)
	}
	return out
}

func layerIDs(layers []Layer) []string {
	out := make([]string, 0, len(layers))
	for _, layer := range layers {
		out = append(out, layer.ID)
	}
	return out
}

func TestAddLayerDefaults(t *testing.T) {
	l := newTestLayers("a")
	first := l.EnsureDefault()
	assert.Equal(t, first, l.EnsureDefault())

	second := l.AddLayer()
	layers := l.List()
	require.Len(t, layers, 2)
	assert.Equal(t, "Layer 1", layers[0].Name)
	assert.Equal(t, "Layer 2", layers[1].Name)
	assert.Equal(t, second, layers[1].ID)
	assert.True(t, layers[1].Visible)
	assert.Empty(t, layers[1].Objects)
}

func TestMoveLayerToBottom(t *testing.T) {
	l := newTestLayers("a")
	l1, l2, l3 := l.AddLayer(), l.AddLayer(), l.AddLayer()

	l.MoveLayer(l2, 0)

	layers := l.List()
	assert.Equal(t, []string{l2, l1, l3}, layerIDs(layers))
	assert.Equal(t, []int{0, 1, 2}, zIndexes(layers))
}

func TestZIndexStaysContiguous(t *testing.T) {
	l := newTestLayers("a")
	l.EnsureDefault()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		layers := l.List()
		switch rng.Intn(3) {
		case 0:
			l.AddLayer()
		case 1:
			l.RemoveLayer(layers[rng.Intn(len(layers))].ID)
		case 2:
			l.MoveLayer(layers[rng.Intn(len(layers))].ID, rng.Intn(len(layers)+2)-1)
		}
		layers = l.List()
		require.NotEmpty(t, layers)
		for want, layer := range layers {
			require.Equal(t, want, layer.ZIndex, "step %d", i)
		}
	}
}

func TestConcurrentAddsKeepZIndexContiguous(t *testing.T) {
	a := newTestLayers("a")
	a.EnsureDefault()
	b := newTestLayers("b")
	b.Doc().ApplyUpdate(a.Doc().Snapshot())

	a.AddLayer()
	b.AddLayer()
	a.Doc().ApplyUpdate(b.Doc().Snapshot())
	b.Doc().ApplyUpdate(a.Doc().Snapshot())

	for _, l := range []*Layers{a, b} {
		layers := l.List()
		require.Len(t, layers, 3)
		assert.Equal(t, []int{0, 1, 2}, zIndexes(layers))
	}
	assert.Equal(t, layerIDs(a.List()), layerIDs(b.List()))
	for i, layer := range a.List() {
		got, ok := a.Get(layer.ID)
		require.True(t, ok)
		assert.Equal(t, i, got.ZIndex)
	}
}

func TestRemoveLastLayerIsKept(t *testing.T) {
	l := newTestLayers("a")
	id := l.EnsureDefault()
	l.RemoveLayer(id)
	assert.Len(t, l.List(), 1)
}

func TestStaleLayerOperationsAreIgnored(t *testing.T) {
	l := newTestLayers("a")
	keep := l.EnsureDefault()
	gone := l.AddLayer()
	l.RemoveLayer(gone)

	calls := 0
	l.Observe(func(*state.TxEvent) { calls++ })

	l.RenameLayer(gone, "x")
	l.SetLayerVisibility(gone, false)
	l.MoveLayer(gone, 0)
	l.ClearLayer(gone)
	l.RemoveLayer(gone)
	assert.False(t, l.AddObjectToLayer(gone, Rectangle{ID: "r"}))
	assert.False(t, l.DeleteObject("missing"))
	assert.False(t, l.ReplaceObject(Image{ID: "missing"}))

	assert.Zero(t, calls)
	assert.Equal(t, []string{keep}, layerIDs(l.List()))
}

func TestObjectsAndReplace(t *testing.T) {
	l := newTestLayers("a")
	id := l.EnsureDefault()
	require.True(t, l.AddObjectToLayer(id, Stroke{ID: "s", Points: []Point{{0, 0}, {1, 1}}, Color: "#000000", Thickness: 2}))
	require.True(t, l.AddObjectToLayer(id, Image{ID: "img", Src: "data:", Width: 10, Height: 10}))
	require.True(t, l.AddObjectToLayer(id, Text{ID: "t", Text: "hi"}))

	ok := l.ReplaceObject(Image{ID: "img", Src: "data:", X: 5, Y: 6, Width: 20, Height: 30})
	require.True(t, ok)

	ref, found := l.FindObject("img")
	require.True(t, found)
	assert.Equal(t, 1, ref.Index)
	assert.Equal(t, Image{ID: "img", Src: "data:", X: 5, Y: 6, Width: 20, Height: 30}, ref.Object)

	require.True(t, l.DeleteObject("img"))
	layer, _ := l.Get(id)
	require.Len(t, layer.Objects, 2)
	assert.Equal(t, "t", layer.Objects[1].ObjectID())

	l.ClearAllLayers()
	layer, _ = l.Get(id)
	assert.Empty(t, layer.Objects)
}

func TestRemoteLayerEditsConverge(t *testing.T) {
	a := newTestLayers("a")
	b := newTestLayers("b")
	a.Doc().OnUpdate(func(u state.Update) { b.Doc().ApplyUpdate(u) })
	b.Doc().OnUpdate(func(u state.Update) { a.Doc().ApplyUpdate(u) })

	l1 := a.EnsureDefault()
	l2 := b.AddLayer()
	a.AddObjectToLayer(l2, Circle{ID: "c", X: 1, Y: 2, Radius: 3, Color: "#ff0000", Thickness: 1})
	b.MoveLayer(l2, 0)

	assert.Equal(t, []string{l2, l1}, layerIDs(a.List()))
	assert.Equal(t, a.List(), b.List())
}

func TestLayerJSON(t *testing.T) {
	in := Layer{ID: "L", Name: "Ink", Visible: true, ZIndex: 3, Objects: []Object{
		Fill{ID: "f", X: 1, Y: 1, Color: "#00ff00", Pixels: []Point{{1, 1}, {2, 1}}, Timestamp: 9},
		ErasePath{ID: "e", Points: []Point{{0, 0}}, Thickness: 4},
	}}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"filledPixels":[{"x":1,"y":1},{"x":2,"y":1}]`)
	assert.Contains(t, string(data), `"type":"erase"`)

	var out Layer
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)

	_, err = UnmarshalObject([]byte(`{"type":"hexagon"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestImportReplacesDocument(t *testing.T) {
	l := newTestLayers("a")
	old := l.EnsureDefault()
	l.AddObjectToLayer(old, Text{ID: "t"})

	l.Replace([]Layer{
		{ID: "top", Name: "Top", Visible: false, ZIndex: 5},
		{ID: "bottom", Name: "Bottom", Visible: true, ZIndex: 1, Objects: []Object{Rectangle{ID: "r", Width: 2, Height: 2}}},
	})

	layers := l.List()
	assert.Equal(t, []string{"bottom", "top"}, layerIDs(layers))
	assert.Equal(t, []int{0, 1}, zIndexes(layers))
	assert.False(t, layers[1].Visible)
	require.Len(t, layers[0].Objects, 1)
	_, found := l.FindObject("t")
	assert.False(t, found)
}

func TestParseColor(t *testing.T) {
	c, ok := ParseColor("#0F0")
	assert.True(t, ok)
	assert.Equal(t, "#00ff00", FormatColor(c))

	c, ok = ParseColor("#11223380")
	assert.True(t, ok)
	assert.Equal(t, uint8(0x80), c.A)

	_, ok = ParseColor("red")
	assert.False(t, ok)
}
