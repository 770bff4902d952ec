package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CollabBoard/internal/canvas"
	"CollabBoard/internal/state"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(Config{Width: 40, Height: 30, Ratio: 1, RoomID: "ABC123", UserColor: "#ff00ff"})
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("obj-%d", n)
	}
	clock := time.Unix(100, 0)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	s.EnsureDefault()
	t.Cleanup(s.Close)
	return s
}

func objects(s *Session) []canvas.Object {
	layer, _ := s.layers.Get(s.ActiveLayer())
	return layer.Objects
}

func TestDrawStrokeThenUndo(t *testing.T) {
	s := newTestSession(t)
	s.SetColor("#000000")
	s.SetThickness(2)
	s.PointerDown(canvas.Point{X: 0, Y: 0})
	s.PointerMove(canvas.Point{X: 5, Y: 5})
	s.PointerUp(canvas.Point{X: 10, Y: 10})

	require.Len(t, objects(s), 1)
	stroke := objects(s)[0].(canvas.Stroke)
	assert.Equal(t, []canvas.Point{{X: 0, Y: 0}, {X: 5, Y: 5}, {X: 10, Y: 10}}, stroke.Points)
	assert.Equal(t, 2.0, stroke.Thickness)
	assert.NotZero(t, stroke.Timestamp)

	require.True(t, s.Undo())
	assert.Empty(t, objects(s))
	require.True(t, s.Redo())
	assert.Equal(t, stroke, objects(s)[0])
}

func TestShapesFromGestures(t *testing.T) {
	s := newTestSession(t)
	s.SetTool(ToolRectangle)
	s.PointerDown(canvas.Point{X: 10, Y: 10})
	s.PointerMove(canvas.Point{X: 12, Y: 30})
	s.PointerUp(canvas.Point{X: 4, Y: 20})

	s.SetTool(ToolCircle)
	s.PointerDown(canvas.Point{X: 10, Y: 10})
	s.PointerUp(canvas.Point{X: 13, Y: 14})

	// a click without movement draws nothing
	s.SetTool(ToolEraser)
	s.PointerDown(canvas.Point{X: 1, Y: 1})
	s.PointerUp(canvas.Point{X: 1, Y: 1})

	got := objects(s)
	require.Len(t, got, 2)
	rect := got[0].(canvas.Rectangle)
	assert.Equal(t, [4]float64{10, 10, -6, 10}, [4]float64{rect.X, rect.Y, rect.Width, rect.Height})
	assert.Equal(t, 5.0, got[1].(canvas.Circle).Radius)
}

func TestPointerLeaveAbandonsGesture(t *testing.T) {
	s := newTestSession(t)
	s.PointerDown(canvas.Point{X: 1, Y: 1})
	s.PointerMove(canvas.Point{X: 8, Y: 8})
	_, drawing := s.Preview()
	require.True(t, drawing)

	s.PointerLeave()
	s.PointerUp(canvas.Point{X: 9, Y: 9})
	_, drawing = s.Preview()
	assert.False(t, drawing)
	assert.Empty(t, objects(s))
	assert.Equal(t, "null", string(s.Presence().LocalState()["cursor"]))
}

func TestFillRecordsCells(t *testing.T) {
	s := newTestSession(t)
	s.SetTool(ToolFill)
	s.SetColor("#FFFFFF")
	s.PointerDown(canvas.Point{X: 5, Y: 5})
	require.Len(t, objects(s), 1)
	f := objects(s)[0].(canvas.Fill)
	assert.Len(t, f.Pixels, 40*30)

	// the clicked pixel is already white now
	assert.False(t, s.FillAt(canvas.Point{X: 5, Y: 5}))
	assert.Len(t, objects(s), 1)
}

func TestTextCommit(t *testing.T) {
	s := newTestSession(t)
	s.SetFontSize(20)
	assert.False(t, s.CommitText(canvas.Point{X: 1, Y: 2}, ""))
	require.True(t, s.CommitText(canvas.Point{X: 1, Y: 2}, "note"))
	txt := objects(s)[0].(canvas.Text)
	assert.Equal(t, "note", txt.Text)
	assert.Equal(t, 20.0, txt.FontSize)
}

func TestActiveLayerFallsBack(t *testing.T) {
	s := newTestSession(t)
	first := s.ActiveLayer()
	second := s.AddLayer()
	assert.Equal(t, second, s.ActiveLayer())

	s.SetActiveLayer("missing")
	assert.Equal(t, second, s.ActiveLayer())

	s.SetActiveLayer(first)
	s.RemoveLayer(first)
	assert.Equal(t, second, s.ActiveLayer())
}

func TestRepaintsCoalesce(t *testing.T) {
	s := newTestSession(t)
	for i := 0; i < 10; i++ {
		s.RequestRepaint()
	}
	frames := 0
	s.OnFrame(func(*image.RGBA) { frames++ })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return len(s.repaint) == 0 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	// the initial paint plus at most one for the queued requests
	assert.LessOrEqual(t, frames, 2)
}

func TestDocumentChangeListeners(t *testing.T) {
	s := newTestSession(t)
	changes := 0
	s.OnDocumentChange(func() { changes++ })
	s.AddLayer()
	s.CommitText(canvas.Point{X: 1, Y: 1}, "x")
	s.SetTool(ToolPen)
	s.PointerDown(canvas.Point{X: 1, Y: 1})
	s.PointerMove(canvas.Point{X: 4, Y: 4})
	assert.Equal(t, 2, changes)

	s.Close()
	s.PointerUp(canvas.Point{X: 6, Y: 6})
	assert.Equal(t, 2, changes)
}

func TestRemoteCursors(t *testing.T) {
	s := newTestSession(t)
	calls := 0
	s.OnPresence(func() { calls++ })

	s.Presence().ApplyRemote("zed", state.State{
		"color":  json.RawMessage(`"#00ff00"`),
		"cursor": json.RawMessage(`{"x":3,"y":4}`),
	})
	s.Presence().ApplyRemote("amy", state.State{"color": json.RawMessage(`"#0000ff"`), "cursor": json.RawMessage(`null`)})
	s.PointerMove(canvas.Point{X: 1, Y: 1})

	assert.Equal(t, []Cursor{{Client: "zed", Color: "#00ff00", X: 3, Y: 4}}, s.RemoteCursors())
	assert.Equal(t, 3, calls)
	assert.Equal(t, `"#ff00ff"`, string(s.Presence().LocalState()["color"]))
}

func TestExportAndImport(t *testing.T) {
	s := newTestSession(t)
	s.SetTool(ToolFill)
	s.SetColor("#ff0000")
	s.PointerDown(canvas.Point{X: 2, Y: 2})

	var raster bytes.Buffer
	require.NoError(t, s.ExportRaster(&raster))
	img, err := png.Decode(&raster)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())
	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, color.RGBAModel.Convert(img.At(10, 10)))

	var pdf bytes.Buffer
	require.NoError(t, s.ExportPDF(&pdf))
	assert.True(t, bytes.HasPrefix(pdf.Bytes(), []byte("%PDF")))

	var doc bytes.Buffer
	require.NoError(t, s.ExportDocument(&doc))

	other := newTestSession(t)
	require.NoError(t, other.ImportDocument(bytes.NewReader(doc.Bytes())))
	assert.Equal(t, s.Layers(), other.Layers())
	// importing is undoable
	require.True(t, other.Undo())
	assert.NotEqual(t, s.Layers(), other.Layers())

	assert.Error(t, other.ImportDocument(bytes.NewReader([]byte("{"))))
}

func TestExportIncludesPendingImages(t *testing.T) {
	s := newTestSession(t)
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(src.Pix); i += 4 {
		copy(src.Pix[i:], []byte{0, 0, 0xff, 0xff})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	_, err := s.InsertImage(buf.Bytes(), "image/png", canvas.Point{X: 5, Y: 5}, 10, 10)
	require.NoError(t, err)

	var raster bytes.Buffer
	require.NoError(t, s.ExportRaster(&raster))
	img, err := png.Decode(&raster)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{B: 0xff, A: 0xff}, color.RGBAModel.Convert(img.At(10, 10)))
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, color.RGBAModel.Convert(img.At(1, 1)))
}

func TestInsertImageAndSelect(t *testing.T) {
	s := newTestSession(t)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 600, 300))))

	id, err := s.InsertImage(buf.Bytes(), "image/png", canvas.Point{X: 5, Y: 5}, 0, 0)
	require.NoError(t, err)
	ref, ok := s.layers.FindObject(id)
	require.True(t, ok)
	img := ref.Object.(canvas.Image)
	assert.Equal(t, [2]float64{MaxImageSide, MaxImageSide / 2}, [2]float64{img.Width, img.Height})

	_, err = s.InsertImage([]byte("nope"), "image/png", canvas.Point{}, 0, 0)
	assert.Error(t, err)

	s.SetTool(ToolSelect)
	s.PointerDown(canvas.Point{X: 10, Y: 10})
	s.PointerMove(canvas.Point{X: 20, Y: 15})
	s.PointerUp(canvas.Point{X: 20, Y: 15})
	ref, _ = s.layers.FindObject(id)
	assert.Equal(t, 15.0, ref.Object.(canvas.Image).X)

	require.True(t, s.DeleteSelected())
	_, ok = s.layers.FindObject(id)
	assert.False(t, ok)
}

func TestPlaybackDoesNotWrite(t *testing.T) {
	s := newTestSession(t)
	s.CommitText(canvas.Point{X: 1, Y: 1}, "a")
	s.CommitText(canvas.Point{X: 5, Y: 5}, "b")
	before := s.Layers()

	var steps []int
	err := s.Playback(context.Background(), 100, func(_ *image.RGBA, step, total int) {
		assert.Equal(t, 2, total)
		steps = append(steps, step)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, steps)
	assert.Equal(t, before, s.Layers())
}
