package playback

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CollabBoard/internal/canvas"
	"CollabBoard/internal/render"
)

func history() []canvas.Layer {
	return []canvas.Layer{
		{ID: "top", Visible: true, ZIndex: 1, Objects: []canvas.Object{
			canvas.Fill{ID: "f", Color: "#00ff00", Pixels: []canvas.Point{{X: 2, Y: 2}, {X: 3, Y: 2}}, Timestamp: 30},
			canvas.ErasePath{ID: "e", Points: []canvas.Point{{X: 3, Y: 2}}, Thickness: 1, Timestamp: 40},
		}},
		{ID: "bottom", Visible: true, ZIndex: 0, Objects: []canvas.Object{
			canvas.Stroke{ID: "s", Points: []canvas.Point{{X: 0, Y: 2}, {X: 8, Y: 2}}, Color: "#ff0000", Thickness: 2, Timestamp: 10},
			canvas.Rectangle{ID: "r", X: 1, Y: 5, Width: 4, Height: 2, Color: "#0000ff", Thickness: 1},
		}},
		{ID: "hidden", Visible: false, ZIndex: 2, Objects: []canvas.Object{
			canvas.Text{ID: "t", Text: "x", Timestamp: 5},
		}},
	}
}

func TestOrderByTimestamp(t *testing.T) {
	p := New(render.New(1, nil), history())
	require.Equal(t, 4, p.Steps())
	var ids []string
	for i := 0; i < p.Steps(); i++ {
		ids = append(ids, p.Object(i).ObjectID())
	}
	// the rectangle has no timestamp and plays first
	assert.Equal(t, []string{"r", "s", "f", "e"}, ids)
}

func TestFinalFrameMatchesRender(t *testing.T) {
	r := render.New(1, nil)
	p := New(r, history())
	frame := image.NewRGBA(image.Rect(0, 0, 10, 10))
	p.Frame(frame, p.Steps()-1)

	direct := image.NewRGBA(image.Rect(0, 0, 10, 10))
	r.Render(direct, history())
	assert.Equal(t, direct.Pix, frame.Pix)
}

func TestIntermediateFrames(t *testing.T) {
	p := New(render.New(1, nil), history())
	frame := image.NewRGBA(image.Rect(0, 0, 10, 10))

	p.Frame(frame, -1)
	assert.Equal(t, make([]byte, len(frame.Pix)), frame.Pix)

	p.Frame(frame, 1)
	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, frame.RGBAAt(3, 2))

	p.Frame(frame, 2)
	assert.Equal(t, color.RGBA{G: 0xff, A: 0xff}, frame.RGBAAt(3, 2))
}

func TestPlayStepsThroughEveryFrame(t *testing.T) {
	p := New(render.New(1, nil), history())
	frame := image.NewRGBA(image.Rect(0, 0, 10, 10))
	var steps []int
	err := p.Play(context.Background(), frame, 50, func(step int) { steps = append(steps, step) })
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, steps)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	err = p.Play(ctx, frame, 0.01, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
