package fill

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CollabBoard/internal/canvas"
	"CollabBoard/internal/render"
)

func whiteSquare() []canvas.Object {
	cells := make([]canvas.Point, 0, 100)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			cells = append(cells, canvas.Point{X: float64(x), Y: float64(y)})
		}
	}
	return []canvas.Object{canvas.Fill{ID: "w", Color: "#FFFFFF", Pixels: cells}}
}

func TestFillSameColorIsEmpty(t *testing.T) {
	r := render.New(1, nil)
	got := Compute(r, whiteSquare(), Request{Point: canvas.Point{X: 5, Y: 5}, Color: "#FFFFFF", Width: 20, Height: 20})
	assert.Empty(t, got)
}

func TestFillEqualColorPropertyHolds(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 12, 12))
		for j := range img.Pix {
			img.Pix[j] = uint8(rng.Intn(256))
		}
		// keep pixels valid premultiplied colours
		for j := 0; j < len(img.Pix); j += 4 {
			img.Pix[j+3] = 0xff
		}
		p := image.Point{X: rng.Intn(12), Y: rng.Intn(12)}
		c := pixel(img, p)
		assert.Empty(t, Flood(img, p, c, 1))
	}
}

func TestFillStaysInsideOutline(t *testing.T) {
	r := render.New(1, nil)
	outline := []canvas.Object{
		canvas.Rectangle{ID: "r", X: 4, Y: 4, Width: 12, Height: 12, Color: "#000000", Thickness: 2},
	}
	got := Compute(r, outline, Request{Point: canvas.Point{X: 10, Y: 10}, Color: "#ff0000", Width: 20, Height: 20})
	require.NotEmpty(t, got)

	set := make(map[canvas.Point]bool, len(got))
	for _, p := range got {
		assert.True(t, p.X > 4 && p.X < 16 && p.Y > 4 && p.Y < 16, "%v escaped the outline", p)
		set[p] = true
	}
	assert.True(t, set[canvas.Point{X: 10, Y: 10}])
	assertConnected(t, set, canvas.Point{X: 10, Y: 10}, 1)

	outside := Compute(r, outline, Request{Point: canvas.Point{X: 1, Y: 1}, Color: "#ff0000", Width: 20, Height: 20})
	require.NotEmpty(t, outside)
	for _, p := range outside {
		assert.False(t, set[p], "%v filled from both sides", p)
	}
}

func assertConnected(t *testing.T, set map[canvas.Point]bool, origin canvas.Point, step float64) {
	t.Helper()
	seen := map[canvas.Point]bool{origin: true}
	queue := []canvas.Point{origin}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, n := range []canvas.Point{{X: p.X + step, Y: p.Y}, {X: p.X - step, Y: p.Y}, {X: p.X, Y: p.Y + step}, {X: p.X, Y: p.Y - step}} {
			if set[n] && !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	assert.Equal(t, len(set), len(seen), "filled cells are not 4-connected to the origin")
}

func TestFillOutOfBoundsIsEmpty(t *testing.T) {
	r := render.New(1, nil)
	for _, p := range []canvas.Point{{X: -1, Y: 2}, {X: 2, Y: 20}, {X: 25, Y: 25}} {
		assert.Empty(t, Compute(r, nil, Request{Point: p, Color: "#ff0000", Width: 20, Height: 20}))
	}
	assert.Empty(t, Compute(r, nil, Request{Point: canvas.Point{X: 1, Y: 1}, Color: "#ff0000"}))
}

func TestFillAbsorbsNearColors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	img.SetRGBA(1, 0, color.RGBA{R: 104, G: 96, B: 100, A: 255})
	img.SetRGBA(2, 0, color.RGBA{R: 106, G: 100, B: 100, A: 255})

	got := Flood(img, image.Point{}, color.NRGBA{B: 255, A: 255}, 1)
	assert.Equal(t, []canvas.Point{{X: 0, Y: 0}, {X: 1, Y: 0}}, got)
}

func TestFillDividesByRatio(t *testing.T) {
	r := render.New(2, nil)
	got := Compute(r, nil, Request{Point: canvas.Point{X: 0.2, Y: 0.2}, Color: "#00ff00", Width: 2, Height: 1})
	require.Len(t, got, 8)
	set := map[canvas.Point]bool{}
	for _, p := range got {
		set[p] = true
	}
	for _, want := range []canvas.Point{{X: 0, Y: 0}, {X: 0.5, Y: 0}, {X: 1.5, Y: 0.5}} {
		assert.True(t, set[want], "%v", want)
	}
	assertConnected(t, set, canvas.Point{X: 0, Y: 0}, 0.5)
}
