// Package fill computes flood fills against the active layer and records
// them as the exact cells to paint.
package fill

import (
	"image"
	"image/color"
	"math"

	"CollabBoard/internal/canvas"
	"CollabBoard/internal/render"
)

// Tolerance is the per-channel difference still considered the target
// colour, so anti-aliased edges are absorbed.
const Tolerance = 5

// Request describes one fill click in display coordinates.
type Request struct {
	Point  canvas.Point
	Color  string
	Width  float64
	Height float64
}

// Compute renders the layer's objects alone at device resolution and fills
// the region around the clicked pixel. The returned cells are in display
// coordinates. An empty result means nothing should be recorded.
func Compute(r *render.Renderer, objects []canvas.Object, req Request) []canvas.Point {
	size := r.DeviceSize(req.Width, req.Height)
	if size.X <= 0 || size.Y <= 0 {
		return nil
	}
	buf := r.Pool().Get(size.X, size.Y)
	defer r.Pool().Put(buf)
	r.RenderLayer(buf, objects)

	fillColor, _ := canvas.ParseColor(req.Color)
	ratio := r.Ratio()
	start := image.Point{
		X: int(math.Floor(req.Point.X * ratio)),
		Y: int(math.Floor(req.Point.Y * ratio)),
	}
	return Flood(buf, start, fillColor, ratio)
}

// Flood recolours the 4-connected region of img around start and returns
// the recoloured pixels divided by ratio. It is bounded by the image size.
func Flood(img *image.RGBA, start image.Point, fillColor color.NRGBA, ratio float64) []canvas.Point {
	b := img.Bounds()
	if !start.In(b) {
		return nil
	}
	target := pixel(img, start)
	if target == fillColor {
		return nil
	}
	if ratio <= 0 {
		ratio = 1
	}

	visited := make([]bool, b.Dx()*b.Dy())
	var out []canvas.Point
	stack := []image.Point{start}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !p.In(b) {
			continue
		}
		i := (p.Y-b.Min.Y)*b.Dx() + (p.X - b.Min.X)
		if visited[i] {
			continue
		}
		visited[i] = true
		if !within(pixel(img, p), target) {
			continue
		}
		img.Set(p.X, p.Y, fillColor)
		out = append(out, canvas.Point{X: float64(p.X) / ratio, Y: float64(p.Y) / ratio})
		stack = append(stack,
			image.Point{X: p.X + 1, Y: p.Y},
			image.Point{X: p.X - 1, Y: p.Y},
			image.Point{X: p.X, Y: p.Y + 1},
			image.Point{X: p.X, Y: p.Y - 1},
		)
	}
	return out
}

// pixel reads a non-premultiplied colour, the representation the colour
// strings use.
func pixel(img *image.RGBA, p image.Point) color.NRGBA {
	return color.NRGBAModel.Convert(img.RGBAAt(p.X, p.Y)).(color.NRGBA)
}

func within(c, target color.NRGBA) bool {
	return near(c.R, target.R) && near(c.G, target.G) && near(c.B, target.B) && near(c.A, target.A)
}

func near(a, b uint8) bool {
	d := int(a) - int(b)
	return d >= -Tolerance && d <= Tolerance
}
