package export

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	"CollabBoard/internal/canvas"
	"CollabBoard/internal/render"
)

// Background is the colour exports are flattened onto.
var Background = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

// Render draws layers into a new raster of the given display size.
func Render(r *render.Renderer, layers []canvas.Layer, width, height float64) *image.RGBA {
	size := r.DeviceSize(width, height)
	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	r.Render(img, layers)
	return img
}

// Flatten lays img over the export background.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out
}

// PNG encodes img.
func PNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// Headless renders layers outside a session. Embedded images are decoded
// before the final pass so they appear in the result.
func Headless(layers []canvas.Layer, width, height, ratio float64) *image.RGBA {
	images := render.NewImageCache(nil)
	r := render.New(ratio, images)
	img := Render(r, layers, width, height)
	if len(render.ImageIDs(layers)) > 0 {
		images.Wait()
		img = Render(r, layers, width, height)
	}
	return img
}
