// Package selection lets a participant pick an image on the board, move or
// resize it, and commit the result back to the shared document.
package selection

import (
	"math"
	"sync"

	"github.com/golang/glog"

	"CollabBoard/internal/canvas"
	"CollabBoard/internal/render"
)

// HandleSize is the side of the square resize handle at an image's
// bottom-right corner, in display units.
const HandleSize = 10

// MinSize keeps a resized image from collapsing.
const MinSize = 1

type mode int

const (
	idle mode = iota
	moving
	resizing
)

// Controller holds the local selection. Nothing here is replicated until
// Commit or DeleteSelected.
type Controller struct {
	layers *canvas.Layers
	images *render.ImageCache

	mu       sync.Mutex
	selected string
	mode     mode
	origin   canvas.Point
	start    canvas.Image
	preview  canvas.Image
}

// New returns a controller; images may be nil.
func New(layers *canvas.Layers, images *render.ImageCache) *Controller {
	return &Controller{layers: layers, images: images}
}

// HitTest finds the image under p: top-most visible layer first and, within
// a layer, the most recently drawn object first.
func HitTest(layers []canvas.Layer, p canvas.Point) (canvas.Image, bool) {
	visible := render.Visible(layers)
	for i := len(visible) - 1; i >= 0; i-- {
		objects := visible[i].Objects
		for j := len(objects) - 1; j >= 0; j-- {
			if img, ok := objects[j].(canvas.Image); ok && img.Contains(p) {
				return img, true
			}
		}
	}
	return canvas.Image{}, false
}

// Select selects the image under p, or clears the selection when there is
// none.
func (c *Controller) Select(p canvas.Point) bool {
	img, ok := HitTest(c.layers.List(), p)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = idle
	if !ok {
		c.selected = ""
		return false
	}
	c.selected = img.ID
	return true
}

func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = ""
	c.mode = idle
}

// Selected returns the selected image, showing the in-progress transform
// if there is one. A selection whose image was deleted by someone else is
// dropped.
func (c *Controller) Selected() (canvas.Image, bool) {
	c.mu.Lock()
	if c.selected == "" {
		c.mu.Unlock()
		return canvas.Image{}, false
	}
	if c.mode != idle {
		defer c.mu.Unlock()
		return c.preview, true
	}
	id := c.selected
	c.mu.Unlock()

	ref, ok := c.layers.FindObject(id)
	img, isImage := ref.Object.(canvas.Image)
	if !ok || !isImage {
		c.mu.Lock()
		if c.selected == id {
			c.selected = ""
		}
		c.mu.Unlock()
		return canvas.Image{}, false
	}
	return img, true
}

// OnHandle reports whether p is on the selected image's resize handle.
func (c *Controller) OnHandle(p canvas.Point) bool {
	img, ok := c.Selected()
	if !ok {
		return false
	}
	x, y := math.Max(img.X, img.X+img.Width), math.Max(img.Y, img.Y+img.Height)
	return math.Abs(p.X-x) <= HandleSize/2 && math.Abs(p.Y-y) <= HandleSize/2
}

// Begin starts a resize when p is on the handle, or a move when p is inside
// the selected image. It reports whether a transform started.
func (c *Controller) Begin(p canvas.Point) bool {
	handle := c.OnHandle(p)
	img, ok := c.Selected()
	if !ok || (!handle && !img.Contains(p)) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = moving
	if handle {
		c.mode = resizing
	}
	c.origin = p
	c.start = img
	c.preview = img
	return true
}

// Drag updates the local preview of the transform.
func (c *Controller) Drag(p canvas.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dx, dy := p.X-c.origin.X, p.Y-c.origin.Y
	switch c.mode {
	case moving:
		c.preview.X = c.start.X + dx
		c.preview.Y = c.start.Y + dy
	case resizing:
		c.preview.Width = math.Max(c.start.Width+dx, MinSize)
		c.preview.Height = math.Max(c.start.Height+dy, MinSize)
	}
}

// Preview returns the in-progress transform.
func (c *Controller) Preview() (canvas.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview, c.mode != idle
}

// Commit writes the transformed image back in place. It reports false when
// nothing was being transformed, nothing moved, or the image is gone.
func (c *Controller) Commit() bool {
	c.mu.Lock()
	if c.mode == idle {
		c.mu.Unlock()
		return false
	}
	c.mode = idle
	img, start := c.preview, c.start
	c.mu.Unlock()

	if img == start {
		return false
	}
	if !c.layers.ReplaceObject(img) {
		glog.V(2).Infof("[selection] image %s is gone, transform dropped\n", img.ID)
		c.Clear()
		return false
	}
	return true
}

// Cancel abandons the transform without touching the document.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = idle
}

// DeleteSelected removes the selected image from whichever layer holds it
// and drops its decoded bitmap.
func (c *Controller) DeleteSelected() bool {
	c.mu.Lock()
	id := c.selected
	c.selected = ""
	c.mode = idle
	c.mu.Unlock()
	if id == "" {
		return false
	}
	deleted := c.layers.DeleteObject(id)
	if c.images != nil {
		c.images.Evict(id)
	}
	return deleted
}
