// Package playback replays the drawing history of a board snapshot in
// creation order.
package playback

import (
	"context"
	"image"
	"sort"
	"time"

	"CollabBoard/internal/canvas"
	"CollabBoard/internal/render"
)

// BaseInterval is the delay between frames at speed 1.
const BaseInterval = 100 * time.Millisecond

type entry struct {
	layer  int
	index  int
	object canvas.Object
}

// Reconstructor replays a fixed snapshot; later document changes do not
// affect it. It never writes to the document.
type Reconstructor struct {
	renderer *render.Renderer
	layers   []canvas.Layer
	order    []entry
}

// New snapshots the visible layers. Objects are ordered by timestamp; ties
// keep z-order and then the order within the layer.
func New(r *render.Renderer, layers []canvas.Layer) *Reconstructor {
	visible := render.Visible(layers)
	var order []entry
	for i, l := range visible {
		for j, o := range l.Objects {
			order = append(order, entry{layer: i, index: j, object: o})
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].object.CreatedAt() < order[j].object.CreatedAt()
	})
	return &Reconstructor{renderer: r, layers: visible, order: order}
}

// Steps is the number of frames.
func (p *Reconstructor) Steps() int {
	return len(p.order)
}

// Object returns the object drawn at step.
func (p *Reconstructor) Object(step int) canvas.Object {
	return p.order[step].object
}

// Frame clears dst and draws objects 0..step inclusive with the normal
// layer pipeline, so erasing still only affects its own layer. A negative
// step draws nothing.
func (p *Reconstructor) Frame(dst *image.RGBA, step int) {
	if step >= len(p.order) {
		step = len(p.order) - 1
	}
	shown := make([][]bool, len(p.layers))
	for i, l := range p.layers {
		shown[i] = make([]bool, len(l.Objects))
	}
	for i := 0; i <= step; i++ {
		shown[p.order[i].layer][p.order[i].index] = true
	}
	partial := make([]canvas.Layer, len(p.layers))
	for i, l := range p.layers {
		partial[i] = l
		partial[i].Objects = nil
		for j, o := range l.Objects {
			if shown[i][j] {
				partial[i].Objects = append(partial[i].Objects, o)
			}
		}
	}
	p.renderer.Render(dst, partial)
}

// Play draws every frame into dst, one per tick of BaseInterval/speed, and
// calls frame after each. It stops early when ctx is done.
func (p *Reconstructor) Play(ctx context.Context, dst *image.RGBA, speed float64, frame func(step int)) error {
	if speed <= 0 {
		speed = 1
	}
	ticker := time.NewTicker(time.Duration(float64(BaseInterval) / speed))
	defer ticker.Stop()
	for step := 0; step < len(p.order); step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		p.Frame(dst, step)
		if frame != nil {
			frame(step)
		}
	}
	return nil
}
