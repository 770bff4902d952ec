// Package render composites the layer document into a raster. Each visible
// layer is drawn into its own pooled scratch buffer and then laid over the
// output, so erasing only ever removes pixels of its own layer.
package render

import (
	"image"
	"image/draw"
	"sort"
	"sync"

	"CollabBoard/internal/canvas"
)

// Renderer is safe for concurrent use; calls are serialized.
type Renderer struct {
	ratio  float64
	pool   *Pool
	images *ImageCache
	faces  *faceCache

	mu      sync.Mutex
	painter painter
}

// New returns a renderer drawing at ratio device pixels per display unit.
// images may be nil, in which case image objects are skipped.
func New(ratio float64, images *ImageCache) *Renderer {
	if ratio <= 0 {
		ratio = 1
	}
	return &Renderer{
		ratio:  ratio,
		pool:   NewPool(4),
		images: images,
		faces:  newFaceCache(),
	}
}

func (r *Renderer) Ratio() float64 {
	return r.ratio
}

func (r *Renderer) Images() *ImageCache {
	return r.images
}

// Pool exposes the scratch pool, mainly for inspection.
func (r *Renderer) Pool() *Pool {
	return r.pool
}

// DeviceSize converts a display size to the raster size used for it.
func (r *Renderer) DeviceSize(width, height float64) image.Point {
	return image.Point{X: int(width*r.ratio + 0.5), Y: int(height*r.ratio + 0.5)}
}

// Render clears dst and composites the visible layers onto it in
// ascending zIndex order. Rendering the same layers twice gives the same
// pixels.
func (r *Renderer) Render(dst *image.RGBA, layers []canvas.Layer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(dst.Pix)
	b := dst.Bounds()
	for _, layer := range Visible(layers) {
		scratch := r.pool.Get(b.Dx(), b.Dy())
		r.paintObjects(scratch, layer.Objects)
		draw.Draw(dst, b, scratch, image.Point{}, draw.Over)
		r.pool.Put(scratch)
	}
}

// RenderLayer draws objects alone, as if they were the only layer, into a
// cleared dst.
func (r *Renderer) RenderLayer(dst *image.RGBA, objects []canvas.Object) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(dst.Pix)
	r.paintObjects(dst, objects)
}

// paintObjects expects a buffer whose bounds start at the origin.
func (r *Renderer) paintObjects(dst *image.RGBA, objects []canvas.Object) {
	p := &r.painter
	p.dst = dst
	p.ratio = r.ratio
	p.faces = r.faces
	p.cache = r.images
	for _, o := range objects {
		o.Accept(p)
	}
	p.dst = nil
}

// Visible returns the visible layers sorted by ascending zIndex.
func Visible(layers []canvas.Layer) []canvas.Layer {
	out := make([]canvas.Layer, 0, len(layers))
	for _, l := range layers {
		if l.Visible {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ZIndex < out[j].ZIndex })
	return out
}

// ImageIDs collects the ids of every image object, for ImageCache.Retain.
func ImageIDs(layers []canvas.Layer) map[string]bool {
	ids := make(map[string]bool)
	for _, l := range layers {
		for _, o := range l.Objects {
			if o.Kind() == canvas.KindImage {
				ids[o.ObjectID()] = true
			}
		}
	}
	return ids
}
