package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/golang/glog"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"CollabBoard/internal/canvas"
)

// circleSegments is the polygon resolution used for round caps, joins and
// circle objects.
const circleSegments = 48

// painter draws the objects of one layer into that layer's scratch buffer.
type painter struct {
	dst   *image.RGBA
	ratio float64
	z     *vector.Rasterizer
	mask  *image.Alpha
	faces *faceCache
	cache *ImageCache
}

var _ canvas.Visitor = (*painter)(nil)

func (p *painter) VisitStroke(o canvas.Stroke) {
	c, _ := canvas.ParseColor(o.Color)
	p.reset()
	p.polyline(o.Points, o.Thickness, false)
	p.fill(c)
}

func (p *painter) VisitRectangle(o canvas.Rectangle) {
	c, _ := canvas.ParseColor(o.Color)
	pts := []canvas.Point{
		{X: o.X, Y: o.Y},
		{X: o.X + o.Width, Y: o.Y},
		{X: o.X + o.Width, Y: o.Y + o.Height},
		{X: o.X, Y: o.Y + o.Height},
	}
	p.reset()
	p.polyline(pts, o.Thickness, true)
	p.fill(c)
}

// VisitCircle draws the outline as a ring: the outer disc wound forward and
// the inner disc wound backwards, which cancels the middle.
func (p *painter) VisitCircle(o canvas.Circle) {
	c, _ := canvas.ParseColor(o.Color)
	half := o.Thickness / 2
	p.reset()
	p.disc(canvas.Point{X: o.X, Y: o.Y}, math.Abs(o.Radius)+half, false)
	if inner := math.Abs(o.Radius) - half; inner > 0 {
		p.disc(canvas.Point{X: o.X, Y: o.Y}, inner, true)
	}
	p.fill(c)
}

// VisitErase removes coverage from the layer buffer (destination-out).
func (p *painter) VisitErase(o canvas.ErasePath) {
	p.reset()
	p.polyline(o.Points, o.Thickness, false)
	b := p.dst.Bounds()
	if p.mask == nil || p.mask.Bounds() != b {
		p.mask = image.NewAlpha(b)
	} else {
		clear(p.mask.Pix)
	}
	p.z.Draw(p.mask, b, image.Opaque, image.Point{})
	destinationOut(p.dst, p.mask)
}

func (p *painter) VisitText(o canvas.Text) {
	if o.Text == "" {
		return
	}
	c, _ := canvas.ParseColor(o.Color)
	err := p.faces.with(o.FontSize*p.ratio, func(face font.Face) {
		d := &font.Drawer{Dst: p.dst, Src: image.NewUniform(c), Face: face}
		// text hangs below its anchor point
		x := o.X * p.ratio
		y := o.Y*p.ratio + fixedToFloat(face.Metrics().Ascent)
		d.Dot = fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)}
		d.DrawString(o.Text)
	})
	if err != nil {
		glog.Infof("[render] text %s not drawn: %s\n", o.ID, err)
	}
}

// VisitFill paints the recorded cells, one display unit each.
func (p *painter) VisitFill(o canvas.Fill) {
	c, _ := canvas.ParseColor(o.Color)
	src := image.NewUniform(c)
	for _, px := range o.Pixels {
		x0 := int(math.Floor(px.X * p.ratio))
		y0 := int(math.Floor(px.Y * p.ratio))
		x1 := max(int(math.Floor((px.X+1)*p.ratio)), x0+1)
		y1 := max(int(math.Floor((px.Y+1)*p.ratio)), y0+1)
		draw.Draw(p.dst, image.Rect(x0, y0, x1, y1), src, image.Point{}, draw.Over)
	}
}

func (p *painter) VisitImage(o canvas.Image) {
	if p.cache == nil {
		return
	}
	img, ok := p.cache.Lookup(o.ID, o.Src)
	if !ok {
		return
	}
	r := image.Rect(
		int(math.Round(o.X*p.ratio)), int(math.Round(o.Y*p.ratio)),
		int(math.Round((o.X+o.Width)*p.ratio)), int(math.Round((o.Y+o.Height)*p.ratio)),
	).Canon()
	if r.Empty() {
		return
	}
	xdraw.ApproxBiLinear.Scale(p.dst, r, img, img.Bounds(), draw.Over, nil)
}

func (p *painter) reset() {
	b := p.dst.Bounds()
	if p.z == nil {
		p.z = vector.NewRasterizer(b.Dx(), b.Dy())
	} else {
		p.z.Reset(b.Dx(), b.Dy())
	}
	p.z.DrawOp = draw.Over
}

func (p *painter) fill(c color.NRGBA) {
	b := p.dst.Bounds()
	p.z.Draw(p.dst, b, image.NewUniform(c), image.Point{})
}

// polyline adds a round-capped, round-joined outline of pts. The
// rasterizer accumulates absolute coverage, so every piece is wound the
// same way and overlaps merge instead of cancelling.
func (p *painter) polyline(pts []canvas.Point, thickness float64, closed bool) {
	if len(pts) == 0 {
		return
	}
	half := math.Max(thickness, 1) / 2
	for i := range pts {
		p.disc(pts[i], half, false)
	}
	n := len(pts)
	for i := 0; i+1 < n; i++ {
		p.segment(pts[i], pts[i+1], half)
	}
	if closed && n > 2 {
		p.segment(pts[n-1], pts[0], half)
	}
}

func (p *painter) segment(a, b canvas.Point, half float64) {
	dx, dy := b.X-a.X, b.Y-a.Y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return
	}
	nx, ny := -dy/l*half, dx/l*half
	quad := [4]canvas.Point{
		{X: a.X + nx, Y: a.Y + ny},
		{X: b.X + nx, Y: b.Y + ny},
		{X: b.X - nx, Y: b.Y - ny},
		{X: a.X - nx, Y: a.Y - ny},
	}
	if signedArea(quad[:]) < 0 {
		quad[1], quad[3] = quad[3], quad[1]
	}
	p.moveTo(quad[0])
	for _, q := range quad[1:] {
		p.lineTo(q)
	}
	p.z.ClosePath()
}

// disc adds a polygonal disc wound with positive area, or negative when
// reversed.
func (p *painter) disc(c canvas.Point, r float64, reversed bool) {
	if r <= 0 {
		return
	}
	for i := 0; i <= circleSegments; i++ {
		a := 2 * math.Pi * float64(i) / circleSegments
		if reversed {
			a = -a
		}
		pt := canvas.Point{X: c.X + r*math.Cos(a), Y: c.Y + r*math.Sin(a)}
		if i == 0 {
			p.moveTo(pt)
		} else {
			p.lineTo(pt)
		}
	}
	p.z.ClosePath()
}

func (p *painter) moveTo(pt canvas.Point) {
	p.z.MoveTo(float32(pt.X*p.ratio), float32(pt.Y*p.ratio))
}

func (p *painter) lineTo(pt canvas.Point) {
	p.z.LineTo(float32(pt.X*p.ratio), float32(pt.Y*p.ratio))
}

func signedArea(pts []canvas.Point) float64 {
	var s float64
	for i := range pts {
		j := (i + 1) % len(pts)
		s += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return s / 2
}

// destinationOut scales every premultiplied pixel of dst by the inverse of
// the mask coverage.
func destinationOut(dst *image.RGBA, mask *image.Alpha) {
	b := dst.Bounds().Intersect(mask.Bounds())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		mi := mask.PixOffset(b.Min.X, y)
		di := dst.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x, mi, di = x+1, mi+1, di+4 {
			m := uint32(mask.Pix[mi])
			if m == 0 {
				continue
			}
			keep := 255 - m
			for k := 0; k < 4; k++ {
				dst.Pix[di+k] = uint8((uint32(dst.Pix[di+k])*keep + 127) / 255)
			}
		}
	}
}
