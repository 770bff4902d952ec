package ui

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"

	"CollabBoard/internal/board"
	model "CollabBoard/internal/canvas"
)

const cursorSize = 12

// BoardWidget shows the rendered board with the gesture in progress and
// the other participants' cursors on top, and feeds pointer input to the
// session.
type BoardWidget struct {
	widget.BaseWidget
	session *board.Session

	mu    sync.Mutex
	frame *image.RGBA

	// OnText is called when the text tool is clicked at p.
	OnText func(p model.Point)
}

var _ fyne.Widget = (*BoardWidget)(nil)
var _ fyne.Draggable = (*BoardWidget)(nil)
var _ desktop.Mouseable = (*BoardWidget)(nil)
var _ desktop.Hoverable = (*BoardWidget)(nil)

func NewBoardWidget(s *board.Session) *BoardWidget {
	b := &BoardWidget{session: s}
	b.ExtendBaseWidget(b)
	s.OnFrame(b.setFrame)
	s.OnPresence(func() { fyne.Do(b.Refresh) })
	return b
}

// setFrame runs on the session's render loop. The frame is copied because
// the session reuses it.
func (b *BoardWidget) setFrame(frame *image.RGBA) {
	bounds := frame.Bounds()
	composed := image.NewRGBA(bounds)
	copy(composed.Pix, frame.Pix)

	pool := b.session.Renderer().Pool()
	overlay := pool.Get(bounds.Dx(), bounds.Dy())
	b.session.PaintPreview(overlay)
	draw.Draw(composed, bounds, overlay, image.Point{}, draw.Over)
	pool.Put(overlay)

	b.mu.Lock()
	b.frame = composed
	b.mu.Unlock()
	fyne.Do(b.Refresh)
}

func (b *BoardWidget) boardSize() fyne.Size {
	cfg := b.session.Config()
	return fyne.NewSize(float32(cfg.Width), float32(cfg.Height))
}

func toPoint(pos fyne.Position) model.Point {
	return model.Point{X: float64(pos.X), Y: float64(pos.Y)}
}

func (b *BoardWidget) MouseDown(e *desktop.MouseEvent) {
	if e.Button != desktop.MouseButtonPrimary {
		return
	}
	p := toPoint(e.Position)
	b.session.PointerDown(p)
	if b.session.Tool() == board.ToolText && b.OnText != nil {
		b.OnText(p)
	}
}

func (b *BoardWidget) MouseUp(e *desktop.MouseEvent) {
	if e.Button != desktop.MouseButtonPrimary {
		return
	}
	b.session.PointerUp(toPoint(e.Position))
}

func (b *BoardWidget) Dragged(e *fyne.DragEvent) {
	b.session.PointerMove(toPoint(e.Position))
}

func (b *BoardWidget) DragEnd() {}

func (b *BoardWidget) MouseIn(e *desktop.MouseEvent) {
	b.session.PointerMove(toPoint(e.Position))
}

func (b *BoardWidget) MouseMoved(e *desktop.MouseEvent) {
	b.session.PointerMove(toPoint(e.Position))
}

func (b *BoardWidget) MouseOut() {
	b.session.PointerLeave()
}

func (b *BoardWidget) CreateRenderer() fyne.WidgetRenderer {
	r := &boardWidgetRenderer{board: b}
	r.background = canvas.NewRectangle(color.White)
	r.image = canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	r.image.FillMode = canvas.ImageFillStretch
	r.image.ScaleMode = canvas.ImageScaleFastest
	r.Refresh()
	return r
}

type boardWidgetRenderer struct {
	board      *BoardWidget
	background *canvas.Rectangle
	image      *canvas.Image
	objects    []fyne.CanvasObject
}

func (r *boardWidgetRenderer) Refresh() {
	r.board.mu.Lock()
	if r.board.frame != nil {
		r.image.Image = r.board.frame
	}
	r.board.mu.Unlock()
	r.image.Refresh()

	objects := []fyne.CanvasObject{r.background, r.image}
	for _, c := range r.board.session.RemoteCursors() {
		objects = append(objects, cursorObjects(c)...)
	}
	r.objects = objects
	canvas.Refresh(r.board)
}

func cursorObjects(c board.Cursor) []fyne.CanvasObject {
	col, ok := model.ParseColor(c.Color)
	if !ok {
		col = color.NRGBA{A: 0xff}
	}
	pos := fyne.NewPos(float32(c.X)-cursorSize/2, float32(c.Y)-cursorSize/2)

	dot := canvas.NewCircle(color.Transparent)
	dot.StrokeColor = col
	dot.StrokeWidth = 2
	dot.Resize(fyne.NewSize(cursorSize, cursorSize))
	dot.Move(pos)

	name := c.Client
	if len(name) > 8 {
		name = name[:8]
	}
	label := canvas.NewText(name, col)
	label.TextSize = 10
	label.Resize(label.MinSize())
	label.Move(pos.Add(fyne.NewPos(cursorSize, cursorSize)))
	return []fyne.CanvasObject{dot, label}
}

func (r *boardWidgetRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

func (r *boardWidgetRenderer) Layout(size fyne.Size) {
	r.background.Resize(size)
	r.image.Move(fyne.NewPos(0, 0))
	r.image.Resize(r.board.boardSize())
}

func (r *boardWidgetRenderer) MinSize() fyne.Size {
	return r.board.boardSize()
}

func (r *boardWidgetRenderer) Destroy() {}
