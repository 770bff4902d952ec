// Package board ties the shared document, undo history, renderer and
// presence together into the session a front-end drives.
package board

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"CollabBoard/internal/canvas"
	"CollabBoard/internal/export"
	"CollabBoard/internal/fill"
	"CollabBoard/internal/history"
	"CollabBoard/internal/playback"
	"CollabBoard/internal/render"
	"CollabBoard/internal/selection"
	"CollabBoard/internal/state"
)

type Config struct {
	// Width and Height are the board size in display units.
	Width  float64
	Height float64
	// Ratio is the number of device pixels per display unit.
	Ratio     float64
	RoomID    string
	UserColor string
}

func DefaultConfig() Config {
	return Config{
		Width:  1280,
		Height: 800,
		Ratio:  1,
	}
}

// Cursor is another participant's pointer.
type Cursor struct {
	Client string
	Color  string
	X, Y   float64
}

// Session is one participant's view of a board. Tool, colour, active layer,
// selection and the gesture in progress are local; everything else goes
// through the shared document.
type Session struct {
	cfg       Config
	doc       *state.Doc
	presence  *state.Presence
	layers    *canvas.Layers
	history   *history.Manager
	images    *render.ImageCache
	renderer  *render.Renderer
	selection *selection.Controller

	now   func() time.Time
	newID func() string

	mu        sync.Mutex
	active    string
	tool      Tool
	color     string
	thickness float64
	fontSize  float64
	gesture   *gesture

	repaint chan struct{}

	fmu   sync.Mutex
	frame *image.RGBA

	lmu       sync.Mutex
	onFrame   []func(*image.RGBA)
	onPresent []func()

	unsubs []func()
}

func NewSession(cfg Config) *Session {
	return NewSessionWithDoc(cfg, state.NewDoc())
}

// NewSessionWithDoc builds a session around an existing replica.
func NewSessionWithDoc(cfg Config, doc *state.Doc) *Session {
	def := DefaultConfig()
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.Ratio <= 0 {
		cfg.Ratio = def.Ratio
	}
	if _, ok := canvas.ParseColor(cfg.UserColor); !ok {
		cfg.UserColor = RandomColor()
	}

	s := &Session{
		cfg:       cfg,
		doc:       doc,
		presence:  state.NewPresence(doc.Site()),
		layers:    canvas.NewLayers(doc),
		now:       time.Now,
		newID:     uuid.NewString,
		tool:      ToolPen,
		color:     "#000000",
		thickness: 2,
		fontSize:  16,
		repaint:   make(chan struct{}, 1),
	}
	s.images = render.NewImageCache(func(string) { s.RequestRepaint() })
	s.renderer = render.New(cfg.Ratio, s.images)
	s.history = history.New(doc, s.layers)
	s.selection = selection.New(s.layers, s.images)

	s.unsubs = append(s.unsubs,
		s.layers.Observe(func(*state.TxEvent) { s.RequestRepaint() }),
		s.presence.Observe(func(state.PresenceEvent) { s.notifyPresence() }),
	)
	if err := s.presence.SetLocalField("color", cfg.UserColor); err != nil {
		glog.Infof("[board] cannot publish colour: %s\n", err)
	}
	s.presence.SetLocalField("cursor", nil)
	return s
}

// RandomColor picks a participant colour.
func RandomColor() string {
	return fmt.Sprintf("#%06x", rand.Intn(0x1000000))
}

func (s *Session) Config() Config             { return s.cfg }
func (s *Session) Doc() *state.Doc            { return s.doc }
func (s *Session) Presence() *state.Presence  { return s.presence }
func (s *Session) Renderer() *render.Renderer { return s.renderer }
func (s *Session) RoomID() string             { return s.cfg.RoomID }

// EnsureDefault creates the first layer if the board has none. Joining
// participants call it after the initial sync so they do not add a second
// default layer.
func (s *Session) EnsureDefault() {
	s.layers.EnsureDefault()
	s.RequestRepaint()
}

func (s *Session) Close() {
	s.lmu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.lmu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
	s.history.Close()
}

// Layers returns the layers in ascending z-order.
func (s *Session) Layers() []canvas.Layer {
	return s.layers.List()
}

// ActiveLayer returns the layer new objects go to. If the chosen layer was
// removed, the top-most layer takes over.
func (s *Session) ActiveLayer() string {
	list := s.layers.List()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range list {
		if l.ID == s.active {
			return s.active
		}
	}
	if len(list) == 0 {
		s.active = ""
		return ""
	}
	s.active = list[len(list)-1].ID
	return s.active
}

func (s *Session) SetActiveLayer(id string) {
	if _, ok := s.layers.Get(id); !ok {
		return
	}
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
}

// activeOrDefault returns the active layer, creating the default one when
// the board is still empty.
func (s *Session) activeOrDefault() string {
	if id := s.ActiveLayer(); id != "" {
		return id
	}
	s.layers.EnsureDefault()
	return s.ActiveLayer()
}

func (s *Session) AddLayer() string {
	id := s.layers.AddLayer()
	s.SetActiveLayer(id)
	return id
}

func (s *Session) RemoveLayer(id string)                { s.layers.RemoveLayer(id) }
func (s *Session) RenameLayer(id, name string)          { s.layers.RenameLayer(id, name) }
func (s *Session) SetLayerVisibility(id string, v bool) { s.layers.SetLayerVisibility(id, v) }
func (s *Session) MoveLayer(id string, toIndex int)     { s.layers.MoveLayer(id, toIndex) }
func (s *Session) ClearLayer(id string)                 { s.layers.ClearLayer(id) }

// Clear empties every layer.
func (s *Session) Clear() {
	s.layers.ClearAllLayers()
}

func (s *Session) Undo() bool    { return s.history.Undo() }
func (s *Session) Redo() bool    { return s.history.Redo() }
func (s *Session) CanUndo() bool { return s.history.CanUndo() }
func (s *Session) CanRedo() bool { return s.history.CanRedo() }

// OnHistoryChange registers fn for undo/redo availability changes.
func (s *Session) OnHistoryChange(fn func()) {
	s.history.OnChange(fn)
}

func (s *Session) Tool() Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tool
}

// SetTool switches tools, dropping any gesture or selection in progress.
func (s *Session) SetTool(t Tool) {
	s.mu.Lock()
	s.tool = t
	s.gesture = nil
	s.mu.Unlock()
	if t != ToolSelect {
		s.selection.Clear()
	}
	s.RequestRepaint()
}

func (s *Session) Color() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.color
}

func (s *Session) SetColor(c string) {
	if _, ok := canvas.ParseColor(c); !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.color = c
}

func (s *Session) Thickness() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thickness
}

func (s *Session) SetThickness(t float64) {
	if t <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thickness = t
}

func (s *Session) FontSize() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fontSize
}

func (s *Session) SetFontSize(size float64) {
	if size <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fontSize = size
}

func (s *Session) stamp() int64 {
	return s.now().UnixMilli()
}

// PointerDown starts a gesture with the current tool. Fill runs
// immediately; text waits for CommitText.
func (s *Session) PointerDown(p canvas.Point) {
	s.moveCursor(&p)
	switch tool := s.Tool(); tool {
	case ToolFill:
		s.FillAt(p)
	case ToolText:
	case ToolSelect:
		if !s.selection.Begin(p) && s.selection.Select(p) {
			s.selection.Begin(p)
		}
		s.RequestRepaint()
	default:
		s.mu.Lock()
		s.gesture = &gesture{tool: tool, color: s.color, thickness: s.thickness}
		s.gesture.add(p)
		s.mu.Unlock()
	}
}

// PointerMove extends the gesture in progress and moves our cursor.
func (s *Session) PointerMove(p canvas.Point) {
	s.moveCursor(&p)
	if s.Tool() == ToolSelect {
		if _, active := s.selection.Preview(); active {
			s.selection.Drag(p)
			s.RequestRepaint()
		}
		return
	}
	s.mu.Lock()
	g := s.gesture
	if g != nil {
		g.add(p)
	}
	s.mu.Unlock()
	if g != nil {
		s.RequestRepaint()
	}
}

// PointerUp completes the gesture and appends the result to the active
// layer.
func (s *Session) PointerUp(p canvas.Point) {
	if s.Tool() == ToolSelect {
		s.selection.Commit()
		s.RequestRepaint()
		return
	}
	s.mu.Lock()
	g := s.gesture
	s.gesture = nil
	s.mu.Unlock()
	if g == nil {
		return
	}
	g.add(p)
	obj, ok := g.object(s.newID(), s.stamp(), false)
	if !ok {
		s.RequestRepaint()
		return
	}
	s.layers.AddObjectToLayer(s.activeOrDefault(), obj)
}

// PointerLeave abandons the gesture without touching the document and
// hides our cursor.
func (s *Session) PointerLeave() {
	s.mu.Lock()
	s.gesture = nil
	s.mu.Unlock()
	s.selection.Cancel()
	s.presence.SetLocalField("cursor", nil)
	s.RequestRepaint()
}

func (s *Session) moveCursor(p *canvas.Point) {
	if err := s.presence.SetLocalField("cursor", p); err != nil {
		glog.V(2).Infof("[board] cursor update failed: %s\n", err)
	}
}

// Preview returns the object being drawn, if any.
func (s *Session) Preview() (canvas.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gesture == nil {
		return nil, false
	}
	return s.gesture.object("preview", 0, true)
}

// PaintPreview draws the gesture in progress and the selection outline
// into dst, which lies over the board.
func (s *Session) PaintPreview(dst *image.RGBA) {
	var objects []canvas.Object
	if obj, ok := s.Preview(); ok {
		objects = append(objects, obj)
	}
	if img, ok := s.selection.Selected(); ok {
		objects = append(objects, img, selectionOutline(img))
	}
	s.renderer.RenderLayer(dst, objects)
}

func selectionOutline(img canvas.Image) canvas.Object {
	return canvas.Rectangle{
		ID: "selection", X: img.X, Y: img.Y, Width: img.Width, Height: img.Height,
		Color: "#2196f3", Thickness: 1,
	}
}

// CommitText adds a text object at p. Blank text is dropped.
func (s *Session) CommitText(p canvas.Point, text string) bool {
	if text == "" {
		return false
	}
	s.mu.Lock()
	obj := canvas.Text{X: p.X, Y: p.Y, Text: text, Color: s.color, FontSize: s.fontSize}
	s.mu.Unlock()
	obj.ID, obj.Timestamp = s.newID(), s.stamp()
	return s.layers.AddObjectToLayer(s.activeOrDefault(), obj)
}

// FillAt flood-fills the active layer around p with the current colour.
// It reports whether a fill object was recorded.
func (s *Session) FillAt(p canvas.Point) bool {
	id := s.activeOrDefault()
	layer, ok := s.layers.Get(id)
	if !ok {
		return false
	}
	c := s.Color()
	cells := fill.Compute(s.renderer, layer.Objects, fill.Request{Point: p, Color: c, Width: s.cfg.Width, Height: s.cfg.Height})
	if len(cells) == 0 {
		return false
	}
	obj := canvas.Fill{ID: s.newID(), X: p.X, Y: p.Y, Color: c, Pixels: cells, Timestamp: s.stamp()}
	return s.layers.AddObjectToLayer(id, obj)
}

// InsertImage places an encoded image on the active layer. width and height
// of zero use the image's own size, capped to MaxImageSide.
func (s *Session) InsertImage(data []byte, mime string, at canvas.Point, width, height float64) (string, error) {
	src := render.DataURL(mime, data)
	if width <= 0 || height <= 0 {
		img, err := render.DecodeSource(src)
		if err != nil {
			return "", fmt.Errorf("insert image: %w", err)
		}
		width, height = fitImage(img.Bounds().Size())
	}
	obj := canvas.Image{ID: s.newID(), Src: src, X: at.X, Y: at.Y, Width: width, Height: height, Timestamp: s.stamp()}
	if !s.layers.AddObjectToLayer(s.activeOrDefault(), obj) {
		return "", fmt.Errorf("insert image: no layer to draw on")
	}
	return obj.ID, nil
}

// MaxImageSide bounds the initial size of inserted images.
const MaxImageSide = 300

func fitImage(size image.Point) (float64, float64) {
	w, h := float64(size.X), float64(size.Y)
	if w <= 0 || h <= 0 {
		return MaxImageSide, MaxImageSide
	}
	if scale := MaxImageSide / max(w, h); scale < 1 {
		w, h = w*scale, h*scale
	}
	return w, h
}

// Selected returns the selected image.
func (s *Session) Selected() (canvas.Image, bool) {
	return s.selection.Selected()
}

// DeleteSelected removes the selected image.
func (s *Session) DeleteSelected() bool {
	ok := s.selection.DeleteSelected()
	s.RequestRepaint()
	return ok
}

// RemoteCursors lists the other participants whose pointer is on the
// board, ordered by client id.
func (s *Session) RemoteCursors() []Cursor {
	states := s.presence.GetAllStates()
	local := s.presence.LocalID()
	var out []Cursor
	for client, st := range states {
		if client == local {
			continue
		}
		var p *canvas.Point
		if raw, ok := st["cursor"]; !ok || json.Unmarshal(raw, &p) != nil || p == nil {
			continue
		}
		c := Cursor{Client: client, X: p.X, Y: p.Y, Color: "#000000"}
		if raw, ok := st["color"]; ok {
			json.Unmarshal(raw, &c.Color)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Client < out[j].Client })
	return out
}

// OnPresence registers fn for remote cursor and colour changes.
func (s *Session) OnPresence(fn func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.onPresent = append(s.onPresent, fn)
}

func (s *Session) notifyPresence() {
	s.lmu.Lock()
	fns := append([]func(){}, s.onPresent...)
	s.lmu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// OnDocumentChange registers fn for every change to the layers, local or
// remote.
func (s *Session) OnDocumentChange(fn func()) {
	unsub := s.layers.Observe(func(*state.TxEvent) { fn() })
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.unsubs = append(s.unsubs, unsub)
}

// OnFrame registers fn to receive every repainted frame. The frame is
// owned by the session and must not be kept.
func (s *Session) OnFrame(fn func(*image.RGBA)) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.onFrame = append(s.onFrame, fn)
}

// RequestRepaint schedules a repaint. Requests made before the render
// loop gets to them collapse into one.
func (s *Session) RequestRepaint() {
	select {
	case s.repaint <- struct{}{}:
	default:
	}
}

// Run repaints once and then on every request until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	s.Paint()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.repaint:
			s.Paint()
		}
	}
}

// Paint renders the board now and hands the frame to the frame listeners.
func (s *Session) Paint() *image.RGBA {
	layers := s.layers.List()
	s.images.Retain(render.ImageIDs(layers))

	s.fmu.Lock()
	size := s.renderer.DeviceSize(s.cfg.Width, s.cfg.Height)
	if s.frame == nil || s.frame.Bounds().Size() != size {
		s.frame = image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	}
	s.renderer.Render(s.frame, layers)
	frame := s.frame
	s.fmu.Unlock()

	s.lmu.Lock()
	fns := append([]func(*image.RGBA){}, s.onFrame...)
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(frame)
	}
	return frame
}

// Snapshot renders the board into a new raster, waiting for pending image
// decodes.
func (s *Session) Snapshot() *image.RGBA {
	layers := s.layers.List()
	img := export.Render(s.renderer, layers, s.cfg.Width, s.cfg.Height)
	if len(render.ImageIDs(layers)) > 0 {
		s.images.Wait()
		img = export.Render(s.renderer, layers, s.cfg.Width, s.cfg.Height)
	}
	return img
}

// ExportRaster writes the board as a PNG on a white background.
func (s *Session) ExportRaster(w io.Writer) error {
	return export.PNG(w, export.Flatten(s.Snapshot()))
}

// ExportPDF writes the board as a one-page PDF.
func (s *Session) ExportPDF(w io.Writer) error {
	return export.PDF(w, s.Snapshot(), "CollabBoard "+s.cfg.RoomID)
}

// ExportDocument writes the layers as JSON.
func (s *Session) ExportDocument(w io.Writer) error {
	return export.WriteDocument(w, s.layers.List())
}

// ImportDocument replaces the whole board with a JSON document. The
// replacement is a single undoable step.
func (s *Session) ImportDocument(r io.Reader) error {
	layers, err := export.ReadDocument(r)
	if err != nil {
		return err
	}
	s.layers.Replace(layers)
	s.selection.Clear()
	return nil
}

// Playback replays the visible layers into a private buffer, calling frame
// after each step. The document is not touched.
func (s *Session) Playback(ctx context.Context, speed float64, frame func(img *image.RGBA, step, total int)) error {
	p := playback.New(s.renderer, s.layers.List())
	size := s.renderer.DeviceSize(s.cfg.Width, s.cfg.Height)
	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	return p.Play(ctx, dst, speed, func(step int) {
		if frame != nil {
			frame(dst, step, p.Steps())
		}
	})
}
