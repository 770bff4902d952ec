// Package canvas holds the drawable object model and the layer operations
// that store it in the shared document.
package canvas

// Point is a position in display coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Kind string

const (
	KindStroke    Kind = "stroke"
	KindRectangle Kind = "rectangle"
	KindCircle    Kind = "circle"
	KindErase     Kind = "erase"
	KindText      Kind = "text"
	KindFill      Kind = "fill"
	KindImage     Kind = "image"
)

// Object is one drawable primitive. The set of implementations is closed:
// code that must handle every kind implements Visitor, so adding a kind
// fails to compile until every visitor handles it.
type Object interface {
	ObjectID() string
	// CreatedAt is the logical creation time in milliseconds, used for
	// playback ordering only.
	CreatedAt() int64
	Kind() Kind
	Accept(v Visitor)
	isObject()
}

// Visitor dispatches over every Object kind.
type Visitor interface {
	VisitStroke(Stroke)
	VisitRectangle(Rectangle)
	VisitCircle(Circle)
	VisitErase(ErasePath)
	VisitText(Text)
	VisitFill(Fill)
	VisitImage(Image)
}

type Stroke struct {
	ID        string  `json:"id"`
	Points    []Point `json:"points"`
	Color     string  `json:"color"`
	Thickness float64 `json:"thickness"`
	Timestamp int64   `json:"timestamp"`
}

type Rectangle struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Color     string  `json:"color"`
	Thickness float64 `json:"thickness"`
	Timestamp int64   `json:"timestamp"`
}

type Circle struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Radius    float64 `json:"radius"`
	Color     string  `json:"color"`
	Thickness float64 `json:"thickness"`
	Timestamp int64   `json:"timestamp"`
}

// ErasePath removes pixels of its own layer along its points.
type ErasePath struct {
	ID        string  `json:"id"`
	Points    []Point `json:"points"`
	Thickness float64 `json:"thickness"`
	Timestamp int64   `json:"timestamp"`
}

type Text struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Text      string  `json:"text"`
	Color     string  `json:"color"`
	FontSize  float64 `json:"fontSize"`
	Timestamp int64   `json:"timestamp"`
}

// Fill is the recorded result of a flood fill: the exact cells to paint,
// never a request to run the fill again.
type Fill struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Color     string  `json:"color"`
	Pixels    []Point `json:"filledPixels"`
	Timestamp int64   `json:"timestamp"`
}

// Image carries an embedded payload, usually a data URL.
type Image struct {
	ID        string  `json:"id"`
	Src       string  `json:"src"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Timestamp int64   `json:"timestamp"`
}

func (o Stroke) ObjectID() string    { return o.ID }
func (o Rectangle) ObjectID() string { return o.ID }
func (o Circle) ObjectID() string    { return o.ID }
func (o ErasePath) ObjectID() string { return o.ID }
func (o Text) ObjectID() string      { return o.ID }
func (o Fill) ObjectID() string      { return o.ID }
func (o Image) ObjectID() string     { return o.ID }

func (o Stroke) CreatedAt() int64    { return o.Timestamp }
func (o Rectangle) CreatedAt() int64 { return o.Timestamp }
func (o Circle) CreatedAt() int64    { return o.Timestamp }
func (o ErasePath) CreatedAt() int64 { return o.Timestamp }
func (o Text) CreatedAt() int64      { return o.Timestamp }
func (o Fill) CreatedAt() int64      { return o.Timestamp }
func (o Image) CreatedAt() int64     { return o.Timestamp }

func (Stroke) Kind() Kind    { return KindStroke }
func (Rectangle) Kind() Kind { return KindRectangle }
func (Circle) Kind() Kind    { return KindCircle }
func (ErasePath) Kind() Kind { return KindErase }
func (Text) Kind() Kind      { return KindText }
func (Fill) Kind() Kind      { return KindFill }
func (Image) Kind() Kind     { return KindImage }

func (o Stroke) Accept(v Visitor)    { v.VisitStroke(o) }
func (o Rectangle) Accept(v Visitor) { v.VisitRectangle(o) }
func (o Circle) Accept(v Visitor)    { v.VisitCircle(o) }
func (o ErasePath) Accept(v Visitor) { v.VisitErase(o) }
func (o Text) Accept(v Visitor)      { v.VisitText(o) }
func (o Fill) Accept(v Visitor)      { v.VisitFill(o) }
func (o Image) Accept(v Visitor)     { v.VisitImage(o) }

func (Stroke) isObject()    {}
func (Rectangle) isObject() {}
func (Circle) isObject()    {}
func (ErasePath) isObject() {}
func (Text) isObject()      {}
func (Fill) isObject()      {}
func (Image) isObject()     {}

// Contains reports whether p lies inside the image's box. Negative sizes
// are treated as boxes extending up or left.
func (o Image) Contains(p Point) bool {
	x0, x1 := o.X, o.X+o.Width
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	y0, y1 := o.Y, o.Y+o.Height
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return p.X >= x0 && p.X <= x1 && p.Y >= y0 && p.Y <= y1
}
