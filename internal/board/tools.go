package board

import (
	"math"

	"CollabBoard/internal/canvas"
)

type Tool int

const (
	ToolPen Tool = iota
	ToolEraser
	ToolRectangle
	ToolCircle
	ToolText
	ToolFill
	ToolSelect
)

var toolNames = map[Tool]string{
	ToolPen:       "pen",
	ToolEraser:    "eraser",
	ToolRectangle: "rectangle",
	ToolCircle:    "circle",
	ToolText:      "text",
	ToolFill:      "fill",
	ToolSelect:    "select",
}

func (t Tool) String() string {
	if name, ok := toolNames[t]; ok {
		return name
	}
	return "unknown"
}

// Tools lists every tool in toolbar order.
func Tools() []Tool {
	return []Tool{ToolPen, ToolEraser, ToolRectangle, ToolCircle, ToolText, ToolFill, ToolSelect}
}

// erasePreviewColor shows where an eraser has been before the stroke is
// committed.
const erasePreviewColor = "#9e9e9e80"

// gesture is a drawing in progress. It only exists locally and is
// discarded if the pointer leaves the board.
type gesture struct {
	tool      Tool
	color     string
	thickness float64
	points    []canvas.Point
}

func (g *gesture) add(p canvas.Point) {
	switch g.tool {
	case ToolPen, ToolEraser:
		if n := len(g.points); n > 0 && g.points[n-1] == p {
			return
		}
		g.points = append(g.points, p)
	default:
		// shapes only need the anchor and the current point
		if len(g.points) < 2 {
			g.points = append(g.points, p)
		} else {
			g.points[1] = p
		}
	}
}

// object builds the object the gesture describes. ok is false when the
// gesture is too short to draw anything.
func (g *gesture) object(id string, ts int64, preview bool) (canvas.Object, bool) {
	switch g.tool {
	case ToolPen:
		if len(g.points) < 2 && !preview {
			return nil, false
		}
		return canvas.Stroke{ID: id, Points: clonePoints(g.points), Color: g.color, Thickness: g.thickness, Timestamp: ts}, true
	case ToolEraser:
		if preview {
			return canvas.Stroke{ID: id, Points: clonePoints(g.points), Color: erasePreviewColor, Thickness: g.thickness, Timestamp: ts}, true
		}
		if len(g.points) < 2 {
			return nil, false
		}
		return canvas.ErasePath{ID: id, Points: clonePoints(g.points), Thickness: g.thickness, Timestamp: ts}, true
	case ToolRectangle:
		if len(g.points) < 2 {
			return nil, false
		}
		a, b := g.points[0], g.points[1]
		return canvas.Rectangle{
			ID: id, X: a.X, Y: a.Y, Width: b.X - a.X, Height: b.Y - a.Y,
			Color: g.color, Thickness: g.thickness, Timestamp: ts,
		}, true
	case ToolCircle:
		if len(g.points) < 2 {
			return nil, false
		}
		a, b := g.points[0], g.points[1]
		r := math.Hypot(b.X-a.X, b.Y-a.Y)
		if r == 0 {
			return nil, false
		}
		return canvas.Circle{ID: id, X: a.X, Y: a.Y, Radius: r, Color: g.color, Thickness: g.thickness, Timestamp: ts}, true
	}
	return nil, false
}

func clonePoints(pts []canvas.Point) []canvas.Point {
	return append([]canvas.Point(nil), pts...)
}
