package ui

import (
	"fmt"
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"CollabBoard/internal/board"
	model "CollabBoard/internal/canvas"
)

var palette = []string{"#000000", "#ff0000", "#00a000", "#0000ff", "#ffd600", "#ff9800", "#9c27b0", "#ffffff"}

type colorSwatch struct {
	widget.BaseWidget
	Color    color.NRGBA
	OnTapped func(color.NRGBA)
}

func newColorSwatch(c color.NRGBA, tapped func(color.NRGBA)) *colorSwatch {
	s := &colorSwatch{Color: c, OnTapped: tapped}
	s.ExtendBaseWidget(s)
	return s
}

func (s *colorSwatch) CreateRenderer() fyne.WidgetRenderer {
	rect := canvas.NewRectangle(s.Color)
	rect.SetMinSize(fyne.NewSize(24, 24))

	border := canvas.NewRectangle(color.Transparent)
	border.StrokeColor = color.Gray{Y: 150}
	border.StrokeWidth = 1

	return widget.NewSimpleRenderer(container.NewStack(rect, border))
}

func (s *colorSwatch) Tapped(_ *fyne.PointEvent) {
	if s.OnTapped != nil {
		s.OnTapped(s.Color)
	}
}

var toolIcons = map[board.Tool]fyne.Resource{
	board.ToolPen:       theme.DocumentCreateIcon(),
	board.ToolEraser:    theme.ContentClearIcon(),
	board.ToolRectangle: theme.CheckButtonIcon(),
	board.ToolCircle:    theme.RadioButtonIcon(),
	board.ToolText:      theme.DocumentIcon(),
	board.ToolFill:      theme.ColorPaletteIcon(),
	board.ToolSelect:    theme.ZoomFitIcon(),
}

// NewToolbar builds the tool, colour and size controls plus the history
// buttons.
func NewToolbar(s *board.Session) fyne.CanvasObject {
	current := widget.NewLabel(s.Tool().String())
	tools := widget.NewToolbar()
	for _, t := range board.Tools() {
		tools.Append(widget.NewToolbarAction(toolIcons[t], func() {
			s.SetTool(t)
			current.SetText(t.String())
		}))
	}

	undo := widget.NewButtonWithIcon("", theme.ContentUndoIcon(), func() { s.Undo() })
	redo := widget.NewButtonWithIcon("", theme.ContentRedoIcon(), func() { s.Redo() })
	syncHistory := func() {
		if s.CanUndo() {
			undo.Enable()
		} else {
			undo.Disable()
		}
		if s.CanRedo() {
			redo.Enable()
		} else {
			redo.Disable()
		}
	}
	syncHistory()
	s.OnHistoryChange(func() { fyne.Do(syncHistory) })

	colors := container.NewHBox()
	for _, hex := range palette {
		c, _ := model.ParseColor(hex)
		colors.Add(newColorSwatch(c, func(c color.NRGBA) {
			s.SetColor(model.FormatColor(c))
		}))
	}

	sizeLabel := widget.NewLabel(fmt.Sprintf("%.0f", s.Thickness()))
	thickness := widget.NewSlider(1, 50)
	thickness.SetValue(s.Thickness())
	thickness.OnChanged = func(v float64) {
		s.SetThickness(v)
		sizeLabel.SetText(fmt.Sprintf("%.0f", v))
	}
	fontSize := widget.NewSelect([]string{"12", "16", "20", "28", "40", "64"}, func(v string) {
		var size float64
		if _, err := fmt.Sscan(v, &size); err == nil {
			s.SetFontSize(size)
		}
	})
	fontSize.SetSelected(fmt.Sprintf("%.0f", s.FontSize()))

	clearAll := widget.NewButtonWithIcon("", theme.DeleteIcon(), s.Clear)

	return container.NewHBox(
		tools,
		current,
		widget.NewSeparator(),
		colors,
		widget.NewSeparator(),
		container.New(layout.NewGridWrapLayout(fyne.NewSize(120, 35)), thickness),
		sizeLabel,
		widget.NewLabel("Text:"),
		fontSize,
		widget.NewSeparator(),
		undo,
		redo,
		clearAll,
		layout.NewSpacer(),
	)
}
