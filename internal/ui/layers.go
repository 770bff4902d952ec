package ui

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"CollabBoard/internal/board"
)

// LayerPanel lists the layers top-most first and edits them through the
// session.
type LayerPanel struct {
	session *board.Session
	window  fyne.Window
	rows    *fyne.Container
	content fyne.CanvasObject
}

func NewLayerPanel(s *board.Session, w fyne.Window) *LayerPanel {
	p := &LayerPanel{session: s, window: w, rows: container.NewVBox()}
	add := widget.NewButtonWithIcon("Layer", theme.ContentAddIcon(), func() {
		s.AddLayer()
		p.Refresh()
	})
	p.content = container.NewBorder(add, nil, nil, nil, container.NewVScroll(p.rows))
	s.OnDocumentChange(func() { fyne.Do(p.Refresh) })
	p.Refresh()
	return p
}

func (p *LayerPanel) Content() fyne.CanvasObject {
	return p.content
}

func (p *LayerPanel) Refresh() {
	s := p.session
	layers := s.Layers()
	active := s.ActiveLayer()
	p.rows.RemoveAll()
	for i := len(layers) - 1; i >= 0; i-- {
		l, index := layers[i], i

		visible := widget.NewCheck("", func(on bool) { s.SetLayerVisibility(l.ID, on) })
		visible.SetChecked(l.Visible)

		name := widget.NewButton(l.Name, func() {
			s.SetActiveLayer(l.ID)
			p.Refresh()
		})
		if l.ID == active {
			name.Importance = widget.HighImportance
		}

		up := widget.NewButtonWithIcon("", theme.MoveUpIcon(), func() { s.MoveLayer(l.ID, index+1) })
		if index == len(layers)-1 {
			up.Disable()
		}
		down := widget.NewButtonWithIcon("", theme.MoveDownIcon(), func() { s.MoveLayer(l.ID, index-1) })
		if index == 0 {
			down.Disable()
		}
		rename := widget.NewButtonWithIcon("", theme.DocumentCreateIcon(), func() { p.rename(l.ID, l.Name) })
		wipe := widget.NewButtonWithIcon("", theme.ContentClearIcon(), func() { s.ClearLayer(l.ID) })
		remove := widget.NewButtonWithIcon("", theme.DeleteIcon(), func() { s.RemoveLayer(l.ID) })
		if len(layers) == 1 {
			remove.Disable()
		}

		p.rows.Add(container.NewBorder(nil, nil, visible, container.NewHBox(up, down, rename, wipe, remove), name))
	}
	p.rows.Refresh()
}

func (p *LayerPanel) rename(id, current string) {
	entry := widget.NewEntry()
	entry.SetText(current)
	dialog.ShowForm("Rename layer", "Rename", "Cancel",
		[]*widget.FormItem{widget.NewFormItem("Name", entry)},
		func(ok bool) {
			if ok && entry.Text != "" {
				p.session.RenameLayer(id, entry.Text)
			}
		}, p.window)
}
