package ui

import (
	"context"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
	"github.com/golang/glog"

	"CollabBoard/internal/board"
	model "CollabBoard/internal/canvas"
)

// App is the desktop front-end of one session.
type App struct {
	fyneApp   fyne.App
	window    fyne.Window
	session   *board.Session
	board     *BoardWidget
	status    *widget.Label
	shareLink string
}

func NewApp(s *board.Session, shareLink string) *App {
	a := &App{
		fyneApp:   app.NewWithID("dev.collabboard"),
		session:   s,
		status:    widget.NewLabel("Ready"),
		shareLink: shareLink,
	}
	title := "CollabBoard"
	if room := s.RoomID(); room != "" {
		title += " - room " + room
	}
	a.window = a.fyneApp.NewWindow(title)
	a.window.Resize(fyne.NewSize(1280, 860))

	a.board = NewBoardWidget(s)
	a.board.OnText = a.askText

	layers := NewLayerPanel(s, a.window)
	footer := container.NewHBox(a.status)
	if shareLink != "" {
		link := widget.NewEntry()
		link.SetText(shareLink)
		link.Disable()
		footer.Add(widget.NewSeparator())
		footer.Add(widget.NewLabel("Share:"))
		footer.Add(link)
	}

	split := container.NewHSplit(container.NewScroll(a.board), layers.Content())
	split.Offset = 0.8
	a.window.SetContent(container.NewBorder(NewToolbar(s), footer, nil, nil, split))
	a.window.SetMainMenu(a.menu())
	a.shortcuts()
	return a
}

// SetStatus shows text in the status bar. Safe to call from any goroutine.
func (a *App) SetStatus(text string) {
	fyne.Do(func() { a.status.SetText(text) })
}

// Run shows the window and blocks until it is closed.
func (a *App) Run() {
	a.window.ShowAndRun()
}

func (a *App) Quit() {
	fyne.Do(a.fyneApp.Quit)
}

func (a *App) menu() *fyne.MainMenu {
	s := a.session
	file := fyne.NewMenu("File",
		fyne.NewMenuItem("Open board...", a.openDocument),
		fyne.NewMenuItem("Save board...", func() { a.save("board.json", s.ExportDocument) }),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Export PNG...", func() { a.save("board.png", s.ExportRaster) }),
		fyne.NewMenuItem("Export PDF...", func() { a.save("board.pdf", s.ExportPDF) }),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Insert image...", a.insertImage),
	)
	edit := fyne.NewMenu("Edit",
		fyne.NewMenuItem("Undo", func() { s.Undo() }),
		fyne.NewMenuItem("Redo", func() { s.Redo() }),
		fyne.NewMenuItem("Delete selection", func() { s.DeleteSelected() }),
		fyne.NewMenuItem("Clear board", s.Clear),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Copy room code", func() { a.copyText(s.RoomID()) }),
		fyne.NewMenuItem("Copy share link", func() { a.copyText(a.shareLink) }),
	)
	view := fyne.NewMenu("View",
		fyne.NewMenuItem("Play back drawing...", a.playback),
	)
	return fyne.NewMainMenu(file, edit, view)
}

func (a *App) shortcuts() {
	s := a.session
	c := a.window.Canvas()
	c.AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyZ, Modifier: fyne.KeyModifierShortcutDefault}, func(fyne.Shortcut) { s.Undo() })
	c.AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyZ, Modifier: fyne.KeyModifierShortcutDefault | fyne.KeyModifierShift}, func(fyne.Shortcut) { s.Redo() })
	c.AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyY, Modifier: fyne.KeyModifierShortcutDefault}, func(fyne.Shortcut) { s.Redo() })
	c.SetOnTypedKey(func(e *fyne.KeyEvent) {
		switch e.Name {
		case fyne.KeyDelete, fyne.KeyBackspace:
			s.DeleteSelected()
		case fyne.KeyEscape:
			s.PointerLeave()
		}
	})
}

func (a *App) copyText(text string) {
	if text == "" {
		return
	}
	a.fyneApp.Clipboard().SetContent(text)
	a.SetStatus("Copied " + text)
}

func (a *App) fail(what string, err error) {
	glog.Infof("[ui] %s: %s\n", what, err)
	a.SetStatus(what + " failed")
	fyne.Do(func() { dialog.ShowError(fmt.Errorf("%s: %w", what, err), a.window) })
}

func (a *App) askText(p model.Point) {
	entry := widget.NewEntry()
	dialog.ShowForm("Add text", "Add", "Cancel",
		[]*widget.FormItem{widget.NewFormItem("Text", entry)},
		func(ok bool) {
			if ok {
				a.session.CommitText(p, entry.Text)
			}
		}, a.window)
}

// save asks for a destination and writes it with write.
func (a *App) save(name string, write func(io.Writer) error) {
	d := dialog.NewFileSave(func(w fyne.URIWriteCloser, err error) {
		if err != nil {
			a.fail("Save", err)
			return
		}
		if w == nil {
			return
		}
		defer func() {
			if err := w.Close(); err != nil {
				glog.Infof("[ui] close %s: %s\n", w.URI(), err)
			}
		}()
		if err := write(w); err != nil {
			a.fail("Save", err)
			return
		}
		a.SetStatus("Saved " + w.URI().Name())
	}, a.window)
	d.SetFileName(name)
	d.Show()
}

func (a *App) openDocument() {
	dialog.ShowFileOpen(func(r fyne.URIReadCloser, err error) {
		if err != nil {
			a.fail("Open", err)
			return
		}
		if r == nil {
			return
		}
		defer r.Close()
		if err := a.session.ImportDocument(r); err != nil {
			a.fail("Open", err)
			return
		}
		a.SetStatus("Loaded " + r.URI().Name())
	}, a.window)
}

func (a *App) insertImage() {
	dialog.ShowFileOpen(func(r fyne.URIReadCloser, err error) {
		if err != nil {
			a.fail("Insert image", err)
			return
		}
		if r == nil {
			return
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			a.fail("Insert image", err)
			return
		}
		mime := r.URI().MimeType()
		if !strings.HasPrefix(mime, "image/") {
			mime = "image/" + strings.TrimPrefix(strings.ToLower(filepath.Ext(r.URI().Name())), ".")
		}
		if _, err := a.session.InsertImage(data, mime, model.Point{X: 20, Y: 20}, 0, 0); err != nil {
			a.fail("Insert image", err)
			return
		}
		a.session.SetTool(board.ToolSelect)
	}, a.window)
}

// playback replays the drawing in its own window. Closing the window stops
// it.
func (a *App) playback() {
	w := a.fyneApp.NewWindow("Playback")
	view := canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	view.FillMode = canvas.ImageFillContain
	progress := widget.NewProgressBar()
	w.SetContent(container.NewBorder(nil, progress, nil, nil, view))
	cfg := a.session.Config()
	w.Resize(fyne.NewSize(float32(cfg.Width)/2, float32(cfg.Height)/2+40))

	ctx, cancel := context.WithCancel(context.Background())
	w.SetOnClosed(cancel)
	w.Show()
	go func() {
		err := a.session.Playback(ctx, 1, func(frame *image.RGBA, step, total int) {
			img := image.NewRGBA(frame.Bounds())
			copy(img.Pix, frame.Pix)
			fyne.Do(func() {
				view.Image = img
				view.Refresh()
				progress.SetValue(float64(step+1) / float64(max(total, 1)))
			})
		})
		if err != nil && ctx.Err() == nil {
			a.fail("Playback", err)
		}
	}()
}
