// Package export writes the board out as a PNG, a PDF or a JSON document,
// and reads JSON documents back in.
package export

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/jung-kurt/gofpdf"
)

// pdfMargin is the page margin in millimetres.
const pdfMargin = 10.0

// PDF lays the rendered board on one A4 page, turned to match the board's
// aspect ratio and scaled to fit inside the margins.
func PDF(w io.Writer, img image.Image, title string) error {
	b := img.Bounds()
	if b.Empty() {
		return fmt.Errorf("export pdf: empty image")
	}
	orientation := "P"
	if b.Dx() > b.Dy() {
		orientation = "L"
	}
	p := gofpdf.New(orientation, "mm", "A4", "")
	p.SetTitle(title, true)
	p.SetCreator("CollabBoard", true)
	p.AddPage()

	var encoded bytes.Buffer
	if err := PNG(&encoded, Flatten(img)); err != nil {
		return fmt.Errorf("export pdf: %w", err)
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	p.RegisterImageOptionsReader("board", opts, &encoded)

	pageW, pageH := p.GetPageSize()
	availW, availH := pageW-2*pdfMargin, pageH-2*pdfMargin
	scale := min(availW/float64(b.Dx()), availH/float64(b.Dy()))
	w0, h0 := float64(b.Dx())*scale, float64(b.Dy())*scale
	x := (pageW - w0) / 2
	y := (pageH - h0) / 2
	p.SetDrawColor(200, 200, 200)
	p.SetLineWidth(0.2)
	p.Rect(x, y, w0, h0, "D")
	p.ImageOptions("board", x, y, w0, h0, false, opts, 0, "")

	if err := p.Output(w); err != nil {
		return fmt.Errorf("export pdf: %w", err)
	}
	return nil
}
