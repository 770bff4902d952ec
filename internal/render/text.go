package render

import (
	"fmt"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var (
	regularOnce sync.Once
	regularFont *opentype.Font
	regularErr  error
)

func goRegular() (*opentype.Font, error) {
	regularOnce.Do(func() {
		regularFont, regularErr = opentype.Parse(goregular.TTF)
	})
	return regularFont, regularErr
}

// faceCache keeps one face per pixel size. At 72 DPI a point is a pixel.
// Faces are not safe for concurrent use, so they are only touched through
// with, which holds the cache lock.
type faceCache struct {
	mu    sync.Mutex
	faces map[float64]font.Face
}

func newFaceCache() *faceCache {
	return &faceCache{faces: make(map[float64]font.Face)}
}

func (c *faceCache) with(size float64, fn func(font.Face)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	face, err := c.face(size)
	if err != nil {
		return err
	}
	fn(face)
	return nil
}

func (c *faceCache) face(size float64) (font.Face, error) {
	if size <= 0 {
		size = 16
	}
	if f, ok := c.faces[size]; ok {
		return f, nil
	}
	f, err := goRegular()
	if err != nil {
		return nil, fmt.Errorf("parse go regular: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("face %.1fpx: %w", size, err)
	}
	c.faces[size] = face
	return face, nil
}

// MeasureText returns the advance width and line height of s at size, in
// the same units as size.
func MeasureText(s string, size float64) (width, height float64) {
	height = size
	defaultFaces.with(size, func(face font.Face) {
		m := face.Metrics()
		width = fixedToFloat(font.MeasureString(face, s))
		height = fixedToFloat(m.Ascent + m.Descent)
	})
	return width, height
}

var defaultFaces = newFaceCache()

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}
