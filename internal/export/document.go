package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"CollabBoard/internal/canvas"
)

var ErrNoLayers = errors.New("document has no layers")

// Document is the persisted form of a board.
type Document struct {
	Layers []canvas.Layer `json:"layers"`
}

// WriteDocument writes layers as an indented JSON document.
func WriteDocument(w io.Writer, layers []canvas.Layer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Document{Layers: layers}); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

// ReadDocument parses a JSON document. Layers without an id are rejected;
// a document without layers is an error.
func ReadDocument(r io.Reader) ([]canvas.Layer, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if len(doc.Layers) == 0 {
		return nil, ErrNoLayers
	}
	for i, l := range doc.Layers {
		if l.ID == "" {
			return nil, fmt.Errorf("read document: layer %d has no id", i)
		}
	}
	return doc.Layers, nil
}
