package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownKind = errors.New("unknown object kind")

type encoder struct {
	data []byte
	err  error
}

// Each variant is wrapped in an anonymous struct embedding it, which
// promotes its fields next to the tag.

func (e *encoder) VisitStroke(o Stroke) {
	e.data, e.err = json.Marshal(struct {
		Type Kind `json:"type"`
		Stroke
	}{KindStroke, o})
}

func (e *encoder) VisitRectangle(o Rectangle) {
	e.data, e.err = json.Marshal(struct {
		Type Kind `json:"type"`
		Rectangle
	}{KindRectangle, o})
}

func (e *encoder) VisitCircle(o Circle) {
	e.data, e.err = json.Marshal(struct {
		Type Kind `json:"type"`
		Circle
	}{KindCircle, o})
}

func (e *encoder) VisitErase(o ErasePath) {
	e.data, e.err = json.Marshal(struct {
		Type Kind `json:"type"`
		ErasePath
	}{KindErase, o})
}

func (e *encoder) VisitText(o Text) {
	e.data, e.err = json.Marshal(struct {
		Type Kind `json:"type"`
		Text
	}{KindText, o})
}

func (e *encoder) VisitFill(o Fill) {
	e.data, e.err = json.Marshal(struct {
		Type Kind `json:"type"`
		Fill
	}{KindFill, o})
}

func (e *encoder) VisitImage(o Image) {
	e.data, e.err = json.Marshal(struct {
		Type Kind `json:"type"`
		Image
	}{KindImage, o})
}

// MarshalObject encodes o with its "type" tag.
func MarshalObject(o Object) ([]byte, error) {
	if o == nil {
		return nil, errors.New("nil object")
	}
	var e encoder
	o.Accept(&e)
	return e.data, e.err
}

// UnmarshalObject decodes a tagged object. Missing fields decode as zero
// values, so an object without a timestamp plays back first.
func UnmarshalObject(data []byte) (Object, error) {
	var tag struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decode object tag: %w", err)
	}
	var (
		obj Object
		err error
	)
	switch tag.Type {
	case KindStroke:
		var o Stroke
		err = json.Unmarshal(data, &o)
		obj = o
	case KindRectangle:
		var o Rectangle
		err = json.Unmarshal(data, &o)
		obj = o
	case KindCircle:
		var o Circle
		err = json.Unmarshal(data, &o)
		obj = o
	case KindErase:
		var o ErasePath
		err = json.Unmarshal(data, &o)
		obj = o
	case KindText:
		var o Text
		err = json.Unmarshal(data, &o)
		obj = o
	case KindFill:
		var o Fill
		err = json.Unmarshal(data, &o)
		obj = o
	case KindImage:
		var o Image
		err = json.Unmarshal(data, &o)
		obj = o
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, tag.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag.Type, err)
	}
	return obj, nil
}
