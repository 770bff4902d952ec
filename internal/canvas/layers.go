package canvas

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"CollabBoard/internal/state"
)

// Document layout: the root array holds layer ids in z-order, each layer
// keeps its metadata in a map and its objects in an array of their own.
const (
	RootKey       = "layers"
	metaPrefix    = "layer:"
	objectsPrefix = "objects:"
)

func MetaKey(layerID string) string    { return metaPrefix + layerID }
func ObjectsKey(layerID string) string { return objectsPrefix + layerID }

// SystemOrigin marks bootstrap writes, such as the default layer, that the
// user cannot undo.
var SystemOrigin any = "system"

type Layer struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Visible bool     `json:"visible"`
	ZIndex  int      `json:"zIndex"`
	Objects []Object `json:"-"`
}

type layerJSON struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Visible bool              `json:"visible"`
	ZIndex  int               `json:"zIndex"`
	Objects []json.RawMessage `json:"objects"`
}

func (l Layer) MarshalJSON() ([]byte, error) {
	out := layerJSON{ID: l.ID, Name: l.Name, Visible: l.Visible, ZIndex: l.ZIndex, Objects: []json.RawMessage{}}
	for _, o := range l.Objects {
		data, err := MarshalObject(o)
		if err != nil {
			return nil, err
		}
		out.Objects = append(out.Objects, data)
	}
	return json.Marshal(out)
}

func (l *Layer) UnmarshalJSON(data []byte) error {
	var in layerJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	l.ID, l.Name, l.Visible, l.ZIndex = in.ID, in.Name, in.Visible, in.ZIndex
	l.Objects = make([]Object, 0, len(in.Objects))
	for i, raw := range in.Objects {
		o, err := UnmarshalObject(raw)
		if err != nil {
			return fmt.Errorf("layer %s object %d: %w", in.ID, i, err)
		}
		l.Objects = append(l.Objects, o)
	}
	return nil
}

// ObjectRef locates an object inside the document.
type ObjectRef struct {
	LayerID string
	Index   int
	Object  Object
}

// Layers performs the layer and object operations against a shared
// document. Operations naming a layer that no longer exists are silently
// ignored: another participant may have removed it.
type Layers struct {
	doc    *state.Doc
	origin any
	newID  func() string
}

func NewLayers(doc *state.Doc) *Layers {
	return &Layers{
		doc:    doc,
		origin: state.LocalOrigin,
		newID:  uuid.NewString,
	}
}

func (l *Layers) Doc() *state.Doc {
	return l.doc
}

// List returns the layers bottom-most first.
func (l *Layers) List() []Layer {
	var layers []Layer
	l.doc.View(func() {
		layers = l.list()
	})
	return layers
}

func (l *Layers) Get(id string) (Layer, bool) {
	var (
		layer Layer
		ok    bool
	)
	l.doc.View(func() {
		for pos, have := range l.ids() {
			if have == id {
				layer, ok = l.read(id, pos), true
				break
			}
		}
	})
	return layer, ok
}

// Root names the collection that lists the layers.
func (l *Layers) Root() string {
	return RootKey
}

// Members names the per-layer collections of every present layer. It does
// not lock; call it inside Doc.View or Doc.Transact.
func (l *Layers) Members() []string {
	ids := l.ids()
	out := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		out = append(out, MetaKey(id), ObjectsKey(id))
	}
	return out
}

// Observe registers fn for every transaction touching layer data.
func (l *Layers) Observe(fn func(*state.TxEvent)) func() {
	return l.doc.Observe(func(ev *state.TxEvent) {
		for _, c := range ev.Changes {
			t := c.Op.Target
			if t == RootKey || strings.HasPrefix(t, metaPrefix) || strings.HasPrefix(t, objectsPrefix) {
				fn(ev)
				return
			}
		}
	})
}

// AddLayer appends an empty layer on top and returns its id.
func (l *Layers) AddLayer() string {
	id := l.newID()
	l.doc.Transact(l.origin, func(tx *state.Tx) {
		l.createLayer(tx, id, fmt.Sprintf("Layer %d", len(l.ids())+1))
	})
	glog.V(2).Infof("[layers] added %s\n", id)
	return id
}

// EnsureDefault creates "Layer 1" when the document has no layer and
// returns the bottom-most layer id.
func (l *Layers) EnsureDefault() string {
	var bottom string
	l.doc.Transact(SystemOrigin, func(tx *state.Tx) {
		if len(l.ids()) == 0 {
			l.createLayer(tx, l.newID(), "Layer 1")
		}
		if layers := l.list(); len(layers) > 0 {
			bottom = layers[0].ID
		}
	})
	return bottom
}

func (l *Layers) createLayer(tx *state.Tx, id, name string) {
	tx.Push(tx.Array(RootKey), jsonString(id))
	meta := tx.Map(MetaKey(id))
	tx.SetJSON(meta, "id", id)
	tx.SetJSON(meta, "name", name)
	tx.SetJSON(meta, "visible", true)
	l.rewriteZ(tx)
}

// RemoveLayer deletes a layer. The last remaining layer is kept.
func (l *Layers) RemoveLayer(id string) {
	l.doc.Transact(l.origin, func(tx *state.Tx) {
		ids := l.ids()
		if !contains(ids, id) || len(ids) == 1 {
			return
		}
		l.deleteFromRoot(tx, id)
		l.rewriteZ(tx)
	})
}

func (l *Layers) RenameLayer(id, name string) {
	l.doc.Transact(l.origin, func(tx *state.Tx) {
		if l.present(id) {
			tx.SetJSON(tx.Map(MetaKey(id)), "name", name)
		}
	})
}

func (l *Layers) SetLayerVisibility(id string, visible bool) {
	l.doc.Transact(l.origin, func(tx *state.Tx) {
		if l.present(id) {
			tx.SetJSON(tx.Map(MetaKey(id)), "visible", visible)
		}
	})
}

// MoveLayer extracts the layer, reinserts it at toIndex (clamped) and
// rewrites every zIndex to match the new order.
func (l *Layers) MoveLayer(id string, toIndex int) {
	l.doc.Transact(l.origin, func(tx *state.Tx) {
		if !l.present(id) {
			return
		}
		l.deleteFromRoot(tx, id)
		n := len(l.ids())
		if toIndex < 0 {
			toIndex = 0
		}
		if toIndex > n {
			toIndex = n
		}
		tx.Insert(tx.Array(RootKey), l.rawIndex(toIndex), jsonString(id))
		l.rewriteZ(tx)
	})
}

// AddObjectToLayer appends obj to the layer. It reports false when the
// layer is gone or the object cannot be encoded.
func (l *Layers) AddObjectToLayer(layerID string, obj Object) bool {
	data, err := MarshalObject(obj)
	if err != nil {
		glog.Infof("[layers] cannot encode object: %s\n", err)
		return false
	}
	added := false
	l.doc.Transact(l.origin, func(tx *state.Tx) {
		if !l.present(layerID) {
			return
		}
		tx.Push(tx.Array(ObjectsKey(layerID)), data)
		added = true
	})
	return added
}

func (l *Layers) ClearLayer(id string) {
	l.doc.Transact(l.origin, func(tx *state.Tx) {
		if l.present(id) {
			objects := tx.Array(ObjectsKey(id))
			tx.Delete(objects, 0, objects.Len())
		}
	})
}

func (l *Layers) ClearAllLayers() {
	l.doc.Transact(l.origin, func(tx *state.Tx) {
		for _, id := range l.ids() {
			objects := tx.Array(ObjectsKey(id))
			tx.Delete(objects, 0, objects.Len())
		}
	})
}

// FindObject locates an object by id in whichever layer holds it.
func (l *Layers) FindObject(objectID string) (ObjectRef, bool) {
	var (
		ref ObjectRef
		ok  bool
	)
	l.doc.View(func() {
		ref, ok = l.find(objectID)
	})
	return ref, ok
}

// ReplaceObject swaps the stored object with the same id for obj, keeping
// its index: the ordered collection has no in-place update, so this is a
// delete and an insert at the same position inside one transaction.
func (l *Layers) ReplaceObject(obj Object) bool {
	data, err := MarshalObject(obj)
	if err != nil {
		glog.Infof("[layers] cannot encode object: %s\n", err)
		return false
	}
	replaced := false
	l.doc.Transact(l.origin, func(tx *state.Tx) {
		ref, ok := l.find(obj.ObjectID())
		if !ok {
			return
		}
		objects := tx.Array(ObjectsKey(ref.LayerID))
		tx.Delete(objects, ref.Index, 1)
		tx.Insert(objects, ref.Index, data)
		replaced = true
	})
	return replaced
}

// DeleteObject removes the object wherever it currently is.
func (l *Layers) DeleteObject(objectID string) bool {
	deleted := false
	l.doc.Transact(l.origin, func(tx *state.Tx) {
		ref, ok := l.find(objectID)
		if !ok {
			return
		}
		tx.Delete(tx.Array(ObjectsKey(ref.LayerID)), ref.Index, 1)
		deleted = true
	})
	return deleted
}

// Replace swaps the whole document for layers in one transaction.
func (l *Layers) Replace(layers []Layer) {
	sorted := append([]Layer(nil), layers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ZIndex < sorted[j].ZIndex })
	l.doc.Transact(l.origin, func(tx *state.Tx) {
		root := tx.Array(RootKey)
		tx.Delete(root, 0, root.Len())
		for _, layer := range sorted {
			id := layer.ID
			if id == "" || contains(l.ids(), id) {
				id = l.newID()
			}
			tx.Push(root, jsonString(id))
			meta := tx.Map(MetaKey(id))
			tx.SetJSON(meta, "id", id)
			tx.SetJSON(meta, "name", layer.Name)
			tx.SetJSON(meta, "visible", layer.Visible)
			objects := tx.Array(ObjectsKey(id))
			tx.Delete(objects, 0, objects.Len())
			for _, o := range layer.Objects {
				data, err := MarshalObject(o)
				if err != nil {
					glog.Infof("[layers] skipping object on import: %s\n", err)
					continue
				}
				tx.Push(objects, data)
			}
		}
		l.rewriteZ(tx)
	})
}

// The helpers below read without locking; callers hold the document lock.

// ids returns the layer ids in root order. Concurrent moves can leave the
// same id twice; only the first occurrence counts.
func (l *Layers) ids() []string {
	values := l.doc.Array(RootKey).Values()
	seen := make(map[string]bool, len(values))
	ids := make([]string, 0, len(values))
	for _, v := range values {
		var id string
		if err := json.Unmarshal(v, &id); err != nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// rawIndex maps a position among unique ids to an index in the root array.
func (l *Layers) rawIndex(pos int) int {
	values := l.doc.Array(RootKey).Values()
	seen := make(map[string]bool, len(values))
	unique := 0
	for i, v := range values {
		var id string
		if err := json.Unmarshal(v, &id); err != nil || seen[id] {
			continue
		}
		if unique == pos {
			return i
		}
		seen[id] = true
		unique++
	}
	return len(values)
}

func (l *Layers) present(id string) bool {
	return contains(l.ids(), id)
}

func (l *Layers) deleteFromRoot(tx *state.Tx, id string) {
	root := tx.Array(RootKey)
	for i := root.Len() - 1; i >= 0; i-- {
		v, _ := root.Get(i)
		var got string
		if json.Unmarshal(v, &got) == nil && got == id {
			tx.Delete(root, i, 1)
		}
	}
}

// rewriteZ restores zIndex = position for every present layer, writing only
// the values that differ.
func (l *Layers) rewriteZ(tx *state.Tx) {
	for i, id := range l.ids() {
		meta := tx.Map(MetaKey(id))
		var z int
		raw, ok := meta.Get("zIndex")
		if ok && json.Unmarshal(raw, &z) == nil && z == i {
			continue
		}
		tx.SetJSON(meta, "zIndex", i)
	}
}

func (l *Layers) list() []Layer {
	ids := l.ids()
	layers := make([]Layer, 0, len(ids))
	for pos, id := range ids {
		layers = append(layers, l.read(id, pos))
	}
	return layers
}

// read decodes one layer. Its zIndex is its position in the root: stored
// values can collide after concurrent adds until the next structural edit
// rewrites them.
func (l *Layers) read(id string, pos int) Layer {
	meta := l.doc.Map(MetaKey(id))
	layer := Layer{ID: id, Name: id, Visible: true, ZIndex: pos}
	if raw, ok := meta.Get("name"); ok {
		json.Unmarshal(raw, &layer.Name)
	}
	if raw, ok := meta.Get("visible"); ok {
		json.Unmarshal(raw, &layer.Visible)
	}
	values := l.doc.Array(ObjectsKey(id)).Values()
	layer.Objects = make([]Object, 0, len(values))
	for _, v := range values {
		o, err := UnmarshalObject(v)
		if err != nil {
			glog.V(2).Infof("[layers] skipping undecodable object in %s: %s\n", id, err)
			continue
		}
		layer.Objects = append(layer.Objects, o)
	}
	return layer
}

func (l *Layers) find(objectID string) (ObjectRef, bool) {
	for _, id := range l.ids() {
		for i, v := range l.doc.Array(ObjectsKey(id)).Values() {
			var head struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(v, &head) != nil || head.ID != objectID {
				continue
			}
			o, err := UnmarshalObject(v)
			if err != nil {
				return ObjectRef{}, false
			}
			return ObjectRef{LayerID: id, Index: i, Object: o}, true
		}
	}
	return ObjectRef{}, false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func jsonString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
