package state

import (
	"encoding/json"
	"fmt"
)

// ElemID identifies one array element or one map write. Ordering is by
// clock first and site second, which gives every replica the same total
// order over concurrent operations.
type ElemID struct {
	Clock uint64 `json:"c"`
	Site  string `json:"s"`
}

func (id ElemID) IsZero() bool {
	return id.Clock == 0 && id.Site == ""
}

// Less reports whether id sorts before other.
func (id ElemID) Less(other ElemID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.Site < other.Site
}

func (id ElemID) String() string {
	return fmt.Sprintf("%d@%s", id.Clock, id.Site)
}

type OpType string

const (
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
	OpSet    OpType = "set"
)

// Op is a single replicated mutation.
//
// For OpInsert, ID is the new element and After its left neighbour at
// creation time (zero means the head of the array). For OpDelete, ID is the
// element to tombstone. For OpSet, ID is the write stamp of Key.
type Op struct {
	Type   OpType          `json:"type"`
	Target string          `json:"target"`
	ID     ElemID          `json:"id"`
	After  ElemID          `json:"after,omitempty"`
	Key    string          `json:"key,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Update is the unit of replication: the ops of one transaction, or a full
// snapshot.
type Update struct {
	Site string `json:"site"`
	Ops  []Op   `json:"ops"`
}

// Change records an op that actually modified the local replica, together
// with what it replaced. Only applied ops produce changes.
type Change struct {
	Op Op
	// Removed is the value of a deleted array element.
	Removed json.RawMessage
	// Prev and PrevID are the value and stamp a map set overwrote.
	Prev   json.RawMessage
	PrevID ElemID
}

type originTag string

var (
	// LocalOrigin marks user edits made through the engine.
	LocalOrigin any = originTag("local")
	// RemoteOrigin marks transactions created by ApplyUpdate.
	RemoteOrigin any = originTag("remote")
)

// TxEvent is delivered to observers once per committed transaction.
type TxEvent struct {
	Origin  any
	Site    string
	Changes []Change
}

// Local reports whether the transaction originated on this replica.
func (ev *TxEvent) Local() bool {
	return ev.Origin != RemoteOrigin
}

// Touches reports whether any change targeted the named collection.
func (ev *TxEvent) Touches(target string) bool {
	for _, c := range ev.Changes {
		if c.Op.Target == target {
			return true
		}
	}
	return false
}

// Update converts the event into the replication message sent to peers.
func (ev *TxEvent) Update() Update {
	ops := make([]Op, 0, len(ev.Changes))
	for _, c := range ev.Changes {
		ops = append(ops, c.Op)
	}
	return Update{Site: ev.Site, Ops: ops}
}
