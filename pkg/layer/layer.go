// Package layer persists reachability facts so that a later analysis can
// build on an earlier one. The universe only sees the Loader and Persister
// interfaces; Store implements both on BadgerDB.
package layer

import (
	"context"
	"errors"
	"time"
)

// ErrNoMeta is returned by Loader.Meta when the store holds no layer.
var ErrNoMeta = errors.New("layer has no metadata")

// Kind is the node kind a record describes.
type Kind string

const (
	KindType   Kind = "type"
	KindMethod Kind = "method"
	KindField  Kind = "field"
)

// Record is the persisted state of one node.
type Record struct {
	Kind  Kind     `json:"kind"`
	Key   string   `json:"key"`
	ID    int      `json:"id"`
	Flags []string `json:"flags,omitempty"`
}

// Has reports whether flag was persisted as set.
func (r *Record) Has(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Meta describes a persisted layer. The next ids seed the id counters of a
// universe built on top of it, so ids stay unique across layers.
type Meta struct {
	Name         string    `json:"name"`
	RunID        string    `json:"run_id"`
	Created      time.Time `json:"created"`
	NextTypeID   int       `json:"next_type_id"`
	NextMethodID int       `json:"next_method_id"`
	NextFieldID  int       `json:"next_field_id"`
}

// Loader reads a base layer. Implementations must be safe for concurrent
// use; Lookup is called while nodes are being created.
type Loader interface {
	Meta() (Meta, error)
	Lookup(kind Kind, key string) (Record, bool, error)
}

// Persister writes a layer.
type Persister interface {
	Persist(ctx context.Context, meta Meta, records []Record) error
}
