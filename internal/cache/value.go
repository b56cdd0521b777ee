package cache

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindScalar Kind = iota + 1
	KindList
	KindHash
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindHash:
		return "hash"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is the payload of a record: a string, an ordered list of strings or a
// string-keyed hash. The zero Value holds nothing and is never stored.
type Value struct {
	kind   Kind
	scalar string
	list   []string
	hash   map[string]string
}

// Scalar returns a string value.
func Scalar(s string) Value { return Value{kind: KindScalar, scalar: s} }

// List returns a list value holding a copy of items.
func List(items ...string) Value {
	return Value{kind: KindList, list: slices.Clone(items)}
}

// Hash returns a hash value holding a copy of fields.
func Hash(fields map[string]string) Value {
	h := maps.Clone(fields)
	if h == nil {
		h = map[string]string{}
	}
	return Value{kind: KindHash, hash: h}
}

func (v Value) Kind() Kind { return v.kind }

// Str returns the scalar payload, or "" for other kinds.
func (v Value) Str() string { return v.scalar }

// Items returns a copy of the list payload.
func (v Value) Items() []string { return slices.Clone(v.list) }

// Fields returns a copy of the hash payload.
func (v Value) Fields() map[string]string { return maps.Clone(v.hash) }

func (v Value) clone() Value {
	switch v.kind {
	case KindList:
		return List(v.list...)
	case KindHash:
		return Hash(v.hash)
	default:
		return v
	}
}

// size is a rough byte count of the payload.
func (v Value) size() int {
	switch v.kind {
	case KindScalar:
		return len(v.scalar)
	case KindList:
		n := 0
		for _, s := range v.list {
			n += len(s)
		}
		return n
	case KindHash:
		n := 0
		for k, s := range v.hash {
			n += len(k) + len(s)
		}
		return n
	default:
		return 0
	}
}

type wireValue struct {
	Kind   string            `json:"kind"`
	Scalar string            `json:"scalar,omitempty"`
	List   []string          `json:"list,omitempty"`
	Hash   map[string]string `json:"hash,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Kind: v.kind.String()}
	switch v.kind {
	case KindScalar:
		w.Scalar = v.scalar
	case KindList:
		w.List = v.list
	case KindHash:
		w.Hash = v.hash
	default:
		return nil, fmt.Errorf("cache: cannot encode %s", v.kind)
	}
	return json.Marshal(w)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case "scalar":
		*v = Scalar(w.Scalar)
	case "list":
		*v = List(w.List...)
	case "hash":
		*v = Hash(w.Hash)
	default:
		return fmt.Errorf("cache: unknown value kind %q", w.Kind)
	}
	return nil
}

// Record is a key with its value and timing metadata.
type Record struct {
	Key           string    `json:"key"`
	Value         Value     `json:"value"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	LastTouchedAt time.Time `json:"last_touched_at"`
}

func (r *Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

func (r *Record) clone() *Record {
	c := *r
	c.Value = r.Value.clone()
	return &c
}
