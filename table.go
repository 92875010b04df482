package chatsock

import (
	"errors"
	"fmt"
)

// ErrTableFull is returned when the table already holds its maximum.
var ErrTableFull = errors.New("chatsock: endpoint table full")

// Handle addresses an endpoint in a Table. A handle goes stale when its
// endpoint is removed, even if the slot is later reused. The zero Handle
// never resolves.
type Handle struct {
	index uint32
	gen   uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.index, h.gen)
}

// MarshalText renders the handle in log output.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

type tableSlot struct {
	gen uint32
	ep  *Endpoint
}

// Table is an arena of endpoints keyed by generation-checked handles.
// Removal leaves a tombstone that the next Insert reuses.
type Table struct {
	slots []tableSlot
	free  []uint32
	count int
	max   int
}

// NewTable creates a table holding at most max endpoints (unlimited if max <= 0).
func NewTable(max int) *Table {
	return &Table{max: max}
}

// Insert stores ep and returns its handle.
func (t *Table) Insert(ep *Endpoint) (Handle, error) {
	if t.Full() {
		return Handle{}, ErrTableFull
	}

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, tableSlot{})
	}

	s := &t.slots[idx]
	s.gen++
	s.ep = ep
	t.count++
	return Handle{index: idx, gen: s.gen}, nil
}

// Get resolves h.
func (t *Table) Get(h Handle) (*Endpoint, bool) {
	if int(h.index) >= len(t.slots) {
		return nil, false
	}
	s := t.slots[h.index]
	if s.ep == nil || s.gen != h.gen {
		return nil, false
	}
	return s.ep, true
}

// Remove deletes h and returns the endpoint it addressed.
func (t *Table) Remove(h Handle) (*Endpoint, bool) {
	ep, ok := t.Get(h)
	if !ok {
		return nil, false
	}
	t.slots[h.index].ep = nil
	t.free = append(t.free, h.index)
	t.count--
	return ep, true
}

// Len returns the number of live endpoints.
func (t *Table) Len() int {
	return t.count
}

// Full reports whether Insert would fail.
func (t *Table) Full() bool {
	return t.max > 0 && t.count >= t.max
}

// AppendHandles appends the handle of every live endpoint to dst in slot order.
func (t *Table) AppendHandles(dst []Handle) []Handle {
	for i, s := range t.slots {
		if s.ep != nil {
			dst = append(dst, Handle{index: uint32(i), gen: s.gen})
		}
	}
	return dst
}

// Each calls fn for every live endpoint in slot order.
func (t *Table) Each(fn func(Handle, *Endpoint)) {
	for i, s := range t.slots {
		if s.ep != nil {
			fn(Handle{index: uint32(i), gen: s.gen}, s.ep)
		}
	}
}
