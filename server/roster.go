package server

import (
	"errors"
	"sort"

	"github.com/Zereker/chatsock"
)

// ErrAlreadyJoined is returned when a handle joins twice.
var ErrAlreadyJoined = errors.New("server: already joined")

// Roster maps connected endpoints to the display names they joined with.
type Roster struct {
	names map[chatsock.Handle]string
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{names: make(map[chatsock.Handle]string)}
}

// Join records name for h. A handle joins at most once.
func (r *Roster) Join(h chatsock.Handle, name string) error {
	if _, ok := r.names[h]; ok {
		return ErrAlreadyJoined
	}
	r.names[h] = name
	return nil
}

// Name returns the name h joined with.
func (r *Roster) Name(h chatsock.Handle) (string, bool) {
	name, ok := r.names[h]
	return name, ok
}

// Leave removes h and returns the name it had joined with.
func (r *Roster) Leave(h chatsock.Handle) (string, bool) {
	name, ok := r.names[h]
	if ok {
		delete(r.names, h)
	}
	return name, ok
}

// Len returns the number of joined members.
func (r *Roster) Len() int {
	return len(r.names)
}

// Names returns every joined name, sorted.
func (r *Roster) Names() []string {
	names := make([]string, 0, len(r.names))
	for _, name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
