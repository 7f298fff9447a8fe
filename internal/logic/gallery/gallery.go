// Package gallery holds the in-memory, insertion-ordered collection of photos
// captured during a session.
package gallery

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/photobooth/internal/debug"
)

// Order is the display policy used by List. Storage is always insertion order.
type Order string

const (
	NewestLast  Order = "newest_last"
	NewestFirst Order = "newest_first"
)

// ParseOrder validates a configured order. Empty means NewestLast.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case "", NewestLast:
		return NewestLast, nil
	case NewestFirst:
		return NewestFirst, nil
	default:
		return "", fmt.Errorf("unknown gallery order %q (use newest_last or newest_first)", s)
	}
}

// Gallery is safe for concurrent use.
type Gallery struct {
	mu     sync.RWMutex
	order  Order
	photos []*Photo
}

func New(order Order) *Gallery {
	if order == "" {
		order = NewestLast
	}
	return &Gallery{order: order}
}

// Append adds p at the end of the insertion order. Nil photos are ignored.
func (g *Gallery) Append(p *Photo) {
	if p == nil {
		return
	}
	g.mu.Lock()
	g.photos = append(g.photos, p)
	n := len(g.photos)
	g.mu.Unlock()
	debug.Verbose("Gallery: appended %s (%d photos)", p.ID(), n)
}

// Remove deletes the photo with the given ID and reports whether it existed.
func (g *Gallery) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, p := range g.photos {
		if p.ID() == id {
			copy(g.photos[i:], g.photos[i+1:])
			g.photos[len(g.photos)-1] = nil
			g.photos = g.photos[:len(g.photos)-1]
			debug.Verbose("Gallery: removed %s (%d photos)", id, len(g.photos))
			return true
		}
	}
	return false
}

// Get returns the photo with the given ID.
func (g *Gallery) Get(id string) (*Photo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, p := range g.photos {
		if p.ID() == id {
			return p, true
		}
	}
	return nil, false
}

// Len returns the number of photos.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.photos)
}

// Last returns the most recently inserted photo.
func (g *Gallery) Last() (*Photo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.photos) == 0 {
		return nil, false
	}
	return g.photos[len(g.photos)-1], true
}

// List returns a snapshot in display order.
func (g *Gallery) List() []*Photo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Photo, len(g.photos))
	if g.order == NewestFirst {
		for i, p := range g.photos {
			out[len(out)-1-i] = p
		}
		return out
	}
	copy(out, g.photos)
	return out
}

// Order returns the display policy.
func (g *Gallery) Order() Order {
	return g.order
}

// Clear drops every photo.
func (g *Gallery) Clear() {
	g.mu.Lock()
	g.photos = nil
	g.mu.Unlock()
}
