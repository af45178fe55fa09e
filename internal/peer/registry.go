package peer

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Entry is a point-in-time description of a registered link.
type Entry struct {
	ID      int
	Address string
	Port    int
}

// Registry maps connection ids to open links. One mutex covers the map and
// the id counter, so every operation is atomic with respect to the others.
// Ids start at 1 and are never reused.
type Registry struct {
	mu     sync.Mutex
	links  map[int]*Link
	nextID int
}

func NewRegistry() *Registry {
	return &Registry{
		links:  make(map[int]*Link),
		nextID: 1,
	}
}

// Insert assigns the next id to l, stores it and returns the id.
// Inserting a link that is already registered returns its current id.
func (r *Registry) Insert(l *Link) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id := l.ID(); id != 0 && r.links[id] == l {
		return id
	}
	id := r.nextID
	r.nextID++
	l.id.Store(int64(id))
	r.links[id] = l
	return id
}

func (r *Registry) Lookup(id int) (*Link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	return l, ok
}

// RemoveByID removes the link with the given id. It reports whether anything
// was removed; removing an absent id is a no-op.
func (r *Registry) RemoveByID(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[id]; !ok {
		return false
	}
	delete(r.links, id)
	return true
}

// RemoveByLink removes l if it is registered. Idempotent.
func (r *Registry) RemoveByLink(l *Link) bool {
	if l == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.links[l.ID()]; ok && cur == l {
		delete(r.links, l.ID())
		return true
	}
	return false
}

// Snapshot returns a copy of the table ordered by ascending id.
func (r *Registry) Snapshot() []Entry {
	return lo.Map(r.Links(), func(l *Link, _ int) Entry {
		return Entry{ID: l.ID(), Address: l.Address(), Port: l.Port()}
	})
}

// Links returns the registered links ordered by ascending id.
func (r *Registry) Links() []*Link {
	r.mu.Lock()
	links := lo.Values(r.links)
	r.mu.Unlock()
	slices.SortFunc(links, func(a, b *Link) int { return a.ID() - b.ID() })
	return links
}

// HasEndpoint reports whether a link to exactly addr:port is registered.
func (r *Registry) HasEndpoint(addr string, port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.ContainsBy(lo.Values(r.links), func(l *Link) bool {
		return l.Address() == addr && l.Port() == port
	})
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.links)
}
