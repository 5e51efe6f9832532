package reference

import (
	"sort"
	"strings"
	"sync"
)

// Directory is an in-memory Resolver. It is safe for concurrent use, so a
// service connection can fill it while configuration is being read.
//
// A new Directory is ready. Names match exactly first, then without regard
// to case.
type Directory struct {
	mu       sync.RWMutex
	ready    bool
	entities map[EntityKind]map[int64]*Entity
}

// NewDirectory returns a ready directory holding entities.
func NewDirectory(entities ...*Entity) *Directory {
	d := &Directory{
		ready:    true,
		entities: make(map[EntityKind]map[int64]*Entity),
	}
	for _, e := range entities {
		d.Add(e)
	}
	return d
}

// SetReady sets whether Resolve answers or fails with ErrNotReady.
func (d *Directory) SetReady(ready bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = ready
}

// Add adds or replaces an entity.
func (d *Directory) Add(e *Entity) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fam := e.Kind.family()
	if d.entities[fam] == nil {
		d.entities[fam] = make(map[int64]*Entity)
	}
	d.entities[fam][e.ID] = e
}

// Remove removes the entity with id from kind's namespace.
func (d *Directory) Remove(kind EntityKind, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entities[kind.family()], id)
}

// Resolve finds an entity in kind's namespace. Channel lookups search all
// channel types; the caller checks the type it needs.
func (d *Directory) Resolve(kind EntityKind, q Query) (*Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.ready {
		return nil, ErrNotReady
	}
	byID := d.entities[kind.family()]
	if q.ID != 0 {
		if e, ok := byID[q.ID]; ok {
			return e, nil
		}
		return nil, ErrNotFound
	}

	// Lowest ID wins among equal names
	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if byID[id].Name == q.Name {
			return byID[id], nil
		}
	}
	for _, id := range ids {
		if strings.EqualFold(byID[id].Name, q.Name) {
			return byID[id], nil
		}
	}
	return nil, ErrNotFound
}
