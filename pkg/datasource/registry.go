// Package datasource shares opened data sources between query layers.
package datasource

import (
	"container/list"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/beetlebugorg/mitab/pkg/feature"
)

// Opener opens the data source with the given name.
type Opener func(name string) (feature.DataSource, error)

// ErrNotOpen is returned when releasing a data source the registry did not hand out.
var ErrNotOpen = errors.New("data source not opened through registry")

// Registry hands out shared, reference-counted data sources.
//
// Open returns the already-open source for a name when there is one. A
// source whose last reference is released is kept idle so the next Open is
// cheap; once more than maxIdle sources are idle the least recently
// released is dropped and closed if it implements io.Closer. Sources added
// with Register are never dropped.
//
// Example:
//
//	reg := datasource.NewRegistry(openTable, 8)
//	ds, err := reg.Open("/data/cities.tab")
//	...
//	reg.Release(ds)
type Registry struct {
	open    Opener
	maxIdle int
	sources map[string]*entry
	idle    *list.List // idle sources, most recently released at front
	mu      sync.Mutex
}

type entry struct {
	name         string
	ds           feature.DataSource
	refs         int
	pinned       bool
	element      *list.Element // position in idle list, nil while in use
	lastAccessed time.Time
	accessCount  int
}

// NewRegistry creates a registry that opens missing sources with open.
// A maxIdle of 0 closes sources as soon as they are released.
func NewRegistry(open Opener, maxIdle int) *Registry {
	return &Registry{
		open:    open,
		maxIdle: maxIdle,
		sources: make(map[string]*entry),
		idle:    list.New(),
	}
}

// Register adds an already-open source under name. It is never evicted.
func (r *Registry) Register(name string, ds feature.DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sources[name]; ok && e.element != nil {
		r.idle.Remove(e.element)
	}
	r.sources[name] = &entry{name: name, ds: ds, pinned: true, lastAccessed: time.Now()}
}

// Open returns the source with the given name, opening it on first use.
// Every successful Open must be paired with a Release.
func (r *Registry) Open(name string) (feature.DataSource, error) {
	r.mu.Lock()
	if e, ok := r.sources[name]; ok {
		r.acquire(e)
		r.mu.Unlock()
		return e.ds, nil
	}
	r.mu.Unlock()

	if r.open == nil {
		return nil, fmt.Errorf("open data source %s: no opener configured", name)
	}
	ds, err := r.open(name)
	if err != nil {
		return nil, fmt.Errorf("open data source %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have opened it meanwhile.
	if e, ok := r.sources[name]; ok {
		closeSource(ds)
		r.acquire(e)
		return e.ds, nil
	}
	e := &entry{name: name, ds: ds}
	r.sources[name] = e
	r.acquire(e)
	return ds, nil
}

// acquire must be called with r.mu locked.
func (r *Registry) acquire(e *entry) {
	if e.element != nil {
		r.idle.Remove(e.element)
		e.element = nil
	}
	e.refs++
	e.accessCount++
	e.lastAccessed = time.Now()
}

// Release drops one reference to ds.
func (r *Registry) Release(ds feature.DataSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.sources {
		if e.ds != ds {
			continue
		}
		if e.refs == 0 {
			return fmt.Errorf("release %s: %w", e.name, ErrNotOpen)
		}
		e.refs--
		if e.refs == 0 && !e.pinned {
			e.element = r.idle.PushFront(e)
			for r.idle.Len() > r.maxIdle {
				r.evictLRU()
			}
		}
		return nil
	}
	return ErrNotOpen
}

// evictLRU drops the least recently released idle source.
// Must be called with r.mu locked.
func (r *Registry) evictLRU() {
	elem := r.idle.Back()
	if elem == nil {
		return
	}
	e := elem.Value.(*entry)
	r.idle.Remove(elem)
	delete(r.sources, e.name)
	closeSource(e.ds)
}

func closeSource(ds feature.DataSource) {
	if c, ok := ds.(io.Closer); ok {
		c.Close()
	}
}

// Clear drops every idle source. Sources still referenced stay registered.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.idle.Len() > 0 {
		r.evictLRU()
	}
}

// Stats returns registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Sources: len(r.sources), Idle: r.idle.Len()}
	for _, e := range r.sources {
		s.References += e.refs
		s.TotalAccess += e.accessCount
	}
	return s
}

// Stats holds registry counters.
type Stats struct {
	Sources     int // Registered sources, idle ones included
	Idle        int // Sources with no outstanding reference
	References  int // Outstanding references across all sources
	TotalAccess int // Successful Open calls across registered sources
}
