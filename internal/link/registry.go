package link

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Handle identifies a registered callback. Handles are never reused, so
// removing one registration never invalidates another.
type Handle uint64

var handleSeq atomic.Uint64

type registryEntry[F any] struct {
	handle Handle
	fn     F
}

// registry is an ordered multi-subscriber callback table keyed by string.
// A key exists only while it has at least one callback.
type registry[F any] struct {
	mu      sync.Mutex
	entries map[string][]registryEntry[F]
}

func newRegistry[F any]() *registry[F] {
	return &registry[F]{entries: make(map[string][]registryEntry[F])}
}

func (r *registry[F]) add(key string, fn F) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := Handle(handleSeq.Add(1))
	r.entries[key] = append(r.entries[key], registryEntry[F]{handle: h, fn: fn})
	return h
}

// remove reports whether handle was registered under key.
func (r *registry[F]) remove(key string, handle Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.entries[key]
	for i, e := range list {
		if e.handle != handle {
			continue
		}
		if len(list) == 1 {
			delete(r.entries, key)
			return true
		}
		updated := make([]registryEntry[F], 0, len(list)-1)
		updated = append(updated, list[:i]...)
		updated = append(updated, list[i+1:]...)
		r.entries[key] = updated
		return true
	}
	return false
}

// snapshot returns the callbacks for key in registration order. Callbacks
// added or removed during dispatch take effect on the next message.
func (r *registry[F]) snapshot(key string) []F {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.entries[key]
	if len(list) == 0 {
		return nil
	}
	fns := make([]F, len(list))
	for i, e := range list {
		fns[i] = e.fn
	}
	return fns
}

func (r *registry[F]) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *registry[F]) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[key])
}
