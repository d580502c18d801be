package orch

import "sync"

// SinkRegistry answers whether a display sink (the rendering target a
// remote video binds to) currently exists. The presentation layer
// mounts and unmounts sinks asynchronously, which is why stream binding
// needs a bounded retry.
type SinkRegistry interface {
	Has(view string) bool
}

// SinkSet is the default SinkRegistry: a concurrent set of mounted
// sink ids reported by the presentation layer.
type SinkSet struct {
	mu    sync.RWMutex
	views map[string]bool
}

func NewSinkSet() *SinkSet {
	return &SinkSet{views: make(map[string]bool)}
}

func (s *SinkSet) Mount(view string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[view] = true
}

func (s *SinkSet) Unmount(view string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, view)
}

func (s *SinkSet) Has(view string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.views[view]
}
