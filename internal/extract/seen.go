// internal/extract/seen.go
package extract

import "sync"

// SeenSet remembers keys already accepted during one run
type SeenSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewSeenSet creates an empty set
func NewSeenSet() *SeenSet {
	return &SeenSet{keys: make(map[string]struct{})}
}

// Add inserts every key and reports whether none of them was present. When
// any key is already known nothing is inserted.
func (s *SeenSet) Add(keys ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := s.keys[k]; ok {
			return false
		}
	}
	for _, k := range keys {
		if k != "" {
			s.keys[k] = struct{}{}
		}
	}
	return true
}

// Has reports whether key was added
func (s *SeenSet) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

// Len returns the number of keys
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
