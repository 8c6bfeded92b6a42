package tokenize

import "sync"

// Map records token -> original value.
type Map map[string]string

// Clone returns an independent copy of m.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge copies every entry of src into m.
func (m Map) Merge(src Map) {
	for k, v := range src {
		m[k] = v
	}
}

// Store is a process-local token store shared by the tokenizers it is handed
// to. It is not durable: a restart loses every mapping.
type Store struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]string)}
}

// Put records token -> value.
func (s *Store) Put(token, value string) {
	s.mu.Lock()
	s.entries[token] = value
	s.mu.Unlock()
}

// PutAll records every entry of m.
func (s *Store) PutAll(m Map) {
	s.mu.Lock()
	for k, v := range m {
		s.entries[k] = v
	}
	s.mu.Unlock()
}

// Get looks up a token.
func (s *Store) Get(token string) (string, bool) {
	s.mu.RLock()
	v, ok := s.entries[token]
	s.mu.RUnlock()
	return v, ok
}

// Has reports whether the token is known.
func (s *Store) Has(token string) bool {
	_, ok := s.Get(token)
	return ok
}

// Snapshot copies the current contents.
func (s *Store) Snapshot() Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Map, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of stored tokens.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear drops every mapping.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]string)
	s.mu.Unlock()
}
