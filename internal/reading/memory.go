package reading

import (
	"context"
	"sort"
	"sync"
)

type deviceLog struct {
	mu       sync.RWMutex
	readings []Reading
}

// latest returns the reading with the greatest timestamp; on ties the one
// appended last wins
func (l *deviceLog) latest() (Reading, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.readings) == 0 {
		return Reading{}, false
	}
	best := l.readings[0]
	for _, r := range l.readings[1:] {
		if !r.Timestamp.Before(best.Timestamp) {
			best = r
		}
	}
	return best, true
}

func (l *deviceLog) newestFirst() []Reading {
	l.mu.RLock()
	out := make([]Reading, len(l.readings))
	copy(out, l.readings)
	l.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

// sortNewestFirst orders by descending timestamp, later appends first on ties
func sortNewestFirst(rs []Reading) {
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Timestamp.After(rs[j].Timestamp)
	})
}

// MemoryStore is an in-process Store. Each device log carries its own lock;
// the outer lock only guards the log map.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string]*deviceLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string]*deviceLog)}
}

func storeKey(clientID, deviceID string) string {
	return clientID + "\x00" + deviceID
}

func (s *MemoryStore) log(clientID, deviceID string, create bool) *deviceLog {
	key := storeKey(clientID, deviceID)

	s.mu.RLock()
	l, ok := s.logs[key]
	s.mu.RUnlock()
	if ok || !create {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.logs[key]; !ok {
		l = &deviceLog{}
		s.logs[key] = l
	}
	return l
}

func (s *MemoryStore) Append(_ context.Context, clientID string, r Reading) error {
	l := s.log(clientID, r.DeviceID, true)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.readings {
		if existing.Timestamp.Equal(r.Timestamp) {
			return ErrDuplicateTimestamp
		}
	}
	l.readings = append(l.readings, r)
	return nil
}

func (s *MemoryStore) AppendInternal(_ context.Context, clientID string, r Reading) error {
	l := s.log(clientID, r.DeviceID, true)

	l.mu.Lock()
	l.readings = append(l.readings, r)
	l.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetLatest(_ context.Context, clientID, deviceID string) (Reading, bool, error) {
	l := s.log(clientID, deviceID, false)
	if l == nil {
		return Reading{}, false, nil
	}
	r, ok := l.latest()
	return r, ok, nil
}

func (s *MemoryStore) History(_ context.Context, clientID, deviceID string) ([]Reading, error) {
	l := s.log(clientID, deviceID, false)
	if l == nil {
		return []Reading{}, nil
	}
	return l.newestFirst(), nil
}

func (s *MemoryStore) All(_ context.Context, clientID string) ([]Reading, error) {
	prefix := clientID + "\x00"

	s.mu.RLock()
	var logs []*deviceLog
	for key, l := range s.logs {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			logs = append(logs, l)
		}
	}
	s.mu.RUnlock()

	out := []Reading{}
	for _, l := range logs {
		out = append(out, l.newestFirst()...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, clientID, deviceID string) error {
	key := storeKey(clientID, deviceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[key]
	if !ok {
		return ErrNotFound
	}
	l.mu.RLock()
	empty := len(l.readings) == 0
	l.mu.RUnlock()
	delete(s.logs, key)
	if empty {
		return ErrNotFound
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
