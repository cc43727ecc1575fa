package telemetry

import (
	"sort"
	"sync"
	"time"

	"groundlink/internal/protocol"
)

// Store keeps the latest calibrated reading per channel. It is safe for
// concurrent use: the station ingests on its loop while the console and
// preconditions read.
type Store struct {
	mu     sync.RWMutex
	latest map[Channel]Reading
}

func NewStore() *Store {
	return &Store{latest: make(map[Channel]Reading)}
}

// Ingest calibrates and records a sample, returning the reading it stored.
func (s *Store) Ingest(node protocol.Node, sample protocol.Sample, now time.Time) Reading {
	r := Calibrate(node, sample, now)

	s.mu.Lock()
	s.latest[r.Channel] = r
	s.mu.Unlock()

	return r
}

// Latest returns the newest reading for a channel.
func (s *Store) Latest(ch Channel) (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.latest[ch]

	return r, ok
}

// Snapshot returns all latest readings ordered by channel.
func (s *Store) Snapshot() []Reading {
	s.mu.RLock()
	out := make([]Reading, 0, len(s.latest))
	for _, r := range s.latest {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Channel < out[j].Channel
	})

	return out
}
