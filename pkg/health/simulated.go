package health

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const maxSyntheticTraffic = 1000.0

// SyntheticSource generates uniformly distributed readings, independent per
// field and per call. Seeding it makes the sequence reproducible.
type SyntheticSource struct {
	mu   sync.Mutex
	rng  *rand.Rand
	name string

	// Now is the clock used for snapshot timestamps.
	Now func() time.Time
}

// NewSyntheticSource creates a source seeded with seed.
func NewSyntheticSource(seed int64) *SyntheticSource {
	return &SyntheticSource{
		rng:  rand.New(rand.NewSource(seed)),
		name: "synthetic",
		Now:  time.Now,
	}
}

// NewRandomSource creates a source seeded from the wall clock.
func NewRandomSource() *SyntheticSource {
	return NewSyntheticSource(time.Now().UnixNano())
}

func (s *SyntheticSource) Name() string { return s.name }

// Sample implements Source by generating synthetic data.
func (s *SyntheticSource) Sample(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	cpu := s.rng.Float64() * 100
	mem := s.rng.Float64() * 100
	disk := s.rng.Float64() * 100
	traffic := s.rng.Float64() * maxSyntheticTraffic
	s.mu.Unlock()

	return Snapshot{
		Timestamp:     s.Now(),
		Source:        s.name,
		CPUPercent:    cpu,
		MemoryPercent: mem,
		DiskPercent:   disk,
		Traffic:       traffic,
	}, nil
}
