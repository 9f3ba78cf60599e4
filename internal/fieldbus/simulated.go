package fieldbus

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nerrad567/meterpoll/internal/utility"
)

// SimulatedDialer serves plausible meter values without any network I/O.
// It stands in for utilities in the simulated group.
type SimulatedDialer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedDialer returns a simulator seeded with seed.
func NewSimulatedDialer(seed uint64) *SimulatedDialer {
	return &SimulatedDialer{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Dial always succeeds.
func (d *SimulatedDialer) Dial(ctx context.Context, _ utility.Address, _ time.Duration) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &simulatedSession{d: d}, nil
}

type simulatedSession struct {
	d *SimulatedDialer
}

// ReadRegisters returns a float between 0 and 250 for two-word reads,
// a small counter value for one-word reads and an energy total for
// four-word reads.
func (s *simulatedSession) ReadRegisters(ctx context.Context, _ uint8, _ uint16, count uint16) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	switch count {
	case 1:
		return []uint16{uint16(s.d.rng.IntN(1000))}, nil
	case 4:
		return EncodeInt64(1_000_000 + s.d.rng.Int64N(1_000_000)), nil
	default:
		words := EncodeFloat32(float32(s.d.rng.Float64() * 250))
		for len(words) < int(count) {
			words = append(words, 0)
		}
		return words[:count], nil
	}
}

func (s *simulatedSession) Close() error { return nil }
