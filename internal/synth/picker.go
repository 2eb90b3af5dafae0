package synth

import (
	"sync"

	"github.com/brianvoe/gofakeit/v7"
)

// Picker chooses an index in [0, n). Implementations must be safe for concurrent use.
type Picker interface {
	Intn(n int) int
}

// RandomPicker draws indexes from a gofakeit faker.
type RandomPicker struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
}

// NewRandomPicker returns a RandomPicker. A zero seed picks a random one.
func NewRandomPicker(seed uint64) *RandomPicker {
	return &RandomPicker{faker: gofakeit.New(seed)}
}

// Intn implements Picker.
func (p *RandomPicker) Intn(n int) int {
	if n <= 1 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faker.Number(0, n-1)
}

// FixedPicker always returns the same index, clamped to the pool size.
type FixedPicker int

// Intn implements Picker.
func (f FixedPicker) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	i := int(f)
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
