package content

import (
	"math/rand"
	"sync"
)

// Picker is the single source of randomness for content selection. Seed it
// to make output reproducible.
type Picker struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewPicker(seed int64) *Picker {
	return &Picker{rnd: rand.New(rand.NewSource(seed))}
}

// Intn returns a value in [0, n). n must be positive.
func (p *Picker) Intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.Intn(n)
}

func (p *Picker) Float64() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.Float64()
}

// Choice picks uniformly from pool; empty pools yield "".
func (p *Picker) Choice(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[p.Intn(len(pool))]
}
