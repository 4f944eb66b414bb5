package rigid

import (
	"runtime"
	"sync"
)

// Batch steps many independent instances of one Model in parallel.
// All instances share the immutable Model and Config; each owns its
// State and its Diagnostics slot. Instances never read or write each
// other's buffers, so a batch step is deterministic per instance no
// matter how the scheduler interleaves the workers.
type Batch struct {
	Model  *Model
	Config *Config
	States []*State

	// Diag[i] holds the diagnostics of the last Step for instance i.
	Diag []Diagnostics
}

// MakeBatch allocates n instances of m, each reset to the default pose.
func MakeBatch(m *Model, cfg *Config, n int) *Batch {
	b := &Batch{
		Model:  m,
		Config: cfg,
		States: make([]*State, n),
		Diag:   make([]Diagnostics, n),
	}
	for i := range b.States {
		b.States[i] = MakeState(m)
	}
	return b
}

// Step advances every instance by h seconds. Instances are distributed
// over Config.Workers goroutines (0 means GOMAXPROCS). A panic inside
// one instance is contained: that instance keeps its pre-step state,
// its Diag slot reports Recovered, and the remaining instances step
// normally.
func (b *Batch) Step(h float64) {
	workers := b.Config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(b.States) {
		workers = len(b.States)
	}
	if workers <= 1 {
		for i := range b.States {
			b.Diag[i] = b.stepOne(i, h)
		}
		return
	}

	tasks := make(chan int, len(b.States))
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range tasks {
				b.Diag[i] = b.stepOne(i, h)
			}
		}()
	}
	for i := range b.States {
		tasks <- i
	}
	close(tasks)
	wg.Wait()
}

func (b *Batch) stepOne(i int, h float64) (diag Diagnostics) {
	s := b.States[i]
	defer func() {
		if r := recover(); r != nil {
			copy(s.Qpos, s.qposPrev)
			copy(s.Qvel, s.qvelPrev)
			diag = Diagnostics{Recovered: true}
		}
	}()
	return Step(b.Model, s, h, b.Config)
}
