// Package schedule builds the work plan of a soak run.
package schedule

import (
	"fmt"
	"sync/atomic"
)

// Job is a single transfer from one identity to another.
type Job struct {
	Sender    int
	Recipient int
	Iteration int
}

func (j Job) String() string {
	return fmt.Sprintf("iter %d: %d->%d", j.Iteration, j.Sender, j.Recipient)
}

// Transfers returns the schedule for iterations rounds over n identities. In
// every round each identity sends once, to the identity half the population
// away, so for n >= 2 nobody sends to itself and every identity also receives.
// The result is fully determined by n and iterations.
func Transfers(n, iterations int) []Job {
	if n <= 0 || iterations <= 0 {
		return nil
	}
	offset := n / 2
	jobs := make([]Job, 0, n*iterations)
	for it := 0; it < iterations; it++ {
		for s := 0; s < n; s++ {
			jobs = append(jobs, Job{
				Sender:    s,
				Recipient: (s + offset) % n,
				Iteration: it,
			})
		}
	}
	return jobs
}

// Batches splits jobs into consecutive slices of at most size jobs.
// The slices share the backing array of jobs.
func Batches(jobs []Job, size int) [][]Job {
	if size <= 0 {
		return nil
	}
	out := make([][]Job, 0, (len(jobs)+size-1)/size)
	for start := 0; start < len(jobs); start += size {
		end := min(start+size, len(jobs))
		out = append(out, jobs[start:end:end])
	}
	return out
}

// RoundRobin hands out items in order, wrapping around. Safe for concurrent use.
type RoundRobin[T any] struct {
	items []T
	index atomic.Uint64
}

func NewRoundRobin[T any](items []T) *RoundRobin[T] {
	return &RoundRobin[T]{
		items: items,
	}
}

func (p *RoundRobin[T]) Get() T {
	next := (p.index.Add(1) - 1) % uint64(len(p.items))
	return p.items[next]
}
