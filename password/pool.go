package password

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrent Argon2 computations so a burst of
// logins cannot starve the rest of the process of CPU. Callers waiting for a
// slot give up when their context is done.
type Pool struct {
	hasher *Argon2
	sem    *semaphore.Weighted
}

// NewPool wraps hasher with a weighted semaphore of the given size.
// size <= 0 selects GOMAXPROCS.
func NewPool(hasher *Argon2, size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{hasher: hasher, sem: semaphore.NewWeighted(int64(size))}
}

// Hash runs Argon2.Hash once a slot is available.
func (p *Pool) Hash(ctx context.Context, plain string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)
	return p.hasher.Hash(plain)
}

// Verify runs Argon2.Verify once a slot is available.
func (p *Pool) Verify(ctx context.Context, plain, encoded string) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer p.sem.Release(1)
	return p.hasher.Verify(plain, encoded)
}

// NeedsUpgrade is cheap and does not take a slot.
func (p *Pool) NeedsUpgrade(encoded string) (bool, error) {
	return p.hasher.NeedsUpgrade(encoded)
}
