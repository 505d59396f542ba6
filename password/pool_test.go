package password

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestPoolHashAndVerify(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	pool := NewPool(hasher, 2)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hash, err := pool.Hash(context.Background(), "Str0ng!Pass")
			if err != nil {
				errs <- err
				return
			}
			ok, err := pool.Verify(context.Background(), "Str0ng!Pass", hash)
			if err != nil {
				errs <- err
				return
			}
			if !ok {
				errs <- errors.New("verify returned false")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("pool worker failed: %v", err)
	}
}

func TestPoolHonoursCancelledContext(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	pool := NewPool(hasher, 1)

	// Hold the only slot so the next caller has to wait.
	if err := pool.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer pool.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Hash(ctx, "Str0ng!Pass"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Hash error = %v, want context.Canceled", err)
	}
}
