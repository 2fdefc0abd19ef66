package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeStore is an in-memory coordination store with TTL expiry.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
	failAll bool
}

type fakeEntry struct {
	value     string
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]fakeEntry)}
}

func (f *fakeStore) live(key string) (fakeEntry, bool) {
	e, ok := f.entries[key]
	if !ok {
		return fakeEntry{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(f.entries, key)
		return fakeEntry{}, false
	}
	return e, true
}

func (f *fakeStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return false, errors.New("store down")
	}
	if _, ok := f.live(key); ok {
		return false, nil
	}
	f.entries[key] = fakeEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (f *fakeStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return false, errors.New("store down")
	}
	e, ok := f.live(key)
	if !ok || e.value != expected {
		return false, nil
	}
	delete(f.entries, key)
	return true, nil
}

func (f *fakeStore) CompareAndExtend(_ context.Context, key, expected string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return false, errors.New("store down")
	}
	e, ok := f.live(key)
	if !ok || e.value != expected {
		return false, nil
	}
	e.expiresAt = time.Now().Add(ttl)
	f.entries[key] = e
	return true, nil
}

func TestMutualExclusion(t *testing.T) {
	svc := New(newFakeStore(), 10*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	acquired := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acquired[i] = svc.Acquire(ctx, "res", "owner", time.Minute)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range acquired {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("got %d successful acquires, want exactly 1", wins)
	}
}

func TestOwnerGuardedRelease(t *testing.T) {
	svc := New(newFakeStore(), 10*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	if !svc.Acquire(ctx, "res", "tokenA", time.Minute) {
		t.Fatal("initial acquire failed")
	}
	if svc.Release(ctx, "res", "tokenB") {
		t.Error("release by non-owner succeeded")
	}
	if !svc.Release(ctx, "res", "tokenA") {
		t.Error("release by owner failed")
	}
}

func TestAcquireAfterTTLExpiry(t *testing.T) {
	svc := New(newFakeStore(), 10*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	if !svc.Acquire(ctx, "res", "a", 20*time.Millisecond) {
		t.Fatal("initial acquire failed")
	}
	if svc.Acquire(ctx, "res", "b", time.Minute) {
		t.Fatal("acquire succeeded while lease live")
	}
	time.Sleep(30 * time.Millisecond)
	if !svc.Acquire(ctx, "res", "b", time.Minute) {
		t.Error("acquire failed after lease expiry")
	}
}

func TestAcquireWithRetryAfterHolderReleases(t *testing.T) {
	store := newFakeStore()
	svc := New(store, 100*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	if !svc.Acquire(ctx, "res", "holder", 30*time.Second) {
		t.Fatal("holder acquire failed")
	}
	go func() {
		time.Sleep(150 * time.Millisecond)
		svc.Release(ctx, "res", "holder")
	}()

	start := time.Now()
	if !svc.AcquireWithRetry(ctx, "res", "waiter", 30*time.Second, 5) {
		t.Fatal("waiter never acquired")
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("acquire took %v, want within 2 polls of release", elapsed)
	}
}

func TestAcquireWithRetryExhaustion(t *testing.T) {
	svc := New(newFakeStore(), 5*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	if !svc.Acquire(ctx, "res", "holder", time.Minute) {
		t.Fatal("holder acquire failed")
	}
	if svc.AcquireWithRetry(ctx, "res", "waiter", time.Minute, 3) {
		t.Error("acquire succeeded against a held lock")
	}
}

func TestAcquireWithRetryNoSleepAfterLastAttempt(t *testing.T) {
	svc := New(newFakeStore(), 250*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	if !svc.Acquire(ctx, "res", "holder", time.Minute) {
		t.Fatal("holder acquire failed")
	}

	start := time.Now()
	if svc.AcquireWithRetry(ctx, "res", "waiter", time.Minute, 1) {
		t.Fatal("acquire succeeded against a held lock")
	}
	if elapsed := time.Since(start); elapsed >= 250*time.Millisecond {
		t.Errorf("single failed attempt took %v, should return without the retry delay", elapsed)
	}
}

func TestRunExclusiveReleasesOnError(t *testing.T) {
	store := newFakeStore()
	svc := New(store, 10*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	wantErr := errors.New("callback failed")
	err := svc.RunExclusive(ctx, "res", ExclusiveOptions{TTL: time.Minute}, func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want callback error", err)
	}

	// Lock must be free again despite the error.
	if !svc.Acquire(ctx, "res", "next", time.Minute) {
		t.Error("lock still held after failed callback")
	}
}

func TestRunExclusiveUnavailable(t *testing.T) {
	svc := New(newFakeStore(), 5*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	if !svc.Acquire(ctx, "res", "holder", time.Minute) {
		t.Fatal("holder acquire failed")
	}

	ran := false
	err := svc.RunExclusive(ctx, "res", ExclusiveOptions{TTL: time.Minute, MaxRetries: 2}, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	if ran {
		t.Error("callback ran without the lock")
	}
}

func TestRunExclusiveAutoRenew(t *testing.T) {
	store := newFakeStore()
	svc := New(store, 10*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	err := svc.RunExclusive(ctx, "res", ExclusiveOptions{
		TTL:           50 * time.Millisecond,
		AutoRenew:     true,
		RenewInterval: 20 * time.Millisecond,
	}, func(ctx context.Context) error {
		// Outlive the original TTL; renewal must keep the lease alive.
		time.Sleep(120 * time.Millisecond)
		if svc.Acquire(ctx, "res", "intruder", time.Minute) {
			return errors.New("lease lapsed mid-callback")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("runExclusive: %v", err)
	}
}

func TestAcquireFailsClosedOnStoreError(t *testing.T) {
	store := newFakeStore()
	store.failAll = true
	svc := New(store, 5*time.Millisecond, zap.NewNop())

	if svc.Acquire(context.Background(), "res", "owner", time.Minute) {
		t.Error("acquire succeeded during store outage")
	}
}
