package partylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLock_SerializesSameKey(t *testing.T) {
	l := New()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "alice")
			if err != nil {
				t.Errorf("Lock failed: %v", err)
				return
			}
			defer unlock()

			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Errorf("expected exclusive access, saw %d holders", maxInside.Load())
	}
}

func TestLock_IndependentKeys(t *testing.T) {
	var l Locker
	unlockA, err := l.Lock(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	unlockB, ok := l.TryLock("bob")
	if !ok {
		t.Fatal("expected a different party to be free")
	}
	unlockB()
}

func TestLock_ContextCanceled(t *testing.T) {
	l := New()
	unlock, _ := l.Lock(context.Background(), "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "alice"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock() // releasing twice is harmless

	if _, ok := l.TryLock("alice"); !ok {
		t.Error("expected lock to be free after release")
	}
	if _, ok := l.TryLock("alice"); ok {
		t.Error("expected second TryLock to fail")
	}
}

func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func TestLock_DropsIdleSlots(t *testing.T) {
	l := New()
	for i := 0; i < 100; i++ {
		unlock, err := l.Lock(context.Background(), fmt.Sprintf("party-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		unlock()
	}
	if n := l.size(); n != 0 {
		t.Errorf("expected no slots after release, got %d", n)
	}

	unlock, _ := l.Lock(context.Background(), "alice")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Lock(ctx, "alice"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected canceled, got %v", err)
	}
	if _, ok := l.TryLock("alice"); ok {
		t.Error("expected TryLock to fail while held")
	}
	if n := l.size(); n != 1 {
		t.Errorf("expected only the held slot, got %d", n)
	}
	unlock()
	if n := l.size(); n != 0 {
		t.Errorf("expected no slots after final release, got %d", n)
	}

	if _, ok := l.TryLock("alice"); !ok {
		t.Error("expected lock to be free after its slot was dropped")
	}
}
