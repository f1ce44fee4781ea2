package audit

import (
	"sync"
	"testing"
)

func TestChainVerifies(t *testing.T) {
	l := New()
	l.Append("store", "f1")
	l.Append("retrieve", "f1")
	l.Append("delete", "f1")
	l.Append("wipe", "")
	if err := l.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestTamperDetected(t *testing.T) {
	l := New()
	l.Append("store", "f1")
	l.Append("delete", "f1")
	l.entries[0].FileID = "f2"
	if err := l.Verify(); err != ErrChainBroken {
		t.Fatalf("want ErrChainBroken, got %v", err)
	}
}

func TestHashDependsOnOrder(t *testing.T) {
	a := New()
	a.Append("store", "f1")
	a.Append("delete", "f1")

	b := New()
	b.Append("delete", "f1")
	b.Append("store", "f1")

	if a.Entries()[1].Hash == b.Entries()[1].Hash {
		t.Fatal("chain hash ignored entry order")
	}
}

func TestConcurrentAppend(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				l.Append("store", "f")
			}
		}()
	}
	wg.Wait()
	if got := len(l.Entries()); got != 400 {
		t.Fatalf("entries = %d, want 400", got)
	}
	if err := l.Verify(); err != nil {
		t.Fatalf("Verify after concurrent appends: %v", err)
	}
}
