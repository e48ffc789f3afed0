package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuffer_FIFO(t *testing.T) {
	b := NewBuffer(10, testLogger())
	b.Push(json.RawMessage(`{"n":1}`))
	b.Push(json.RawMessage(`{"n":2}`))
	b.Push(json.RawMessage(`{"n":3}`))

	got := b.DrainAll()
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if string(got[0]) != `{"n":1}` || string(got[2]) != `{"n":3}` {
		t.Errorf("order not preserved: %v", got)
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer after drain, got %d", b.Len())
	}
}

func TestBuffer_DrainEmptyNotNil(t *testing.T) {
	b := NewBuffer(10, testLogger())
	got := b.DrainAll()
	if got == nil {
		t.Fatal("expected non-nil slice")
	}
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %d items", len(got))
	}
}

func TestBuffer_OverflowDropsOldest(t *testing.T) {
	b := NewBuffer(3, testLogger())
	for i := 1; i <= 5; i++ {
		b.Push(json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
	}

	got := b.DrainAll()
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if string(got[0]) != `{"n":3}` || string(got[2]) != `{"n":5}` {
		t.Errorf("expected oldest dropped, got %v", got)
	}
	if b.Dropped() != 2 {
		t.Errorf("expected 2 dropped, got %d", b.Dropped())
	}
}

func TestBuffer_ConcurrentPushDrain(t *testing.T) {
	b := NewBuffer(1000, testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Push(json.RawMessage(`{}`))
			}
		}()
	}

	var drained int
	var mu sync.Mutex
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				n := len(b.DrainAll())
				mu.Lock()
				drained += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total := drained + b.Len()
	if total != 400 {
		t.Errorf("expected 400 notifications accounted for, got %d", total)
	}
}
