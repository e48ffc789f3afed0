package bridge

import (
	"encoding/json"
	"sync"
)

// waiter is one in-flight request awaiting its backend response.
type waiter struct {
	done chan struct{}
	resp json.RawMessage
}

// pendingTable correlates backend responses to in-flight requests by their
// JSON-RPC id. Ids are compared by raw encoding, so a request sent with id 7
// is matched by a response carrying id 7 and not "7".
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]*waiter
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[string]*waiter)}
}

// register creates a waiter for the given id. The caller must either receive
// on the returned channel or call remove.
func (t *pendingTable) register(id json.RawMessage) *waiter {
	w := &waiter{done: make(chan struct{})}
	t.mu.Lock()
	t.waiters[string(id)] = w
	t.mu.Unlock()
	return w
}

// resolve delivers a response to the matching waiter. Returns false when no
// request is waiting on that id.
func (t *pendingTable) resolve(id json.RawMessage, resp json.RawMessage) bool {
	t.mu.Lock()
	w, ok := t.waiters[string(id)]
	if ok {
		delete(t.waiters, string(id))
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	w.resp = resp
	close(w.done)
	return true
}

// remove discards a waiter that timed out or was cancelled.
func (t *pendingTable) remove(id json.RawMessage) {
	t.mu.Lock()
	delete(t.waiters, string(id))
	t.mu.Unlock()
}

// len returns the number of in-flight requests.
func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
