package vault

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Operation state machine: Pending -> Processing -> {Completed | Failed}.
// Processing is the only state in which progress moves and cancellation is
// observed.
type OpState string

const (
	OpPending    OpState = "pending"
	OpProcessing OpState = "processing"
	OpCompleted  OpState = "completed"
	OpFailed     OpState = "failed"
)

// opRetention keeps terminal operations visible for UI polling before the
// registry prunes them.
const opRetention = time.Minute

// Operation tracks one in-flight secureStore or retrieve call.
type Operation struct {
	ID     string
	FileID string
	Kind   string // "store" or "retrieve"

	mu       sync.Mutex
	state    OpState
	progress int
	reason   string
	doneAt   time.Time
	cancel   context.CancelFunc
}

func (o *Operation) State() OpState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Operation) Progress() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Reason is the human-readable failure detail, empty unless Failed.
func (o *Operation) Reason() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reason
}

func (o *Operation) setProcessing() {
	o.mu.Lock()
	o.state = OpProcessing
	o.mu.Unlock()
}

func (o *Operation) setProgress(pct int) {
	o.mu.Lock()
	if o.state == OpProcessing && pct > o.progress {
		o.progress = pct
	}
	o.mu.Unlock()
}

func (o *Operation) complete() {
	o.mu.Lock()
	o.state = OpCompleted
	o.progress = 100
	o.doneAt = time.Now()
	o.mu.Unlock()
}

func (o *Operation) fail(reason string) {
	o.mu.Lock()
	o.state = OpFailed
	o.reason = reason
	o.doneAt = time.Now()
	o.mu.Unlock()
}

func (o *Operation) terminalSince() (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == OpCompleted || o.state == OpFailed {
		return o.doneAt, true
	}
	return time.Time{}, false
}

// opRegistry owns every live and recently finished operation.
type opRegistry struct {
	mu   sync.Mutex
	seq  int
	ops  map[string]*Operation
	keep time.Duration
}

func newOpRegistry() *opRegistry {
	return &opRegistry{ops: make(map[string]*Operation), keep: opRetention}
}

// begin registers a pending operation bound to a cancellable context derived
// from parent. Cancellation is cooperative: it fires the context, which the
// chunk loop observes at the next chunk boundary.
func (r *opRegistry) begin(parent context.Context, kind, fileID string) (*Operation, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.seq++
	op := &Operation{
		ID:     fmt.Sprintf("op-%d", r.seq),
		FileID: fileID,
		Kind:   kind,
		state:  OpPending,
		cancel: cancel,
	}
	r.ops[op.ID] = op
	r.pruneLocked()
	r.mu.Unlock()
	return op, ctx
}

// Get returns a tracked operation, or nil once pruned.
func (r *opRegistry) Get(id string) *Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	return r.ops[id]
}

// Cancel requests cooperative cancellation. In-flight chunks finish; no
// further chunks are processed. Reports whether the operation was known.
func (r *opRegistry) Cancel(id string) bool {
	r.mu.Lock()
	op := r.ops[id]
	r.mu.Unlock()
	if op == nil {
		return false
	}
	op.cancel()
	return true
}

func (r *opRegistry) pruneLocked() {
	now := time.Now()
	for id, op := range r.ops {
		if doneAt, terminal := op.terminalSince(); terminal && now.Sub(doneAt) > r.keep {
			delete(r.ops, id)
		}
	}
}
