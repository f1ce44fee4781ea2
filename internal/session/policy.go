package session

import (
	"sync"
	"time"
)

// DefaultIdleTimeout is how long the vault stays unlocked with no cipher
// activity before it locks itself.
const DefaultIdleTimeout = 30 * time.Minute

// Policy drives the automatic lock of an unlocked session. A single timer is
// reset by every cipher operation or explicit activity signal; expiry, or a
// backgrounding signal from the host, fires the lock callback.
type Policy struct {
	mu      sync.Mutex
	timeout time.Duration
	timer   *time.Timer
	running bool
	onLock  func()
}

// NewPolicy creates a stopped policy. onLock runs on its own goroutine when
// the idle window elapses; it must be safe to call at any time.
func NewPolicy(timeout time.Duration, onLock func()) *Policy {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	return &Policy{timeout: timeout, onLock: onLock}
}

// Start arms the idle timer. Called after a successful unlock.
func (p *Policy) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	p.rearmLocked()
}

// Stop disarms the timer without firing. Idempotent.
func (p *Policy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// ResetTimer restarts the idle window. Every chunk operation and every
// explicit user-activity signal lands here.
func (p *Policy) ResetTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.rearmLocked()
}

// OnBackground locks immediately: a backgrounded host gives no guarantee the
// process survives to see the timer fire.
func (p *Policy) OnBackground() {
	p.mu.Lock()
	running := p.running
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
	if running && p.onLock != nil {
		p.onLock()
	}
}

// OnForeground is the host's resume hook. The policy itself stays stopped
// until a successful unlock or session restore calls Start again.
func (p *Policy) OnForeground() {}

// Running reports whether the idle timer is armed.
func (p *Policy) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Policy) rearmLocked() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.timeout, p.expire)
}

func (p *Policy) expire() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.timer = nil
	p.mu.Unlock()
	if p.onLock != nil {
		p.onLock()
	}
}
