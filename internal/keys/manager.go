package keys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AkashAhmed66/ILocker/internal/crypto"
	"github.com/AkashAhmed66/ILocker/internal/session"
	"github.com/AkashAhmed66/ILocker/internal/storage"
)

// Secret names inside the scoped SecretStore.
const (
	secretPasswordHash = "password-hash"
	secretMasterWrap   = "master-key-wrap"
	secretMasterMirror = "master-key-mirror"
	secretSessionKey   = "session-hmac-key"
	secretSessionToken = "session-token"
)

const masterKeySize = 32

var (
	ErrNotAuthenticated = errors.New("keys: not authenticated")
	ErrStoreUnavailable = errors.New("keys: secret store unavailable")
)

type Config struct {
	// KEKIterations tunes the PBKDF2 cost of the key-encryption key.
	KEKIterations int
	// MaxAttempts is the consecutive-failure threshold that triggers wipe.
	MaxAttempts int
	// IdleTimeout drives the session policy.
	IdleTimeout time.Duration
	// AllowSessionRestore mirrors the unlocked master key (hex) into the
	// secret store so a foreground resume can skip the KDF. This widens the
	// attack surface of a compromised secret store; off by default.
	AllowSessionRestore bool
	// SessionWindow bounds how long a mirrored key may be restored.
	SessionWindow time.Duration
	// VerifyRate throttles online password guessing inside one process.
	VerifyRate  rate.Limit
	VerifyBurst int
}

func (c *Config) setDefaults() {
	if c.KEKIterations <= 0 {
		c.KEKIterations = crypto.KEKIterations
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = session.DefaultIdleTimeout
	}
	if c.SessionWindow <= 0 {
		c.SessionWindow = 30 * time.Minute
	}
	if c.VerifyRate <= 0 {
		c.VerifyRate = rate.Every(200 * time.Millisecond)
	}
	if c.VerifyBurst <= 0 {
		c.VerifyBurst = 5
	}
}

// Manager owns the master key for the session. The key itself is a random
// 32-byte root generated once at credential setup and wrapped under the
// password-derived KEK, so changing the password re-wraps the same root and
// existing ciphertext stays decryptable.
type Manager struct {
	cfg     Config
	secrets storage.SecretStore
	policy  *session.Policy
	limiter *rate.Limiter

	mu        sync.RWMutex
	masterKey []byte
	failed    int

	wipeHooks []func() error
}

func NewManager(secrets storage.SecretStore, cfg Config) *Manager {
	cfg.setDefaults()
	m := &Manager{
		cfg:     cfg,
		secrets: secrets,
		limiter: rate.NewLimiter(cfg.VerifyRate, cfg.VerifyBurst),
	}
	m.policy = session.NewPolicy(cfg.IdleTimeout, m.Lock)
	return m
}

// Policy exposes the session policy so the host can wire its
// background/foreground and user-activity signals.
func (m *Manager) Policy() *session.Policy { return m.policy }

// Touch resets the idle window. Every cipher chunk operation lands here.
func (m *Manager) Touch() { m.policy.ResetTimer() }

// RegisterWipeHook adds a callback run by WipeAll after the secret store is
// cleared. The vault engine registers metadata and sandbox erasure here.
func (m *Manager) RegisterWipeHook(fn func() error) {
	m.wipeHooks = append(m.wipeHooks, fn)
}

// IsCredentialSet reports whether a credential record exists.
func (m *Manager) IsCredentialSet() bool {
	_, err := m.secrets.Get(secretPasswordHash)
	return err == nil
}

// SetCredential sets or replaces the credential record: fresh random salt,
// argon2id verification hash, and the master key wrapped under the new KEK.
// Either both the credential and the cached master key are in place on
// return, or neither is trusted.
func (m *Manager) SetCredential(password string) error {
	encoded, err := crypto.HashPassword(crypto.DefaultArgon, password)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy the cached root so adoptKeyLocked zeroing the old buffer cannot
	// touch the key being re-wrapped.
	var mk []byte
	if m.masterKey != nil {
		mk = make([]byte, len(m.masterKey))
		copy(mk, m.masterKey)
	} else {
		// First setup: mint the root key that anchors all derivations.
		mk = make([]byte, masterKeySize)
		if _, err := rand.Read(mk); err != nil {
			return err
		}
	}

	kek := crypto.DeriveKEK(password, m.cfg.KEKIterations)
	defer crypto.Zero(kek)
	wrap, err := crypto.SealX(kek, mk, []byte("mk-wrap"))
	if err != nil {
		return err
	}

	if err := m.secrets.Set(secretPasswordHash, []byte(encoded)); err != nil {
		m.dropKeyLocked()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := m.secrets.Set(secretMasterWrap, wrap); err != nil {
		_ = m.secrets.Delete(secretPasswordHash)
		m.dropKeyLocked()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	m.adoptKeyLocked(mk)
	m.failed = 0
	m.policy.Start()
	m.mirrorLocked()
	return nil
}

// VerifyPassword checks the password against the stored hash. On success the
// master key is unwrapped and cached and the session policy starts. On the
// MaxAttempts-th consecutive failure everything is wiped, irreversibly.
// Callers only ever see a boolean; failures are absorbed into the counter.
func (m *Manager) VerifyPassword(password string) bool {
	if !m.limiter.Allow() {
		// Throttled attempts neither unlock nor advance the wipe counter.
		return false
	}

	encoded, err := m.secrets.Get(secretPasswordHash)
	if err != nil {
		return false
	}

	ok, err := crypto.VerifyPasswordHash(password, string(encoded))
	if err != nil || !ok {
		m.mu.Lock()
		m.failed++
		wipe := m.failed >= m.cfg.MaxAttempts
		m.mu.Unlock()
		if wipe {
			_ = m.WipeAll()
		}
		return false
	}

	kek := crypto.DeriveKEK(password, m.cfg.KEKIterations)
	defer crypto.Zero(kek)
	wrap, err := m.secrets.Get(secretMasterWrap)
	if err != nil {
		return false
	}
	mk, err := crypto.OpenX(kek, wrap, []byte("mk-wrap"))
	if err != nil {
		return false
	}

	m.mu.Lock()
	m.failed = 0
	m.adoptKeyLocked(mk)
	m.mirrorLocked()
	m.mu.Unlock()
	m.policy.Start()
	return true
}

// ChangePassword verifies the old password, then replaces the credential
// record wholesale. The root key survives the change.
func (m *Manager) ChangePassword(oldPassword, newPassword string) bool {
	if !m.VerifyPassword(oldPassword) {
		return false
	}
	return m.SetCredential(newPassword) == nil
}

// Lock discards the in-memory master key and stops the session policy.
// Idempotent. An in-flight chunk loop observes the lock at its next chunk
// boundary as ErrNotAuthenticated.
func (m *Manager) Lock() {
	m.policy.Stop()
	m.mu.Lock()
	m.dropKeyLocked()
	m.mu.Unlock()
}

// IsUnlocked reports whether a master key is cached.
func (m *Manager) IsUnlocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.masterKey != nil
}

// MasterKey returns a private copy of the cached master key. Chunk loops
// call this once per chunk so a concurrent Lock fails the next chunk cleanly
// instead of tearing a key mid-derivation.
func (m *Manager) MasterKey() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.masterKey == nil {
		return nil, ErrNotAuthenticated
	}
	out := make([]byte, len(m.masterKey))
	copy(out, m.masterKey)
	return out, nil
}

// FailedAttempts reports the consecutive-failure counter. In-memory only; a
// process restart resets it.
func (m *Manager) FailedAttempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failed
}

// WipeAll erases the credential record, cached and mirrored master key, and
// everything registered through wipe hooks. Irreversible.
func (m *Manager) WipeAll() error {
	m.policy.Stop()
	m.mu.Lock()
	m.dropKeyLocked()
	m.failed = 0
	m.mu.Unlock()

	if err := m.secrets.Wipe(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, fn := range m.wipeHooks {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) adoptKeyLocked(mk []byte) {
	m.dropKeyLocked()
	m.masterKey = mk
	_ = crypto.LockMemory(m.masterKey)
}

func (m *Manager) dropKeyLocked() {
	if m.masterKey == nil {
		return
	}
	crypto.Zero(m.masterKey)
	_ = crypto.UnlockMemory(m.masterKey)
	m.masterKey = nil
}

// mirrorLocked writes the hex master-key mirror and its session token when
// session restore is enabled, and clears any stale mirror when it is not.
func (m *Manager) mirrorLocked() {
	if !m.cfg.AllowSessionRestore {
		_ = m.secrets.Delete(secretMasterMirror)
		_ = m.secrets.Delete(secretSessionToken)
		return
	}
	token, err := m.issueSessionToken()
	if err != nil {
		return
	}
	if err := m.secrets.Set(secretMasterMirror, []byte(hex.EncodeToString(m.masterKey))); err != nil {
		return
	}
	_ = m.secrets.Set(secretSessionToken, []byte(token))
}

// RestoreSession repopulates the master key from the mirror without a
// password, provided restore is enabled and the session token is still
// inside its validity window.
func (m *Manager) RestoreSession() bool {
	if !m.cfg.AllowSessionRestore {
		return false
	}
	token, err := m.secrets.Get(secretSessionToken)
	if err != nil {
		return false
	}
	if !m.validateSessionToken(string(token)) {
		_ = m.secrets.Delete(secretMasterMirror)
		_ = m.secrets.Delete(secretSessionToken)
		return false
	}
	mirror, err := m.secrets.Get(secretMasterMirror)
	if err != nil {
		return false
	}
	mk, err := hex.DecodeString(string(mirror))
	if err != nil || len(mk) != masterKeySize {
		return false
	}

	m.mu.Lock()
	m.adoptKeyLocked(mk)
	m.failed = 0
	m.mu.Unlock()
	m.policy.Start()
	return true
}
