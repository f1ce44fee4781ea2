package stream

import (
	"github.com/AkashAhmed66/ILocker/internal/crypto"
	"github.com/AkashAhmed66/ILocker/internal/keys"
)

// Cipher performs per-artifact authenticated encryption using the key
// manager's cached master key. Every operation refreshes the session idle
// timer and fails with keys.ErrNotAuthenticated while locked.
type Cipher struct {
	keys *keys.Manager
}

func New(km *keys.Manager) *Cipher {
	return &Cipher{keys: km}
}

// EncryptChunk seals one artifact. The id must never be reused for a
// different plaintext.
func (c *Cipher) EncryptChunk(plaintext []byte, artifactID string) ([]byte, error) {
	mk, err := c.keys.MasterKey()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(mk)
	c.keys.Touch()
	return crypto.SealChunk(mk, artifactID, plaintext)
}

// DecryptChunk opens one artifact sealed by EncryptChunk, falling back to
// the legacy layout for pre-streaming data.
func (c *Cipher) DecryptChunk(ciphertext []byte, artifactID string) ([]byte, error) {
	mk, err := c.keys.MasterKey()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(mk)
	c.keys.Touch()
	return crypto.OpenChunkAny(mk, artifactID, ciphertext)
}
