package crypto

import (
	"crypto/rand"

	xchacha "golang.org/x/crypto/chacha20poly1305"
)

// SealX seals plaintext with XChaCha20-Poly1305 under key, prepending the
// random nonce. Used for the master-key wrap and by the v1 artifact format.
func SealX(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, xchacha.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out[:len(nonce)], nonce, plaintext, aad)
	return out, nil
}

// OpenX opens data previously sealed with SealX.
func OpenX(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < xchacha.NonceSizeX {
		return nil, ErrCiphertextTooShort
	}
	nonce := ciphertext[:xchacha.NonceSizeX]
	ct := ciphertext[xchacha.NonceSizeX:]
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrInvalidMAC
	}
	return pt, nil
}

// OpenChunkAny first tries the current chunk envelope; if the MAC check
// fails, it falls back to the legacy XChaCha20-Poly1305 layout used by
// version-1 artifacts. Provides backward compatibility for data created
// before the streaming format.
func OpenChunkAny(masterKey []byte, artifactID string, ciphertext []byte) ([]byte, error) {
	if pt, err := OpenChunk(masterKey, artifactID, ciphertext); err == nil {
		return pt, nil
	}
	artifactKey := DeriveArtifactKey(masterKey, artifactID)
	defer Zero(artifactKey)
	return OpenX(artifactKey, ciphertext, []byte(artifactID))
}

// SealLegacyChunk produces a version-1 artifact blob. Retained so tests and
// migration tooling can fabricate legacy data; new writes always use
// SealChunk.
func SealLegacyChunk(masterKey []byte, artifactID string, plaintext []byte) ([]byte, error) {
	artifactKey := DeriveArtifactKey(masterKey, artifactID)
	defer Zero(artifactKey)
	return SealX(artifactKey, plaintext, []byte(artifactID))
}
