package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

const (
	chunkIVSize  = aes.BlockSize // 16 bytes, derived, never stored
	chunkMacSize = sha256.Size   // 32 bytes
)

var (
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrInvalidMAC         = errors.New("crypto: message authentication failed")
)

// SealChunk applies encrypt-then-MAC to one artifact: AES-256-CTR for
// confidentiality and HMAC-SHA256 for integrity, subkeys derived from the
// per-artifact key with HKDF-SHA256. The IV is derived deterministically from
// the artifact id and therefore not part of the output. Returned layout:
// [ciphertext||mac].
//
// Each artifact id must be sealed at most once; re-sealing different content
// under the same id reuses the key+IV pair and breaks confidentiality.
func SealChunk(masterKey []byte, artifactID string, plaintext []byte) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("crypto: empty master key")
	}

	artifactKey := DeriveArtifactKey(masterKey, artifactID)
	defer Zero(artifactKey)

	encKey, macKey, err := deriveChunkKeys(artifactKey)
	if err != nil {
		return nil, err
	}
	defer Zero(encKey)
	defer Zero(macKey)

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	iv := DeriveArtifactIV(artifactID)

	ct := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ct, plaintext)

	macTag := computeChunkMAC(macKey, artifactID, iv, ct)

	out := make([]byte, 0, len(ct)+chunkMacSize)
	out = append(out, ct...)
	out = append(out, macTag...)
	return out, nil
}

// OpenChunk authenticates and decrypts data previously sealed with SealChunk
// under the same artifact id.
func OpenChunk(masterKey []byte, artifactID string, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < chunkMacSize {
		return nil, ErrCiphertextTooShort
	}
	if len(masterKey) == 0 {
		return nil, errors.New("crypto: empty master key")
	}

	artifactKey := DeriveArtifactKey(masterKey, artifactID)
	defer Zero(artifactKey)

	encKey, macKey, err := deriveChunkKeys(artifactKey)
	if err != nil {
		return nil, err
	}
	defer Zero(encKey)
	defer Zero(macKey)

	macStart := len(ciphertext) - chunkMacSize
	body := ciphertext[:macStart]
	macTag := ciphertext[macStart:]

	iv := DeriveArtifactIV(artifactID)

	expected := computeChunkMAC(macKey, artifactID, iv, body)
	if subtle.ConstantTimeCompare(expected, macTag) != 1 {
		return nil, ErrInvalidMAC
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	pt := make([]byte, len(body))
	cipher.NewCTR(block, iv).XORKeyStream(pt, body)
	return pt, nil
}

// computeChunkMAC binds the tag to the artifact id so a valid chunk cannot be
// replayed under a different id.
func computeChunkMAC(macKey []byte, artifactID string, iv, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	mac.Write([]byte(artifactID))
	mac.Write(iv)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}
