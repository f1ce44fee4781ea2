package stream

import (
	"bytes"
	"encoding/base64"

	"github.com/AkashAhmed66/ILocker/internal/crypto"
)

// legacyDelimiter joins independently encrypted base64 chunks inside a
// version-1 artifact.
var legacyDelimiter = []byte("|||CHUNK|||")

// DecryptLegacyBlob handles the pre-streaming monolithic format: either a
// single ciphertext blob for the whole file, or base64 chunks joined by the
// textual delimiter. Chunked blobs use the same "{baseID}_chunk_{i}" id
// scheme as the streaming format.
func (c *Cipher) DecryptLegacyBlob(data []byte, baseID string, onProgress ProgressFunc) ([]byte, error) {
	meter := newProgressMeter(onProgress, int64(len(data)))

	if !bytes.Contains(data, legacyDelimiter) {
		pt, err := c.DecryptChunk(data, baseID)
		if err != nil {
			return nil, err
		}
		meter.finish()
		return pt, nil
	}

	parts := bytes.Split(data, legacyDelimiter)
	var out []byte
	for i, part := range parts {
		ct := make([]byte, base64.StdEncoding.DecodedLen(len(part)))
		n, err := base64.StdEncoding.Decode(ct, part)
		if err != nil {
			return nil, ErrCorruptData
		}
		pt, err := c.DecryptChunk(ct[:n], crypto.ChunkID(baseID, i))
		if err != nil {
			return nil, err
		}
		out = append(out, pt...)
		meter.add(int64(len(part)))
	}
	meter.finish()
	return out, nil
}

// EncryptLegacyBlob writes the version-1 delimited layout. Kept only so
// tests and migration tooling can produce legacy fixtures.
func (c *Cipher) EncryptLegacyBlob(plaintext []byte, baseID string, chunkSize int) ([]byte, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	mk, err := c.keys.MasterKey()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(mk)

	if len(plaintext) <= chunkSize {
		ct, err := crypto.SealLegacyChunk(mk, baseID, plaintext)
		if err != nil {
			return nil, err
		}
		return ct, nil
	}

	var parts [][]byte
	for i := 0; len(plaintext) > 0; i++ {
		n := chunkSize
		if n > len(plaintext) {
			n = len(plaintext)
		}
		ct, err := crypto.SealLegacyChunk(mk, crypto.ChunkID(baseID, i), plaintext[:n])
		if err != nil {
			return nil, err
		}
		encoded := make([]byte, base64.StdEncoding.EncodedLen(len(ct)))
		base64.StdEncoding.Encode(encoded, ct)
		parts = append(parts, encoded)
		plaintext = plaintext[n:]
	}
	return bytes.Join(parts, legacyDelimiter), nil
}
