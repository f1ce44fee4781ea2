package crypto

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ArtifactKeySize is the size of every derived per-artifact key.
const ArtifactKeySize = 32

// ivSalt is the fixed public salt for deterministic IV derivation. It is not
// secret: IV safety rests on artifact ids never being reused for distinct
// plaintexts, not on IV secrecy.
const ivSalt = "ILocker/iv/v1"

// DeriveArtifactKey derives an independent 32-byte key for one artifact id.
// Knowledge of one artifact's key reveals nothing about another's.
func DeriveArtifactKey(masterKey []byte, artifactID string) []byte {
	mac := hmac.New(sha256.New, masterKey)
	mac.Write([]byte(artifactID))
	return mac.Sum(nil)
}

// DeriveArtifactIV deterministically derives the 16-byte IV for an artifact.
// Same id always yields the same IV; distinct ids diverge. Each id must be
// paired with exactly one plaintext ever.
func DeriveArtifactIV(artifactID string) []byte {
	mac := hmac.New(sha256.New, []byte(ivSalt))
	mac.Write([]byte(artifactID))
	return mac.Sum(nil)[:aes.BlockSize]
}

// ChunkID names chunk i of a streamed artifact. Chunk boundaries double as
// key-derivation domain separation.
func ChunkID(baseID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", baseID, index)
}

// ThumbID names the independently keyed thumbnail artifact of a file.
func ThumbID(baseID string) string {
	return baseID + "_thumb"
}

func deriveChunkKeys(artifactKey []byte) (encKey, macKey []byte, err error) {
	stream := hkdf.New(sha256.New, artifactKey, nil, []byte("ilocker/chunk/v2"))
	encKey = make([]byte, 32)
	macKey = make([]byte, 32)
	if _, err = io.ReadFull(stream, encKey); err != nil {
		return nil, nil, err
	}
	if _, err = io.ReadFull(stream, macKey); err != nil {
		return nil, nil, err
	}
	return encKey, macKey, nil
}
