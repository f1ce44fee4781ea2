package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Two independent password derivations exist on purpose: the stored
// verification hash (argon2id, random per-install salt) and the KEK
// (PBKDF2-SHA256, fixed application salt). They must never collapse into
// the same value even though both start from the same password.

type ArgonParams struct {
	Memory      uint32 // in KiB
	Time        uint32 // iterations
	Parallelism uint8
	SaltLen     int
	KeyLen      uint32
}

// DefaultArgon targets well under a second on commodity hardware.
var DefaultArgon = ArgonParams{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

// KEKSalt is the fixed application-level salt for the key-encryption key.
// It is not secret; uniqueness of the KEK comes from the password.
const KEKSalt = "ILocker/kek/v1"

// KEKIterations balances login latency against offline brute force.
const KEKIterations = 200_000

// KEKSize is the size of the derived key-encryption key.
const KEKSize = 32

// DeriveKEK derives the key-encryption key from the master password.
func DeriveKEK(password string, iterations int) []byte {
	if iterations <= 0 {
		iterations = KEKIterations
	}
	return pbkdf2.Key([]byte(password), []byte(KEKSalt), iterations, KEKSize, sha256.New)
}

// HashPassword produces the stored verification hash with a fresh random salt.
// encoded format: argon2id$m=<M>,t=<T>,p=<P>$<b64(salt)>$<b64(key)>
func HashPassword(p ArgonParams, password string) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	return fmt.Sprintf("argon2id$m=%d,t=%d,p=%d$%s$%s",
		p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

var ErrInvalidHash = errors.New("crypto: invalid password hash")

// VerifyPasswordHash recomputes the hash under the stored parameters and
// compares in constant time.
func VerifyPasswordHash(password, encoded string) (bool, error) {
	const prefix = "argon2id$"
	if !strings.HasPrefix(encoded, prefix) {
		return false, ErrInvalidHash
	}
	parts := strings.Split(encoded[len(prefix):], "$")
	if len(parts) != 3 {
		return false, ErrInvalidHash
	}

	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[0], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, ErrInvalidHash
	}
	keyRef, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(password), salt, t, m, p, uint32(len(keyRef)))
	if subtle.ConstantTimeCompare(key, keyRef) == 1 {
		return true, nil
	}
	return false, nil
}
