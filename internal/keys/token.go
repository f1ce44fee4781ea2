package keys

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionIssuer = "ilocker"

// sessionHMACKey returns the store-resident HMAC key used to sign session
// tokens, creating it on first use.
func (m *Manager) sessionHMACKey() ([]byte, error) {
	if key, err := m.secrets.Get(secretSessionKey); err == nil {
		return key, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := m.secrets.Set(secretSessionKey, key); err != nil {
		return nil, err
	}
	return key, nil
}

// issueSessionToken mints the HS256 token bounding the restore window of the
// mirrored master key.
func (m *Manager) issueSessionToken() (string, error) {
	key, err := m.sessionHMACKey()
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": sessionIssuer,
		"iat": now.Unix(),
		"exp": now.Add(m.cfg.SessionWindow).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

func (m *Manager) validateSessionToken(tokenStr string) bool {
	key, err := m.secrets.Get(secretSessionKey)
	if err != nil {
		return false
	}
	keyFunc := func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	}
	tok, err := jwt.Parse(
		tokenStr,
		keyFunc,
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
	)
	return err == nil && tok.Valid
}
