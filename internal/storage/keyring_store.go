package storage

import (
	"errors"

	"github.com/99designs/keyring"
)

// KeyringSecretStore stores secrets in the platform credential service
// (Keychain, Secret Service, wincred). Scoped per service name so the
// password hash, wrapped master key and session token never collide with
// other applications.
type KeyringSecretStore struct {
	ring keyring.Keyring
}

func NewKeyringSecretStore(service string) (*KeyringSecretStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
	})
	if err != nil {
		return nil, err
	}
	return &KeyringSecretStore{ring: ring}, nil
}

func (s *KeyringSecretStore) Get(name string) ([]byte, error) {
	item, err := s.ring.Get(name)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.Data, nil
}

func (s *KeyringSecretStore) Set(name string, value []byte) error {
	return s.ring.Set(keyring.Item{Key: name, Data: value})
}

func (s *KeyringSecretStore) Delete(name string) error {
	err := s.ring.Remove(name)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (s *KeyringSecretStore) Wipe() error {
	names, err := s.ring.Keys()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.ring.Remove(name); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return err
		}
	}
	return nil
}
