package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// FileBlobStore keeps each blob in its own 0600 file under a private dir.
type FileBlobStore struct{ dir string }

func NewFileBlobStore(dir string) *FileBlobStore {
	_ = os.MkdirAll(dir, 0700)
	return &FileBlobStore{dir: dir}
}

func (f *FileBlobStore) Put(_ context.Context, id string, data []byte) error {
	return os.WriteFile(filepath.Join(f.dir, id+".blob"), data, 0600)
}

func (f *FileBlobStore) Get(_ context.Context, id string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(f.dir, id+".blob"))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return b, err
}

func (f *FileBlobStore) Delete(_ context.Context, id string) error {
	err := os.Remove(filepath.Join(f.dir, id+".blob"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// FileSecretStore persists each secret in its own 0600 file. It offers no
// hardware backing and exists for tests and platforms without a keychain.
type FileSecretStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileSecretStore(dir string) *FileSecretStore {
	_ = os.MkdirAll(dir, 0700)
	return &FileSecretStore{dir: dir}
}

func (s *FileSecretStore) path(name string) string {
	return filepath.Join(s.dir, name+".secret")
}

func (s *FileSecretStore) Get(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *FileSecretStore) Set(name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.path(name), value, 0600)
}

func (s *FileSecretStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileSecretStore) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".secret" {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// FileMetadataStore serializes the whole string map to one JSON file on
// every mutation. Fine for the small collections it holds; every write is a
// full read-modify-write under the mutex.
type FileMetadataStore struct {
	mu   sync.Mutex
	path string
}

func NewFileMetadataStore(path string) *FileMetadataStore {
	_ = os.MkdirAll(filepath.Dir(path), 0700)
	return &FileMetadataStore{path: path}
}

func (s *FileMetadataStore) load() (map[string]string, error) {
	m := map[string]string{}
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *FileMetadataStore) flush(m map[string]string) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0600)
}

func (s *FileMetadataStore) GetString(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *FileMetadataStore) SetString(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = value
	return s.flush(m)
}

func (s *FileMetadataStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	delete(m, key)
	return s.flush(m)
}

func (s *FileMetadataStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
