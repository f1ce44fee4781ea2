package storage

import (
	"io"
	"os"
	"path/filepath"
)

// Sandbox is the private directory holding large ciphertext artifacts. It
// supports streamed writes plus random-access reads for the decrypt path.
type Sandbox struct{ dir string }

func NewSandbox(dir string) (*Sandbox, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &Sandbox{dir: dir}, nil
}

// Path returns the on-disk location for an artifact id.
func (s *Sandbox) Path(id string) string {
	return filepath.Join(s.dir, id+".enc")
}

// Create opens a fresh artifact file for streamed ciphertext writes.
func (s *Sandbox) Create(id string) (*os.File, error) {
	return os.OpenFile(s.Path(id), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
}

// Open returns a ReadSeeker over an existing artifact.
func (s *Sandbox) Open(id string) (*os.File, error) {
	f, err := os.Open(s.Path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return f, err
}

// ReadRange reads length bytes starting at offset.
func (s *Sandbox) ReadRange(id string, offset int64, length int) ([]byte, error) {
	f, err := s.Open(id)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// Size reports the ciphertext size of an artifact.
func (s *Sandbox) Size(id string) (int64, error) {
	info, err := os.Stat(s.Path(id))
	if os.IsNotExist(err) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Delete removes an artifact; absence is not an error.
func (s *Sandbox) Delete(id string) error {
	err := os.Remove(s.Path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Exists reports whether the artifact file is present.
func (s *Sandbox) Exists(id string) bool {
	_, err := os.Stat(s.Path(id))
	return err == nil
}

// Clear deletes every artifact in the sandbox. Used by the wipe path.
func (s *Sandbox) Clear() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
