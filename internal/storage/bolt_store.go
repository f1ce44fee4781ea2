package storage

import (
	"time"

	"go.etcd.io/bbolt"
)

var (
	secretsBucket  = []byte("secrets")
	metadataBucket = []byte("metadata")
)

// BoltStore backs both SecretStore and MetadataStore with a single bbolt
// file. The default local variant when no OS keychain is available.
type BoltStore struct {
	db *bbolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(secretsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metadataBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// Secrets returns the SecretStore view of the database.
func (s *BoltStore) Secrets() SecretStore { return &boltBucket{db: s.db, bucket: secretsBucket} }

// Metadata returns the MetadataStore view of the database.
func (s *BoltStore) Metadata() MetadataStore { return &boltBucket{db: s.db, bucket: metadataBucket} }

type boltBucket struct {
	db     *bbolt.DB
	bucket []byte
}

func (b *boltBucket) get(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(b.bucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (b *boltBucket) put(key string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(key), value)
	})
}

func (b *boltBucket) del(key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(b.bucket).Delete([]byte(key))
	})
}

func (b *boltBucket) clear() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(b.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(b.bucket)
		return err
	})
}

// SecretStore methods.

func (b *boltBucket) Get(name string) ([]byte, error)    { return b.get(name) }
func (b *boltBucket) Set(name string, value []byte) error { return b.put(name, value) }
func (b *boltBucket) Delete(name string) error            { return b.del(name) }
func (b *boltBucket) Wipe() error                         { return b.clear() }

// MetadataStore methods.

func (b *boltBucket) GetString(key string) (string, error) {
	v, err := b.get(key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (b *boltBucket) SetString(key, value string) error { return b.put(key, []byte(value)) }
func (b *boltBucket) ClearAll() error                   { return b.clear() }
