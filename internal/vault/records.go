package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AkashAhmed66/ILocker/internal/storage"
)

// Artifact format versions tagged in FileRecord.FormatVersion.
const (
	FormatLegacy    = 1 // monolithic blob, optionally "|||CHUNK|||" delimited
	FormatStreaming = 2 // length-prefixed binary frames
)

// recordsKey is the single MetadataStore key holding the serialized
// collection.
const recordsKey = "file-records"

var ErrNotFound = errors.New("vault: file not found")

// FileRecord is the metadata for one stored artifact. The id uniquely
// determines both this record and the ciphertext at StoragePath; deleting
// one without the other leaks an orphan.
type FileRecord struct {
	ID            string `json:"id"`
	OriginalName  string `json:"originalName"`
	MimeType      string `json:"mimeType"`
	SizeBytes     int64  `json:"sizeBytes"`
	StoragePath   string `json:"storagePath"`
	HasThumbnail  bool   `json:"hasThumbnail"`
	CreatedAt     int64  `json:"createdAt"`
	FormatVersion int    `json:"formatVersion"`
}

// newFileID embeds a generation timestamp plus a random suffix so ids are
// unique across every plaintext ever stored, the invariant the whole
// deterministic-IV scheme rests on.
func newFileID() string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%d_%s", time.Now().UnixNano(), suffix)
}

// ledger serializes every read-modify-write of the record collection. The
// MetadataStore has no partial-update support, so concurrent mutations must
// not interleave or one overwrites the other.
type ledger struct {
	mu   sync.Mutex
	meta storage.MetadataStore
}

func newLedger(meta storage.MetadataStore) *ledger {
	return &ledger{meta: meta}
}

func (l *ledger) load() ([]FileRecord, error) {
	raw, err := l.meta.GetString(recordsKey)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []FileRecord
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (l *ledger) flush(recs []FileRecord) error {
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	return l.meta.SetString(recordsKey, string(b))
}

func (l *ledger) append(rec FileRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs, err := l.load()
	if err != nil {
		return err
	}
	recs = append(recs, rec)
	return l.flush(recs)
}

func (l *ledger) get(id string) (FileRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs, err := l.load()
	if err != nil {
		return FileRecord{}, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, nil
		}
	}
	return FileRecord{}, ErrNotFound
}

// remove reports whether the id was present.
func (l *ledger) remove(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs, err := l.load()
	if err != nil {
		return false, err
	}
	for i, r := range recs {
		if r.ID == id {
			recs = append(recs[:i], recs[i+1:]...)
			return true, l.flush(recs)
		}
	}
	return false, nil
}

// list returns all records, most recently created first.
func (l *ledger) list() ([]FileRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs, err := l.load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt > recs[j].CreatedAt
	})
	return recs, nil
}
