package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var ErrChainBroken = errors.New("audit: hash chain broken")

// Entry is one vault event. Hash covers the previous entry's hash plus this
// entry's op and file id, so the log is tamper evident as a chain.
type Entry struct {
	TS     int64  `json:"ts"`
	Op     string `json:"op"`
	FileID string `json:"fileId,omitempty"`
	Hash   string `json:"hash"`
}

// Log is an append-only, hash-chained record of vault operations. Safe for
// concurrent appenders.
type Log struct {
	mu       sync.Mutex
	lastHash []byte
	entries  []Entry
}

func New() *Log { return &Log{} }

func (l *Log) Append(op, fileID string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	sum := chain(l.lastHash, op, fileID)
	l.lastHash = sum
	e := Entry{
		TS:     time.Now().Unix(),
		Op:     op,
		FileID: fileID,
		Hash:   hex.EncodeToString(sum),
	}
	l.entries = append(l.entries, e)
	return e
}

// Verify recomputes the chain and fails on the first mismatched entry.
func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prev []byte
	for _, e := range l.entries {
		sum := chain(prev, e.Op, e.FileID)
		if hex.EncodeToString(sum) != e.Hash {
			return ErrChainBroken
		}
		prev = sum
	}
	return nil
}

func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// MarshalJSON exports the log for external inspection tooling.
func (l *Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Entries())
}

func chain(prev []byte, op, fileID string) []byte {
	h := sha256.New()
	h.Write(prev)
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(fileID))
	return h.Sum(nil)
}
