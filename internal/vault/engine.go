package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/AkashAhmed66/ILocker/internal/audit"
	"github.com/AkashAhmed66/ILocker/internal/crypto"
	"github.com/AkashAhmed66/ILocker/internal/keys"
	"github.com/AkashAhmed66/ILocker/internal/search"
	"github.com/AkashAhmed66/ILocker/internal/storage"
	"github.com/AkashAhmed66/ILocker/internal/stream"
)

var (
	ErrDecryptionFailed = errors.New("vault: decryption failed")
	ErrCancelled        = errors.New("vault: operation cancelled")
	ErrStoreUnavailable = errors.New("vault: metadata store unavailable")
)

type Config struct {
	// ChunkSize is the plaintext chunk size for streamed encryption.
	ChunkSize int
	// ThumbnailBytes is how much leading plaintext feeds the thumbnail
	// artifact. Zero disables thumbnails.
	ThumbnailBytes int
}

func (c *Config) setDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = stream.DefaultChunkSize
	}
}

// Engine orchestrates whole-file secure store, retrieve and delete. Each
// call owns its own chunk loop; calls for different ids interleave freely,
// while metadata mutations serialize through the ledger.
type Engine struct {
	cfg     Config
	keys    *keys.Manager
	cipher  *stream.Cipher
	sandbox *storage.Sandbox
	thumbs  storage.BlobStore
	ledger  *ledger
	ops     *opRegistry
	log     *audit.Log
	names   *search.Index

	notify func(*Operation)
}

func NewEngine(km *keys.Manager, sandbox *storage.Sandbox, thumbs storage.BlobStore, meta storage.MetadataStore, cfg Config) *Engine {
	cfg.setDefaults()
	e := &Engine{
		cfg:     cfg,
		keys:    km,
		cipher:  stream.New(km),
		sandbox: sandbox,
		thumbs:  thumbs,
		ledger:  newLedger(meta),
		ops:     newOpRegistry(),
		log:     audit.New(),
		names:   search.New(),
	}
	if recs, err := e.ledger.list(); err == nil {
		for _, rec := range recs {
			e.names.Add(rec.ID, rec.OriginalName)
		}
	}
	km.RegisterWipeHook(e.wipeStorage)
	return e
}

// SetObserver registers the host notification sink, invoked on every
// operation state transition.
func (e *Engine) SetObserver(fn func(*Operation)) { e.notify = fn }

// Audit exposes the hash-chained operation log.
func (e *Engine) Audit() *audit.Log { return e.log }

// Operation returns a live or recently finished operation by id.
func (e *Engine) Operation(id string) *Operation { return e.ops.Get(id) }

// Cancel requests cooperative cancellation of an in-flight operation. The
// current chunk finishes; no further chunks are processed and the operation
// fails with a cancellation reason.
func (e *Engine) Cancel(opID string) bool { return e.ops.Cancel(opID) }

func (e *Engine) emit(op *Operation) {
	if e.notify != nil {
		e.notify(op)
	}
}

// SecureStore stream-encrypts source into the sandbox and records its
// metadata. On any mid-stream failure the partial ciphertext and thumbnail
// are removed and no FileRecord is left behind.
func (e *Engine) SecureStore(ctx context.Context, source io.Reader, originalName, mimeType string, declaredSize int64, onProgress stream.ProgressFunc) (FileRecord, error) {
	id := newFileID()
	op, opCtx := e.ops.begin(ctx, "store", id)
	e.emit(op)

	rec, err := e.secureStore(opCtx, op, id, source, originalName, mimeType, declaredSize, onProgress)
	if err != nil {
		err = mapCancel(err)
		op.fail(err.Error())
		e.emit(op)
		return FileRecord{}, err
	}
	op.complete()
	e.emit(op)
	e.log.Append("store", id)
	e.names.Add(id, rec.OriginalName)
	return rec, nil
}

func (e *Engine) secureStore(ctx context.Context, op *Operation, id string, source io.Reader, originalName, mimeType string, declaredSize int64, onProgress stream.ProgressFunc) (FileRecord, error) {
	op.setProcessing()
	e.emit(op)

	thumb := &thumbCapture{max: e.cfg.ThumbnailBytes}
	counted := &countingReader{r: io.TeeReader(source, thumb)}

	out, err := e.sandbox.Create(id)
	if err != nil {
		return FileRecord{}, err
	}

	progress := func(pct int) {
		op.setProgress(pct)
		if onProgress != nil {
			onProgress(pct)
		}
	}

	encErr := e.cipher.EncryptStream(ctx, counted, out, id, e.cfg.ChunkSize, declaredSize, progress)
	if cErr := out.Close(); encErr == nil {
		encErr = cErr
	}
	if encErr != nil {
		e.discardArtifacts(ctx, id)
		return FileRecord{}, encErr
	}

	hasThumb := false
	if len(thumb.buf) > 0 {
		sealed, tErr := e.cipher.EncryptChunk(thumb.buf, crypto.ThumbID(id))
		if tErr == nil {
			tErr = e.thumbs.Put(ctx, crypto.ThumbID(id), sealed)
		}
		if tErr != nil {
			e.discardArtifacts(ctx, id)
			return FileRecord{}, tErr
		}
		hasThumb = true
	}

	rec := FileRecord{
		ID:            id,
		OriginalName:  originalName,
		MimeType:      mimeType,
		SizeBytes:     counted.n,
		StoragePath:   e.sandbox.Path(id),
		HasThumbnail:  hasThumb,
		CreatedAt:     time.Now().UnixNano(),
		FormatVersion: FormatStreaming,
	}
	if err := e.ledger.append(rec); err != nil {
		e.discardArtifacts(ctx, id)
		return FileRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec, nil
}

// Retrieve stream-decrypts the artifact into w. Fails with ErrNotFound for
// unknown ids and ErrDecryptionFailed when any chunk fails authentication.
func (e *Engine) Retrieve(ctx context.Context, fileID string, w io.Writer, onProgress stream.ProgressFunc) error {
	rec, err := e.ledger.get(fileID)
	if err != nil {
		return err
	}

	op, opCtx := e.ops.begin(ctx, "retrieve", fileID)
	e.emit(op)
	op.setProcessing()
	e.emit(op)

	progress := func(pct int) {
		op.setProgress(pct)
		if onProgress != nil {
			onProgress(pct)
		}
	}

	if err := e.retrieve(opCtx, rec, w, progress); err != nil {
		err = mapCancel(err)
		op.fail(err.Error())
		e.emit(op)
		return err
	}
	op.complete()
	e.emit(op)
	e.log.Append("retrieve", fileID)
	return nil
}

func (e *Engine) retrieve(ctx context.Context, rec FileRecord, w io.Writer, progress stream.ProgressFunc) error {
	switch rec.FormatVersion {
	case FormatStreaming:
		src, err := e.sandbox.Open(rec.ID)
		if err != nil {
			if err == storage.ErrNotFound {
				return ErrNotFound
			}
			return err
		}
		defer src.Close()
		size, _ := e.sandbox.Size(rec.ID)
		if err := e.cipher.DecryptStream(ctx, src, w, rec.ID, size, progress); err != nil {
			return mapDecrypt(err)
		}
		return nil
	default:
		// Legacy monolithic blob; small enough to hold whole.
		blob, err := e.sandbox.ReadRange(rec.ID, 0, int(mustSize(e.sandbox, rec.ID)))
		if err != nil {
			if err == storage.ErrNotFound {
				return ErrNotFound
			}
			return err
		}
		pt, err := e.cipher.DecryptLegacyBlob(blob, rec.ID, progress)
		if err != nil {
			return mapDecrypt(err)
		}
		_, err = w.Write(pt)
		return err
	}
}

// Thumbnail decrypts the small preview artifact of a stored file.
func (e *Engine) Thumbnail(ctx context.Context, fileID string) ([]byte, error) {
	rec, err := e.ledger.get(fileID)
	if err != nil {
		return nil, err
	}
	if !rec.HasThumbnail {
		return nil, ErrNotFound
	}
	sealed, err := e.thumbs.Get(ctx, crypto.ThumbID(fileID))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	pt, err := e.cipher.DecryptChunk(sealed, crypto.ThumbID(fileID))
	if err != nil {
		return nil, mapDecrypt(err)
	}
	return pt, nil
}

// Delete removes the ciphertext, thumbnail and record. Absence of the files
// is not an error; Delete reports false only for ids that were never known.
func (e *Engine) Delete(ctx context.Context, fileID string) (bool, error) {
	if err := e.sandbox.Delete(fileID); err != nil {
		return false, err
	}
	_ = e.thumbs.Delete(ctx, crypto.ThumbID(fileID))
	known, err := e.ledger.remove(fileID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if known {
		e.log.Append("delete", fileID)
		e.names.Remove(fileID)
	}
	return known, nil
}

// Search matches records by original name. Only names are indexed, never
// file content.
func (e *Engine) Search(q string) ([]FileRecord, error) {
	ids := e.names.Query(q)
	if len(ids) == 0 {
		return nil, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	recs, err := e.ledger.list()
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		if want[rec.ID] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListAll returns every record, most recently created first.
func (e *Engine) ListAll() ([]FileRecord, error) {
	return e.ledger.list()
}

// wipeStorage erases every artifact and the record collection. Registered
// as the key manager's wipe hook; runs on lockout or explicit wipe.
func (e *Engine) wipeStorage() error {
	recs, _ := e.ledger.list()
	ctx := context.Background()
	for _, rec := range recs {
		_ = e.thumbs.Delete(ctx, crypto.ThumbID(rec.ID))
	}
	if err := e.sandbox.Clear(); err != nil {
		return err
	}
	if err := e.ledger.meta.ClearAll(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.names.Clear()
	e.log.Append("wipe", "")
	return nil
}

func (e *Engine) discardArtifacts(ctx context.Context, id string) {
	_ = e.sandbox.Delete(id)
	_ = e.thumbs.Delete(ctx, crypto.ThumbID(id))
}

func mapCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled
	}
	return err
}

func mapDecrypt(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCancelled
	case errors.Is(err, keys.ErrNotAuthenticated):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
}

func mustSize(sb *storage.Sandbox, id string) int64 {
	n, _ := sb.Size(id)
	return n
}

// thumbCapture keeps the first max plaintext bytes flowing through the
// encrypt tee.
type thumbCapture struct {
	buf []byte
	max int
}

func (t *thumbCapture) Write(p []byte) (int, error) {
	if t.max > 0 && len(t.buf) < t.max {
		n := t.max - len(t.buf)
		if n > len(p) {
			n = len(p)
		}
		t.buf = append(t.buf, p[:n]...)
	}
	return len(p), nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
