package vault

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/AkashAhmed66/ILocker/internal/keys"
	"github.com/AkashAhmed66/ILocker/internal/storage"
)

func testEngine(t *testing.T) (*Engine, *keys.Manager) {
	t.Helper()
	dir := t.TempDir()

	sandbox, err := storage.NewSandbox(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	km := keys.NewManager(storage.NewFileSecretStore(filepath.Join(dir, "secrets")), keys.Config{
		KEKIterations: 1000,
		VerifyRate:    rate.Inf,
	})
	meta := storage.NewFileMetadataStore(filepath.Join(dir, "meta.json"))
	thumbs := storage.NewFileBlobStore(filepath.Join(dir, "thumbs"))

	e := NewEngine(km, sandbox, thumbs, meta, Config{ThumbnailBytes: 1024})
	if err := km.SetCredential("correct horse"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	return e, km
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

func TestStoreRetrieveDeleteLargeFile(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()
	plain := randomBytes(t, 2<<20)

	rec, err := e.SecureStore(ctx, bytes.NewReader(plain), "doc.pdf", "application/pdf", int64(len(plain)), nil)
	if err != nil {
		t.Fatalf("SecureStore: %v", err)
	}
	if rec.FormatVersion != FormatStreaming {
		t.Fatalf("FormatVersion = %d, want %d", rec.FormatVersion, FormatStreaming)
	}
	if rec.SizeBytes != int64(len(plain)) {
		t.Fatalf("SizeBytes = %d, want %d", rec.SizeBytes, len(plain))
	}
	if rec.OriginalName != "doc.pdf" || rec.MimeType != "application/pdf" {
		t.Fatalf("record metadata mismatch: %+v", rec)
	}

	// Ciphertext on disk must not contain the plaintext.
	ct, err := os.ReadFile(rec.StoragePath)
	if err != nil {
		t.Fatalf("read ciphertext: %v", err)
	}
	if bytes.Contains(ct, plain[:64]) {
		t.Fatal("plaintext visible in stored ciphertext")
	}

	var out bytes.Buffer
	if err := e.Retrieve(ctx, rec.ID, &out, nil); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !bytes.Equal(out.Bytes(), plain) {
		t.Fatal("retrieved bytes differ from original")
	}

	known, err := e.Delete(ctx, rec.ID)
	if err != nil || !known {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", known, err)
	}
	if _, err := os.Stat(rec.StoragePath); !os.IsNotExist(err) {
		t.Fatal("ciphertext still on disk after delete")
	}
	if err := e.Retrieve(ctx, rec.ID, io.Discard, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Retrieve after delete = %v, want ErrNotFound", err)
	}
	if known, _ := e.Delete(ctx, rec.ID); known {
		t.Fatal("second delete reported a known id")
	}
}

func TestRetrieveWhileLockedThenUnlock(t *testing.T) {
	e, km := testEngine(t)
	ctx := context.Background()
	plain := randomBytes(t, 64<<10)

	rec, err := e.SecureStore(ctx, bytes.NewReader(plain), "note.txt", "text/plain", int64(len(plain)), nil)
	if err != nil {
		t.Fatalf("SecureStore: %v", err)
	}

	km.Lock()
	if err := e.Retrieve(ctx, rec.ID, io.Discard, nil); !errors.Is(err, keys.ErrNotAuthenticated) {
		t.Fatalf("locked Retrieve = %v, want ErrNotAuthenticated", err)
	}

	if !km.VerifyPassword("correct horse") {
		t.Fatal("VerifyPassword failed with correct password")
	}
	var out bytes.Buffer
	if err := e.Retrieve(ctx, rec.ID, &out, nil); err != nil {
		t.Fatalf("Retrieve after unlock: %v", err)
	}
	if !bytes.Equal(out.Bytes(), plain) {
		t.Fatal("retrieve after unlock returned wrong bytes")
	}
}

func TestLockoutWipesVault(t *testing.T) {
	e, km := testEngine(t)
	ctx := context.Background()

	rec, err := e.SecureStore(ctx, bytes.NewReader(randomBytes(t, 4096)), "a.bin", "", 4096, nil)
	if err != nil {
		t.Fatalf("SecureStore: %v", err)
	}

	km.Lock()
	for i := 0; i < 5; i++ {
		if km.VerifyPassword("wrong") {
			t.Fatal("wrong password verified")
		}
	}
	if km.IsCredentialSet() {
		t.Fatal("credential survived lockout")
	}
	if recs, _ := e.ListAll(); len(recs) != 0 {
		t.Fatalf("records survived lockout wipe: %d", len(recs))
	}
	if _, err := os.Stat(rec.StoragePath); !os.IsNotExist(err) {
		t.Fatal("ciphertext survived lockout wipe")
	}
}

func TestStoreFailureLeavesNoArtifacts(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	src := io.MultiReader(bytes.NewReader(randomBytes(t, 300<<10)), failingReader{})
	_, err := e.SecureStore(ctx, src, "broken.bin", "", 600<<10, nil)
	if err == nil {
		t.Fatal("SecureStore succeeded on failing source")
	}
	recs, _ := e.ListAll()
	if len(recs) != 0 {
		t.Fatalf("failed store left %d records", len(recs))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func TestCancelMidStore(t *testing.T) {
	e, _ := testEngine(t)

	opIDs := make(chan string, 8)
	e.SetObserver(func(op *Operation) {
		select {
		case opIDs <- op.ID:
		default:
		}
	})

	started := make(chan string, 1)
	src := &gatedReader{remaining: 4 << 20, started: started}

	done := make(chan error, 1)
	go func() {
		_, err := e.SecureStore(context.Background(), src, "big.bin", "", 4<<20, nil)
		done <- err
	}()

	<-started
	var opID string
	select {
	case opID = <-opIDs:
	case <-time.After(2 * time.Second):
		t.Fatal("never observed an operation")
	}
	if !e.Cancel(opID) {
		t.Fatal("Cancel rejected a live operation")
	}

	if err := <-done; !errors.Is(err, ErrCancelled) {
		t.Fatalf("cancelled store = %v, want ErrCancelled", err)
	}
	if op := e.Operation(opID); op == nil || op.State() != OpFailed {
		t.Fatalf("operation state after cancel: %+v", op)
	}
	recs, _ := e.ListAll()
	if len(recs) != 0 {
		t.Fatal("cancelled store left a record")
	}
}

// gatedReader signals once reading begins, then trickles data so the store
// stays in flight long enough to cancel.
type gatedReader struct {
	remaining int
	started   chan string
	signalled bool
}

func (g *gatedReader) Read(p []byte) (int, error) {
	if !g.signalled {
		g.signalled = true
		g.started <- "go"
	}
	if g.remaining <= 0 {
		return 0, io.EOF
	}
	time.Sleep(2 * time.Millisecond)
	n := len(p)
	if n > 8<<10 {
		n = 8 << 10
	}
	if n > g.remaining {
		n = g.remaining
	}
	for i := 0; i < n; i++ {
		p[i] = byte(i)
	}
	g.remaining -= n
	return n, nil
}

func TestThumbnailRoundTrip(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()
	plain := randomBytes(t, 8192)

	rec, err := e.SecureStore(ctx, bytes.NewReader(plain), "img.jpg", "image/jpeg", int64(len(plain)), nil)
	if err != nil {
		t.Fatalf("SecureStore: %v", err)
	}
	if !rec.HasThumbnail {
		t.Fatal("record missing thumbnail flag")
	}
	thumb, err := e.Thumbnail(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if !bytes.Equal(thumb, plain[:1024]) {
		t.Fatal("thumbnail bytes differ from leading plaintext")
	}
}

func TestLegacyRecordRetrieve(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()
	plain := randomBytes(t, 100 << 10)

	// Seed a pre-streaming artifact the way old installs stored them.
	id := newFileID()
	blob, err := e.cipher.EncryptLegacyBlob(plain, id, 32<<10)
	if err != nil {
		t.Fatalf("EncryptLegacyBlob: %v", err)
	}
	w, err := e.sandbox.Create(id)
	if err != nil {
		t.Fatalf("sandbox create: %v", err)
	}
	if _, err := w.Write(blob); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	w.Close()
	if err := e.ledger.append(FileRecord{
		ID:            id,
		OriginalName:  "old.dat",
		SizeBytes:     int64(len(plain)),
		StoragePath:   e.sandbox.Path(id),
		CreatedAt:     time.Now().UnixNano(),
		FormatVersion: FormatLegacy,
	}); err != nil {
		t.Fatalf("ledger append: %v", err)
	}

	var out bytes.Buffer
	if err := e.Retrieve(ctx, id, &out, nil); err != nil {
		t.Fatalf("legacy Retrieve: %v", err)
	}
	if !bytes.Equal(out.Bytes(), plain) {
		t.Fatal("legacy retrieve returned wrong bytes")
	}
}

func TestTamperedCiphertextFailsDecryption(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	rec, err := e.SecureStore(ctx, bytes.NewReader(randomBytes(t, 96<<10)), "x.bin", "", 96<<10, nil)
	if err != nil {
		t.Fatalf("SecureStore: %v", err)
	}
	ct, err := os.ReadFile(rec.StoragePath)
	if err != nil {
		t.Fatalf("read ciphertext: %v", err)
	}
	ct[len(ct)/2] ^= 0x01
	if err := os.WriteFile(rec.StoragePath, ct, 0o600); err != nil {
		t.Fatalf("write tampered: %v", err)
	}

	err = e.Retrieve(ctx, rec.ID, io.Discard, nil)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("tampered Retrieve = %v, want ErrDecryptionFailed", err)
	}
}

func TestListAllOrdering(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := e.SecureStore(ctx, bytes.NewReader([]byte("data")), "f", "", 4, nil)
		if err != nil {
			t.Fatalf("SecureStore: %v", err)
		}
		ids = append(ids, rec.ID)
		time.Sleep(2 * time.Millisecond)
	}
	recs, err := e.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("ListAll returned %d records", len(recs))
	}
	if recs[0].ID != ids[2] || recs[2].ID != ids[0] {
		t.Fatal("ListAll is not most recent first")
	}
}

func TestAuditTrail(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	rec, err := e.SecureStore(ctx, bytes.NewReader([]byte("hello")), "h.txt", "", 5, nil)
	if err != nil {
		t.Fatalf("SecureStore: %v", err)
	}
	if err := e.Retrieve(ctx, rec.ID, io.Discard, nil); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if _, err := e.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	entries := e.Audit().Entries()
	if len(entries) != 3 {
		t.Fatalf("audit entries = %d, want 3", len(entries))
	}
	for i, want := range []string{"store", "retrieve", "delete"} {
		if entries[i].Op != want || entries[i].FileID != rec.ID {
			t.Fatalf("entry %d = %+v, want op %q", i, entries[i], want)
		}
	}
	if err := e.Audit().Verify(); err != nil {
		t.Fatalf("audit Verify: %v", err)
	}
}

func TestOperationProgressMonotone(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	var seen []int
	_, err := e.SecureStore(ctx, bytes.NewReader(randomBytes(t, 1<<20)), "p.bin", "", 1<<20, func(pct int) {
		seen = append(seen, pct)
	})
	if err != nil {
		t.Fatalf("SecureStore: %v", err)
	}
	if len(seen) == 0 || seen[len(seen)-1] != 100 {
		t.Fatalf("progress did not finish at 100: %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress regressed at %d: %v", i, seen)
		}
	}
	for _, pct := range seen[:len(seen)-1] {
		if pct >= 100 {
			t.Fatalf("100 reported before completion: %v", seen)
		}
	}
}

func TestImportAll(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	var paths []string
	contents := map[string][]byte{}
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		p := filepath.Join(dir, name)
		data := randomBytes(t, 20<<10)
		if err := os.WriteFile(p, data, 0o600); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
		paths = append(paths, p)
		contents[name] = data
	}

	results, err := e.ImportAll(ctx, paths, ImportOptions{Concurrency: 2, RemoveSource: true})
	if err != nil {
		t.Fatalf("ImportAll: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("import %s: %v", res.Path, res.Err)
		}
		if _, err := os.Stat(res.Path); !os.IsNotExist(err) {
			t.Fatalf("source %s not removed", res.Path)
		}
		var out bytes.Buffer
		if err := e.Retrieve(ctx, res.Record.ID, &out, nil); err != nil {
			t.Fatalf("retrieve %s: %v", res.Record.OriginalName, err)
		}
		if !bytes.Equal(out.Bytes(), contents[res.Record.OriginalName]) {
			t.Fatalf("imported %s round-trip mismatch", res.Record.OriginalName)
		}
	}

	_, err = e.ImportAll(ctx, []string{filepath.Join(dir, "missing.txt")}, ImportOptions{})
	if err == nil {
		t.Fatal("ImportAll succeeded on missing path")
	}
}

// Interleaved stores and retrieves on distinct ids must not corrupt each
// other's state.
func TestConcurrentOperations(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	type stored struct {
		rec   FileRecord
		plain []byte
	}
	ch := make(chan stored, 8)
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			plain := make([]byte, 300<<10)
			rand.Read(plain)
			rec, err := e.SecureStore(ctx, bytes.NewReader(plain), "c.bin", "", int64(len(plain)), nil)
			if err != nil {
				errs <- err
				return
			}
			ch <- stored{rec, plain}
		}()
	}
	for i := 0; i < 8; i++ {
		select {
		case err := <-errs:
			t.Fatalf("concurrent store: %v", err)
		case s := <-ch:
			var out bytes.Buffer
			if err := e.Retrieve(ctx, s.rec.ID, &out, nil); err != nil {
				t.Fatalf("concurrent retrieve: %v", err)
			}
			if !bytes.Equal(out.Bytes(), s.plain) {
				t.Fatal("concurrent round-trip mismatch")
			}
		}
	}
	if recs, _ := e.ListAll(); len(recs) != 8 {
		t.Fatalf("ListAll after concurrent stores = %d", len(recs))
	}
}
