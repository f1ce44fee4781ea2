package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return b
}

func TestSealOpenChunkRoundTrip(t *testing.T) {
	master := randBytes(t, 32)
	for _, size := range []int{0, 1, 15, 16, 17, 4096, 1 << 20} {
		pt := randBytes(t, size)
		ct, err := SealChunk(master, "file-1_chunk_0", pt)
		if err != nil {
			t.Fatalf("seal (%d bytes): %v", size, err)
		}
		out, err := OpenChunk(master, "file-1_chunk_0", ct)
		if err != nil {
			t.Fatalf("open (%d bytes): %v", size, err)
		}
		if !bytes.Equal(pt, out) {
			t.Fatalf("plaintext mismatch at size %d", size)
		}
	}
}

func TestOpenChunkIDMismatch(t *testing.T) {
	master := randBytes(t, 32)
	ct, err := SealChunk(master, "a_chunk_0", []byte("secret-data"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := OpenChunk(master, "a_chunk_1", ct); err == nil {
		t.Fatal("expected auth failure under a different artifact id")
	}
}

func TestOpenChunkTamper(t *testing.T) {
	master := randBytes(t, 32)
	ct, err := SealChunk(master, "a_chunk_0", []byte("hello"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	for i := range ct {
		mut := append([]byte(nil), ct...)
		mut[i] ^= 0xFF
		if _, err := OpenChunk(master, "a_chunk_0", mut); err == nil {
			t.Fatalf("mutation at byte %d succeeded", i)
		}
	}
}

func TestOpenChunkTruncation(t *testing.T) {
	master := randBytes(t, 32)
	ct, err := SealChunk(master, "a_chunk_0", []byte("hello"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := OpenChunk(master, "a_chunk_0", ct[:len(ct)-1]); err == nil {
		t.Fatal("expected failure on truncated ciphertext")
	}
	if _, err := OpenChunk(master, "a_chunk_0", ct[:chunkMacSize-1]); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestSealChunkDeterministic(t *testing.T) {
	master := randBytes(t, 32)
	pt := []byte("same content")
	ct1, err := SealChunk(master, "a_chunk_0", pt)
	if err != nil {
		t.Fatalf("seal1: %v", err)
	}
	ct2, err := SealChunk(master, "a_chunk_0", pt)
	if err != nil {
		t.Fatalf("seal2: %v", err)
	}
	if !bytes.Equal(ct1, ct2) {
		t.Fatal("same id and plaintext must produce identical ciphertext")
	}
}

func TestDeriveArtifactIVStable(t *testing.T) {
	iv1 := DeriveArtifactIV("file-1_chunk_0")
	iv2 := DeriveArtifactIV("file-1_chunk_0")
	if !bytes.Equal(iv1, iv2) {
		t.Fatal("IV derivation must be deterministic")
	}
	if bytes.Equal(iv1, DeriveArtifactIV("file-1_chunk_1")) {
		t.Fatal("distinct ids must yield distinct IVs")
	}
	if len(iv1) != 16 {
		t.Fatalf("IV size = %d, want 16", len(iv1))
	}
}

func TestDeriveArtifactKeyIndependence(t *testing.T) {
	master := randBytes(t, 32)
	k1 := DeriveArtifactKey(master, "a")
	k2 := DeriveArtifactKey(master, "b")
	if bytes.Equal(k1, k2) {
		t.Fatal("distinct ids must yield distinct keys")
	}
	other := randBytes(t, 32)
	if bytes.Equal(k1, DeriveArtifactKey(other, "a")) {
		t.Fatal("distinct master keys must yield distinct artifact keys")
	}
	if len(k1) != ArtifactKeySize {
		t.Fatalf("key size = %d, want %d", len(k1), ArtifactKeySize)
	}
}

func TestOpenChunkAnyLegacyFallback(t *testing.T) {
	master := randBytes(t, 32)
	pt := []byte("legacy-support")
	legacy, err := SealLegacyChunk(master, "old-file", pt)
	if err != nil {
		t.Fatalf("seal legacy: %v", err)
	}
	if _, err := OpenChunk(master, "old-file", legacy); err == nil {
		t.Fatal("expected streaming OpenChunk to reject legacy ciphertext")
	}
	got, err := OpenChunkAny(master, "old-file", legacy)
	if err != nil {
		t.Fatalf("OpenChunkAny: %v", err)
	}
	if !bytes.Equal(pt, got) {
		t.Fatal("legacy plaintext mismatch")
	}
}

func FuzzChunkRejectMutations(f *testing.F) {
	f.Add([]byte("hello"), "file_chunk_0")
	f.Add([]byte(""), "x")
	f.Fuzz(func(t *testing.T, pt []byte, id string) {
		master := randBytes(t, 32)
		ct, err := SealChunk(master, id, pt)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		if _, err := OpenChunk(master, id, ct); err != nil {
			t.Fatalf("open baseline: %v", err)
		}
		if len(ct) == 0 {
			return
		}
		mut := append([]byte(nil), ct...)
		idx := len(pt) % len(mut)
		mut[idx] ^= 0xFF
		if _, err := OpenChunk(master, id, mut); err == nil {
			t.Fatalf("mutation at %d succeeded", idx)
		}
	})
}
