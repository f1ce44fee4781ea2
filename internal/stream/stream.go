package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/AkashAhmed66/ILocker/internal/crypto"
)

// DefaultChunkSize bounds peak plaintext memory per operation regardless of
// file size. A storage-format choice, not a security requirement.
const DefaultChunkSize = 256 * 1024

// maxFrameSize rejects absurd length prefixes before allocating.
const maxFrameSize = 64 * 1024 * 1024

var ErrCorruptData = errors.New("stream: malformed chunk framing")

// ProgressFunc receives a percentage in [0,100]. Calls are monotonically
// non-decreasing and reach 100 only on full completion.
type ProgressFunc func(percent int)

// progressMeter enforces monotonicity over byte counts.
type progressMeter struct {
	fn    ProgressFunc
	total int64
	done  int64
	last  int
}

func newProgressMeter(fn ProgressFunc, total int64) *progressMeter {
	return &progressMeter{fn: fn, total: total, last: -1}
}

func (p *progressMeter) add(n int64) {
	if p.fn == nil {
		return
	}
	p.done += n
	if p.total <= 0 {
		return
	}
	pct := int(p.done * 100 / p.total)
	if pct > 99 {
		pct = 99 // 100 is reserved for completion
	}
	if pct > p.last {
		p.last = pct
		p.fn(pct)
	}
}

func (p *progressMeter) finish() {
	if p.fn != nil {
		p.last = 100
		p.fn(100)
	}
}

// EncryptStream splits the source into chunkSize plaintext chunks, seals
// chunk i as artifact "{baseID}_chunk_{i}" and writes length-prefixed frames
// (4-byte big-endian ciphertext length, then the ciphertext) to w. The
// context is consulted at every chunk boundary; in-flight chunks finish.
func (c *Cipher) EncryptStream(ctx context.Context, r io.Reader, w io.Writer, baseID string, chunkSize int, totalSize int64, onProgress ProgressFunc) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	meter := newProgressMeter(onProgress, totalSize)
	buf := make([]byte, chunkSize)

	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(r, buf)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return fmt.Errorf("reading chunk %d: %w", index, err)
		}

		sealed, sErr := c.EncryptChunk(buf[:n], crypto.ChunkID(baseID, index))
		if sErr != nil {
			return sErr
		}
		if wErr := writeFrame(w, sealed); wErr != nil {
			return fmt.Errorf("writing chunk %d: %w", index, wErr)
		}
		meter.add(int64(n))

		if err == io.ErrUnexpectedEOF {
			break
		}
	}

	meter.finish()
	return nil
}

// DecryptStream reverses EncryptStream over a version-2 framed ciphertext.
// totalSize, when known, is the ciphertext length used for progress.
func (c *Cipher) DecryptStream(ctx context.Context, r io.Reader, w io.Writer, baseID string, totalSize int64, onProgress ProgressFunc) error {
	meter := newProgressMeter(onProgress, totalSize)

	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := readFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		pt, dErr := c.DecryptChunk(frame, crypto.ChunkID(baseID, index))
		if dErr != nil {
			return dErr
		}
		if _, wErr := w.Write(pt); wErr != nil {
			return fmt.Errorf("writing plaintext chunk %d: %w", index, wErr)
		}
		meter.add(int64(len(frame)) + 4)
	}

	meter.finish()
	return nil
}

func writeFrame(w io.Writer, ciphertext []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(ciphertext)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(ciphertext)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, ErrCorruptData
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > maxFrameSize {
		return nil, ErrCorruptData
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, ErrCorruptData
	}
	return frame, nil
}
