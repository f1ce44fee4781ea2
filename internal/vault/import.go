package vault

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ImportOptions controls batch imports from the local filesystem.
type ImportOptions struct {
	// Concurrency bounds parallel encrypt pipelines. Defaults to 4.
	Concurrency int
	// RemoveSource deletes each source file after its record is committed,
	// so plaintext does not linger outside the sandbox.
	RemoveSource bool
	// MimeType applies to every imported file; empty means unknown.
	MimeType string
}

// ImportResult reports the outcome of one path in a batch import.
type ImportResult struct {
	Path   string
	Record FileRecord
	Err    error
}

// ImportAll encrypts every named file into the sandbox. Files are processed
// concurrently; the first hard failure cancels the remaining ones, and the
// returned results cover every path that started.
func (e *Engine) ImportAll(ctx context.Context, paths []string, opts ImportOptions) ([]ImportResult, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	var mu sync.Mutex
	results := make([]ImportResult, 0, len(paths))

	for _, path := range paths {
		path := path
		g.Go(func() error {
			rec, err := e.importOne(gctx, path, opts)
			mu.Lock()
			results = append(results, ImportResult{Path: path, Record: rec, Err: err})
			mu.Unlock()
			return err
		})
	}

	err := g.Wait()
	return results, err
}

func (e *Engine) importOne(ctx context.Context, path string, opts ImportOptions) (FileRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileRecord{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileRecord{}, err
	}

	rec, err := e.SecureStore(ctx, f, filepath.Base(path), opts.MimeType, info.Size(), nil)
	if err != nil {
		return FileRecord{}, err
	}
	if opts.RemoveSource {
		f.Close()
		if rmErr := os.Remove(path); rmErr != nil {
			return rec, rmErr
		}
	}
	return rec, nil
}
