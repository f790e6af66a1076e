package interchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openclaw/interchange/pkg/apperr"
	"github.com/openclaw/interchange/pkg/checksum"
	"github.com/openclaw/interchange/pkg/frontmatter"
	"github.com/openclaw/interchange/pkg/metrics"
)

// WriteOptions adjusts a single write.
type WriteOptions struct {
	// Force writes a new generation even when the body hash is unchanged.
	Force bool
	// SkipValidation bypasses the schema and layer checks.
	SkipValidation bool
}

// Write stores body with header meta at path under the path's lock.
//
// generation_id, content_hash and updated are derived and overwrite whatever
// meta carries. When the stored content hash equals the new one and
// opts.Force is false, nothing on disk changes. Validation failures are
// reported as *apperr.ValidationError before any directory, lock or file is
// touched.
func (s *Store) Write(ctx context.Context, path string, meta frontmatter.Meta, body string, opts WriteOptions) error {
	result, err := s.write(ctx, path, meta, body, opts)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrInvalidFrontmatter):
			result = metrics.WriteInvalid
		case errors.Is(err, apperr.ErrLockTimeout):
			result = metrics.WriteLockTimeout
		default:
			result = metrics.WriteError
		}
	}
	s.metrics.ObserveWrite(result)
	return err
}

func (s *Store) write(ctx context.Context, path string, meta frontmatter.Meta, body string, opts WriteOptions) (string, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	hash := checksum.ContentHash(body)
	meta.ContentHash = hash
	if meta.Version == 0 {
		meta.Version = 1
	}
	if meta.Tags == nil {
		meta.Tags = []string{}
	}

	// Every check runs on a provisional generation before anything on disk
	// changes; the real generation_id is always >= 1 as well.
	if !opts.SkipValidation {
		provisional := meta
		provisional.GenerationID = 1
		provisional.Updated = frontmatter.NewTimestamp(s.now())
		res := frontmatter.Validate(provisional)
		if !isIndexFile(abs) {
			res = frontmatter.Merge(res, frontmatter.ValidateLayer(abs, provisional))
		}
		if err := res.Err(); err != nil {
			return "", fmt.Errorf("interchange: write %s: %w", path, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("interchange: mkdir: %w", err)
	}

	start := time.Now()
	h, err := s.locks.Acquire(ctx, abs, s.lockTimeout)
	s.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		return "", fmt.Errorf("interchange: write %s: %w", path, err)
	}
	defer s.locks.Release(h)

	gen, existing := s.current(abs)
	if !opts.Force && existing == hash {
		s.logger.Debug("interchange: unchanged, write skipped",
			slog.String("path", abs),
			slog.Int("generation_id", gen))
		return metrics.WriteUnchanged, nil
	}

	meta.GenerationID = gen + 1
	meta.Updated = frontmatter.NewTimestamp(s.now())

	out, err := frontmatter.Render(meta, body)
	if err != nil {
		return "", fmt.Errorf("interchange: render %s: %w", path, err)
	}
	if err := s.stage(abs, []byte(out)); err != nil {
		return "", fmt.Errorf("interchange: write %s: %w", path, err)
	}

	s.logger.Debug("interchange: wrote",
		slog.String("path", abs),
		slog.Int("generation_id", meta.GenerationID))
	return metrics.WriteWritten, nil
}
