// Package filestore implements the audit record store as one JSON file per
// record in a flat directory.
package filestore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/port/auditstore"
	"github.com/Strob0t/aopguard/internal/port/cache"
)

const tempPrefix = ".tmp_audit_"

// Store persists audit records under dir. Files are written once via
// temp file and rename, and never modified afterwards.
type Store struct {
	dir      string
	cache    cache.Cache
	cacheTTL time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithCache enables a read-through cache of record file contents.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Store) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// New creates the storage directory if needed and returns a Store.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir %s: %w", dir, err)
	}
	return Open(dir, opts...), nil
}

// Open returns a Store over dir without touching the filesystem. Loading a
// session from a missing directory yields an empty batch.
func Open(dir string, opts ...Option) *Store {
	s := &Store{dir: dir}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Append writes rec atomically and returns the final file path.
func (s *Store) Append(ctx context.Context, rec *audit.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := audit.ValidateSessionID(rec.SessionID); err != nil {
		return "", err
	}
	data, err := rec.Encode()
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, audit.FileName(rec))
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("audit record file %s already exists", path)
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create temp record: %w", err)
	}
	tmpPath := tmp.Name()
	writeErr := func() error {
		if _, err := tmp.Write(data); err != nil {
			return err
		}
		if err := tmp.Sync(); err != nil {
			return err
		}
		return tmp.Close()
	}()
	if writeErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write record %s: %w", rec.ID, writeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("finalize record %s: %w", rec.ID, err)
	}
	return path, nil
}

// LoadSession reads every record file of the session, sorted by timestamp.
// Files matched by the name pattern whose decoded session id differs are
// ignored; unreadable or corrupt files are returned in Skipped.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*auditstore.Batch, error) {
	if err := audit.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(s.dir, sessionID+"_*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob session %s: %w", sessionID, err)
	}

	batch := &auditstore.Batch{}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.readRecord(ctx, p)
		if err != nil {
			batch.Skipped = append(batch.Skipped, auditstore.SkippedFile{Path: p, Err: err})
			continue
		}
		if rec.SessionID != sessionID {
			continue
		}
		batch.Records = append(batch.Records, rec)
	}

	slices.SortStableFunc(batch.Records, func(a, b *audit.Record) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return batch, nil
}

func (s *Store) readRecord(ctx context.Context, path string) (*audit.Record, error) {
	key := cacheKey(path)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			if rec, err := audit.DecodeRecord(data); err == nil {
				return rec, nil
			}
			_ = s.cache.Delete(ctx, key)
		}
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from a glob inside the storage dir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("record file vanished: %w", err)
		}
		return nil, fmt.Errorf("read record file: %w", err)
	}
	rec, err := audit.DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, data, s.cacheTTL)
	}
	return rec, nil
}

func cacheKey(path string) string {
	sum := blake2b.Sum256([]byte(path))
	return "auditfile." + hex.EncodeToString(sum[:])
}
