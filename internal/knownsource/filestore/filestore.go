// Package filestore persists the known-source set as a JSON array on disk.
// Writers serialize on an advisory lock file next to it (<path>.lock), so
// the daemon and sentractl can share one file.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"

	"github.com/linnemanlabs/sentra/internal/knownsource"
)

// Store reads and writes a JSON file of IP strings.
type Store struct {
	path string
}

// New returns a Store backed by path. The file is created on the first write.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the set. A missing file is an empty set; an undecodable file
// returns an error wrapping knownsource.ErrCorrupt.
func (s *Store) Load(_ context.Context) (knownsource.Set, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return knownsource.NewSet(), nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var ips []string
	if err := json.Unmarshal(data, &ips); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", knownsource.ErrCorrupt, s.path, err)
	}
	return knownsource.NewSet(ips...), nil
}

// lockRetry is how often a blocked writer retries the lock file.
const lockRetry = 20 * time.Millisecond

// Add merges ip into the file under the lock file: it reloads, adds and
// rewrites, so additions by other processes are never overwritten. A corrupt
// file is replaced, the same way Open starts empty over it.
func (s *Store) Add(ctx context.Context, ip string) (knownsource.Set, bool, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	set, err := s.Load(ctx)
	if errors.Is(err, knownsource.ErrCorrupt) {
		set, err = knownsource.NewSet(), nil
	}
	if err != nil {
		return nil, false, err
	}
	if !set.Add(ip) {
		return set, false, nil
	}
	if err := s.write(set); err != nil {
		return nil, false, err
	}
	return set, true, nil
}

// Save replaces the file contents with set under the lock file.
func (s *Store) Save(ctx context.Context, set knownsource.Set) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return s.write(set)
}

func (s *Store) lock(ctx context.Context) (func(), error) {
	fl := flock.New(s.path + ".lock")
	ok, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: not acquired", fl.Path())
	}
	return func() { _ = fl.Unlock() }, nil
}

// write goes to a temp file in the same directory and is renamed into place.
func (s *Store) write(set knownsource.Set) error {
	data, err := json.MarshalIndent(set.Sorted(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal known sources: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename to %s: %w", s.path, err)
	}
	return nil
}
