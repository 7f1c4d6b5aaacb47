package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const fileExt = ".cache"

// errCorrupt marks a durable file that exists but cannot be decoded.
var errCorrupt = errors.New("corrupt cache file")

// ioErrKind is the category of a durable-tier failure. Each kind has its own
// handling branch in the cache.
type ioErrKind int

const (
	ioErrNone ioErrKind = iota
	ioErrNotFound
	ioErrCorrupt
	ioErrPermission
	ioErrOther
)

func (k ioErrKind) String() string {
	switch k {
	case ioErrNone:
		return "none"
	case ioErrNotFound:
		return "not_found"
	case ioErrCorrupt:
		return "corrupt"
	case ioErrPermission:
		return "permission"
	default:
		return "other"
	}
}

func classifyIOErr(err error) ioErrKind {
	switch {
	case err == nil:
		return ioErrNone
	case errors.Is(err, fs.ErrNotExist):
		return ioErrNotFound
	case errors.Is(err, errCorrupt):
		return ioErrCorrupt
	case errors.Is(err, fs.ErrPermission):
		return ioErrPermission
	default:
		return ioErrOther
	}
}

// durableFile describes one entry file found on disk.
type durableFile struct {
	key  string
	path string
	size int64
}

// durableStore keeps one file per key under dir.
type durableStore struct {
	fs  afero.Fs
	dir string
}

func (s *durableStore) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

func (s *durableStore) init() error {
	if ok, err := afero.DirExists(s.fs, s.dir); err == nil && ok {
		return nil
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	return nil
}

func (s *durableStore) read(key string) ([]byte, error) {
	return afero.ReadFile(s.fs, s.path(key))
}

// write replaces the file for key atomically using temp file + rename, so a
// concurrent reader sees either the old or the new document.
func (s *durableStore) write(key string, data []byte) error {
	tmp := filepath.Join(s.dir, "."+key+"."+uuid.NewString()+".tmp")
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path(key)); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// remove deletes the file for key. A missing file is not an error.
func (s *durableStore) remove(key string) error {
	err := s.fs.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *durableStore) stat(key string) (os.FileInfo, error) {
	return s.fs.Stat(s.path(key))
}

// list returns every entry file in the directory.
func (s *durableStore) list() ([]durableFile, error) {
	matches, err := afero.Glob(s.fs, filepath.Join(s.dir, "*"+fileExt))
	if err != nil {
		return nil, err
	}
	files := make([]durableFile, 0, len(matches))
	for _, p := range matches {
		info, err := s.fs.Stat(p)
		if err != nil {
			// Removed between Glob and Stat.
			continue
		}
		if info.IsDir() {
			continue
		}
		files = append(files, durableFile{
			key:  strings.TrimSuffix(filepath.Base(p), fileExt),
			path: p,
			size: info.Size(),
		})
	}
	return files, nil
}

// usage returns the total size in bytes and the number of entry files.
func (s *durableStore) usage() (int64, int, error) {
	files, err := s.list()
	if err != nil {
		return 0, 0, err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	return total, len(files), nil
}
