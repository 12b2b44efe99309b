package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zeebo/xxh3"

	"github.com/symbolindex/indexd/pkg/content"
)

// MinSerializableFiles is the write threshold: below it a cache file is
// not worth the I/O and any existing one is deleted instead.
const MinSerializableFiles = 4

// maxBaseNameLength caps the readable part of a cache file name.
const maxBaseNameLength = 32

// Store maps projects to cache files under one persistence directory. An
// empty directory disables caching entirely; Load and Save both no-op.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. dir may be empty to disable
// caching.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Enabled reports whether a persistence directory is configured.
func (s *Store) Enabled() bool { return s != nil && s.dir != "" }

// FileName derives the cache file name for a project: the last 32
// characters of the project file's base name plus an 8-hex-digit stable
// hash of the full project path.
func (s *Store) FileName(projectPath string) string {
	base := filepath.Base(projectPath)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if len(base) > maxBaseNameLength {
		base = base[len(base)-maxBaseNameLength:]
	}
	hash := uint32(xxh3.HashString(projectPath))
	return fmt.Sprintf("%s.%08x.prj", base, hash)
}

// Path returns the absolute cache file path for a project, or "" when
// caching is disabled.
func (s *Store) Path(projectPath string) string {
	if !s.Enabled() {
		return ""
	}
	return filepath.Join(s.dir, s.FileName(projectPath))
}

// Load reads the cached content for a project. Every failure mode (absent
// file, permission error, header mismatch, corrupt stream) degrades to a
// cache miss and returns nil.
func (s *Store) Load(projectPath string) *content.ProjectContent {
	path := s.Path(projectPath)
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Debug().Str("path", path).Err(err).Msg("Cannot open content cache")
		}
		return nil
	}
	defer f.Close()

	pc, err := Decode(f)
	if err != nil {
		log.Debug().Str("path", path).Err(err).Msg("Discarding unreadable content cache")
		return nil
	}
	log.Debug().Str("path", path).Int("files", pc.FileCount()).Msg("Loaded content cache")
	return pc
}

// Save persists pc for a project. Fewer than four serializable files means
// the index is not worth caching: any existing cache file is removed and
// Save returns nil. I/O errors are returned for logging but callers treat
// them as best-effort.
func (s *Store) Save(projectPath string, pc *content.ProjectContent) error {
	path := s.Path(projectPath)
	if path == "" {
		return nil
	}
	if serializableCount(pc) < MinSerializableFiles {
		os.Remove(path)
		return nil
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	err = Encode(f, pc)
	closeErr := f.Close()
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("encode cache file: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close cache file: %w", closeErr)
	}
	log.Debug().Str("path", path).Msg("Wrote content cache")
	return nil
}

// Remove deletes the cache file for a project, if any.
func (s *Store) Remove(projectPath string) {
	if path := s.Path(projectPath); path != "" {
		os.Remove(path)
	}
}

// serializableCount reports how many files would survive Encode.
func serializableCount(pc *content.ProjectContent) int {
	n := 0
	for _, f := range pc.Files() {
		if f.Serializable() {
			n++
		}
	}
	return n
}
