// Package session persists the jellyroller session between invocations. The session
// is a single YAML document in the user's config directory, guarded by a lock file.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/jellyroller/jellyroller/internal/common/apperrors"
	"github.com/jellyroller/jellyroller/internal/common/uuid"
	"github.com/jellyroller/jellyroller/pkg/api"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFile is the name of the session file inside the config directory.
	DefaultFile = "session.yaml"
	// FormatVersion is written to every session file.
	FormatVersion = 1

	fileMode = 0o600
	dirMode  = 0o700
)

// DefaultPath returns the session file location, e.g. ~/.config/jellyroller/session.yaml on Linux.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "jellyroller", DefaultFile), nil
}

// document is the on-disk layout.
type document struct {
	Version     int `yaml:"version"`
	api.Session `yaml:",inline"`
}

// Store reads and writes the session file. Every operation holds the lock file for
// its whole duration and releases it on return.
type Store struct {
	path string
}

// NewStore returns a store for path. An empty path selects DefaultPath.
func NewStore(path string) (*Store, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	return &Store{path: path}, nil
}

// Path returns the session file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted session, or nil when none exists. A file that cannot be
// parsed or that violates the session invariants yields a SessionCorruptError.
func (s *Store) Load() (*api.Session, error) {
	if _, err := os.Stat(filepath.Dir(s.path)); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	var out *api.Session
	err := s.withLock(func() error {
		var err error
		out, err = s.read()
		return err
	})
	return out, err
}

// Save validates and writes session. A missing device id is generated and stored
// back into session; the validation time is normalised to UTC.
func (s *Store) Save(session *api.Session) error {
	if session == nil {
		return apperrors.Usagef("no session to save")
	}
	if err := session.Validate(); err != nil {
		return &apperrors.UsageError{Msg: fmt.Sprintf("invalid session: %v", err)}
	}
	if session.DeviceID == "" {
		session.DeviceID = uuid.Compact(uuid.New())
	}
	session.LastValidated = normalizeTime(session.LastValidated)
	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return s.withLock(func() error {
		return s.write(session)
	})
}

// Clear removes the session file. A missing file is not an error.
func (s *Store) Clear() error {
	if _, err := os.Stat(filepath.Dir(s.path)); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return s.withLock(func() error {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove session file: %w", err)
		}
		return nil
	})
}

// MarkStale flags the persisted session as stale without clearing it. It returns
// the updated session, or nil when there is nothing to flag.
func (s *Store) MarkStale() (*api.Session, error) {
	if _, err := os.Stat(filepath.Dir(s.path)); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	var out *api.Session
	err := s.withLock(func() error {
		current, err := s.read()
		if err != nil || current == nil {
			return err
		}
		if current.Stale {
			out = current
			return nil
		}
		current.Stale = true
		if err := s.write(current); err != nil {
			return err
		}
		out = current
		return nil
	})
	return out, err
}

func (s *Store) withLock(fn func() error) (err error) {
	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock session file: %w", err)
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("failed to unlock session file: %w", uerr)
		}
	}()
	return fn()
}

func (s *Store) read() (*api.Session, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read session file: %w", err)
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &apperrors.SessionCorruptError{Path: s.path, Err: err}
	}
	if doc.Version != FormatVersion {
		return nil, &apperrors.SessionCorruptError{Path: s.path, Err: fmt.Errorf("unsupported format version %d", doc.Version)}
	}
	if err := doc.Session.Validate(); err != nil {
		return nil, &apperrors.SessionCorruptError{Path: s.path, Err: err}
	}
	session := doc.Session
	session.LastValidated = normalizeTime(session.LastValidated)
	return &session, nil
}

// write replaces the session file atomically: temp file, sync, rename.
func (s *Store) write(session *api.Session) error {
	data, err := yaml.Marshal(document{Version: FormatVersion, Session: *session})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(fileMode); err != nil {
		return fmt.Errorf("failed to set session file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	committed = true
	log.Debug().Str("path", s.path).Msg("session saved")
	return nil
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
