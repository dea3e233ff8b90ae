package linesort

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	streamerrors "github.com/tamirms/linesort/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// tempFile is one temporary backing file owned by a tempStore.
type tempFile struct {
	id   int
	file *os.File
	path string // empty for anonymous O_TMPFILE files
}

// tempStore allocates run files and guarantees their removal. A store is
// owned by exactly one sort; teardown must run on every exit path.
//
// The registry is guarded by mu because workers create files concurrently
// while the merger releases them.
type tempStore struct {
	dir     string
	session string // prefix for named fallback files
	logger  *zap.Logger

	mu     sync.Mutex
	files  map[int]*tempFile
	nextID int
	closed bool

	// created counts every file ever handed out, for Stats.
	created int
}

// newTempStore validates dir and returns an empty store.
func newTempStore(dir string, logger *zap.Logger) (*tempStore, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, storageError("stat temp dir", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: temp dir %s is not a directory", streamerrors.ErrTempStorage, dir)
	}
	return &tempStore{
		dir:     dir,
		session: "linesort-" + uuid.NewString(),
		logger:  logger,
		files:   make(map[int]*tempFile),
	}, nil
}

// create allocates a new read-write temp file and registers it.
// Tries O_TMPFILE first so the file never has a name; falls back to a
// session-prefixed named file.
func (s *tempStore) create() (*tempFile, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, streamerrors.ErrStoreClosed
	}
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	tf := &tempFile{id: id}
	f, err := openTmpFile(s.dir)
	if err == nil {
		tf.file = f
	} else {
		f, err = os.CreateTemp(s.dir, fmt.Sprintf("%s-%06d-*.run", s.session, id))
		if err != nil {
			return nil, storageError(fmt.Sprintf("create run file %d", id), err)
		}
		tf.file = f
		tf.path = f.Name()
	}

	s.mu.Lock()
	if s.closed {
		// teardown ran while the file was being created.
		s.mu.Unlock()
		return nil, errors.Join(streamerrors.ErrStoreClosed, tf.remove())
	}
	s.files[id] = tf
	s.created++
	s.mu.Unlock()
	return tf, nil
}

// release closes and removes the file with the given id. Releasing an id
// that is no longer registered is a no-op, so each file is removed once.
func (s *tempStore) release(id int) error {
	s.mu.Lock()
	tf, ok := s.files[id]
	delete(s.files, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := tf.remove(); err != nil {
		return storageError(fmt.Sprintf("remove run file %d", id), err)
	}
	return nil
}

// live returns the number of registered files.
func (s *tempStore) live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// teardown removes every remaining file and closes the store.
// Idempotent: later calls return nil.
func (s *tempStore) teardown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	files := s.files
	s.files = nil
	s.mu.Unlock()

	var errs []error
	for id, tf := range files {
		if err := tf.remove(); err != nil {
			errs = append(errs, storageError(fmt.Sprintf("remove run file %d", id), err))
		}
	}

	// Named files that never made it into the registry (crash between
	// CreateTemp and registration) share the session prefix.
	strays, _ := filepath.Glob(filepath.Join(s.dir, s.session+"-*.run"))
	for _, p := range strays {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, storageError("remove stray run file", err))
		}
	}

	s.logger.Debug("temp store torn down",
		zap.Int("released", len(files)),
		zap.Int("strays", len(strays)),
		zap.Int("created", s.created))
	return errors.Join(errs...)
}

// remove closes the file (anonymous files vanish here) and unlinks named ones.
func (tf *tempFile) remove() error {
	var errs []error
	if tf.file != nil {
		if err := tf.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
		tf.file = nil
	}
	if tf.path != "" {
		if err := os.Remove(tf.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove: %w", err))
		}
		tf.path = ""
	}
	return errors.Join(errs...)
}

// storageError wraps err as ErrTempStorage, adding ErrResourceExhausted when
// the cause is a full disk, quota or descriptor/memory exhaustion.
func storageError(op string, err error) error {
	if isExhaustion(err) {
		return fmt.Errorf("%w: %w: %s: %w", streamerrors.ErrTempStorage, streamerrors.ErrResourceExhausted, op, err)
	}
	return fmt.Errorf("%w: %s: %w", streamerrors.ErrTempStorage, op, err)
}

func isExhaustion(err error) bool {
	return errors.Is(err, unix.ENOSPC) ||
		errors.Is(err, unix.EDQUOT) ||
		errors.Is(err, unix.EMFILE) ||
		errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOMEM)
}
