package bus

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

// deadLetterStore keeps exhausted deliveries on disk so they survive a
// restart even after the journal checkpoint has advanced past their offsets.
type deadLetterStore struct {
	mu      sync.Mutex
	dir     string
	path    string
	logger  *log.Logger
	entries []DeadLetter
}

func openDeadLetterStore(dir string, logger *log.Logger) (*deadLetterStore, error) {
	s := &deadLetterStore{dir: dir, path: filepath.Join(dir, "deadletters.json"), logger: logger}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	if err := sonic.Unmarshal(data, &s.entries); err != nil {
		logger.WithError(err).Warn("dead-letter store unreadable, starting empty")
		s.entries = nil
	}
	return s, nil
}

func (s *deadLetterStore) append(d DeadLetter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, d)
	if err := s.flushLocked(); err != nil {
		s.logger.WithError(err).Error("failed to persist dead letter")
	}
}

// flushLocked rewrites the whole file tmp+rename, like the journal
// checkpoint. The set stays small; operators are expected to drain it.
func (s *deadLetterStore) flushLocked() error {
	data, err := sonic.Marshal(s.entries)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := syncFile(tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	return syncDir(s.dir)
}

func (s *deadLetterStore) all() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetter(nil), s.entries...)
}

func (s *deadLetterStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
