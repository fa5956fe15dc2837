// Package draft provides the durable per-document cache for unsaved
// edits. Drafts survive process restarts; the store holds only content
// that genuinely differs from the server copy.
package draft

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loreleaf/loreleaf/internal/logging"
	"github.com/loreleaf/loreleaf/internal/metrics"
)

const (
	draftExt = ".draft"

	// A teardown flush is refused when the incoming content is both
	// less than half the size of the existing draft and shorter than
	// this floor. Guards against a transient empty read racing a real
	// edit during rapid navigation.
	shrinkGuardFloor = 64
)

// Store is a debounced, file-backed draft cache. Storage failures are
// logged and treated as cache misses, never surfaced to callers.
type Store struct {
	dir      string
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]string      // latest unwritten content per document
	timers  map[string]*time.Timer // debounce timers per document
}

// New creates a draft store rooted at dir.
func New(dir string, debounce time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Store{
		dir:      dir,
		debounce: debounce,
		pending:  make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(documentID string) string {
	safe := strings.ReplaceAll(documentID, "/", "_")
	return filepath.Join(s.dir, safe+draftExt)
}

// Get returns the cached draft for a document, preferring content that
// is scheduled but not yet written.
func (s *Store) Get(documentID string) (string, bool) {
	s.mu.Lock()
	if content, ok := s.pending[documentID]; ok {
		s.mu.Unlock()
		return content, true
	}
	s.mu.Unlock()

	data, err := os.ReadFile(s.path(documentID))
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("draft read failed, treating as miss",
				logging.String("document_id", documentID), logging.Err(err))
		}
		return "", false
	}
	return string(data), true
}

// Put schedules a debounced durable write of the draft. A burst of
// calls coalesces into one write of the latest content.
func (s *Store) Put(documentID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[documentID] = content

	if timer, ok := s.timers[documentID]; ok {
		timer.Reset(s.debounce)
		return
	}
	s.timers[documentID] = time.AfterFunc(s.debounce, func() {
		s.writePending(documentID)
	})
}

func (s *Store) writePending(documentID string) {
	s.mu.Lock()
	content, ok := s.pending[documentID]
	if ok {
		delete(s.pending, documentID)
	}
	delete(s.timers, documentID)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.write(documentID, content)
}

func (s *Store) write(documentID, content string) {
	path := s.path(documentID)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, []byte(content), 0600); err != nil {
		logging.Warn("draft write failed", logging.String("document_id", documentID), logging.Err(err))
		metrics.RecordDraftFlush("failed")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		logging.Warn("draft rename failed", logging.String("document_id", documentID), logging.Err(err))
		metrics.RecordDraftFlush("failed")
		return
	}
	metrics.RecordDraftFlush("written")
}

// Clear drops any scheduled write and removes the stored draft.
func (s *Store) Clear(documentID string) {
	s.mu.Lock()
	delete(s.pending, documentID)
	if timer, ok := s.timers[documentID]; ok {
		timer.Stop()
		delete(s.timers, documentID)
	}
	s.mu.Unlock()

	if err := os.Remove(s.path(documentID)); err != nil && !os.IsNotExist(err) {
		logging.Warn("draft remove failed", logging.String("document_id", documentID), logging.Err(err))
	}
}

// Flush writes a draft synchronously, superseding any scheduled write.
// Used on session teardown so the final keystrokes are never lost.
//
// The write is refused when an existing draft is present and the new
// content is drastically shorter (under half the existing size and
// below an absolute floor): a partial or empty buffer read must not
// clobber a real draft.
func (s *Store) Flush(documentID, content string) bool {
	s.mu.Lock()
	delete(s.pending, documentID)
	if timer, ok := s.timers[documentID]; ok {
		timer.Stop()
		delete(s.timers, documentID)
	}
	s.mu.Unlock()

	existing, err := os.ReadFile(s.path(documentID))
	if err == nil && len(existing) > 0 {
		if len(content) < len(existing)/2 && len(content) < shrinkGuardFloor {
			logging.Warn("draft flush refused: suspicious shrink",
				logging.String("document_id", documentID),
				logging.Int("existing_len", len(existing)),
				logging.Int("new_len", len(content)))
			metrics.RecordDraftFlush("refused")
			return false
		}
	}

	s.write(documentID, content)
	return true
}

// Has reports whether a draft exists for the document.
func (s *Store) Has(documentID string) bool {
	s.mu.Lock()
	if _, ok := s.pending[documentID]; ok {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	_, err := os.Stat(s.path(documentID))
	return err == nil
}

// List returns the document IDs with stored drafts, including pending
// unwritten ones.
func (s *Store) List() []string {
	seen := make(map[string]bool)

	s.mu.Lock()
	for id := range s.pending {
		seen[id] = true
	}
	s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		logging.Warn("draft list failed", logging.Err(err))
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, draftExt) {
			seen[strings.TrimSuffix(name, draftExt)] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}

// Close writes out all scheduled drafts synchronously.
func (s *Store) Close() {
	s.mu.Lock()
	pending := make(map[string]string, len(s.pending))
	for id, content := range s.pending {
		pending[id] = content
	}
	s.pending = make(map[string]string)
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	for id, content := range pending {
		s.write(id, content)
	}
}
