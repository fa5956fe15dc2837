// Package editor owns the live edit session for an open document and
// reconciles local edits against server state and remote updates.
package editor

import (
	"sync"

	"github.com/loreleaf/loreleaf/internal/draft"
	"github.com/loreleaf/loreleaf/internal/logging"
	"github.com/loreleaf/loreleaf/internal/metrics"
	"github.com/loreleaf/loreleaf/pkg/models"
)

// State is the edit session's reconciliation state.
type State int

const (
	// StateClean: local content matches the server copy, no draft stored.
	StateClean State = iota
	// StateDirty: local content diverges; the draft cache holds it.
	StateDirty
	// StateExternallyUpdated: a completed remote update replaced the
	// content. Equivalent to Clean for the cache invariant; kept as a
	// distinct state so the view can show what happened.
	StateExternallyUpdated
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateExternallyUpdated:
		return "externally-updated"
	}
	return "unknown"
}

// Snapshot is a read-only copy of the session handed to the view layer.
type Snapshot struct {
	DocumentID    string
	LocalContent  string
	ServerContent string
	State         State
	Editing       bool
}

// Session reconciles one open document's edit buffer.
type Session struct {
	documentID string
	drafts     *draft.Store

	// onDiscard is raised when a remote update discards an unsaved draft.
	onDiscard func(documentID string)

	mu            sync.Mutex
	serverContent string
	localContent  string
	state         State
	editing       bool
	closed        bool
}

// NewSession opens a session for a document whose server content was
// just fetched. A stored draft, if present, takes precedence over the
// fetched content for the edit buffer; the fetched content still seeds
// the comparison baseline.
func NewSession(documentID, serverContent string, drafts *draft.Store, onDiscard func(string)) *Session {
	s := &Session{
		documentID:    documentID,
		drafts:        drafts,
		onDiscard:     onDiscard,
		serverContent: serverContent,
		localContent:  serverContent,
		state:         StateClean,
	}

	if cached, ok := drafts.Get(documentID); ok && cached != serverContent {
		logging.Info("restoring unsaved draft",
			logging.String("document_id", documentID),
			logging.Int("draft_len", len(cached)))
		s.localContent = cached
		s.state = StateDirty
	} else if ok {
		// Draft matches the server copy: nothing genuinely unsaved.
		drafts.Clear(documentID)
	}

	return s
}

// DocumentID returns the session's document.
func (s *Session) DocumentID() string {
	return s.documentID
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		DocumentID:    s.documentID,
		LocalContent:  s.localContent,
		ServerContent: s.serverContent,
		State:         s.state,
		Editing:       s.editing,
	}
}

// State returns the current reconciliation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetEditing enters or leaves edit mode.
func (s *Session) SetEditing(editing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = editing
}

// Editing reports whether the session is accepting edits.
func (s *Session) Editing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing
}

// UpdateLocal applies a local content change. Divergence from the
// server copy schedules a durable draft write; manual reversion to the
// server copy clears the draft.
func (s *Session) UpdateLocal(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.localContent = content

	if content == s.serverContent {
		if s.state == StateDirty {
			s.state = StateClean
		}
		s.drafts.Clear(s.documentID)
		return
	}

	s.state = StateDirty
	s.drafts.Put(s.documentID, content)
}

// MarkSaved records a successful save of the given content. Safe to
// call after Close: a save that was in flight when the session closed
// still settles the baseline and cache.
func (s *Session) MarkSaved(saved string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.serverContent = saved
	if s.localContent == saved {
		s.drafts.Clear(s.documentID)
		s.state = StateClean
	}
	// Local content moved on during the save: stay dirty, keep the draft.
}

// ApplyRemote folds a push event for this document into the session.
// Completed remote updates take precedence over an unsaved draft: the
// in-scope background agents' output is authoritative, and an unsaved
// draft is the lesser loss. Returns true if state changed.
func (s *Session) ApplyRemote(status models.FileStatus, content string) bool {
	if status != models.StatusCompleted {
		// Intermediate statuses carry no authoritative content.
		return false
	}

	s.mu.Lock()

	// Idempotent: already reflecting this content.
	if s.serverContent == content && s.localContent == content {
		s.mu.Unlock()
		return false
	}

	discarded := s.state == StateDirty && s.localContent != content

	s.serverContent = content
	s.localContent = content
	s.state = StateExternallyUpdated
	s.drafts.Clear(s.documentID)
	// Editing mode is deliberately untouched: a refresh underneath the
	// user must not kick them out of the editor.

	s.mu.Unlock()

	if discarded {
		logging.Warn("local draft discarded by remote update",
			logging.String("document_id", s.documentID))
		metrics.RecordRemoteDiscard()
		if s.onDiscard != nil {
			s.onDiscard(s.documentID)
		}
	}
	return true
}

// AckRemoteUpdate collapses ExternallyUpdated back to Clean once the
// view has shown the refresh.
func (s *Session) AckRemoteUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateExternallyUpdated {
		s.state = StateClean
	}
}

// Close tears the session down. Unsaved content is flushed to the draft
// cache synchronously; the draft deliberately survives navigation and
// reload. In-flight saves are not cancelled.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.editing = false

	if s.localContent != s.serverContent {
		s.drafts.Flush(s.documentID, s.localContent)
	}
}
