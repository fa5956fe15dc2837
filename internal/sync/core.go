package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/loreleaf/loreleaf/internal/api"
	"github.com/loreleaf/loreleaf/internal/draft"
	"github.com/loreleaf/loreleaf/internal/editor"
	"github.com/loreleaf/loreleaf/internal/logging"
	"github.com/loreleaf/loreleaf/internal/metrics"
	"github.com/loreleaf/loreleaf/internal/push"
	"github.com/loreleaf/loreleaf/pkg/models"
	"github.com/loreleaf/loreleaf/pkg/protocol"
)

// Options configures the sync core.
type Options struct {
	// SweepInterval enables a periodic full-tree reconciliation sweep
	// as gap tolerance for missed push events. 0 disables it.
	SweepInterval time.Duration
}

// Core is the client-side synchronization core. It owns the in-memory
// tree and the active edit session, and is the only writer of either.
// All entry points return synchronously; network work is enqueued.
type Core struct {
	opts     Options
	api      *api.Client
	push     *push.Subscription
	store    *TreeStore
	engine   *Engine
	drafts   *draft.Store
	notifier *Notifier

	mu      gosync.Mutex
	session *editor.Session
	// editGen invalidates in-flight BeginEdit fetches: bumped on every
	// BeginEdit and CloseEdit, checked before a fetched session installs.
	editGen uint64

	runCtx    context.Context
	resyncing atomic.Bool
}

// New wires a sync core from its collaborators. The push subscription
// may be nil when push is disabled; the sweep then carries reconciliation.
func New(client *api.Client, sub *push.Subscription, drafts *draft.Store, opts Options) *Core {
	c := &Core{
		opts:     opts,
		api:      client,
		push:     sub,
		store:    NewTreeStore(),
		drafts:   drafts,
		notifier: NewNotifier(),
		runCtx:   context.Background(),
	}
	c.engine = NewEngine(c.runCtx, c.store, client, c.notifier, c.scheduleResync)
	return c
}

// Notifier returns the outcome-notification fan-out for the view layer.
func (c *Core) Notifier() *Notifier {
	return c.notifier
}

// Tree returns a read-only snapshot of the tree.
func (c *Core) Tree() []*models.Node {
	return c.store.Snapshot()
}

// Online reports whether the backend is currently reachable.
func (c *Core) Online() bool {
	return c.api.IsOnline()
}

// Run loads the initial tree and consumes push events until ctx ends.
func (c *Core) Run(ctx context.Context) error {
	c.runCtx = ctx
	c.engine.ctx = ctx

	roots, err := c.api.FetchTree(ctx)
	if err != nil {
		return fmt.Errorf("initial tree load: %w", err)
	}
	c.store.SetRoots(roots)
	logging.Info("tree loaded", logging.Int("nodes", len(c.store.Snapshot())))

	var events <-chan protocol.PushEvent
	if c.push != nil {
		// Events missed while disconnected are recovered by a full
		// re-fetch on every reconnect. The initial connect is skipped;
		// the tree was just loaded.
		first := true
		c.push.SetOnConnect(func() {
			if first {
				first = false
				return
			}
			c.scheduleResync()
		})
		events = c.push.Subscribe(ctx)
	}

	var sweep *time.Ticker
	var sweepC <-chan time.Time
	if c.opts.SweepInterval > 0 {
		sweep = time.NewTicker(c.opts.SweepInterval)
		sweepC = sweep.C
		defer sweep.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			c.drafts.Close()
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.HandleEvent(ev)

		case <-sweepC:
			c.scheduleResync()
		}
	}
}

// HandleEvent folds one push event into local state. Exposed so a host
// application can drive the core from its own event loop.
func (c *Core) HandleEvent(ev protocol.PushEvent) {
	metrics.RecordPushEvent(ev.Type)

	if ev.Type == protocol.EventDocument {
		// Tree status fold and edit-session reconciliation are
		// independent: a slow document fetch must not stall tree
		// updates for unrelated folders.
		if c.store.FoldEvent(ev) {
			c.refreshAfterPartialFold(ev)
		}
		go c.reconcileDocument(ev)
		return
	}

	targetID := ev.NodeID
	if targetID == "" {
		targetID = ev.DocumentID
	}

	if c.store.HasPending(targetID) {
		// An optimistic mutation is still settling; folding now could
		// race its rollback. Parked until the mutation resolves.
		c.store.DeferEvent(targetID, ev)
		return
	}

	if c.store.FoldEvent(ev) {
		c.refreshAfterPartialFold(ev)
	}
}

// refreshAfterPartialFold recovers from an event the fold could not
// apply. When the event names a loaded folder, only that folder's
// children are re-fetched; otherwise the whole tree is.
func (c *Core) refreshAfterPartialFold(ev protocol.PushEvent) {
	folderID := ev.FolderID
	if folderID == "" {
		folderID = ev.NewParentID
	}
	if folderID == "" || c.store.Get(folderID) == nil {
		c.scheduleResync()
		return
	}

	go func() {
		children, err := c.api.FetchSubtree(c.runCtx, folderID)
		if err == nil && c.store.ReplaceChildren(folderID, children) {
			metrics.RecordResync()
			return
		}
		c.scheduleResync()
	}()
}

// reconcileDocument feeds a document push event into the open edit
// session, if it targets the open document.
func (c *Core) reconcileDocument(ev protocol.PushEvent) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil || session.DocumentID() != ev.DocumentID {
		return
	}
	if ev.Status != models.StatusCompleted {
		return
	}

	content := ev.Content
	if content == "" {
		doc, err := c.api.FetchDocument(c.runCtx, ev.DocumentID)
		if err != nil {
			logging.Warn("failed to fetch remotely updated document",
				logging.String("document_id", ev.DocumentID), logging.Err(err))
			return
		}
		content = doc.Content
	}

	session.ApplyRemote(models.StatusCompleted, content)
}

// scheduleResync re-fetches the tree and folds it in, coalescing
// concurrent requests into one in-flight fetch.
func (c *Core) scheduleResync() {
	if !c.resyncing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.resyncing.Store(false)
		metrics.RecordResync()
		roots, err := c.api.FetchTree(c.runCtx)
		if err != nil {
			logging.Warn("tree re-sync failed", logging.Err(err))
			return
		}
		c.store.FoldFresh(roots)
	}()
}

// RequestCreate creates a node under parentID, optimistically visible
// immediately under a temporary ID.
func (c *Core) RequestCreate(parentID string, kind models.NodeKind, name string) (string, error) {
	return c.engine.RequestCreate(parentID, kind, name)
}

// RequestRename renames a node.
func (c *Core) RequestRename(nodeID, name string) error {
	return c.engine.RequestRename(nodeID, name)
}

// RequestMove re-parents a node.
func (c *Core) RequestMove(nodeID, newParentID string) error {
	return c.engine.RequestMove(nodeID, newParentID)
}

// RequestDelete deletes a node.
func (c *Core) RequestDelete(nodeID string) error {
	return c.engine.RequestDelete(nodeID)
}

// BeginEdit opens an edit session for a document. The fetch happens in
// the background; the session appears in ActiveSession once loaded. A
// stored draft takes precedence over the fetched content.
func (c *Core) BeginEdit(documentID string) error {
	c.mu.Lock()
	if c.session != nil && c.session.DocumentID() == documentID {
		c.session.SetEditing(true)
		c.mu.Unlock()
		return nil
	}
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	c.editGen++
	gen := c.editGen
	c.mu.Unlock()

	go func() {
		doc, err := c.api.FetchDocument(c.runCtx, documentID)

		c.mu.Lock()
		if c.editGen != gen {
			// A later BeginEdit or CloseEdit superseded this fetch.
			c.mu.Unlock()
			return
		}
		if err != nil {
			c.mu.Unlock()
			logging.Warn("document fetch failed",
				logging.String("document_id", documentID), logging.Err(err))
			c.notifier.Publish(Notification{
				Kind:       "edit",
				DocumentID: documentID,
				Outcome:    OutcomeRetryable,
				Reason:     err.Error(),
			})
			return
		}

		session := editor.NewSession(documentID, doc.Content, c.drafts, func(docID string) {
			c.notifier.Publish(Notification{
				Kind:       "draft",
				DocumentID: docID,
				Outcome:    OutcomeDiscarded,
				Reason:     "local changes discarded by remote update",
			})
		})
		session.SetEditing(true)
		c.session = session
		c.mu.Unlock()

		c.notifier.Publish(Notification{
			Kind:       "edit",
			DocumentID: documentID,
			Outcome:    OutcomeApplied,
		})
	}()

	return nil
}

// ActiveSession returns a snapshot of the open edit session, or nil.
func (c *Core) ActiveSession() *editor.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	snapshot := c.session.Snapshot()
	return &snapshot
}

// UpdateLocalContent applies a local edit to the open session.
func (c *Core) UpdateLocalContent(content string) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return
	}
	session.UpdateLocal(content)
}

// Save persists the open session's content. Closing the session does
// not cancel an in-flight save; a late response still settles the
// baseline, or is discarded harmlessly if the document vanished.
func (c *Core) Save() {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return
	}

	snapshot := session.Snapshot()
	go func() {
		_, err := c.api.SaveDocument(c.runCtx, snapshot.DocumentID, snapshot.LocalContent)
		if err != nil {
			if api.IsStaleTarget(err) {
				logging.Info("save target vanished, re-syncing",
					logging.String("document_id", snapshot.DocumentID))
				c.scheduleResync()
				return
			}
			outcome := OutcomeRetryable
			reason := err.Error()
			if rejected, ok := api.AsRejected(err); ok {
				outcome = OutcomeRejected
				reason = rejected.Reason
			}
			// Dirty state and the draft stay untouched on failure.
			c.notifier.Publish(Notification{
				Kind:       "save",
				DocumentID: snapshot.DocumentID,
				Outcome:    outcome,
				Reason:     reason,
			})
			return
		}

		session.MarkSaved(snapshot.LocalContent)
		c.notifier.Publish(Notification{
			Kind:       "save",
			DocumentID: snapshot.DocumentID,
			Outcome:    OutcomeApplied,
		})
	}()
}

// CloseEdit tears down the open session, flushing unsaved content to
// the draft cache. The draft survives navigation and reload.
func (c *Core) CloseEdit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editGen++
	if c.session == nil {
		return
	}
	c.session.Close()
	c.session = nil
}
