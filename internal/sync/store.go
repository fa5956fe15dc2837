// Package sync implements the client-side state synchronization core:
// an in-memory knowledge-base tree kept consistent across optimistic
// local mutations, server confirmations, and push updates from other
// actors.
package sync

import (
	"errors"
	"fmt"
	gosync "sync"

	"github.com/loreleaf/loreleaf/internal/logging"
	"github.com/loreleaf/loreleaf/internal/metrics"
	"github.com/loreleaf/loreleaf/pkg/models"
	"github.com/loreleaf/loreleaf/pkg/protocol"
	"github.com/loreleaf/loreleaf/pkg/tree"
)

var (
	// ErrUnknownNode is returned when an operation targets a node that
	// is not in the loaded tree.
	ErrUnknownNode = errors.New("unknown node")
	// ErrVirtualNode is returned when a mutation targets a collection root.
	ErrVirtualNode = errors.New("collection roots cannot be mutated")
	// ErrNotFolder is returned when a folder operation targets a file.
	ErrNotFolder = errors.New("not a folder")
	// ErrIllegalMove is returned when the move validator rejects a move.
	ErrIllegalMove = errors.New("illegal move")
	// ErrMutationInFlight is returned when a Begin* call targets a node
	// that already has a pending mutation. At most one mutation may be
	// in flight per node; callers queue behind it instead.
	ErrMutationInFlight = errors.New("mutation already in flight")
)

// MutationKind names a structural mutation.
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationRename MutationKind = "rename"
	MutationMove   MutationKind = "move"
	MutationDelete MutationKind = "delete"
)

// PendingMutation tracks one in-flight structural operation. At most
// one may reference a given target node; later operations on the same
// node queue behind it.
type PendingMutation struct {
	OperationID string
	Kind        MutationKind
	TargetID    string

	snapshot *undoSnapshot
}

// undoSnapshot is the minimal fragment needed to invert a mutation.
type undoSnapshot struct {
	node     *models.Node // deep copy taken before the optimistic apply
	parentID string
	index    int
}

type queuedJob func(targetID string)

// TreeStore owns the in-memory tree. It is the single mutation entry
// point: both the optimistic mutation engine and push-event folding go
// through it so pending-mutation bookkeeping stays consistent. No
// component patches nodes directly.
type TreeStore struct {
	mu       gosync.Mutex
	roots    []*models.Node
	pending  map[string]*PendingMutation
	deferred map[string][]protocol.PushEvent
	waiters  map[string][]queuedJob
}

// NewTreeStore creates an empty tree store.
func NewTreeStore() *TreeStore {
	return &TreeStore{
		pending:  make(map[string]*PendingMutation),
		deferred: make(map[string][]protocol.PushEvent),
		waiters:  make(map[string][]queuedJob),
	}
}

// SetRoots replaces the loaded tree (initial fetch or full resync).
func (s *TreeStore) SetRoots(roots []*models.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots = tree.CloneForest(roots)
	s.recountLocked()
}

// ReplaceChildren swaps in a freshly fetched children set for a folder.
// Returns false when the folder is not loaded or any mutation is in
// flight; the caller falls back to a full re-sync in that case.
func (s *TreeStore) ReplaceChildren(folderID string, children []*models.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		return false
	}
	folder := tree.FindByID(s.roots, folderID)
	if folder == nil || !folder.IsFolder() {
		return false
	}

	folder.Children = tree.CloneForest(children)
	for _, child := range folder.Children {
		child.ParentID = folder.ID
	}
	s.recountLocked()
	return true
}

// Snapshot returns a deep copy of the tree for the view layer.
func (s *TreeStore) Snapshot() []*models.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tree.CloneForest(s.roots)
}

// Get returns a deep copy of a node, or nil.
func (s *TreeStore) Get(id string) *models.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tree.Clone(tree.FindByID(s.roots, id))
}

// HasPending reports whether a mutation is in flight for the node.
func (s *TreeStore) HasPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// recountLocked refreshes derived counts and the size gauge. Counts are
// always recomputed from the children sequence, never adjusted
// incrementally, so they cannot drift after a rollback.
func (s *TreeStore) recountLocked() {
	for _, root := range s.roots {
		tree.RecomputeCounts(root)
	}
	metrics.SetTreeNodes(tree.CountNodes(s.roots))
}

// Enqueue runs job for the node now, or queues it behind the node's
// in-flight mutation. A queued job receives the node's current ID when
// it finally runs (a temporary create ID may have been replaced by the
// server-assigned one in the meantime).
func (s *TreeStore) Enqueue(nodeID string, job queuedJob) {
	s.mu.Lock()
	if _, busy := s.pending[nodeID]; busy {
		s.waiters[nodeID] = append(s.waiters[nodeID], job)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	job(nodeID)
}

// NextWaiter pops the next queued job for a node, if any.
func (s *TreeStore) NextWaiter(nodeID string) (queuedJob, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.waiters[nodeID]
	if len(queue) == 0 {
		delete(s.waiters, nodeID)
		return nil, ""
	}
	job := queue[0]
	if len(queue) == 1 {
		delete(s.waiters, nodeID)
	} else {
		s.waiters[nodeID] = queue[1:]
	}
	return job, nodeID
}

// DeferEvent parks a push event for a node with an in-flight mutation.
// It is re-folded once the mutation resolves.
func (s *TreeStore) DeferEvent(nodeID string, ev protocol.PushEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferred[nodeID] = append(s.deferred[nodeID], ev)
	metrics.RecordPushDeferred()
}

// TakeDeferred removes and returns the parked events for a node.
func (s *TreeStore) TakeDeferred(nodeID string) []protocol.PushEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.deferred[nodeID]
	delete(s.deferred, nodeID)
	return events
}

// BeginCreate optimistically inserts a temporary node under parent and
// records the pending mutation keyed by the temporary ID.
func (s *TreeStore) BeginCreate(operationID, parentID string, node *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.pending[node.ID]; busy {
		return fmt.Errorf("%w: %s", ErrMutationInFlight, node.ID)
	}
	parent := tree.FindByID(s.roots, parentID)
	if parent == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, parentID)
	}
	if !parent.IsFolder() {
		return fmt.Errorf("%w: %s", ErrNotFolder, parentID)
	}

	tree.InsertChild(parent, node, len(parent.Children))
	s.pending[node.ID] = &PendingMutation{
		OperationID: operationID,
		Kind:        MutationCreate,
		TargetID:    node.ID,
	}
	s.recountLocked()
	return nil
}

// BeginRename optimistically renames a node.
func (s *TreeStore) BeginRename(operationID, nodeID, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.pending[nodeID]; busy {
		return fmt.Errorf("%w: %s", ErrMutationInFlight, nodeID)
	}
	node := tree.FindByID(s.roots, nodeID)
	if node == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	if node.Virtual {
		return ErrVirtualNode
	}

	s.pending[nodeID] = &PendingMutation{
		OperationID: operationID,
		Kind:        MutationRename,
		TargetID:    nodeID,
		snapshot:    s.snapshotLocked(node),
	}
	node.Name = newName
	return nil
}

// BeginMove optimistically re-parents a node. The move validator must
// have accepted the move already; this re-checks under the lock.
func (s *TreeStore) BeginMove(operationID, nodeID, newParentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.pending[nodeID]; busy {
		return fmt.Errorf("%w: %s", ErrMutationInFlight, nodeID)
	}
	node := tree.FindByID(s.roots, nodeID)
	if node == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	newParent := tree.FindByID(s.roots, newParentID)
	if newParent == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, newParentID)
	}
	if denial := tree.CheckMove(node, newParent); denial != tree.MoveOK {
		return fmt.Errorf("%w: %s", ErrIllegalMove, denial)
	}

	snapshot := s.snapshotLocked(node)

	oldParent := tree.FindByID(s.roots, node.ParentID)
	if oldParent == nil {
		return fmt.Errorf("%w: parent %s", ErrUnknownNode, node.ParentID)
	}
	moved, _ := tree.RemoveChild(oldParent, nodeID)
	tree.InsertChild(newParent, moved, len(newParent.Children))

	s.pending[nodeID] = &PendingMutation{
		OperationID: operationID,
		Kind:        MutationMove,
		TargetID:    nodeID,
		snapshot:    snapshot,
	}
	s.recountLocked()
	return nil
}

// BeginDelete optimistically removes a node, keeping a subtree snapshot
// for rollback.
func (s *TreeStore) BeginDelete(operationID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.pending[nodeID]; busy {
		return fmt.Errorf("%w: %s", ErrMutationInFlight, nodeID)
	}
	node := tree.FindByID(s.roots, nodeID)
	if node == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	if node.Virtual {
		return ErrVirtualNode
	}

	snapshot := s.snapshotLocked(node)

	parent := tree.FindByID(s.roots, node.ParentID)
	if parent == nil {
		return fmt.Errorf("%w: parent %s", ErrUnknownNode, node.ParentID)
	}
	tree.RemoveChild(parent, nodeID)

	s.pending[nodeID] = &PendingMutation{
		OperationID: operationID,
		Kind:        MutationDelete,
		TargetID:    nodeID,
		snapshot:    snapshot,
	}
	s.recountLocked()
	return nil
}

// snapshotLocked captures the fragment needed to undo a mutation of node.
func (s *TreeStore) snapshotLocked(node *models.Node) *undoSnapshot {
	snapshot := &undoSnapshot{
		node:     tree.Clone(node),
		parentID: node.ParentID,
		index:    -1,
	}
	if parent := tree.FindByID(s.roots, node.ParentID); parent != nil {
		for i, child := range parent.Children {
			if child.ID == node.ID {
				snapshot.index = i
				break
			}
		}
	}
	return snapshot
}

// ResolveCreate replaces the temporary node with the server-assigned
// one, preserving any children accumulated since the optimistic apply.
// Queued jobs and deferred events migrate to the new ID. Returns the
// server-assigned ID.
func (s *TreeStore) ResolveCreate(tempID string, server *models.Node) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, tempID)

	temp := tree.FindByID(s.roots, tempID)
	if temp == nil {
		// Vanished meanwhile (e.g. parent deleted by another actor).
		logging.Warn("created node vanished before confirmation",
			logging.String("temp_id", tempID))
		return server.ID
	}

	temp.ID = server.ID
	temp.Name = server.Name
	temp.Kind = server.Kind
	temp.Status = server.Status
	if server.ParentID != "" {
		temp.ParentID = server.ParentID
	}
	if len(server.Children) > 0 && len(temp.Children) == 0 {
		temp.Children = tree.CloneForest(server.Children)
	}
	for _, child := range temp.Children {
		child.ParentID = temp.ID
	}

	if queue, ok := s.waiters[tempID]; ok {
		s.waiters[server.ID] = append(s.waiters[server.ID], queue...)
		delete(s.waiters, tempID)
	}
	if events, ok := s.deferred[tempID]; ok {
		s.deferred[server.ID] = append(s.deferred[server.ID], events...)
		delete(s.deferred, tempID)
	}

	s.recountLocked()
	return server.ID
}

// ResolveSuccess settles a confirmed rename/move/delete. Authoritative
// fields from the response overwrite local guesses when provided.
func (s *TreeStore) ResolveSuccess(targetID string, authoritative *models.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, targetID)

	if authoritative == nil {
		return
	}
	node := tree.FindByID(s.roots, targetID)
	if node == nil {
		return
	}
	if authoritative.Name != "" {
		node.Name = authoritative.Name
	}
	if authoritative.Status != "" {
		node.Status = authoritative.Status
	}
}

// Rollback inverts an optimistic mutation using its snapshot and drops
// the pending record.
func (s *TreeStore) Rollback(targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.pending[targetID]
	if !ok {
		return
	}
	delete(s.pending, targetID)

	switch record.Kind {
	case MutationCreate:
		s.removeLocked(targetID)

	case MutationRename:
		if node := tree.FindByID(s.roots, targetID); node != nil && record.snapshot != nil {
			node.Name = record.snapshot.node.Name
		}

	case MutationMove:
		node := tree.FindByID(s.roots, targetID)
		if node == nil || record.snapshot == nil {
			break
		}
		if current := tree.FindByID(s.roots, node.ParentID); current != nil {
			tree.RemoveChild(current, targetID)
		}
		if oldParent := tree.FindByID(s.roots, record.snapshot.parentID); oldParent != nil {
			tree.InsertChild(oldParent, node, record.snapshot.index)
		} else {
			logging.Warn("rollback: original parent gone",
				logging.String("node_id", targetID))
		}

	case MutationDelete:
		if record.snapshot == nil {
			break
		}
		if parent := tree.FindByID(s.roots, record.snapshot.parentID); parent != nil {
			tree.InsertChild(parent, tree.Clone(record.snapshot.node), record.snapshot.index)
		} else {
			logging.Warn("rollback: original parent gone",
				logging.String("node_id", targetID))
		}
	}

	s.recountLocked()
}

// Discard drops a pending record without rolling back. Used when the
// target vanished server-side: there is nothing left to restore, the
// optimistic state is reconciled by a re-fetch instead.
func (s *TreeStore) Discard(targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, targetID)
}

func (s *TreeStore) removeLocked(nodeID string) {
	node := tree.FindByID(s.roots, nodeID)
	if node == nil {
		return
	}
	if parent := tree.FindByID(s.roots, node.ParentID); parent != nil {
		tree.RemoveChild(parent, nodeID)
	}
}
