package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/loreleaf/loreleaf/internal/api"
	"github.com/loreleaf/loreleaf/internal/logging"
	"github.com/loreleaf/loreleaf/internal/metrics"
	"github.com/loreleaf/loreleaf/pkg/models"
	"github.com/loreleaf/loreleaf/pkg/tree"
)

// Engine applies structural tree mutations optimistically, issues the
// corresponding requests, and reconciles or rolls back when they
// settle. All tree access goes through the TreeStore.
type Engine struct {
	store    *TreeStore
	api      *api.Client
	notifier *Notifier

	// resync schedules a tree re-fetch after a stale-target settlement.
	resync func()

	ctx context.Context
}

// NewEngine creates a mutation engine.
func NewEngine(ctx context.Context, store *TreeStore, client *api.Client, notifier *Notifier, resync func()) *Engine {
	if ctx == nil {
		ctx = context.Background()
	}
	if resync == nil {
		resync = func() {}
	}
	return &Engine{
		store:    store,
		api:      client,
		notifier: notifier,
		resync:   resync,
		ctx:      ctx,
	}
}

func newOperationID() string {
	return ulid.Make().String()
}

// RequestCreate optimistically creates a node under parentID and
// returns the temporary ID the view can render immediately. The
// temporary node is replaced in place once the server assigns identity.
func (e *Engine) RequestCreate(parentID string, kind models.NodeKind, name string) (string, error) {
	if parentID == "" {
		return "", fmt.Errorf("%w: create requires a parent", ErrVirtualNode)
	}
	parent := e.store.Get(parentID)
	if parent == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownNode, parentID)
	}
	if !parent.IsFolder() {
		return "", fmt.Errorf("%w: %s", ErrNotFolder, parentID)
	}

	tempID := "tmp-" + ulid.Make().String()
	node := &models.Node{
		ID:       tempID,
		ParentID: parentID,
		Kind:     kind,
		Name:     name,
	}
	if kind == models.KindFile {
		node.Status = models.StatusUploading
	}

	opID := newOperationID()
	if err := e.store.BeginCreate(opID, parentID, node); err != nil {
		return "", err
	}

	go func() {
		server, err := e.api.CreateNode(e.ctx, parentID, kind, name)
		if err != nil {
			e.settleFailure(MutationCreate, tempID, err)
			return
		}
		newID := e.store.ResolveCreate(tempID, server)
		metrics.RecordMutation(string(MutationCreate), "applied")
		e.notifier.Publish(Notification{
			Kind:    string(MutationCreate),
			NodeID:  newID,
			Outcome: OutcomeApplied,
		})
		e.afterResolve(newID)
	}()

	return tempID, nil
}

// RequestRename renames a node. Queued behind any in-flight mutation of
// the same node.
func (e *Engine) RequestRename(nodeID, name string) error {
	if err := e.checkMutable(nodeID); err != nil {
		return err
	}
	e.store.Enqueue(nodeID, func(targetID string) {
		e.startRename(targetID, name)
	})
	return nil
}

func (e *Engine) startRename(nodeID, name string) {
	opID := newOperationID()
	if err := e.store.BeginRename(opID, nodeID, name); err != nil {
		if errors.Is(err, ErrMutationInFlight) {
			// Dispatched into the window between a settlement and the
			// next waiter pickup. Queue again behind the record.
			e.store.Enqueue(nodeID, func(targetID string) {
				e.startRename(targetID, name)
			})
			return
		}
		e.publishLocalFailure(MutationRename, nodeID, err)
		e.afterResolve(nodeID)
		return
	}

	go func() {
		server, err := e.api.RenameNode(e.ctx, nodeID, name)
		if err != nil {
			e.settleFailure(MutationRename, nodeID, err)
			return
		}
		e.store.ResolveSuccess(nodeID, server)
		metrics.RecordMutation(string(MutationRename), "applied")
		e.notifier.Publish(Notification{
			Kind:    string(MutationRename),
			NodeID:  nodeID,
			Outcome: OutcomeApplied,
		})
		e.afterResolve(nodeID)
	}()
}

// RequestMove re-parents a node after the move validator accepts it.
func (e *Engine) RequestMove(nodeID, newParentID string) error {
	source := e.store.Get(nodeID)
	if source == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	destination := e.store.Get(newParentID)
	if destination == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, newParentID)
	}
	if denial := tree.CheckMove(source, destination); denial != tree.MoveOK {
		return fmt.Errorf("%w: %s", ErrIllegalMove, denial)
	}

	e.store.Enqueue(nodeID, func(targetID string) {
		e.startMove(targetID, newParentID)
	})
	return nil
}

func (e *Engine) startMove(nodeID, newParentID string) {
	opID := newOperationID()
	if err := e.store.BeginMove(opID, nodeID, newParentID); err != nil {
		if errors.Is(err, ErrMutationInFlight) {
			e.store.Enqueue(nodeID, func(targetID string) {
				e.startMove(targetID, newParentID)
			})
			return
		}
		e.publishLocalFailure(MutationMove, nodeID, err)
		e.afterResolve(nodeID)
		return
	}

	go func() {
		server, err := e.api.MoveNode(e.ctx, nodeID, newParentID)
		if err != nil {
			e.settleFailure(MutationMove, nodeID, err)
			return
		}
		e.store.ResolveSuccess(nodeID, server)
		metrics.RecordMutation(string(MutationMove), "applied")
		e.notifier.Publish(Notification{
			Kind:    string(MutationMove),
			NodeID:  nodeID,
			Outcome: OutcomeApplied,
		})
		e.afterResolve(nodeID)
	}()
}

// RequestDelete removes a node optimistically.
func (e *Engine) RequestDelete(nodeID string) error {
	if err := e.checkMutable(nodeID); err != nil {
		return err
	}
	e.store.Enqueue(nodeID, func(targetID string) {
		e.startDelete(targetID)
	})
	return nil
}

func (e *Engine) startDelete(nodeID string) {
	opID := newOperationID()
	if err := e.store.BeginDelete(opID, nodeID); err != nil {
		if errors.Is(err, ErrMutationInFlight) {
			e.store.Enqueue(nodeID, func(targetID string) {
				e.startDelete(targetID)
			})
			return
		}
		e.publishLocalFailure(MutationDelete, nodeID, err)
		e.afterResolve(nodeID)
		return
	}

	go func() {
		err := e.api.DeleteNode(e.ctx, nodeID)
		if err != nil && !api.IsStaleTarget(err) {
			// A 404 means another actor already deleted it: the
			// optimistic removal is exactly what happened.
			e.settleFailure(MutationDelete, nodeID, err)
			return
		}
		e.store.ResolveSuccess(nodeID, nil)
		metrics.RecordMutation(string(MutationDelete), "applied")
		e.notifier.Publish(Notification{
			Kind:    string(MutationDelete),
			NodeID:  nodeID,
			Outcome: OutcomeApplied,
		})
		e.afterResolve(nodeID)
	}()
}

func (e *Engine) checkMutable(nodeID string) error {
	node := e.store.Get(nodeID)
	if node == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	if node.Virtual {
		return ErrVirtualNode
	}
	return nil
}

// settleFailure classifies a failed request and settles the pending
// mutation: stale targets skip rollback and trigger a re-sync, all
// other failures roll the optimistic state back.
func (e *Engine) settleFailure(kind MutationKind, targetID string, err error) {
	switch {
	case api.IsStaleTarget(err):
		// The target vanished server-side. For create the stale node is
		// the parent, so the temporary child has to come back out; for
		// the rest there is nothing left to restore.
		if kind == MutationCreate {
			e.store.Rollback(targetID)
		} else {
			e.store.Discard(targetID)
		}
		metrics.RecordMutation(string(kind), "stale")
		logging.Info("mutation target vanished, re-syncing",
			logging.String("kind", string(kind)),
			logging.String("node_id", targetID))
		e.resync()

	default:
		e.store.Rollback(targetID)
		outcome := OutcomeRetryable
		reason := err.Error()
		if rejected, ok := api.AsRejected(err); ok {
			outcome = OutcomeRejected
			reason = rejected.Reason
		}
		metrics.RecordMutation(string(kind), string(outcome))
		logging.Warn("mutation rolled back",
			logging.String("kind", string(kind)),
			logging.String("node_id", targetID),
			logging.Err(err))
		e.notifier.Publish(Notification{
			Kind:    string(kind),
			NodeID:  targetID,
			Outcome: outcome,
			Reason:  reason,
		})
	}

	e.afterResolve(targetID)
}

func (e *Engine) publishLocalFailure(kind MutationKind, nodeID string, err error) {
	metrics.RecordMutation(string(kind), string(OutcomeRejected))
	e.notifier.Publish(Notification{
		Kind:    string(kind),
		NodeID:  nodeID,
		Outcome: OutcomeRejected,
		Reason:  err.Error(),
	})
}

// afterResolve re-folds push events deferred behind the settled
// mutation and starts the next queued operation for the node.
func (e *Engine) afterResolve(nodeID string) {
	for _, ev := range e.store.TakeDeferred(nodeID) {
		if e.store.FoldEvent(ev) {
			e.resync()
		}
	}
	if job, id := e.store.NextWaiter(nodeID); job != nil {
		job(id)
	}
}
