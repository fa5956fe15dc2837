package sync

import (
	"github.com/loreleaf/loreleaf/internal/logging"
	"github.com/loreleaf/loreleaf/pkg/models"
	"github.com/loreleaf/loreleaf/pkg/protocol"
	"github.com/loreleaf/loreleaf/pkg/tree"
)

// FoldEvent folds a structural push event into the tree. Folding is
// idempotent: applying the same event twice yields the same tree.
// Returns true when the event references state outside the loaded
// window and the caller should re-fetch the affected subtree instead —
// partial-information folding is an optimization, not a requirement.
func (s *TreeStore) FoldEvent(ev protocol.PushEvent) (needResync bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodeID := ev.NodeID
	if nodeID == "" {
		nodeID = ev.DocumentID
	}

	switch ev.Type {
	case protocol.EventCreated:
		if tree.FindByID(s.roots, nodeID) != nil {
			return false // already present
		}
		parent := tree.FindByID(s.roots, ev.FolderID)
		if parent == nil || !parent.IsFolder() {
			return true
		}
		tree.InsertChild(parent, nodeFromEvent(nodeID, ev), len(parent.Children))
		s.recountLocked()
		return false

	case protocol.EventDeleted:
		if tree.FindByID(s.roots, nodeID) == nil {
			return false // already gone
		}
		s.removeLocked(nodeID)
		s.recountLocked()
		return false

	case protocol.EventRenamed:
		node := tree.FindByID(s.roots, nodeID)
		if node == nil {
			return true
		}
		node.Name = ev.Name
		return false

	case protocol.EventMoved:
		node := tree.FindByID(s.roots, nodeID)
		if node == nil {
			return true
		}
		if node.ParentID == ev.NewParentID {
			return false // already moved
		}
		newParent := tree.FindByID(s.roots, ev.NewParentID)
		if newParent == nil || !newParent.IsFolder() {
			return true
		}
		if current := tree.FindByID(s.roots, node.ParentID); current != nil {
			tree.RemoveChild(current, nodeID)
		}
		tree.InsertChild(newParent, node, len(newParent.Children))
		s.recountLocked()
		return false

	case protocol.EventDocument:
		node := tree.FindByID(s.roots, nodeID)
		if node == nil {
			return true
		}
		node.Status = ev.Status
		return false

	default:
		logging.Debug("unknown push event type ignored",
			logging.String("type", ev.Type))
		return false
	}
}

func nodeFromEvent(nodeID string, ev protocol.PushEvent) *models.Node {
	kind := ev.Kind
	if kind == "" {
		if ev.DocumentID != "" {
			kind = models.KindFile
		} else {
			kind = models.KindFolder
		}
	}
	return &models.Node{
		ID:       nodeID,
		ParentID: ev.FolderID,
		Kind:     kind,
		Name:     ev.Name,
		Status:   ev.Status,
	}
}

// FoldFresh reconciles a freshly fetched tree into local state, used by
// the periodic sweep and the missing-parent fallback. Nodes with an
// in-flight mutation keep their optimistic state; everything else
// adopts the server copy.
func (s *TreeStore) FoldFresh(fresh []*models.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		s.roots = tree.CloneForest(fresh)
		s.recountLocked()
		return
	}

	diff := tree.Compare(s.roots, fresh)

	for _, added := range diff.Added {
		if _, busy := s.pending[added.ID]; busy {
			continue
		}
		if tree.FindByID(s.roots, added.ID) != nil {
			continue
		}
		parent := tree.FindByID(s.roots, added.ParentID)
		if parent == nil {
			continue // its ancestor was skipped
		}
		copied := *added
		copied.Children = nil
		tree.InsertChild(parent, &copied, len(parent.Children))
	}

	for _, removed := range diff.Removed {
		if _, busy := s.pending[removed.ID]; busy {
			continue
		}
		s.removeLocked(removed.ID)
	}

	for _, renamed := range diff.Renamed {
		if _, busy := s.pending[renamed.ID]; busy {
			continue
		}
		if node := tree.FindByID(s.roots, renamed.ID); node != nil {
			node.Name = renamed.Name
		}
	}

	for _, moved := range diff.Moved {
		if _, busy := s.pending[moved.ID]; busy {
			continue
		}
		node := tree.FindByID(s.roots, moved.ID)
		newParent := tree.FindByID(s.roots, moved.ParentID)
		if node == nil || newParent == nil || !newParent.IsFolder() {
			continue
		}
		if current := tree.FindByID(s.roots, node.ParentID); current != nil {
			tree.RemoveChild(current, node.ID)
		}
		tree.InsertChild(newParent, node, len(newParent.Children))
	}

	for _, changed := range diff.Status {
		if _, busy := s.pending[changed.ID]; busy {
			continue
		}
		if node := tree.FindByID(s.roots, changed.ID); node != nil {
			node.Status = changed.Status
		}
	}

	s.recountLocked()
}
