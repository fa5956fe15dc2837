package sync

import (
	"errors"
	"testing"

	"github.com/loreleaf/loreleaf/pkg/models"
	"github.com/loreleaf/loreleaf/pkg/protocol"
	"github.com/loreleaf/loreleaf/pkg/tree"
)

func testRoots() []*models.Node {
	// root (virtual)
	//   docs/
	//     a.txt
	//     b.txt
	//   archive/
	return []*models.Node{
		{
			ID: "root", Kind: models.KindFolder, Name: "My Collection", Virtual: true,
			Children: []*models.Node{
				{
					ID: "docs", ParentID: "root", Kind: models.KindFolder, Name: "docs",
					Children: []*models.Node{
						{ID: "a", ParentID: "docs", Kind: models.KindFile, Name: "a.txt", Status: models.StatusCompleted},
						{ID: "b", ParentID: "docs", Kind: models.KindFile, Name: "b.txt", Status: models.StatusCompleted},
					},
				},
				{ID: "archive", ParentID: "root", Kind: models.KindFolder, Name: "archive"},
			},
		},
	}
}

func newTestStore() *TreeStore {
	s := NewTreeStore()
	s.SetRoots(testRoots())
	return s
}

func TestSnapshotIsIndependent(t *testing.T) {
	s := newTestStore()
	snap := s.Snapshot()
	tree.FindByID(snap, "a").Name = "mutated"

	if s.Get("a").Name == "mutated" {
		t.Error("mutating a snapshot must not affect the store")
	}
}

func TestBeginRenameAndRollback(t *testing.T) {
	s := newTestStore()

	if err := s.BeginRename("op1", "a", "renamed.txt"); err != nil {
		t.Fatalf("BeginRename: %v", err)
	}
	if s.Get("a").Name != "renamed.txt" {
		t.Error("rename should apply optimistically")
	}
	if !s.HasPending("a") {
		t.Error("a pending record should exist")
	}

	s.Rollback("a")
	if got := s.Get("a").Name; got != "a.txt" {
		t.Errorf("rollback should restore the name, got %q", got)
	}
	if s.HasPending("a") {
		t.Error("rollback drops the pending record")
	}
}

func TestBeginRenameVirtualRejected(t *testing.T) {
	s := newTestStore()
	if err := s.BeginRename("op1", "root", "x"); !errors.Is(err, ErrVirtualNode) {
		t.Errorf("expected ErrVirtualNode, got %v", err)
	}
	if err := s.BeginRename("op1", "ghost", "x"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

func TestBeginRefusesSecondMutationOnSameNode(t *testing.T) {
	s := newTestStore()

	if err := s.BeginRename("op1", "a", "renamed.txt"); err != nil {
		t.Fatalf("BeginRename: %v", err)
	}
	if err := s.BeginMove("op2", "a", "archive"); !errors.Is(err, ErrMutationInFlight) {
		t.Fatalf("a second mutation on a busy node must be refused, got %v", err)
	}
	if err := s.BeginDelete("op3", "a"); !errors.Is(err, ErrMutationInFlight) {
		t.Fatalf("expected ErrMutationInFlight for delete, got %v", err)
	}
	if s.Get("a").ParentID != "docs" {
		t.Fatal("the refused move must not touch the tree")
	}

	// Settling the first record must not consume a second operation's
	// state; the later rollback has nothing left to undo.
	s.ResolveSuccess("a", nil)
	s.Rollback("a")

	a := s.Get("a")
	if a.ParentID != "docs" {
		t.Errorf("node ended up under %q, want docs", a.ParentID)
	}
	if a.Name != "renamed.txt" {
		t.Errorf("the settled rename should stand, got %q", a.Name)
	}

	// The node is free again once the record settles.
	if err := s.BeginMove("op4", "a", "archive"); err != nil {
		t.Fatalf("BeginMove after settlement: %v", err)
	}
}

func TestBeginMoveAndRollbackRestoresPosition(t *testing.T) {
	s := newTestStore()

	if err := s.BeginMove("op1", "a", "archive"); err != nil {
		t.Fatalf("BeginMove: %v", err)
	}
	if s.Get("a").ParentID != "archive" {
		t.Error("move should apply optimistically")
	}

	s.Rollback("a")

	moved := s.Get("a")
	if moved.ParentID != "docs" {
		t.Errorf("rollback should restore the old parent, got %q", moved.ParentID)
	}
	docs := s.Get("docs")
	if len(docs.Children) != 2 || docs.Children[0].ID != "a" {
		t.Errorf("rollback should restore the original position, got %v", docs.Children)
	}
}

func TestBeginMoveIllegalRejected(t *testing.T) {
	s := newTestStore()

	// Folder into its own subtree.
	sub := &models.Node{ID: "sub", Kind: models.KindFolder, Name: "sub"}
	if err := s.BeginCreate("op0", "docs", sub); err != nil {
		t.Fatalf("BeginCreate: %v", err)
	}
	s.ResolveSuccess("sub", nil)

	if err := s.BeginMove("op1", "docs", "sub"); !errors.Is(err, ErrIllegalMove) {
		t.Errorf("expected ErrIllegalMove for a cycle, got %v", err)
	}
	if err := s.BeginMove("op1", "a", "b"); !errors.Is(err, ErrIllegalMove) {
		t.Errorf("expected ErrIllegalMove for a file destination, got %v", err)
	}
	if err := s.BeginMove("op1", "a", "ghost"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

func TestBeginDeleteAndRollbackRestoresSubtree(t *testing.T) {
	s := newTestStore()

	if err := s.BeginDelete("op1", "docs"); err != nil {
		t.Fatalf("BeginDelete: %v", err)
	}
	if s.Get("docs") != nil {
		t.Error("delete should apply optimistically")
	}
	if s.Get("a") != nil {
		t.Error("the subtree goes with the folder")
	}

	s.Rollback("docs")

	docs := s.Get("docs")
	if docs == nil {
		t.Fatal("rollback should restore the folder")
	}
	if len(docs.Children) != 2 {
		t.Errorf("rollback should restore the whole subtree, got %d children", len(docs.Children))
	}
	root := s.Get("root")
	if root.Children[0].ID != "docs" {
		t.Error("rollback should restore the original position")
	}
}

func TestBeginCreateAndRollback(t *testing.T) {
	s := newTestStore()

	node := &models.Node{ID: "tmp-1", Kind: models.KindFile, Name: "new.txt", Status: models.StatusUploading}
	if err := s.BeginCreate("op1", "docs", node); err != nil {
		t.Fatalf("BeginCreate: %v", err)
	}
	if s.Get("tmp-1") == nil {
		t.Fatal("the temporary node should be visible immediately")
	}

	s.Rollback("tmp-1")
	if s.Get("tmp-1") != nil {
		t.Error("rollback should remove the temporary node")
	}
}

func TestBeginCreateRejectsFileParent(t *testing.T) {
	s := newTestStore()
	node := &models.Node{ID: "tmp-1", Kind: models.KindFile, Name: "x"}
	if err := s.BeginCreate("op1", "a", node); !errors.Is(err, ErrNotFolder) {
		t.Errorf("expected ErrNotFolder, got %v", err)
	}
}

func TestResolveCreateReplacesIdentity(t *testing.T) {
	s := newTestStore()

	temp := &models.Node{ID: "tmp-1", Kind: models.KindFolder, Name: "new"}
	if err := s.BeginCreate("op1", "docs", temp); err != nil {
		t.Fatalf("BeginCreate: %v", err)
	}

	// A child accumulated under the temporary folder before confirmation.
	child := &models.Node{ID: "tmp-2", Kind: models.KindFile, Name: "inner.txt"}
	if err := s.BeginCreate("op2", "tmp-1", child); err != nil {
		t.Fatalf("BeginCreate under temp: %v", err)
	}

	newID := s.ResolveCreate("tmp-1", &models.Node{ID: "srv-9", Kind: models.KindFolder, Name: "new"})
	if newID != "srv-9" {
		t.Fatalf("expected srv-9, got %s", newID)
	}

	if s.Get("tmp-1") != nil {
		t.Error("the temporary ID should be gone")
	}
	resolved := s.Get("srv-9")
	if resolved == nil {
		t.Fatal("the server ID should resolve")
	}
	if len(resolved.Children) != 1 || resolved.Children[0].ID != "tmp-2" {
		t.Fatalf("accumulated children must survive, got %v", resolved.Children)
	}
	if resolved.Children[0].ParentID != "srv-9" {
		t.Error("child ParentID must follow the new identity")
	}
	if s.HasPending("tmp-1") {
		t.Error("the pending record is settled")
	}
}

func TestResolveCreateMigratesWaitersAndDeferred(t *testing.T) {
	s := newTestStore()

	temp := &models.Node{ID: "tmp-1", Kind: models.KindFile, Name: "new.txt"}
	if err := s.BeginCreate("op1", "docs", temp); err != nil {
		t.Fatalf("BeginCreate: %v", err)
	}

	ran := ""
	s.Enqueue("tmp-1", func(id string) { ran = id })
	if ran != "" {
		t.Fatal("the job must queue behind the pending create")
	}
	s.DeferEvent("tmp-1", protocol.PushEvent{Type: protocol.EventRenamed, NodeID: "tmp-1", Name: "z"})

	s.ResolveCreate("tmp-1", &models.Node{ID: "srv-9", Kind: models.KindFile, Name: "new.txt"})

	job, id := s.NextWaiter("srv-9")
	if job == nil {
		t.Fatal("queued jobs must migrate to the server ID")
	}
	job(id)
	if ran != "srv-9" {
		t.Errorf("the job should receive the server ID, got %q", ran)
	}

	if events := s.TakeDeferred("srv-9"); len(events) != 1 {
		t.Errorf("deferred events must migrate, got %d", len(events))
	}
}

func TestEnqueueRunsImmediatelyWhenIdle(t *testing.T) {
	s := newTestStore()
	ran := ""
	s.Enqueue("a", func(id string) { ran = id })
	if ran != "a" {
		t.Errorf("idle node should run immediately, got %q", ran)
	}
}

func TestEnqueueSerializesPerNode(t *testing.T) {
	s := newTestStore()

	if err := s.BeginRename("op1", "a", "first"); err != nil {
		t.Fatalf("BeginRename: %v", err)
	}

	var order []string
	s.Enqueue("a", func(id string) { order = append(order, "second") })
	s.Enqueue("a", func(id string) { order = append(order, "third") })
	if len(order) != 0 {
		t.Fatal("jobs must wait for the in-flight mutation")
	}

	// Independent nodes are not serialized with each other.
	s.Enqueue("b", func(id string) { order = append(order, "b") })
	if len(order) != 1 || order[0] != "b" {
		t.Fatalf("an unrelated node must not queue, got %v", order)
	}

	s.ResolveSuccess("a", nil)
	for {
		job, id := s.NextWaiter("a")
		if job == nil {
			break
		}
		job(id)
	}
	if len(order) != 3 || order[1] != "second" || order[2] != "third" {
		t.Errorf("queued jobs should run in order, got %v", order)
	}
}

func TestResolveSuccessAppliesAuthoritativeFields(t *testing.T) {
	s := newTestStore()

	if err := s.BeginRename("op1", "a", "guess.txt"); err != nil {
		t.Fatalf("BeginRename: %v", err)
	}
	s.ResolveSuccess("a", &models.Node{ID: "a", Name: "server-final.txt"})

	if got := s.Get("a").Name; got != "server-final.txt" {
		t.Errorf("the server name wins, got %q", got)
	}
}

func TestDiscardKeepsOptimisticState(t *testing.T) {
	s := newTestStore()

	if err := s.BeginRename("op1", "a", "renamed.txt"); err != nil {
		t.Fatalf("BeginRename: %v", err)
	}
	s.Discard("a")

	if s.HasPending("a") {
		t.Error("discard drops the pending record")
	}
	if got := s.Get("a").Name; got != "renamed.txt" {
		t.Errorf("discard must not roll back, got %q", got)
	}
}

func TestDocCountsAfterMutations(t *testing.T) {
	s := newTestStore()

	if got := s.Get("docs").DocCount; got != 2 {
		t.Fatalf("docs should count 2 documents, got %d", got)
	}

	if err := s.BeginMove("op1", "a", "archive"); err != nil {
		t.Fatalf("BeginMove: %v", err)
	}
	if got := s.Get("docs").DocCount; got != 1 {
		t.Errorf("docs should count 1 after the move, got %d", got)
	}
	if got := s.Get("archive").DocCount; got != 1 {
		t.Errorf("archive should count 1 after the move, got %d", got)
	}

	s.Rollback("a")
	if got := s.Get("docs").DocCount; got != 2 {
		t.Errorf("counts must recover after rollback, got %d", got)
	}
	if got := s.Get("archive").DocCount; got != 0 {
		t.Errorf("archive should be back to 0, got %d", got)
	}
}
