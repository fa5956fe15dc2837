package tree

import (
	"fmt"
	"testing"

	"github.com/loreleaf/loreleaf/pkg/models"
)

func folder(id, parentID string, children ...*models.Node) *models.Node {
	return &models.Node{ID: id, ParentID: parentID, Kind: models.KindFolder, Name: id, Children: children}
}

func file(id, parentID string) *models.Node {
	return &models.Node{ID: id, ParentID: parentID, Kind: models.KindFile, Name: id}
}

func TestCheckMove(t *testing.T) {
	root := folder("root", "")
	root.Virtual = true
	docs := folder("docs", "root")
	sub := folder("sub", "docs")
	note := file("note", "docs")
	docs.Children = []*models.Node{sub, note}
	root.Children = []*models.Node{docs}

	other := folder("other", "root")
	root.Children = append(root.Children, other)

	tests := []struct {
		name   string
		source *models.Node
		dest   *models.Node
		want   MoveDenial
	}{
		{"nil source", nil, docs, MoveDenySourceNil},
		{"nil destination", docs, nil, MoveDenyDestNil},
		{"virtual source", root, docs, MoveDenySourceVirtual},
		{"virtual destination", docs, root, MoveDenyDestVirtual},
		{"file destination", sub, note, MoveDenyDestNotFolder},
		{"already in destination", note, docs, MoveDenyNoOp},
		{"folder into itself", docs, docs, MoveDenyCycle},
		{"folder into its child", docs, sub, MoveDenyCycle},
		{"file to sibling folder", note, sub, MoveOK},
		{"folder to unrelated folder", sub, other, MoveOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CheckMove(tc.source, tc.dest); got != tc.want {
				t.Errorf("CheckMove = %q, want %q", got, tc.want)
			}
			wantOK := tc.want == MoveOK
			if got := CanMove(tc.source, tc.dest); got != wantOK {
				t.Errorf("CanMove = %v, want %v", got, wantOK)
			}
		})
	}
}

// A folder must not move into any folder of its own subtree, at any depth.
func TestCheckMoveCycleEveryDepth(t *testing.T) {
	depth := 6
	top := folder("d0", "")
	current := top
	descendants := []*models.Node{}
	for i := 1; i <= depth; i++ {
		child := folder(fmt.Sprintf("d%d", i), current.ID)
		current.Children = []*models.Node{child}
		descendants = append(descendants, child)
		current = child
	}

	for _, dest := range descendants {
		if got := CheckMove(top, dest); got != MoveDenyCycle {
			t.Errorf("move d0 into %s: got %q, want %q", dest.ID, got, MoveDenyCycle)
		}
	}
}

func TestCheckMoveDenialOrder(t *testing.T) {
	// A virtual file destination reports the virtual denial first.
	virtualFile := &models.Node{ID: "v", Kind: models.KindFile, Virtual: true}
	src := file("f", "p")
	if got := CheckMove(src, virtualFile); got != MoveDenyDestVirtual {
		t.Errorf("got %q, want %q", got, MoveDenyDestVirtual)
	}
}
