package tree

import "github.com/loreleaf/loreleaf/pkg/models"

// Diff describes the changes between two snapshots of the same forest.
type Diff struct {
	Added   []*models.Node // nodes present only in the new forest
	Removed []*models.Node // nodes present only in the old forest
	Renamed []*models.Node // same ID, different name (new copy)
	Moved   []*models.Node // same ID, different parent (new copy)
	Status  []*models.Node // files whose status changed (new copy)
}

// Empty returns true when the diff carries no changes.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 &&
		len(d.Renamed) == 0 && len(d.Moved) == 0 && len(d.Status) == 0
}

// Compare computes the difference between two forests by node ID.
// Additions are returned parents-first so they can be folded in order.
func Compare(oldRoots, newRoots []*models.Node) *Diff {
	diff := &Diff{}

	oldMap := Flatten(oldRoots)
	newMap := Flatten(newRoots)

	var walkAdds func(node *models.Node)
	walkAdds = func(node *models.Node) {
		if _, exists := oldMap[node.ID]; !exists {
			diff.Added = append(diff.Added, node)
		}
		for _, child := range node.Children {
			walkAdds(child)
		}
	}
	for _, root := range newRoots {
		walkAdds(root)
	}

	for id, newNode := range newMap {
		oldNode, exists := oldMap[id]
		if !exists {
			continue
		}
		if oldNode.Name != newNode.Name {
			diff.Renamed = append(diff.Renamed, newNode)
		}
		if oldNode.ParentID != newNode.ParentID {
			diff.Moved = append(diff.Moved, newNode)
		}
		if newNode.Kind == models.KindFile && oldNode.Status != newNode.Status {
			diff.Status = append(diff.Status, newNode)
		}
	}

	for id, oldNode := range oldMap {
		if _, exists := newMap[id]; !exists {
			diff.Removed = append(diff.Removed, oldNode)
		}
	}

	return diff
}
