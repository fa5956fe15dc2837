// Package tree provides pure helpers for working with knowledge-base trees.
package tree

import (
	"github.com/loreleaf/loreleaf/pkg/models"
)

// FindByID finds a node by ID in a forest of roots (recursive).
func FindByID(roots []*models.Node, id string) *models.Node {
	for _, root := range roots {
		if found := findByID(root, id); found != nil {
			return found
		}
	}
	return nil
}

func findByID(root *models.Node, id string) *models.Node {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	for _, child := range root.Children {
		if found := findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

// IsDescendant reports whether id names ancestor or any node beneath it.
func IsDescendant(ancestor *models.Node, id string) bool {
	return findByID(ancestor, id) != nil
}

// RemoveChild removes a child by ID from a parent node.
// Returns the removed node and its position, or nil and -1.
func RemoveChild(parent *models.Node, id string) (*models.Node, int) {
	for i, child := range parent.Children {
		if child.ID == id {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return child, i
		}
	}
	return nil, -1
}

// InsertChild inserts a child at the given position, appending when the
// position is out of range.
func InsertChild(parent *models.Node, child *models.Node, at int) {
	if at < 0 || at > len(parent.Children) {
		at = len(parent.Children)
	}
	parent.Children = append(parent.Children, nil)
	copy(parent.Children[at+1:], parent.Children[at:])
	parent.Children[at] = child
	child.ParentID = parent.ID
}

// Clone returns a deep copy of a node and all its children.
func Clone(node *models.Node) *models.Node {
	if node == nil {
		return nil
	}
	copied := *node
	copied.Children = nil
	for _, child := range node.Children {
		copied.Children = append(copied.Children, Clone(child))
	}
	return &copied
}

// CloneForest deep-copies a slice of roots.
func CloneForest(roots []*models.Node) []*models.Node {
	copied := make([]*models.Node, 0, len(roots))
	for _, root := range roots {
		copied = append(copied, Clone(root))
	}
	return copied
}

// CountNodes counts all nodes in a forest.
func CountNodes(roots []*models.Node) int {
	count := 0
	for _, root := range roots {
		count += countNodes(root)
	}
	return count
}

func countNodes(node *models.Node) int {
	if node == nil {
		return 0
	}
	count := 1
	for _, child := range node.Children {
		count += countNodes(child)
	}
	return count
}

// RecomputeCounts walks a folder and refreshes the derived per-folder
// document counts from the children sequence.
func RecomputeCounts(node *models.Node) int {
	if node == nil {
		return 0
	}
	if node.Kind == models.KindFile {
		return 1
	}
	count := 0
	for _, child := range node.Children {
		count += RecomputeCounts(child)
	}
	node.DocCount = count
	return count
}

// Flatten returns all nodes in a forest keyed by ID.
func Flatten(roots []*models.Node) map[string]*models.Node {
	result := make(map[string]*models.Node)
	for _, root := range roots {
		flattenRecursive(root, result)
	}
	return result
}

func flattenRecursive(node *models.Node, result map[string]*models.Node) {
	if node == nil {
		return
	}
	result[node.ID] = node
	for _, child := range node.Children {
		flattenRecursive(child, result)
	}
}
