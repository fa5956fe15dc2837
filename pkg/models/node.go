// Package models contains the shared data types of the sync core.
package models

import "time"

// NodeKind distinguishes folders from files in the knowledge-base tree.
type NodeKind string

const (
	KindFolder NodeKind = "folder"
	KindFile   NodeKind = "file"
)

// FileStatus tracks a file's server-side processing state.
type FileStatus string

const (
	StatusUploading  FileStatus = "uploading"
	StatusProcessing FileStatus = "processing"
	StatusCompleted  FileStatus = "completed"
	StatusFailed     FileStatus = "failed"
)

// Node represents a folder or file in the knowledge-base tree.
// Virtual nodes are synthetic collection roots that cannot be mutated.
type Node struct {
	ID       string     `json:"id"`
	ParentID string     `json:"parent_id,omitempty"`
	Kind     NodeKind   `json:"kind"`
	Name     string     `json:"name"`
	Status   FileStatus `json:"status,omitempty"`
	Virtual  bool       `json:"virtual,omitempty"`
	Children []*Node    `json:"children,omitempty"`

	// DocCount is derived from Children and recomputed whenever the
	// children sequence changes. Never adjusted incrementally.
	DocCount int `json:"doc_count,omitempty"`
}

// IsFolder returns true for folders (including virtual roots).
func (n *Node) IsFolder() bool {
	return n.Kind == KindFolder
}

// DocumentMeta is the metadata returned alongside document content.
type DocumentMeta struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    FileStatus `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
}
