// Package protocol defines the backend API request/response types and
// the push event wire shape.
package protocol

import (
	"time"

	"github.com/loreleaf/loreleaf/pkg/models"
)

// TreeResponse is returned by GET /api/v1/tree
type TreeResponse struct {
	Roots []*models.Node `json:"roots"`
}

// SubtreeResponse is returned by GET /api/v1/tree/{folderID}
type SubtreeResponse struct {
	FolderID string         `json:"folder_id"`
	Children []*models.Node `json:"children"`
}

// DocumentResponse is returned by GET /api/v1/documents/{id}
type DocumentResponse struct {
	Content string             `json:"content"`
	Meta    models.DocumentMeta `json:"meta"`
}

// SaveDocumentRequest is the body for PUT /api/v1/documents/{id}
type SaveDocumentRequest struct {
	Content string `json:"content"`
}

// SaveDocumentResponse acknowledges a save.
type SaveDocumentResponse struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateNodeRequest is the body for POST /api/v1/nodes
type CreateNodeRequest struct {
	ParentID string          `json:"parent_id"`
	Kind     models.NodeKind `json:"kind"`
	Name     string          `json:"name"`
}

// RenameNodeRequest is the body for PATCH /api/v1/nodes/{id}/name
type RenameNodeRequest struct {
	Name string `json:"name"`
}

// MoveNodeRequest is the body for PATCH /api/v1/nodes/{id}/parent
type MoveNodeRequest struct {
	NewParentID string `json:"new_parent_id"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// Push event types delivered on the push channel.
const (
	EventCreated  = "created"
	EventDeleted  = "deleted"
	EventRenamed  = "renamed"
	EventMoved    = "moved"
	EventDocument = "document" // document status/content change
)

// PushEvent is an out-of-band notification describing a change made by
// another actor. Delivery is at-most-once; events about the same entity
// arrive in the order they occurred.
type PushEvent struct {
	Type        string            `json:"type"`
	DocumentID  string            `json:"document_id,omitempty"`
	FolderID    string            `json:"folder_id,omitempty"`
	NodeID      string            `json:"node_id,omitempty"`
	Kind        models.NodeKind   `json:"kind,omitempty"`
	Status      models.FileStatus `json:"status,omitempty"`
	Name        string            `json:"name,omitempty"`
	NewParentID string            `json:"new_parent_id,omitempty"`
	OldParentID string            `json:"old_parent_id,omitempty"`
	Content     string            `json:"content,omitempty"`
	Timestamp   int64             `json:"timestamp"`
}

// LoginRequest is the body for POST /api/v1/auth/token
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceName string `json:"device_name,omitempty"`
}

// LoginResponse is the response from POST /api/v1/auth/token
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RefreshResponse is the response from POST /api/v1/auth/refresh
type RefreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
