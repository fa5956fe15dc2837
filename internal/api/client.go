// Package api provides the HTTP client for the knowledge-base backend,
// with retry, online tracking, and auth.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loreleaf/loreleaf/internal/logging"
	"github.com/loreleaf/loreleaf/pkg/models"
	"github.com/loreleaf/loreleaf/pkg/protocol"
	"github.com/loreleaf/loreleaf/pkg/retry"
)

// Client is the backend API client.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryPolicy retry.Policy

	mu        sync.RWMutex
	online    bool
	lastPing  time.Time
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryPolicy retry.Policy
	AuthToken   string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryPolicy: cfg.RetryPolicy,
		online:      true,
		authToken:   cfg.AuthToken,
	}
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetAuthToken sets the bearer token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// AuthToken returns the current bearer token.
func (c *Client) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// IsOnline returns true if the server is reachable.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logging.Info("server is back online")
		} else {
			logging.Warn("server is offline")
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	c.setOnline(true)
	return nil
}

// doJSON performs a request and decodes a JSON body into out (if non-nil).
// Errors follow the mutation taxonomy: 5xx and transport errors are marked
// transient, 404/410 map to ErrStaleTarget, other 4xx become RejectedError.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	return retry.Do(ctx, c.retryPolicy, func() error {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return err
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Transient(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			c.setOnline(true)
			if out == nil {
				io.Copy(io.Discard, resp.Body)
				return nil
			}
			return json.NewDecoder(resp.Body).Decode(out)

		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			c.setOnline(true)
			return ErrStaleTarget

		case resp.StatusCode >= 500:
			c.setOnline(false)
			return retry.Transient(fmt.Errorf("server error: %d", resp.StatusCode))

		default:
			c.setOnline(true)
			var errResp protocol.ErrorResponse
			if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
				return &RejectedError{Code: resp.StatusCode, Reason: errResp.Error}
			}
			return &RejectedError{Code: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
		}
	})
}

// FetchTree fetches the full collection tree.
func (c *Client) FetchTree(ctx context.Context) ([]*models.Node, error) {
	var resp protocol.TreeResponse
	if err := c.doJSON(ctx, "GET", "/api/v1/tree", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch tree: %w", err)
	}
	return resp.Roots, nil
}

// FetchSubtree fetches the children of a folder.
func (c *Client) FetchSubtree(ctx context.Context, folderID string) ([]*models.Node, error) {
	var resp protocol.SubtreeResponse
	if err := c.doJSON(ctx, "GET", "/api/v1/tree/"+folderID, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch subtree %s: %w", folderID, err)
	}
	return resp.Children, nil
}

// FetchDocument fetches a document's content and metadata.
func (c *Client) FetchDocument(ctx context.Context, documentID string) (*protocol.DocumentResponse, error) {
	var resp protocol.DocumentResponse
	if err := c.doJSON(ctx, "GET", "/api/v1/documents/"+documentID, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch document %s: %w", documentID, err)
	}
	return &resp, nil
}

// SaveDocument stores a document's content server-side.
func (c *Client) SaveDocument(ctx context.Context, documentID, content string) (*protocol.SaveDocumentResponse, error) {
	var resp protocol.SaveDocumentResponse
	err := c.doJSON(ctx, "PUT", "/api/v1/documents/"+documentID,
		protocol.SaveDocumentRequest{Content: content}, &resp)
	if err != nil {
		return nil, fmt.Errorf("save document %s: %w", documentID, err)
	}
	return &resp, nil
}

// CreateNode creates a folder or file under a parent.
func (c *Client) CreateNode(ctx context.Context, parentID string, kind models.NodeKind, name string) (*models.Node, error) {
	var node models.Node
	err := c.doJSON(ctx, "POST", "/api/v1/nodes",
		protocol.CreateNodeRequest{ParentID: parentID, Kind: kind, Name: name}, &node)
	if err != nil {
		return nil, fmt.Errorf("create node: %w", err)
	}
	return &node, nil
}

// RenameNode renames a node and returns the authoritative copy.
func (c *Client) RenameNode(ctx context.Context, nodeID, name string) (*models.Node, error) {
	var node models.Node
	err := c.doJSON(ctx, "PATCH", "/api/v1/nodes/"+nodeID+"/name",
		protocol.RenameNodeRequest{Name: name}, &node)
	if err != nil {
		return nil, fmt.Errorf("rename node %s: %w", nodeID, err)
	}
	return &node, nil
}

// MoveNode re-parents a node and returns the authoritative copy.
func (c *Client) MoveNode(ctx context.Context, nodeID, newParentID string) (*models.Node, error) {
	var node models.Node
	err := c.doJSON(ctx, "PATCH", "/api/v1/nodes/"+nodeID+"/parent",
		protocol.MoveNodeRequest{NewParentID: newParentID}, &node)
	if err != nil {
		return nil, fmt.Errorf("move node %s: %w", nodeID, err)
	}
	return &node, nil
}

// DeleteNode deletes a node.
func (c *Client) DeleteNode(ctx context.Context, nodeID string) error {
	if err := c.doJSON(ctx, "DELETE", "/api/v1/nodes/"+nodeID, nil, nil); err != nil {
		return fmt.Errorf("delete node %s: %w", nodeID, err)
	}
	return nil
}
