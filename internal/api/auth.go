package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loreleaf/loreleaf/internal/logging"
	"github.com/loreleaf/loreleaf/pkg/protocol"
)

// TokenFile holds a saved authentication token.
type TokenFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Server    string    `json:"server"`
	Username  string    `json:"username"`
}

// IsExpired returns true if the token has expired (with optional margin).
func (t *TokenFile) IsExpired(margin time.Duration) bool {
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// TokenExpiry extracts the expiry claim from a bearer token without
// verifying the signature. Verification is the server's job; the client
// only needs the deadline to schedule a refresh.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no expiry claim")
	}
	return exp.Time, nil
}

// Login authenticates with username/password and returns a token.
func (c *Client) Login(ctx context.Context, username, password, deviceName string) (*protocol.LoginResponse, error) {
	var result protocol.LoginResponse
	err := c.doJSON(ctx, "POST", "/api/v1/auth/token", protocol.LoginRequest{
		Username:   username,
		Password:   password,
		DeviceName: deviceName,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	if result.ExpiresAt.IsZero() {
		if exp, err := TokenExpiry(result.Token); err == nil {
			result.ExpiresAt = exp
		}
	}

	c.SetAuthToken(result.Token)
	return &result, nil
}

// RefreshToken refreshes the current token. Uses the current bearer token.
func (c *Client) RefreshToken(ctx context.Context) (*protocol.RefreshResponse, error) {
	var result protocol.RefreshResponse
	if err := c.doJSON(ctx, "POST", "/api/v1/auth/refresh", nil, &result); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	if result.ExpiresAt.IsZero() {
		if exp, err := TokenExpiry(result.Token); err == nil {
			result.ExpiresAt = exp
		}
	}

	c.SetAuthToken(result.Token)
	return &result, nil
}

// StartTokenRefreshLoop starts a goroutine that refreshes the token
// before it expires and persists the refreshed copy.
func (c *Client) StartTokenRefreshLoop(ctx context.Context, tf *TokenFile, path string) {
	go func() {
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !tf.IsExpired(1 * time.Hour) {
					continue
				}
				logging.Info("token expiring soon, refreshing")
				refreshResp, err := c.RefreshToken(ctx)
				if err != nil {
					logging.Error("token refresh failed", logging.Err(err))
					continue
				}
				tf.Token = refreshResp.Token
				tf.ExpiresAt = refreshResp.ExpiresAt
				if err := SaveToken(tf, path); err != nil {
					logging.Error("failed to save refreshed token", logging.Err(err))
				}
			}
		}
	}()
}

// DefaultTokenPath returns the default path for the token file.
func DefaultTokenPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "loreleaf", "token.json")
}

// SaveToken saves a token file.
func SaveToken(tf *TokenFile, path string) error {
	if path == "" {
		path = DefaultTokenPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadToken loads a token file.
func LoadToken(path string) (*TokenFile, error) {
	if path == "" {
		path = DefaultTokenPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, err
	}
	return &tf, nil
}
