package api

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestTokenExpiry(t *testing.T) {
	want := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	got, err := TokenExpiry(signedToken(t, want))
	if err != nil {
		t.Fatalf("TokenExpiry: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("expiry = %v, want %v", got, want)
	}
}

func TestTokenExpiryErrors(t *testing.T) {
	if _, err := TokenExpiry("not-a-jwt"); err == nil {
		t.Error("expected an error for a malformed token")
	}

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u"})
	signed, _ := noExp.SignedString([]byte("k"))
	if _, err := TokenExpiry(signed); err == nil {
		t.Error("expected an error for a token without expiry")
	}
}

func TestTokenFileIsExpired(t *testing.T) {
	tf := &TokenFile{ExpiresAt: time.Now().Add(30 * time.Minute)}
	if tf.IsExpired(0) {
		t.Error("a token valid for 30m is not expired")
	}
	if !tf.IsExpired(time.Hour) {
		t.Error("with a 1h margin the same token counts as expiring")
	}
}

func TestSaveLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	in := &TokenFile{
		Token:     "tok",
		ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second),
		Server:    "http://host",
		Username:  "user1",
	}
	if err := SaveToken(in, path); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	out, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if out.Token != in.Token || out.Username != in.Username || !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Errorf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestLoginSetsToken(t *testing.T) {
	tok := signedToken(t, time.Now().Add(time.Hour))
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Username != "user1" || req.Password != "pw" {
			t.Errorf("unexpected credentials %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{"token": tok})
	}))
	defer ts.Close()

	resp, err := c.Login(context.Background(), "user1", "pw", "dev")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if c.AuthToken() != tok {
		t.Error("login should install the token on the client")
	}
	if resp.ExpiresAt.IsZero() {
		t.Error("expiry should be derived from the token claims")
	}
}

func TestRefreshToken(t *testing.T) {
	fresh := signedToken(t, time.Now().Add(2*time.Hour))
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/refresh" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer old" {
			t.Errorf("refresh must use the current token, got %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(map[string]any{"token": fresh})
	}))
	defer ts.Close()

	c.SetAuthToken("old")
	if _, err := c.RefreshToken(context.Background()); err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if c.AuthToken() != fresh {
		t.Error("the refreshed token should replace the old one")
	}
}
