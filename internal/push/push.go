// Package push maintains the long-lived subscription that delivers
// out-of-band change events from the server over a websocket.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loreleaf/loreleaf/internal/logging"
	"github.com/loreleaf/loreleaf/pkg/protocol"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// Subscription is a reconnecting push-event subscription.
// Reconnection and backoff live here; consumers only see the event
// channel and must tolerate gaps.
type Subscription struct {
	wsURL        string
	dialer       *websocket.Dialer
	reconnectMin time.Duration
	reconnectMax time.Duration

	mu        sync.RWMutex
	authToken string
	onConnect func()
}

// New creates a subscription against the backend base URL.
func New(baseURL string) *Subscription {
	return &Subscription{
		wsURL:        wsURL(baseURL) + "/api/v1/events/ws",
		dialer:       websocket.DefaultDialer,
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
	}
}

func wsURL(baseURL string) string {
	u := strings.TrimSuffix(baseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u
}

// SetAuthToken sets the bearer token used on connect.
func (s *Subscription) SetAuthToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authToken = token
}

// SetOnConnect registers a hook run after every successful connect.
// Used to re-fetch state that events may have skipped while the
// connection was down.
func (s *Subscription) SetOnConnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = fn
}

// Subscribe connects and returns a channel of events. The channel is
// closed when ctx is cancelled. Events are dropped, not buffered
// unboundedly, when the consumer falls behind; missed events are
// recoverable by re-fetching.
func (s *Subscription) Subscribe(ctx context.Context) <-chan protocol.PushEvent {
	events := make(chan protocol.PushEvent, 100)
	go s.subscribeLoop(ctx, events)
	return events
}

func (s *Subscription) subscribeLoop(ctx context.Context, events chan<- protocol.PushEvent) {
	defer close(events)

	reconnectDelay := s.reconnectMin

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := s.connect(ctx, events)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			logging.Warn("push connection lost",
				logging.Err(err),
				logging.String("retry_in", reconnectDelay.String()))

			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}

			reconnectDelay *= 2
			if reconnectDelay > s.reconnectMax {
				reconnectDelay = s.reconnectMax
			}
			continue
		}

		reconnectDelay = s.reconnectMin
	}
}

func (s *Subscription) connect(ctx context.Context, events chan<- protocol.PushEvent) error {
	header := http.Header{}
	s.mu.RLock()
	if s.authToken != "" {
		header.Set("Authorization", "Bearer "+s.authToken)
	}
	s.mu.RUnlock()

	conn, resp, err := s.dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	logging.Info("push channel connected", logging.String("url", s.wsURL))

	s.mu.RLock()
	onConnect := s.onConnect
	s.mu.RUnlock()
	if onConnect != nil {
		onConnect()
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var event protocol.PushEvent
		if err := json.Unmarshal(data, &event); err != nil {
			logging.Warn("malformed push event dropped", logging.Err(err))
			continue
		}

		select {
		case events <- event:
		default:
			logging.Debug("push event dropped (channel full)",
				logging.String("type", event.Type))
		}
	}
}
