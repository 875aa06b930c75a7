package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/apex/log"
)

const (
	EventPut   = "put"
	EventPatch = "patch"
)

// Event is one change delivered by a subtree subscription. Path is relative
// to the subscribed subtree ("/" means the whole subtree was replaced).
type Event struct {
	Type string
	Path string
	Data json.RawMessage
}

// Subscription is a long-lived change feed for one subtree. It must be
// cancelled when the consumer goes away; Cancel is safe to call more than
// once and the Events channel is closed exactly once.
type Subscription struct {
	events chan Event
	cancel context.CancelFunc
	once   sync.Once
}

// Events delivers changes until the subscription is cancelled or the store
// ends the stream. The channel is closed afterwards.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Cancel tears the subscription down. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Subscribe opens a streaming read (text/event-stream) on the subtree at
// path and delivers every put and patch until cancelled.
func (c *Client) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("replica store refused stream for %s: status %d", path, resp.StatusCode)
	}

	sub := &Subscription{
		events: make(chan Event, 16),
		cancel: cancel,
	}
	go sub.read(ctx, path, resp.Body)
	return sub, nil
}

func (s *Subscription) read(ctx context.Context, path string, body io.ReadCloser) {
	defer func() {
		body.Close()
		close(s.events)
		s.cancel()
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var eventName, data string
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if !s.dispatch(ctx, path, eventName, data) {
				return
			}
			eventName, data = "", ""
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Warnf("Replica stream for %s ended: %v", path, err)
	}
}

// dispatch returns false when the stream should stop.
func (s *Subscription) dispatch(ctx context.Context, path, eventName, data string) bool {
	switch eventName {
	case EventPut, EventPatch:
		var payload struct {
			Path string          `json:"path"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			log.Warnf("Skipping malformed %s event on %s: %v", eventName, path, err)
			return true
		}
		select {
		case s.events <- Event{Type: eventName, Path: payload.Path, Data: payload.Data}:
		case <-ctx.Done():
			return false
		}
		return true
	case "keep-alive", "":
		return true
	case "cancel", "auth_revoked":
		log.Warnf("Replica stream for %s closed by store: %s", path, eventName)
		return false
	default:
		return true
	}
}
