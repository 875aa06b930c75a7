package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apex/log"
)

// Broadcaster fans a message out to connected console clients.
type Broadcaster interface {
	Broadcast(message []byte)
}

// Feed keeps one subscription on the report subtree alive and relays every
// change to the websocket hub, resubscribing with a delay when the stream
// drops or the prober reports offline.
type Feed struct {
	accessor *Accessor
	hub      Broadcaster
	retry    time.Duration
}

func NewFeed(accessor *Accessor, hub Broadcaster) *Feed {
	return &Feed{
		accessor: accessor,
		hub:      hub,
		retry:    5 * time.Second,
	}
}

type feedMessage struct {
	Type string          `json:"type"`
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// Run blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	for {
		sub, err := f.accessor.Subscribe(ctx)
		if err != nil {
			log.Warnf("Live report feed unavailable, retrying in %s: %v", f.retry, err)
			select {
			case <-time.After(f.retry):
				continue
			case <-ctx.Done():
				return
			}
		}

		for event := range sub.Events() {
			message, err := json.Marshal(feedMessage{
				Type: event.Type,
				Path: event.Path,
				Data: event.Data,
			})
			if err != nil {
				log.Errorf("Failed to encode feed message: %v", err)
				continue
			}
			f.hub.Broadcast(message)
		}
		sub.Cancel()

		if ctx.Err() != nil {
			return
		}
		log.Warn("Replica stream ended, resubscribing")
	}
}
