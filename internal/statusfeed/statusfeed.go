// Package statusfeed exposes lifecycle transitions as an NDJSON stream over
// a websocket, purely for operator observability. It has no bearing on
// orchestration itself: if nobody is listening, Publish is a cheap no-op.
package statusfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/cairn-dev/cairn/internal/diag"
	"github.com/cairn-dev/cairn/internal/eventq"
	"github.com/cairn-dev/cairn/internal/lifecycle"
)

// Event is one line of the NDJSON feed.
type Event struct {
	AgentID   string    `json:"agent_id"`
	State     string    `json:"state"`
	Summary   string    `json:"summary,omitempty"`
	Err       string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFromRecord converts a lifecycle record into a feed event.
func EventFromRecord(rec lifecycle.Record) Event {
	return Event{
		AgentID:   rec.AgentID,
		State:     string(rec.State),
		Summary:   rec.Summary,
		Err:       rec.Err,
		Timestamp: rec.UpdatedAt,
	}
}

type subscriber struct {
	ch chan Event
}

// Feed fans lifecycle events out to any number of connected websocket
// clients.
type Feed struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// New returns an empty Feed.
func New() *Feed {
	return &Feed{subs: make(map[*subscriber]struct{})}
}

// Publish delivers ev to every connected subscriber without blocking. A
// subscriber whose buffer is full misses the event rather than stalling
// the publisher.
func (f *Feed) Publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		eventq.Offer(s.ch, ev)
	}
}

// ServeHTTP upgrades the connection to a websocket and streams events as
// NDJSON text frames until the client disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		diag.Logf("statusfeed", "accept: %v", err)
		return
	}
	defer conn.CloseNow()

	sub := &subscriber{ch: make(chan Event, 64)}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.subs, sub)
		f.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
