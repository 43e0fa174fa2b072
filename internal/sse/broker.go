// Package sse streams index and patch notifications to HTTP clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeFileIndexed  = "file.indexed"
	TypeFileRemoved  = "file.removed"
	TypeBlockPatched = "block.patched"
	TypeIndexUpdated = "index.updated"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// path returns the workspace path an event concerns, or "" for global events.
func (e Event) path() string {
	switch d := e.Data.(type) {
	case FileChange:
		return d.Path
	case BlockPatch:
		return d.File
	default:
		return ""
	}
}

// FileChange is the payload of file.* events.
type FileChange struct {
	Path   string `json:"path"`
	Change string `json:"change,omitempty"`
}

// BlockPatch is the payload of block.patched events.
type BlockPatch struct {
	File    string `json:"file"`
	BlockID string `json:"blockId"`
	NewHash string `json:"newHash"`
}

// IndexUpdate is the payload of index.updated: the number of file changes
// folded into this notification.
type IndexUpdate struct {
	Changes int `json:"changes"`
}

type fileEventReq struct {
	kind string
	path string
}

type subscription struct {
	ch  chan []byte
	dir string
}

// Broker fans events out to SSE clients.
//
// One goroutine owns the client set, the event sequence and the
// index.updated throttle; public methods talk to it over channels.
type Broker struct {
	indexMin time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	fileEventCh   chan fileEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits index.updated at most once per
// indexThrottle.
func NewBroker(indexThrottle time.Duration) *Broker {
	if indexThrottle <= 0 {
		indexThrottle = 2 * time.Second
	}

	b := &Broker{
		indexMin:      indexThrottle,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		fileEventCh:   make(chan fileEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)
	var (
		seq       uint64
		lastIndex time.Time
		pending   int
		flush     *time.Timer
		flushC    <-chan time.Time
	)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload))
		p := event.path()

		for ch, dir := range clients {
			if p != "" && !underDir(p, dir) {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	emitIndex := func(now time.Time) {
		lastIndex = now
		broadcast(Event{Type: TypeIndexUpdated, Data: IndexUpdate{Changes: pending}})
		pending = 0
		if flush != nil {
			flush.Stop()
			flushC = nil
		}
	}

	for {
		select {
		case <-b.stopCh:
			if flush != nil {
				flush.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.dir

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.fileEventCh:
			switch req.kind {
			case "created", "updated":
				broadcast(Event{Type: TypeFileIndexed, Data: FileChange{Path: req.path, Change: req.kind}})
			case "deleted":
				broadcast(Event{Type: TypeFileRemoved, Data: FileChange{Path: req.path}})
			default:
				continue
			}
			pending++

			now := time.Now()
			wait := b.indexMin - now.Sub(lastIndex)
			switch {
			case wait <= 0:
				emitIndex(now)
			case flushC == nil:
				// Trailing notification for changes inside the window.
				if flush == nil {
					flush = time.NewTimer(wait)
				} else {
					flush.Reset(wait)
				}
				flushC = flush.C
			}

		case <-flushC:
			flushC = nil
			if pending > 0 {
				emitIndex(time.Now())
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// underDir reports whether the slash path p lies in dir. An empty dir or
// "." matches everything.
func underDir(p, dir string) bool {
	dir = strings.Trim(dir, "/")
	if dir == "" || dir == "." {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// Close stops the event loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client that receives every event.
func (b *Broker) Subscribe() chan []byte {
	return b.SubscribeDir("")
}

// SubscribeDir adds a client that only receives path events under dir.
// Global events such as index.updated are always delivered.
func (b *Broker) SubscribeDir(dir string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, dir: dir}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all matching clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishFileEvent publishes an index change ("created", "updated" or
// "deleted") and a throttled index.updated event. Its signature matches
// the watcher callback.
func (b *Broker) PublishFileEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.fileEventCh <- fileEventReq{kind: kind, path: path}:
	case <-b.stopped:
	}
}

// PublishPatch announces a successful block patch.
func (b *Broker) PublishPatch(p BlockPatch) {
	b.Publish(Event{Type: TypeBlockPatched, Data: p})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events?dir=src).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.SubscribeDir(r.URL.Query().Get("dir"))
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
