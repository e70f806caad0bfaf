// Package channel implements the per-run live-update bus shared by the index
// pipeline and both build subsystems. Transports (websocket, SSE) attach to it
// through Subscribe; publishers only ever see Publish.
package channel

import (
	"encoding/json"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/storydev/internal/logfields"
	"git.home.luguber.info/inful/storydev/internal/metrics"
)

// Endpoint paths the transports are mounted on.
const (
	Path       = "/storydev-server-channel"
	EventsPath = Path + "/events"
)

// Event types published by storydev components.
const (
	EventStoryIndexInvalidated = "STORY_INDEX_INVALIDATED"
	EventIndexUpdated          = "INDEX_UPDATED"
	EventIndexError            = "INDEX_ERROR"
	EventPreviewBuilt          = "PREVIEW_BUILT"
	EventPreviewError          = "PREVIEW_ERROR"
	EventManagerReady          = "MANAGER_READY"

	// EventIndexRescan is sent by clients to force a full index rescan.
	EventIndexRescan = "INDEX_RESCAN"
)

// Event is one message on the channel. It is serialized as a single JSON frame.
type Event struct {
	Type string `json:"type"`
	Args []any  `json:"args,omitempty"`
	From string `json:"from,omitempty"`
}

// Publisher is the write-only view handed to subsystems.
type Publisher interface {
	Publish(evt Event)
}

// Listener receives events sent by connected clients.
type Listener func(evt Event)

// Channel fans events out to the currently connected clients. It keeps no
// history: a client only sees events published after it subscribed.
type Channel struct {
	mu        sync.RWMutex
	nextID    uint64
	clients   map[uint64]*Subscription
	listeners map[string][]Listener
	closed    bool
	buffer    int
	recorder  metrics.Recorder
	logger    *slog.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Channel) { c.recorder = metrics.OrNoop(r) }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClientBuffer sets how many frames a client may lag behind before it is dropped.
func WithClientBuffer(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// New creates an empty channel.
func New(opts ...Option) *Channel {
	c := &Channel{
		clients:   map[uint64]*Subscription{},
		listeners: map[string][]Listener{},
		buffer:    32,
		recorder:  metrics.NoopRecorder{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscription is one attached client.
type Subscription struct {
	id        uint64
	transport string
	frames    chan []byte
	done      chan struct{}
	once      sync.Once
	ch        *Channel
}

// Frames yields serialized events in publish order.
func (s *Subscription) Frames() <-chan []byte { return s.frames }

// Done is closed when the subscription ends (client dropped or channel closed).
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close detaches the client. Safe to call more than once.
func (s *Subscription) Close() {
	s.ch.remove(s.id)
}

func (s *Subscription) end() {
	s.once.Do(func() { close(s.done) })
}

// Subscribe attaches a client for the given transport. On a closed channel the
// returned subscription is already done.
func (c *Channel) Subscribe(transport string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &Subscription{
		id:        c.nextID,
		transport: transport,
		frames:    make(chan []byte, c.buffer),
		done:      make(chan struct{}),
		ch:        c,
	}
	c.nextID++
	if c.closed {
		sub.end()
		return sub
	}
	c.clients[sub.id] = sub
	c.recorder.SetChannelClients(transport, c.countLocked(transport))
	return sub
}

func (c *Channel) remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.clients[id]
	if !ok {
		return
	}
	delete(c.clients, id)
	sub.end()
	c.recorder.SetChannelClients(sub.transport, c.countLocked(sub.transport))
}

func (c *Channel) countLocked(transport string) int {
	n := 0
	for _, s := range c.clients {
		if s.transport == transport {
			n++
		}
	}
	return n
}

// Publish delivers evt to every connected client. Clients whose buffers are
// full are dropped rather than blocking the publisher.
func (c *Channel) Publish(evt Event) {
	if evt.Type == "" {
		return
	}
	frame, err := json.Marshal(evt)
	if err != nil {
		c.logger.Warn("Dropping unserializable channel event", logfields.EventType(evt.Type), logfields.Error(err))
		return
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	snapshot := make([]*Subscription, 0, len(c.clients))
	for _, s := range c.clients {
		snapshot = append(snapshot, s)
	}
	c.mu.RUnlock()

	dropped := 0
	for _, s := range snapshot {
		select {
		case <-s.done:
		case s.frames <- frame:
		default:
			dropped++
			s.Close()
		}
	}
	c.recorder.IncChannelEvent(evt.Type)
	c.logger.Debug("Channel event published",
		logfields.EventType(evt.Type),
		logfields.Clients(len(snapshot)),
		slog.Int("dropped", dropped))
}

// On registers a listener for events of the given type sent by clients.
func (c *Channel) On(eventType string, l Listener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[eventType] = append(c.listeners[eventType], l)
}

// Dispatch hands a client-originated event to registered listeners.
func (c *Channel) Dispatch(evt Event) {
	c.mu.RLock()
	ls := append([]Listener(nil), c.listeners[evt.Type]...)
	c.mu.RUnlock()
	for _, l := range ls {
		l(evt)
	}
}

// ClientCount returns the number of attached clients across transports.
func (c *Channel) ClientCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// Close ends all subscriptions and turns Publish into a no-op.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	clients := c.clients
	c.clients = map[uint64]*Subscription{}
	c.mu.Unlock()

	for _, s := range clients {
		s.end()
	}
}
