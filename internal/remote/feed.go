package remote

import (
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"tankwatch/internal/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Feed timing and reconnection tuning.
const (
	feedWriteWait    = 10 * time.Second
	feedPongWait     = 60 * time.Second
	feedPingPeriod   = (feedPongWait * 9) / 10
	feedMaxMsgSize   = 1 << 16 // 64 KB
	initialBackoff   = 1 * time.Second
	maxBackoff       = 60 * time.Second
	backoffFactor    = 2.0
	backoffJitterPct = 0.25
)

// Frame types on the feed wire.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameEvent       = "event"
)

// feedFrame is the envelope for every feed message in either direction.
type feedFrame struct {
	Type   string       `json:"type"`
	SubID  string       `json:"sub_id,omitempty"`
	Table  string       `json:"table,omitempty"`
	Filter *Filter      `json:"filter,omitempty"`
	Events []EventKind  `json:"events,omitempty"`
	Event  *ChangeEvent `json:"event,omitempty"`
}

// subscription is the feed-side record of one open subscription.
type subscription struct {
	id     string
	table  string
	filter *Filter
	kinds  []EventKind
	fn     EventHandler
}

// Subscription is the caller-held guard for an open change-feed
// subscription. Cancel is safe to call more than once; only the first call
// releases the subscription.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription wraps a release func in an idempotent guard. Exposed so
// alternative DataService implementations can hand out guards too.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Cancel releases the subscription. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Feed multiplexes change-feed subscriptions over one websocket
// connection, reconnecting with exponential backoff and re-issuing
// subscribe frames after each reconnect.
type Feed struct {
	cfg        Config
	log        *logger.Logger
	dial       func(url string) (*websocket.Conn, error)
	pingPeriod time.Duration

	mu      sync.Mutex
	subs    map[string]*subscription
	conn    *websocket.Conn
	closed  bool
	backoff time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewFeed builds a change feed client for the configured endpoint.
func NewFeed(cfg Config, log *logger.Logger) *Feed {
	return &Feed{
		cfg: cfg,
		log: log,
		dial: func(url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			return conn, err
		},
		pingPeriod: feedPingPeriod,
		subs:       make(map[string]*subscription),
		backoff:    initialBackoff,
		stop:       make(chan struct{}),
	}
}

// Start launches the connection loop. It returns immediately; the first
// connection is established in the background.
func (f *Feed) Start() {
	f.wg.Add(1)
	go f.connectionLoop()
}

// Close tears the feed down and waits for its goroutines.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.stop)
	if f.conn != nil {
		_ = f.conn.Close()
	}
	f.mu.Unlock()
	f.wg.Wait()
}

// Subscribe registers a handler for change events on the given table. The
// subscribe frame is sent immediately when connected, and re-sent after
// every reconnect.
func (f *Feed) Subscribe(table string, filter *Filter, kinds []EventKind, fn EventHandler) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFeedClosed
	}
	if len(kinds) == 0 {
		kinds = []EventKind{EventAll}
	}

	sub := &subscription{
		id:     uuid.New().String(),
		table:  table,
		filter: filter,
		kinds:  kinds,
		fn:     fn,
	}
	f.subs[sub.id] = sub
	if f.conn != nil {
		f.sendFrameLocked(subscribeFrame(sub))
	}
	id := sub.id
	return NewSubscription(func() { f.unsubscribe(id) }), nil
}

func subscribeFrame(sub *subscription) feedFrame {
	return feedFrame{
		Type:   frameSubscribe,
		SubID:  sub.id,
		Table:  sub.table,
		Filter: sub.filter,
		Events: sub.kinds,
	}
}

// unsubscribe drops the subscription record and tells the server when a
// connection is up.
func (f *Feed) unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[id]; !ok {
		return
	}
	delete(f.subs, id)
	if f.conn != nil && !f.closed {
		f.sendFrameLocked(feedFrame{Type: frameUnsubscribe, SubID: id})
	}
}

// writePing sends a ping under f.mu. The connection permits one writer at
// a time, so pings share the lock with subscribe and unsubscribe frames.
func (f *Feed) writePing(conn *websocket.Conn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// sendFrameLocked writes one frame; callers hold f.mu. Write failures are
// left to the read loop to detect and trigger a reconnect.
func (f *Feed) sendFrameLocked(frame feedFrame) {
	_ = f.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	if err := f.conn.WriteJSON(frame); err != nil {
		f.log.Infow("feed_write_failed", "type", frame.Type, "err", err)
	}
}

// connectionLoop dials, replays subscriptions, and pumps events until Close.
func (f *Feed) connectionLoop() {
	defer f.wg.Done()
	for {
		select {
		case <-f.stop:
			return
		default:
		}

		conn, err := f.dial(f.cfg.FeedURL)
		if err != nil {
			f.log.Warnw("feed_dial_failed", "url", f.cfg.FeedURL, "err", err)
			if !f.sleepBackoff() {
				return
			}
			continue
		}

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			_ = conn.Close()
			return
		}
		f.conn = conn
		f.backoff = initialBackoff
		// Replay every live subscription on the fresh connection.
		for _, sub := range f.subs {
			f.sendFrameLocked(subscribeFrame(sub))
		}
		f.mu.Unlock()

		f.log.Infow("feed_connected", "url", f.cfg.FeedURL)
		f.pump(conn)

		f.mu.Lock()
		f.conn = nil
		closed := f.closed
		f.mu.Unlock()
		_ = conn.Close()
		if closed {
			return
		}
		if !f.sleepBackoff() {
			return
		}
	}
}

// pump reads frames until the connection dies, keeping the ping/pong
// deadlines honored.
func (f *Feed) pump(conn *websocket.Conn) {
	conn.SetReadLimit(feedMaxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})

	done := make(chan struct{})
	go func() {
		ping := time.NewTicker(f.pingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case <-f.stop:
				return
			case <-ping.C:
				if err := f.writePing(conn); err != nil {
					return
				}
			}
		}
	}()
	defer close(done)

	for {
		var frame feedFrame
		if err := conn.ReadJSON(&frame); err != nil {
			f.log.Infow("feed_read_closed", "err", err)
			return
		}
		if frame.Type != frameEvent || frame.Event == nil {
			continue
		}
		f.dispatch(frame.SubID, *frame.Event)
	}
}

// dispatch routes one event to its subscription handler.
func (f *Feed) dispatch(subID string, ev ChangeEvent) {
	f.mu.Lock()
	sub, ok := f.subs[subID]
	f.mu.Unlock()
	if !ok {
		// Late event for a canceled subscription; drop it.
		return
	}
	sub.fn(ev)
}

// sleepBackoff waits for the current backoff window (with jitter) and
// grows it. Returns false when the feed is being closed.
func (f *Feed) sleepBackoff() bool {
	f.mu.Lock()
	delay := f.backoff
	next := time.Duration(float64(f.backoff) * backoffFactor)
	if next > maxBackoff {
		next = maxBackoff
	}
	f.backoff = next
	f.mu.Unlock()

	jitter := time.Duration(rand.Float64() * backoffJitterPct * float64(delay))
	select {
	case <-f.stop:
		return false
	case <-time.After(delay + jitter):
		return true
	}
}

// DecodeRow unmarshals a change-event image into a typed row.
func DecodeRow[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
