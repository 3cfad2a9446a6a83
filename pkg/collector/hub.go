package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Stream tuning
const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 4096
	wsChannelBuffer   = 16
	wsPublishBuffer   = 256
	wsSubscriberQueue = 64
	wsWriteDeadline   = 10 * time.Second
	wsReadDeadline    = 60 * time.Second
	wsPingInterval    = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header = direct connection (curl, tests)
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  wsReadBufferSize,
	WriteBufferSize: wsWriteBufferSize,
}

// Filter selects which received items a stream subscriber sees. The
// zero Filter matches everything.
type Filter struct {
	// Names limits the stream to these function names
	Names map[string]bool
	// ErrorsOnly limits the stream to failed calls
	ErrorsOnly bool
}

// FilterFromQuery reads a Filter from ?name=a&name=b&errors=true
func FilterFromQuery(q url.Values) Filter {
	var f Filter
	for _, n := range q["name"] {
		if n == "" {
			continue
		}
		if f.Names == nil {
			f.Names = make(map[string]bool)
		}
		f.Names[n] = true
	}
	f.ErrorsOnly, _ = strconv.ParseBool(q.Get("errors"))
	return f
}

// Match reports whether an item of function name passes the filter
func (f Filter) Match(name string, failed bool) bool {
	if f.ErrorsOnly && !failed {
		return false
	}
	return len(f.Names) == 0 || f.Names[name]
}

type subscriber struct {
	conn   *websocket.Conn
	filter Filter
	send   chan []byte
}

type event struct {
	name    string
	failed  bool
	message []byte
}

// Hub streams received telemetry to WebSocket subscribers, each with
// its own filter and send queue. A subscriber that falls behind misses
// messages instead of stalling the others.
type Hub struct {
	subs       map[*subscriber]struct{}
	register   chan *subscriber
	unregister chan *subscriber
	publish    chan event
	done       chan struct{}
	log        zerolog.Logger

	mu sync.RWMutex
}

// NewHub creates a hub. Run must be started for it to deliver anything.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs:       make(map[*subscriber]struct{}),
		register:   make(chan *subscriber, wsChannelBuffer),
		unregister: make(chan *subscriber, wsChannelBuffer),
		publish:    make(chan event, wsPublishBuffer),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// Run owns the subscriber set until ctx is done. Every subscriber's
// send queue is closed on the way out, which ends its stream.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.subs {
				close(s.send)
			}
			h.subs = make(map[*subscriber]struct{})
			h.mu.Unlock()
			return
		case s := <-h.register:
			h.mu.Lock()
			h.subs[s] = struct{}{}
			count := len(h.subs)
			h.mu.Unlock()
			h.log.Debug().Int("clients", count).Interface("names", s.filter.Names).Msg("stream client connected")
		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.send)
			}
			count := len(h.subs)
			h.mu.Unlock()
			h.log.Debug().Int("clients", count).Msg("stream client disconnected")
		case ev := <-h.publish:
			h.mu.RLock()
			for s := range h.subs {
				if !s.filter.Match(ev.name, ev.failed) {
					continue
				}
				select {
				case s.send <- ev.message:
				default:
					h.log.Debug().Str("function", ev.name).Msg("stream client behind, dropping message")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues rec for every subscriber whose filter matches it.
// Messages are dropped when the hub is backed up.
func (h *Hub) Publish(rec Received) error {
	message, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	select {
	case h.publish <- event{name: rec.Name, failed: rec.Error, message: message}:
	default:
		h.log.Warn().Str("function", rec.Name).Msg("publish channel full, dropping message")
	}
	return nil
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams the items matching its
// query filter until the client goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := &subscriber{
		conn:   conn,
		filter: FilterFromQuery(r.URL.Query()),
		send:   make(chan []byte, wsSubscriberQueue),
	}
	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}
	go h.write(s)

	defer func() {
		select {
		case h.unregister <- s:
		case <-h.done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	// control frames only
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Msg("stream closed unexpectedly")
			}
			return
		}
	}
}

// write is the only writer on s.conn. It drains s.send, pings on idle
// and closes the connection once s.send is closed or a write fails.
func (h *Hub) write(s *subscriber) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.Debug().Err(err).Msg("stream write failed")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
