package internal

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/storage"
)

// defaultRoom is every session's room until it joins another one. Matches the
// room seeded by storage.Migrate.
const defaultRoom = storage.GeneralRoom

// Options bundles the tunable policies of the engine.
type Options struct {
	AuthLimit   int
	AuthWindow  time.Duration
	TextLimit   int
	TextWindow  time.Duration
	MaxFileSize int64
	MaxChunks   int
}

// DefaultOptions mirrors the reference policy: 5 auth attempts and 10 text
// messages per rolling minute, 10 MiB uploads.
func DefaultOptions() Options {
	return Options{
		AuthLimit:   5,
		AuthWindow:  time.Minute,
		TextLimit:   10,
		TextWindow:  time.Minute,
		MaxFileSize: 10 * 1024 * 1024,
		MaxChunks:   1024,
	}
}

// Server owns the shared state every connection goroutine touches: the session
// registry, the upload table, the rate limiters, and the presence tracker.
// Each component guards its own map; the server never exposes a raw one.
type Server struct {
	store       *storage.Store
	blobs       *BlobStore
	registry    *SessionRegistry
	uploads     *UploadTable
	presence    *PresenceTracker
	authLimiter *RateLimiter
	textLimiter *RateLimiter
	metrics     *Metrics

	// broadcastMu serializes fan-outs so every member of a room sees events
	// in the same accept order. Handlers that persist before broadcasting
	// hold it across both steps, keeping replay order consistent with what
	// was fanned out live.
	broadcastMu sync.Mutex
}

func NewServer(store *storage.Store, blobs *BlobStore, opts Options) *Server {
	return &Server{
		store:       store,
		blobs:       blobs,
		registry:    NewSessionRegistry(),
		uploads:     NewUploadTable(opts.MaxFileSize, opts.MaxChunks),
		presence:    NewPresenceTracker(),
		authLimiter: NewRateLimiter(opts.AuthLimit, opts.AuthWindow),
		textLimiter: NewRateLimiter(opts.TextLimit, opts.TextWindow),
		metrics:     NewMetrics(),
	}
}

// MetricsHandler exposes the counters endpoint.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request and starts the connection's pump goroutines.
// The session begins unauthenticated with the default room.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	websocketConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}
	client := newClient(s, websocketConn, clientIP(request))
	s.metrics.IncConn()
	log.Printf("client %s connected from %s", client.id, client.addr)

	go client.writePump()
	go client.readPump()
}

// dropClient runs the disconnect path: close the outbound queue, release the
// registry entry and any uploads the identity owns, and tell the rest of the
// world the identity went offline. Safe to reach more than once per client.
func (s *Server) dropClient(c *Client) {
	c.mu.Lock()
	alreadyDropped := c.dropped
	c.dropped = true
	c.mu.Unlock()
	if alreadyDropped {
		return
	}
	c.closeSend()
	s.metrics.DecConn()
	log.Printf("client %s disconnected", c.id)
	identity := c.Identity()
	if identity == "" {
		return
	}
	if s.registry.Remove(identity, c) {
		s.uploads.DropOwner(identity)
		s.presence.Remove(identity)
		s.broadcastUserStatus(identity, statusOffline, c)
	}
}

// broadcastRoom fans a payload out to every session currently in room. A
// session whose queue is full gets its queue closed, which tears the
// connection down without stalling the remaining members.
func (s *Server) broadcastRoom(room string, payload []byte, except *Client) {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	s.deliverRoom(room, payload, except)
}

// deliverRoom is broadcastRoom without the lock. Callers hold broadcastMu.
func (s *Server) deliverRoom(room string, payload []byte, except *Client) {
	for _, c := range s.registry.InRoom(room) {
		if c == except {
			continue
		}
		if !c.trySend(payload) {
			c.closeSend()
		}
	}
}

// broadcastAll fans a payload out to every authenticated session.
func (s *Server) broadcastAll(payload []byte, except *Client) {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	for _, c := range s.registry.All() {
		if c == except {
			continue
		}
		if !c.trySend(payload) {
			c.closeSend()
		}
	}
}

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

func (s *Server) broadcastUserStatus(identity, status string, except *Client) {
	s.broadcastAll(userStatusPayload(identity, status), except)
}

// RunSweeper drives the periodic maintenance pass: idle detection plus
// eviction of stale rate-limit buckets and abandoned uploads. It returns when
// ctx is cancelled.
func (s *Server) RunSweeper(ctx context.Context, interval, idleThreshold, uploadTTL time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, identity := range s.presence.Sweep(idleThreshold) {
				s.broadcastUserStatus(identity, statusOffline, nil)
			}
			if evicted := s.uploads.Evict(uploadTTL); evicted > 0 {
				log.Printf("evicted %d abandoned uploads", evicted)
			}
			s.authLimiter.Evict()
			s.textLimiter.Evict()
		}
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
