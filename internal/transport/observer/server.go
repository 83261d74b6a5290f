package observer

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"cauldron.ai/internal/observerproto"
	"cauldron.ai/internal/protocol"
)

// StatusFunc reports the session state served by the bootstrap endpoint.
type StatusFunc func() observerproto.BootstrapResponse

type client struct {
	out      chan []byte
	snapshot bool
}

// Server fans decided turns out to read-only websocket observers. Publishing
// never blocks the agent: a slow observer loses messages instead.
type Server struct {
	status StatusFunc
	log    zerolog.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	drops    atomic.Uint64

	mu      sync.Mutex
	clients map[uint64]*client
}

func NewServer(status StatusFunc, logger zerolog.Logger) *Server {
	return &Server{
		status:  status,
		log:     logger.With().Str("component", "observer").Logger(),
		clients: map[uint64]*client{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
	}
}

// Handler serves /observer/bootstrap and /observer/ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/observer/ws", s.WSHandler())
	return mux
}

// Clients is the number of connected observers.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Drops counts messages not delivered to a slow observer.
func (s *Server) Drops() uint64 { return s.drops.Load() }

// Publish sends one decided turn to every observer.
func (s *Server) Publish(e protocol.TurnLogEntry) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return
	}
	var plain, full []byte
	for _, c := range s.clients {
		var b []byte
		if c.snapshot {
			if full == nil {
				full, _ = json.Marshal(observerproto.NewDecisionMsg(e, true))
			}
			b = full
		} else {
			if plain == nil {
				plain, _ = json.Marshal(observerproto.NewDecisionMsg(e, false))
			}
			b = plain
		}
		select {
		case c.out <- b:
		default:
			s.drops.Add(1)
		}
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := s.status()
		resp.ProtocolVersion = observerproto.Version
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		id := s.nextID.Add(1)
		c := &client{out: make(chan []byte, 64), snapshot: sub.IncludeSnapshot}
		s.mu.Lock()
		s.clients[id] = c
		s.mu.Unlock()
		s.log.Debug().Uint64("observer", id).Str("remote", r.RemoteAddr).Msg("observer-joined")
		defer func() {
			s.mu.Lock()
			delete(s.clients, id)
			s.mu.Unlock()
			s.log.Debug().Uint64("observer", id).Msg("observer-left")
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: observers are read-only, this only detects disconnects.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
