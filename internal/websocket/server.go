package websocket

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saveenergy/pagevitals/internal/logging"
	"github.com/saveenergy/pagevitals/pkg/types"
)

const writeWait = 5 * time.Second

// Server fans ingested reports out to live subscribers. Subscribers filter by
// page URL; an empty filter receives every page.
type Server struct {
	upgrader       websocket.Upgrader
	clients        map[string]map[*websocket.Conn]*clientConn
	allowedOrigins []string
	pingInterval   time.Duration
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
	mu             sync.RWMutex
}

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewServer() *Server {
	server := &Server{
		clients:      make(map[string]map[*websocket.Conn]*clientConn),
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
	server.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return server.isAllowedOrigin(r.Header.Get("Origin"), r.Host)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	server.startPingLoop()
	return server
}

func (s *Server) SetAllowedOrigins(origins []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowedOrigins = origins
}

func (s *Server) SetPingInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingInterval = interval
}

// Subscribers returns the number of connected clients.
func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.clients {
		n += len(c)
	}
	return n
}

// HandleLive upgrades the request and streams reports whose URL equals
// pageURL until the client disconnects.
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request, pageURL string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade error",
			logging.Field{Key: "error", Value: err},
			logging.Field{Key: "url", Value: pageURL})
		return
	}
	defer conn.Close()

	// Clients only send close frames.
	conn.SetReadLimit(4096)

	s.mu.Lock()
	if s.clients[pageURL] == nil {
		s.clients[pageURL] = make(map[*websocket.Conn]*clientConn)
	}
	client := &clientConn{conn: conn}
	s.clients[pageURL][conn] = client
	s.mu.Unlock()

	if err := client.writeJSON(liveMessage{
		Type: "connected",
		URL:  pageURL,
		Time: time.Now().Unix(),
	}); err != nil {
		s.removeClient(pageURL, conn)
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.removeClient(pageURL, conn)
}

// Broadcast sends a stored report to every subscriber of its page and to
// unfiltered subscribers.
func (s *Server) Broadcast(report types.StoredReport) {
	type target struct {
		filter string
		client *clientConn
	}

	s.mu.RLock()
	var targets []target
	for _, filter := range []string{report.URL, ""} {
		for _, c := range s.clients[filter] {
			targets = append(targets, target{filter: filter, client: c})
		}
		if report.URL == "" {
			break
		}
	}
	s.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(liveMessage{
		Type:   "report",
		URL:    report.URL,
		Time:   time.Now().Unix(),
		Report: &report,
	})
	if err != nil {
		logging.Warn("WebSocket report marshal failed",
			logging.Field{Key: "id", Value: report.ID},
			logging.Field{Key: "error", Value: err})
		return
	}

	for _, t := range targets {
		if err := t.client.writeMessage(websocket.TextMessage, data); err != nil {
			s.removeClient(t.filter, t.client.conn)
			t.client.conn.Close()
		}
	}
}

func (s *Server) startPingLoop() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		interval := s.getPingInterval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.pingClients()
				next := s.getPingInterval()
				if next != interval {
					ticker.Stop()
					interval = next
					ticker = time.NewTicker(interval)
				}
			}
		}
	}()
}

func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Server) getPingInterval() time.Duration {
	s.mu.RLock()
	interval := s.pingInterval
	s.mu.RUnlock()
	if interval <= 0 {
		return 30 * time.Second
	}
	return interval
}

func (s *Server) pingClients() {
	type clientRef struct {
		filter string
		client *clientConn
	}

	var refs []clientRef
	s.mu.RLock()
	for filter, pageClients := range s.clients {
		for _, client := range pageClients {
			refs = append(refs, clientRef{filter: filter, client: client})
		}
	}
	s.mu.RUnlock()

	for _, ref := range refs {
		if err := ref.client.writeMessage(websocket.PingMessage, nil); err != nil {
			s.removeClient(ref.filter, ref.client.conn)
			ref.client.conn.Close()
		}
	}
}

func (s *Server) removeClient(filter string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clients[filter] == nil {
		return
	}
	delete(s.clients[filter], conn)
	if len(s.clients[filter]) == 0 {
		delete(s.clients, filter)
	}
}

func (s *Server) isAllowedOrigin(origin string, host string) bool {
	if origin == "" {
		return true
	}

	s.mu.RLock()
	allowedOrigins := append([]string(nil), s.allowedOrigins...)
	s.mu.RUnlock()

	if len(allowedOrigins) == 0 {
		return sameOrigin(origin, host)
	}
	return OriginAllowed(origin, allowedOrigins)
}

// OriginAllowed matches origin against exact origins, bare hosts, "*" and
// "*.suffix" patterns.
func OriginAllowed(origin string, allowedOrigins []string) bool {
	originHostValue := types.OriginHost(origin)
	for _, allowed := range allowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(allowed, origin) {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			suffix := strings.TrimPrefix(allowed, "*.")
			if originHostValue != "" && (originHostValue == suffix || strings.HasSuffix(originHostValue, "."+suffix)) {
				return true
			}
			continue
		}
		allowedHost := types.OriginHost(allowed)
		if allowedHost != "" && originHostValue != "" && strings.EqualFold(allowedHost, originHostValue) {
			return true
		}
	}
	return false
}

func sameOrigin(origin string, host string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originH := types.StripHostPort(parsed.Host)
	requestH := types.StripHostPort(host)
	return strings.EqualFold(originH, requestH)
}

type liveMessage struct {
	Type   string              `json:"type"`
	URL    string              `json:"url,omitempty"`
	Time   int64               `json:"time"`
	Report *types.StoredReport `json:"report,omitempty"`
}

func (c *clientConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *clientConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}
