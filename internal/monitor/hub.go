package monitor

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saveenergy/connflurry/internal/logging"
	"github.com/saveenergy/connflurry/pkg/types"
)

const writeTimeout = 5 * time.Second

// hub fans snapshots out to websocket subscribers. Writes happen on the
// hub goroutine so the publisher never waits on a slow client.
type hub struct {
	upgrader       websocket.Upgrader
	clients        map[*websocket.Conn]*clientConn
	allowedOrigins []string
	pingInterval   time.Duration
	updates        chan types.Snapshot
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
	mu             sync.RWMutex
	logger         *logging.Logger
}

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type wsMessage struct {
	Type     string           `json:"type"`
	RunID    string           `json:"run_id,omitempty"`
	Snapshot *types.Snapshot  `json:"snapshot,omitempty"`
	Report   *types.RunReport `json:"report,omitempty"`
	Time     int64            `json:"time"`
}

func newHub(logger *logging.Logger) *hub {
	h := &hub{
		clients:      make(map[*websocket.Conn]*clientConn),
		pingInterval: 30 * time.Second,
		updates:      make(chan types.Snapshot, 1),
		stopCh:       make(chan struct{}),
		logger:       logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return h.isAllowedOrigin(r.Header.Get("Origin"), r.Host)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	h.wg.Add(1)
	go h.loop()
	return h
}

func (h *hub) handle(w http.ResponseWriter, r *http.Request, runID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.F("error", err))
		return
	}
	defer conn.Close()

	// Reads only detect disconnects.
	conn.SetReadLimit(4096)

	client := &clientConn{conn: conn}
	h.mu.Lock()
	h.clients[conn] = client
	h.mu.Unlock()
	defer h.remove(conn)

	if err := client.writeJSON(wsMessage{Type: "connected", RunID: runID, Time: time.Now().Unix()}); err != nil {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// offer replaces any undelivered snapshot with snap and never blocks.
func (h *hub) offer(snap types.Snapshot) {
	for {
		select {
		case h.updates <- snap:
			return
		default:
		}
		select {
		case <-h.updates:
		default:
		}
	}
}

func (h *hub) loop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case snap := <-h.updates:
			h.broadcast(wsMessage{Type: "snapshot", RunID: snap.RunID, Snapshot: &snap, Time: snap.Timestamp.Unix()})
		case <-ticker.C:
			h.ping()
		}
	}
}

func (h *hub) broadcast(msg wsMessage) {
	for _, c := range h.snapshotClients() {
		if err := c.writeJSON(msg); err != nil {
			h.remove(c.conn)
			c.conn.Close()
		}
	}
}

func (h *hub) ping() {
	for _, c := range h.snapshotClients() {
		if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
			h.remove(c.conn)
			c.conn.Close()
		}
	}
}

func (h *hub) snapshotClients() []*clientConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*clientConn, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

func (h *hub) close() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	h.wg.Wait()

	for _, c := range h.snapshotClients() {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
		h.remove(c.conn)
	}
}

func (h *hub) isAllowedOrigin(origin, host string) bool {
	if origin == "" {
		return true
	}
	h.mu.RLock()
	allowed := append([]string(nil), h.allowedOrigins...)
	h.mu.RUnlock()

	originHost := originHostname(origin)
	if len(allowed) == 0 {
		return strings.EqualFold(originHost, stripPort(host))
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
		case a == "*":
			return true
		case strings.EqualFold(a, origin):
			return true
		case strings.HasPrefix(a, "*."):
			suffix := strings.TrimPrefix(a, "*.")
			if originHost != "" && (originHost == suffix || strings.HasSuffix(originHost, "."+suffix)) {
				return true
			}
		default:
			if ah := originHostname(a); ah != "" && strings.EqualFold(ah, originHost) {
				return true
			}
		}
	}
	return false
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}

func originHostname(origin string) string {
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return stripPort(u.Host)
	}
	return stripPort(origin)
}

func (c *clientConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *clientConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}
