package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// LatestPollInterval is how often the latest detection is checked for
// changes while clients are connected.
const LatestPollInterval = 100 * time.Millisecond

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// LatestHandler pushes the current detection to WebSocket clients whenever
// it changes.
type LatestHandler struct {
	detector Detector
	log      *zap.SugaredLogger
	interval time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
	last    []byte

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLatestHandler creates a LatestHandler and starts its broadcaster.
func NewLatestHandler(d Detector, logger *zap.SugaredLogger) *LatestHandler {
	return newLatestHandler(d, logger, LatestPollInterval)
}

func newLatestHandler(d Detector, logger *zap.SugaredLogger, interval time.Duration) *LatestHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	h := &LatestHandler{
		detector: d,
		log:      logger,
		interval: interval,
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		done:     make(chan struct{}),
	}
	h.wg.Add(1)
	go h.broadcast()
	return h
}

// ServeHTTP handles WebSocket upgrade requests. The current detection is sent
// right after the upgrade.
func (h *LatestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debugw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	msg, err := h.message()
	if err != nil {
		return
	}
	wmu := &sync.Mutex{}
	if err := write(conn, wmu, msg); err != nil {
		return
	}

	h.mu.Lock()
	h.clients[conn] = wmu
	h.mu.Unlock()
	h.log.Debugw("websocket client connected", "remote", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *LatestHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close stops the broadcaster. Connected clients are left to the HTTP server.
func (h *LatestHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	h.wg.Wait()
}

// broadcast sends the detection to all connected clients when it changes.
func (h *LatestHandler) broadcast() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		}

		if h.Clients() == 0 {
			continue
		}

		msg, err := h.message()
		if err != nil {
			continue
		}

		h.mu.Lock()
		if string(msg) == string(h.last) {
			h.mu.Unlock()
			continue
		}
		h.last = msg
		targets := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
		for conn, wmu := range h.clients {
			targets[conn] = wmu
		}
		h.mu.Unlock()

		for conn, wmu := range targets {
			if err := write(conn, wmu, msg); err != nil {
				conn.Close()
			}
		}
	}
}

func (h *LatestHandler) message() ([]byte, error) {
	return json.Marshal(toLatest(h.detector.Latest()))
}

func write(conn *websocket.Conn, wmu *sync.Mutex, msg []byte) error {
	wmu.Lock()
	defer wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
