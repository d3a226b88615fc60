// Package ws is the live-update fabric: a websocket hub that delivers
// operation progress to subscribers and notifications to everyone, with a
// bounded broadcast queue and progress coalescing under pressure.
package ws

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/avelez/mediastash/internal/models"
)

const (
	clientSendBuffer  = 64
	queueCapacity     = 256
	heartbeatInterval = 30 * time.Second
)

// Notification levels.
const (
	LevelInfo               = "info"
	LevelWarning            = "warning"
	LevelError              = "error"
	LevelSuccess            = "success"
	LevelCursorInvalidation = "cursor_invalidation"
	LevelCacheInvalidation  = "cache_invalidation"
)

// Envelope wraps every server-sent frame.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id"`
}

func newEnvelope(typ string, data interface{}) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:      typ,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		MessageID: uuid.NewString(),
	})
}

type controlFrame struct {
	Action      string `json:"action"`
	OperationID string `json:"operation_id,omitempty"`
}

type outbound struct {
	payload []byte
	// opID targets subscribers of one operation; empty goes to everyone.
	opID string
	// coalesceKey marks a frame replaceable by a newer one with the same
	// key while it waits in the queue. Terminal frames never set it.
	coalesceKey string
}

type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	subs   map[string]bool
	closed bool
}

func (c *Client) subscribed(opID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[opID]
}

// trySend queues a frame unless the client is closed or its buffer is
// full. Holding the mutex here keeps sends ordered against close.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Hub owns the client set and the broadcast queue. One drain goroutine
// delivers in enqueue order; per-operation ordering follows from that.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	queueMu sync.Mutex
	queue   []outbound
	byKey   map[string]int
	notify  chan struct{}

	messagesSent   int64
	messagesQueued int64
	dropped        int64

	done chan struct{}
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		byKey:   make(map[string]int),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Run starts the drain loop and the heartbeat. It blocks until ctx is
// cancelled or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-h.notify:
			h.drain()
		case <-ticker.C:
			h.Heartbeat()
		}
	}
}

func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// enqueue appends to the bounded queue. Coalescible frames replace their
// queued predecessor; when the queue is saturated a coalescible frame
// without a predecessor is dropped, terminal and notification frames are
// always admitted.
func (h *Hub) enqueue(msg outbound) {
	h.queueMu.Lock()
	if msg.coalesceKey != "" {
		if idx, ok := h.byKey[msg.coalesceKey]; ok {
			h.queue[idx] = msg
			h.queueMu.Unlock()
			h.wake()
			return
		}
		if len(h.queue) >= queueCapacity {
			h.dropped++
			h.queueMu.Unlock()
			return
		}
		h.byKey[msg.coalesceKey] = len(h.queue)
	}
	h.queue = append(h.queue, msg)
	h.messagesQueued++
	h.queueMu.Unlock()
	h.wake()
}

func (h *Hub) wake() {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *Hub) drain() {
	for {
		h.queueMu.Lock()
		if len(h.queue) == 0 {
			h.queueMu.Unlock()
			return
		}
		msg := h.queue[0]
		h.queue = h.queue[1:]
		for key, idx := range h.byKey {
			if idx == 0 {
				delete(h.byKey, key)
			} else {
				h.byKey[key] = idx - 1
			}
		}
		h.queueMu.Unlock()

		h.deliver(msg)
	}
}

func (h *Hub) deliver(msg outbound) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if msg.opID == "" || c.subscribed(msg.opID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.trySend(msg.payload) {
			h.queueMu.Lock()
			h.messagesSent++
			h.queueMu.Unlock()
		} else {
			// Slow consumer: disconnect, subscriptions go with it.
			log.Printf("[ws] client %s too slow, disconnecting", c.id)
			h.removeClient(c)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	// The closed flag shares the client mutex with trySend, so no sender
	// can race the close.
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats is the hub's self-report, used by get_status and system health.
type Stats struct {
	ConnectedClients int   `json:"connected_clients"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesQueued   int64 `json:"messages_queued"`
	Dropped          int64 `json:"dropped"`
	QueueDepth       int   `json:"queue_depth"`
}

func (h *Hub) Stats() Stats {
	h.queueMu.Lock()
	defer h.queueMu.Unlock()
	return Stats{
		ConnectedClients: h.ClientCount(),
		MessagesSent:     h.messagesSent,
		MessagesQueued:   h.messagesQueued,
		Dropped:          h.dropped,
		QueueDepth:       len(h.queue),
	}
}

// ──────────────────── broadcast entry points ────────────────────

type progressPayload struct {
	OperationID string       `json:"operation_id"`
	Progress    progressBody `json:"progress"`
}

type progressBody struct {
	ProcessedCount  int     `json:"processed_count"`
	TotalItems      int     `json:"total_items"`
	ProgressPercent float64 `json:"progress_percent"`
	Message         string  `json:"message,omitempty"`
	Status          string  `json:"status"`
}

// OperationProgress targets subscribers of the operation. Frames may be
// coalesced under queue pressure, last one wins.
func (h *Hub) OperationProgress(op models.Operation) {
	id := op.ID.String()
	payload, err := newEnvelope("operation_progress", progressPayload{
		OperationID: id,
		Progress: progressBody{
			ProcessedCount:  op.ProcessedCount,
			TotalItems:      op.TotalItems,
			ProgressPercent: op.Progress,
			Message:         op.Message,
			Status:          string(op.State),
		},
	})
	if err != nil {
		return
	}
	h.enqueue(outbound{payload: payload, opID: id, coalesceKey: "progress:" + id})
}

// OperationTerminal emits operation_complete/failed/cancelled. Never
// coalesced or dropped.
func (h *Hub) OperationTerminal(op models.Operation) {
	var typ string
	switch op.State {
	case models.OpCompleted:
		typ = "operation_complete"
	case models.OpFailed:
		typ = "operation_failed"
	case models.OpCancelled:
		typ = "operation_cancelled"
	default:
		return
	}
	id := op.ID.String()
	data := map[string]interface{}{
		"operation_id": id,
		"status":       string(op.State),
		"result":       op.Result,
	}
	if op.Error != "" {
		data["error"] = op.Error
	}
	payload, err := newEnvelope(typ, data)
	if err != nil {
		return
	}
	h.enqueue(outbound{payload: payload, opID: id})
}

// Notify broadcasts a notification frame to every client.
func (h *Hub) Notify(message, level string, data map[string]interface{}) {
	body := map[string]interface{}{
		"message": message,
		"level":   level,
	}
	if data != nil {
		body["data"] = data
	}
	payload, err := newEnvelope("notification", body)
	if err != nil {
		return
	}
	h.enqueue(outbound{payload: payload})
}

// BroadcastVideoUpdate signals cursor-paginated clients that a video row
// changed (update, delete, restore, move_to_trash).
func (h *Hub) BroadcastVideoUpdate(videoID, action string, changes map[string]interface{}) {
	update := map[string]interface{}{
		"video_id": videoID,
		"action":   action,
	}
	if changes != nil {
		update["changes"] = changes
	}
	h.Notify("video updated", LevelCursorInvalidation, map[string]interface{}{
		"type":         "video_update",
		"video_update": update,
	})
}

// BroadcastCacheInvalidation tells clients which cached keys went stale.
func (h *Hub) BroadcastCacheInvalidation(keys []string, reason string) {
	h.Notify("cache invalidated", LevelCacheInvalidation, map[string]interface{}{
		"type": "cache_invalidation",
		"cache_invalidation": map[string]interface{}{
			"cache_keys": keys,
			"reason":     reason,
		},
	})
}

// Heartbeat broadcasts a liveness frame to every client.
func (h *Hub) Heartbeat() {
	payload, err := newEnvelope("heartbeat", map[string]interface{}{"status": "alive"})
	if err != nil {
		return
	}
	h.enqueue(outbound{payload: payload})
}

// ──────────────────── http handler ────────────────────

// ServeHTTP upgrades the connection and runs the client's read loop.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[ws] accept: %v", err)
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		subs: make(map[string]bool),
	}
	h.addClient(client)
	log.Printf("[ws] client connected: %s", client.id)

	ctx := r.Context()

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for msg := range client.send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}()

	welcome, err := newEnvelope("welcome", map[string]interface{}{"client_id": client.id})
	if err == nil {
		client.trySend(welcome)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		h.handleControl(client, data)
	}

	h.removeClient(client)
	log.Printf("[ws] client disconnected: %s", client.id)
}

func (h *Hub) handleControl(c *Client, data []byte) {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	switch frame.Action {
	case "subscribe":
		if frame.OperationID != "" {
			c.mu.Lock()
			c.subs[frame.OperationID] = true
			c.mu.Unlock()
		}
	case "unsubscribe":
		c.mu.Lock()
		delete(c.subs, frame.OperationID)
		c.mu.Unlock()
	case "get_status":
		if payload, err := newEnvelope("system_status", h.Stats()); err == nil {
			h.sendTo(c, payload)
		}
	case "ping":
		if payload, err := newEnvelope("heartbeat", map[string]interface{}{"status": "pong"}); err == nil {
			h.sendTo(c, payload)
		}
	}
}

func (h *Hub) sendTo(c *Client, payload []byte) {
	if !c.trySend(payload) {
		h.removeClient(c)
	}
}
