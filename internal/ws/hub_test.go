package ws

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelez/mediastash/internal/models"
)

func newTestClient(h *Hub) *Client {
	c := &Client{
		id:   uuid.NewString(),
		send: make(chan []byte, clientSendBuffer),
		subs: make(map[string]bool),
	}
	h.addClient(c)
	return c
}

func received(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case msg := <-c.send:
			var env Envelope
			require.NoError(t, json.Unmarshal(msg, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func testOperation(state models.OperationState) models.Operation {
	return models.Operation{
		ID:             uuid.New(),
		Type:           models.OpProcessVideos,
		State:          state,
		TotalItems:     10,
		ProcessedCount: 4,
		Progress:       40,
		Message:        "working",
	}
}

func TestProgressGoesOnlyToSubscribers(t *testing.T) {
	h := NewHub()
	sub := newTestClient(h)
	other := newTestClient(h)

	op := testOperation(models.OpRunning)
	sub.mu.Lock()
	sub.subs[op.ID.String()] = true
	sub.mu.Unlock()

	h.OperationProgress(op)
	h.drain()

	got := received(t, sub)
	require.Len(t, got, 1)
	assert.Equal(t, "operation_progress", got[0].Type)
	assert.Empty(t, received(t, other))

	data := got[0].Data.(map[string]interface{})
	assert.Equal(t, op.ID.String(), data["operation_id"])
	progress := data["progress"].(map[string]interface{})
	assert.Equal(t, float64(4), progress["processed_count"])
	assert.Equal(t, float64(40), progress["progress_percent"])
}

func TestTerminalFrameTypes(t *testing.T) {
	cases := []struct {
		state models.OperationState
		typ   string
	}{
		{models.OpCompleted, "operation_complete"},
		{models.OpFailed, "operation_failed"},
		{models.OpCancelled, "operation_cancelled"},
	}
	for _, tc := range cases {
		h := NewHub()
		c := newTestClient(h)
		op := testOperation(tc.state)
		c.mu.Lock()
		c.subs[op.ID.String()] = true
		c.mu.Unlock()

		h.OperationTerminal(op)
		h.drain()

		got := received(t, c)
		require.Len(t, got, 1, tc.typ)
		assert.Equal(t, tc.typ, got[0].Type)
	}
}

func TestProgressCoalescingLastWins(t *testing.T) {
	h := NewHub()
	c := newTestClient(h)
	op := testOperation(models.OpRunning)
	c.mu.Lock()
	c.subs[op.ID.String()] = true
	c.mu.Unlock()

	// Three progress frames queue up before the drain loop gets a turn;
	// only the newest survives.
	for _, processed := range []int{1, 2, 3} {
		op.ProcessedCount = processed
		op.Progress = float64(processed) * 10
		h.OperationProgress(op)
	}
	h.drain()

	got := received(t, c)
	require.Len(t, got, 1)
	data := got[0].Data.(map[string]interface{})
	progress := data["progress"].(map[string]interface{})
	assert.Equal(t, float64(3), progress["processed_count"])
}

func TestTerminalNotCoalesced(t *testing.T) {
	h := NewHub()
	c := newTestClient(h)
	op := testOperation(models.OpRunning)
	c.mu.Lock()
	c.subs[op.ID.String()] = true
	c.mu.Unlock()

	h.OperationProgress(op)
	op.State = models.OpCompleted
	op.Progress = 100
	h.OperationTerminal(op)
	h.drain()

	got := received(t, c)
	require.Len(t, got, 2)
	assert.Equal(t, "operation_progress", got[0].Type)
	assert.Equal(t, "operation_complete", got[1].Type)
}

func TestVideoUpdateNotification(t *testing.T) {
	h := NewHub()
	c := newTestClient(h)

	h.BroadcastVideoUpdate("42", "move_to_trash", nil)
	h.drain()

	got := received(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "notification", got[0].Type)

	data := got[0].Data.(map[string]interface{})
	assert.Equal(t, LevelCursorInvalidation, data["level"])
	inner := data["data"].(map[string]interface{})
	assert.Equal(t, "video_update", inner["type"])
	update := inner["video_update"].(map[string]interface{})
	assert.Equal(t, "42", update["video_id"])
	assert.Equal(t, "move_to_trash", update["action"])
}

func TestNotificationReachesAllClients(t *testing.T) {
	h := NewHub()
	a := newTestClient(h)
	b := newTestClient(h)

	h.Notify("library refreshed", LevelSuccess, nil)
	h.drain()

	for _, c := range []*Client{a, b} {
		got := received(t, c)
		require.Len(t, got, 1)
		data := got[0].Data.(map[string]interface{})
		assert.Equal(t, "library refreshed", data["message"])
		assert.Equal(t, LevelSuccess, data["level"])
	}
}

func TestEnvelopeShape(t *testing.T) {
	h := NewHub()
	c := newTestClient(h)

	h.Heartbeat()
	h.drain()

	got := received(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "heartbeat", got[0].Type)
	assert.NotEmpty(t, got[0].Timestamp)
	_, err := uuid.Parse(got[0].MessageID)
	assert.NoError(t, err)
}

func TestControlFrames(t *testing.T) {
	h := NewHub()
	c := newTestClient(h)
	opID := uuid.NewString()

	h.handleControl(c, []byte(`{"action":"subscribe","operation_id":"`+opID+`"}`))
	assert.True(t, c.subscribed(opID))

	h.handleControl(c, []byte(`{"action":"unsubscribe","operation_id":"`+opID+`"}`))
	assert.False(t, c.subscribed(opID))

	h.handleControl(c, []byte(`{"action":"ping"}`))
	got := received(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "heartbeat", got[0].Type)
	data := got[0].Data.(map[string]interface{})
	assert.Equal(t, "pong", data["status"])

	h.handleControl(c, []byte(`{"action":"get_status"}`))
	got = received(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "system_status", got[0].Type)
}

func TestStatsCountsDelivery(t *testing.T) {
	h := NewHub()
	newTestClient(h)
	newTestClient(h)

	h.Notify("hello", LevelInfo, nil)
	h.drain()

	stats := h.Stats()
	assert.Equal(t, 2, stats.ConnectedClients)
	assert.Equal(t, int64(2), stats.MessagesSent)
	assert.Equal(t, 0, stats.QueueDepth)
}

func TestControlReplyAfterDisconnect(t *testing.T) {
	h := NewHub()
	c := newTestClient(h)

	// A disconnect racing a control-frame reply must not crash the hub;
	// the reply is simply dropped.
	h.removeClient(c)
	h.handleControl(c, []byte(`{"action":"ping"}`))
	h.handleControl(c, []byte(`{"action":"get_status"}`))

	h.Notify("still alive", LevelInfo, nil)
	h.drain()
	assert.Equal(t, 0, h.ClientCount())
}

func TestRemoveClientIdempotent(t *testing.T) {
	h := NewHub()
	c := newTestClient(h)
	h.removeClient(c)
	h.removeClient(c)
	assert.False(t, c.trySend([]byte("x")))
}

func TestSlowConsumerDisconnected(t *testing.T) {
	h := NewHub()
	c := &Client{
		id:   uuid.NewString(),
		send: make(chan []byte), // unbuffered, nobody reading
		subs: make(map[string]bool),
	}
	h.addClient(c)

	h.Notify("overflow", LevelInfo, nil)
	h.drain()

	assert.Equal(t, 0, h.ClientCount())
}
