package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/cluster"
	"github.com/vera-byte/vconnect/internal/common/cnst"
	"github.com/vera-byte/vconnect/internal/common/config"
	"github.com/vera-byte/vconnect/internal/registry"
	"github.com/vera-byte/vconnect/internal/storage"
)

type localNode struct {
	id string
	st storage.Store
}

func (n *localNode) NodeID() string       { return n.id }
func (n *localNode) Store() storage.Store { return n.st }

type testHarness struct {
	srv   *Server
	reg   *registry.Registry
	store *storage.MemoryStore
	http  *httptest.Server
}

func newHarness(t *testing.T, cfg *config.ServerConfig) *testHarness {
	t.Helper()
	if cfg == nil {
		cfg = &config.ServerConfig{
			HeartbeatTimeoutMS: 60000,
			AuthDeadline:       time.Minute,
			SendBuffer:         64,
		}
	}
	logger := zap.NewNop()
	reg := registry.New(logger, cfg.SendBuffer)
	store := storage.NewMemoryStore(logger)

	dir := cluster.NewDirectory(logger)
	dir.RegisterNode(cluster.NodeInfo{NodeID: "node-1", Weight: 100, Alive: true})
	dir.RegisterServer("node-1", &localNode{id: "node-1", st: store})
	rep := cluster.NewReplicator(dir, "node-1", logger)

	srv := NewServer(logger, cfg, "node-1", reg, dir, rep, store, nil)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	srv.Routes(r)
	hs := httptest.NewServer(r)
	t.Cleanup(hs.Close)

	return &testHarness{srv: srv, reg: reg, store: store, http: hs}
}

func (h *testHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) ImMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg ImMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func expectType(t *testing.T, conn *websocket.Conn, msgType string) ImMessage {
	t.Helper()
	msg := readMsg(t, conn)
	require.Equal(t, msgType, msg.Type, "payload: %s", msg.Data)
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(&ImMessage{Type: msgType, Data: raw})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, out))
}

func authenticate(t *testing.T, conn *websocket.Conn, uid string) {
	t.Helper()
	send(t, conn, cnst.MsgTypeAuth, &AuthData{UID: uid, Token: "t"})
	msg := expectType(t, conn, cnst.MsgTypeAuthResponse)
	var resp AuthResponseData
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	require.Equal(t, cnst.StatusOK, resp.Status)
}

func TestConnectWelcome(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	msg := expectType(t, conn, cnst.MsgTypeWelcome)
	var welcome WelcomeData
	require.NoError(t, json.Unmarshal(msg.Data, &welcome))
	assert.NotEmpty(t, welcome.ClientID)
	assert.Equal(t, "node-1", welcome.NodeID)
	assert.Equal(t, 60000, welcome.HeartbeatTimeoutMS)
}

func TestPingPong(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)
	welcome := expectType(t, conn, cnst.MsgTypeWelcome)
	var w WelcomeData
	require.NoError(t, json.Unmarshal(welcome.Data, &w))

	send(t, conn, cnst.MsgTypePing, &PingData{Timestamp: time.Now().UnixMilli()})
	msg := expectType(t, conn, cnst.MsgTypePong)
	var pong PongData
	require.NoError(t, json.Unmarshal(msg.Data, &pong))
	assert.Equal(t, w.ClientID, pong.ClientID)
	assert.NotZero(t, pong.Timestamp)
}

func TestMalformedJSONKeepsConnection(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)
	expectType(t, conn, cnst.MsgTypeWelcome)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	expectType(t, conn, cnst.MsgTypeError)

	// The connection survives and keeps serving.
	send(t, conn, cnst.MsgTypePing, &PingData{Timestamp: 1})
	expectType(t, conn, cnst.MsgTypePong)
}

func TestUnknownTypeIgnored(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)
	expectType(t, conn, cnst.MsgTypeWelcome)

	send(t, conn, "subscribe_weather", map[string]string{"city": "x"})
	send(t, conn, cnst.MsgTypePing, &PingData{Timestamp: 1})
	// No error frame in between: the next frame is the pong.
	expectType(t, conn, cnst.MsgTypePong)
}

func TestAuthAndRoster(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)
	expectType(t, conn, cnst.MsgTypeWelcome)
	authenticate(t, conn, "uid-1")

	send(t, conn, cnst.MsgTypeOnlineClients, nil)
	msg := expectType(t, conn, cnst.MsgTypeOnlineClientsResponse)
	var roster OnlineClientsResponseData
	require.NoError(t, json.Unmarshal(msg.Data, &roster))
	require.Equal(t, 1, roster.Count)
	assert.Equal(t, "uid-1", roster.Clients[0].UID)
}

func TestSendRequiresAuth(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)
	expectType(t, conn, cnst.MsgTypeWelcome)

	send(t, conn, cnst.MsgTypeSend, &SendData{ToUID: "uid-2", Content: "hi"})
	msg := expectType(t, conn, cnst.MsgTypeError)
	var e ErrorData
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, "unauthenticated", e.Code)
}

func TestDirectMessageDelivery(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.dial(t)
	bob := h.dial(t)
	expectType(t, alice, cnst.MsgTypeWelcome)
	expectType(t, bob, cnst.MsgTypeWelcome)
	authenticate(t, alice, "alice")
	authenticate(t, bob, "bob")

	send(t, alice, cnst.MsgTypeSend, &SendData{ToUID: "bob", Content: "hello bob"})
	msg := expectType(t, bob, cnst.MsgTypeMessage)
	var delivered MessageData
	require.NoError(t, json.Unmarshal(msg.Data, &delivered))
	assert.Equal(t, "alice", delivered.FromUID)
	assert.Equal(t, "hello bob", delivered.Content)
	assert.False(t, delivered.Offline)

	// The record went through the quorum log into the node store.
	assert.Equal(t, 1, h.store.Len())
}

func TestOfflineDeliveryOnAuth(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.dial(t)
	expectType(t, alice, cnst.MsgTypeWelcome)
	authenticate(t, alice, "alice")

	// bob is offline; the message parks in the store.
	send(t, alice, cnst.MsgTypeSend, &SendData{ToUID: "bob", Content: "missed you"})
	require.Eventually(t, func() bool {
		n, _ := h.store.CountOffline("bob")
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	bob := h.dial(t)
	expectType(t, bob, cnst.MsgTypeWelcome)
	send(t, bob, cnst.MsgTypeAuth, &AuthData{UID: "bob", Token: "t"})

	// Backlog first, then the auth response carrying the count.
	msg := expectType(t, bob, cnst.MsgTypeMessage)
	var offline MessageData
	require.NoError(t, json.Unmarshal(msg.Data, &offline))
	assert.Equal(t, "missed you", offline.Content)
	assert.True(t, offline.Offline)

	resp := expectType(t, bob, cnst.MsgTypeAuthResponse)
	var auth AuthResponseData
	require.NoError(t, json.Unmarshal(resp.Data, &auth))
	assert.Equal(t, 1, auth.OfflineCount)

	// Delivered backlog is acknowledged, not re-delivered.
	n, err := h.store.CountOffline("bob")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRoomMessaging(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.dial(t)
	bob := h.dial(t)
	expectType(t, alice, cnst.MsgTypeWelcome)
	expectType(t, bob, cnst.MsgTypeWelcome)
	authenticate(t, alice, "alice")
	authenticate(t, bob, "bob")

	send(t, alice, cnst.MsgTypeJoinRoom, &RoomData{RoomID: "general"})
	expectType(t, alice, cnst.MsgTypeRoomResponse)
	send(t, bob, cnst.MsgTypeJoinRoom, &RoomData{RoomID: "general"})
	expectType(t, bob, cnst.MsgTypeRoomResponse)

	send(t, alice, cnst.MsgTypeSend, &SendData{RoomID: "general", Content: "hi room"})

	// Bob gets the room message; alice, the sender, does not get an echo.
	msg := expectType(t, bob, cnst.MsgTypeMessage)
	var delivered MessageData
	require.NoError(t, json.Unmarshal(msg.Data, &delivered))
	assert.Equal(t, "general", delivered.RoomID)
	assert.Equal(t, "hi room", delivered.Content)

	send(t, alice, cnst.MsgTypePing, &PingData{Timestamp: 1})
	expectType(t, alice, cnst.MsgTypePong)
}

func TestBlockedUIDCannotAuth(t *testing.T) {
	h := newHarness(t, nil)
	h.reg.BlockUID("banned")

	conn := h.dial(t)
	expectType(t, conn, cnst.MsgTypeWelcome)
	send(t, conn, cnst.MsgTypeAuth, &AuthData{UID: "banned", Token: "t"})
	msg := expectType(t, conn, cnst.MsgTypeAuthResponse)
	var resp AuthResponseData
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	assert.Equal(t, cnst.StatusError, resp.Status)
}

func TestAuthWatchdogClosesIdleConnections(t *testing.T) {
	h := newHarness(t, &config.ServerConfig{
		HeartbeatTimeoutMS: 60000,
		AuthDeadline:       200 * time.Millisecond,
		SendBuffer:         64,
	})
	conn := h.dial(t)
	expectType(t, conn, cnst.MsgTypeWelcome)

	// Never authenticating trips the watchdog.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Eventually(t, func() bool {
		return h.reg.Count() == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRateLimitedSend(t *testing.T) {
	h := newHarness(t, nil)
	h.reg.SetRateLimit("chatty", 1)

	conn := h.dial(t)
	expectType(t, conn, cnst.MsgTypeWelcome)
	authenticate(t, conn, "chatty")

	send(t, conn, cnst.MsgTypeSend, &SendData{ToUID: "other", Content: "one"})
	send(t, conn, cnst.MsgTypeSend, &SendData{ToUID: "other", Content: "two"})
	msg := expectType(t, conn, cnst.MsgTypeError)
	var e ErrorData
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, "rate_limited", e.Code)
}
