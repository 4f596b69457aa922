package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/common/cnst"
	"github.com/vera-byte/vconnect/internal/common/config"
	"github.com/vera-byte/vconnect/internal/plugin/pdk"
	"github.com/vera-byte/vconnect/internal/protocol"
)

func newTestPool(t *testing.T, plugins ...config.PluginProcess) (*Pool, *config.PluginConfig) {
	t.Helper()
	cfg := &config.PluginConfig{
		SocketDir:   t.TempDir(),
		CallTimeout: 2 * time.Second,
		Plugins:     plugins,
	}
	p := New(zap.NewNop(), cfg)
	t.Cleanup(p.Close)
	return p, cfg
}

// startPlugin runs a pdk runtime against the pool and waits until both
// sides of the handshake have settled.
func startPlugin(t *testing.T, ctx context.Context, p *Pool, plug *pdk.Plugin, name string) {
	t.Helper()
	go func() { _ = plug.Run(ctx) }()
	require.Eventually(t, func() bool {
		if plug.State() != pdk.StateReady {
			return false
		}
		for _, s := range p.Summaries() {
			if s.Name == name && s.Status == StatusReady {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "plugin never became ready")
}

func storagePlugin(t *testing.T, socketPath string) *pdk.Plugin {
	t.Helper()
	plug := pdk.New("storage-test", "v0.0.1", socketPath, zap.NewNop(),
		pdk.WithCapabilities(cnst.CapabilityStorage),
		pdk.WithPriority(10))

	var mu sync.Mutex
	saved := make(map[string]protocol.SaveMessageRequest)

	plug.Register(cnst.EventStorageMessageSave, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.SaveMessageRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		mu.Lock()
		saved[req.MessageID] = req
		mu.Unlock()
		return plug.OK(evt, &protocol.SaveMessageResponse{Status: cnst.StatusOK})
	})
	plug.Register(cnst.EventStorageOfflineCount, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.CountOfflineMessagesRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		mu.Lock()
		n := int64(len(saved))
		mu.Unlock()
		return plug.OK(evt, &protocol.CountOfflineMessagesResponse{Status: cnst.StatusOK, Count: n})
	})
	return plug
}

func TestCallRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := config.PluginProcess{Name: "storage-test"}
	p, cfg := newTestPool(t, proc)
	require.NoError(t, p.Start(ctx))
	startPlugin(t, ctx, p, storagePlugin(t, proc.SocketPath(cfg.SocketDir)), "storage-test")

	resp, err := p.StorageSaveMessage(ctx, &protocol.SaveMessageRequest{
		MessageID: "m1",
		FromUID:   "uid-1",
		ToUID:     "uid-2",
		Content:   "hello",
		Timestamp: time.Now().UnixMilli(),
		MsgType:   "text",
	})
	require.NoError(t, err)
	assert.Equal(t, cnst.StatusOK, resp.Status)

	count, err := p.StorageCountOffline(ctx, &protocol.CountOfflineMessagesRequest{ToUID: "uid-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count.Count)
}

func TestCallNoPlugin(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPool(t)
	require.NoError(t, p.Start(ctx))

	_, err := p.StorageCountOffline(ctx, &protocol.CountOfflineMessagesRequest{ToUID: "uid-1"})
	assert.ErrorIs(t, err, cnst.ErrPluginUnavailable)
}

func TestCallUnsupportedEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := config.PluginProcess{Name: "storage-test"}
	p, cfg := newTestPool(t, proc)
	require.NoError(t, p.Start(ctx))
	// Registers only save and count; history is unknown to it.
	startPlugin(t, ctx, p, storagePlugin(t, proc.SocketPath(cfg.SocketDir)), "storage-test")

	_, err := p.StorageQueryHistory(ctx, &protocol.QueryHistoryRequest{UID: "uid-1", Limit: 10})
	assert.ErrorIs(t, err, cnst.ErrPluginUnavailable)
}

func TestRoomListCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := config.PluginProcess{Name: "rooms"}
	p, cfg := newTestPool(t, proc)
	require.NoError(t, p.Start(ctx))

	plug := pdk.New("rooms", "v0.0.1", proc.SocketPath(cfg.SocketDir), zap.NewNop(),
		pdk.WithCapabilities(cnst.CapabilityStorage))

	var mu sync.Mutex
	rooms := make(map[string][]string)

	plug.Register(cnst.EventStorageRoomAddMember, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.AddRoomMemberRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		mu.Lock()
		rooms[req.RoomID] = append(rooms[req.RoomID], req.UID)
		mu.Unlock()
		return plug.OK(evt, &protocol.AddRoomMemberResponse{Status: cnst.StatusOK, Added: true})
	})
	plug.Register(cnst.EventStorageRoomMembers, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.GetRoomMembersRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		mu.Lock()
		members := append([]string(nil), rooms[req.RoomID]...)
		mu.Unlock()
		return plug.OK(evt, &protocol.GetRoomMembersResponse{Status: cnst.StatusOK, Members: members})
	})
	plug.Register(cnst.EventStorageRoomList, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		mu.Lock()
		ids := make([]string, 0, len(rooms))
		for id := range rooms {
			ids = append(ids, id)
		}
		mu.Unlock()
		return plug.OK(evt, &protocol.ListRoomsResponse{Status: cnst.StatusOK, Rooms: ids})
	})
	startPlugin(t, ctx, p, plug, "rooms")

	for _, uid := range []string{"uid-1", "uid-2"} {
		add, err := p.StorageAddRoomMember(ctx, &protocol.AddRoomMemberRequest{RoomID: "room-1", UID: uid})
		require.NoError(t, err)
		assert.True(t, add.Added)
	}

	members, err := p.StorageListRoomMembers(ctx, &protocol.GetRoomMembersRequest{RoomID: "room-1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"uid-1", "uid-2"}, members.Members)

	list, err := p.StorageListRooms(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"room-1"}, list.Rooms)
}

func TestAuthBanUserCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := config.PluginProcess{Name: "auth"}
	p, cfg := newTestPool(t, proc)
	require.NoError(t, p.Start(ctx))

	plug := pdk.New("auth", "v0.0.1", proc.SocketPath(cfg.SocketDir), zap.NewNop(),
		pdk.WithCapabilities(cnst.CapabilityAuth))

	var mu sync.Mutex
	banned := make(map[string]int64)

	plug.Register(cnst.EventAuthBanned, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.BanUserRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		mu.Lock()
		banned[req.UID] = req.Until
		mu.Unlock()
		return plug.OK(evt, &protocol.BanUserResponse{Status: cnst.StatusOK})
	})
	plug.Register(cnst.EventAuthValidateToken, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.ValidateTokenRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		mu.Lock()
		_, isBanned := banned[req.UID]
		mu.Unlock()
		return plug.OK(evt, &protocol.ValidateTokenResponse{Status: cnst.StatusOK, Valid: !isBanned})
	})
	startPlugin(t, ctx, p, plug, "auth")

	until := time.Now().Add(time.Hour).UnixMilli()
	resp, err := p.AuthBanUser(ctx, &protocol.BanUserRequest{UID: "uid-1", Reason: "abuse", Until: until})
	require.NoError(t, err)
	assert.Equal(t, cnst.StatusOK, resp.Status)

	// the ban is visible to subsequent validations
	val, err := p.AuthValidateToken(ctx, &protocol.ValidateTokenRequest{UID: "uid-1", Token: "tok"})
	require.NoError(t, err)
	assert.False(t, val.Valid)

	mu.Lock()
	assert.Equal(t, until, banned["uid-1"])
	mu.Unlock()
}

func TestCallTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := config.PluginProcess{Name: "slow"}
	p, cfg := newTestPool(t, proc)
	p.cfg.CallTimeout = 100 * time.Millisecond
	require.NoError(t, p.Start(ctx))

	plug := pdk.New("slow", "v0.0.1", proc.SocketPath(cfg.SocketDir), zap.NewNop(),
		pdk.WithCapabilities(cnst.CapabilityStorage))
	plug.Register(cnst.EventStorageMessageSave, func(hctx context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		select {
		case <-time.After(time.Second):
		case <-hctx.Done():
		}
		return plug.OK(evt, &protocol.SaveMessageResponse{Status: cnst.StatusOK})
	})
	startPlugin(t, ctx, p, plug, "slow")

	_, err := p.StorageSaveMessage(ctx, &protocol.SaveMessageRequest{MessageID: "m1"})
	assert.ErrorIs(t, err, cnst.ErrPluginTimeout)
}

func TestConcurrentCallsNoCrossTalk(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := config.PluginProcess{Name: "echo"}
	p, cfg := newTestPool(t, proc)
	require.NoError(t, p.Start(ctx))

	// Echoes the uid back after a jittered delay, so in-flight responses
	// return out of request order.
	plug := pdk.New("echo", "v0.0.1", proc.SocketPath(cfg.SocketDir), zap.NewNop(),
		pdk.WithCapabilities(cnst.CapabilityAuth))
	plug.Register(cnst.EventAuthValidateToken, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.ValidateTokenRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		time.Sleep(time.Duration(len(req.UID)%7) * 10 * time.Millisecond)
		return plug.OK(evt, &protocol.ValidateTokenResponse{
			Status:  cnst.StatusOK,
			Valid:   true,
			Message: req.UID,
		})
	})
	startPlugin(t, ctx, p, plug, "echo")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := fmt.Sprintf("uid-%d", i)
			resp, err := p.AuthValidateToken(ctx, &protocol.ValidateTokenRequest{UID: uid, Token: "t"})
			assert.NoError(t, err)
			assert.Equal(t, uid, resp.Message, "response matched to the wrong request")
		}(i)
	}
	wg.Wait()
}

func TestBroadcastMessageEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	procA := config.PluginProcess{Name: "watcher-a"}
	procB := config.PluginProcess{Name: "watcher-b"}
	p, cfg := newTestPool(t, procA, procB)
	require.NoError(t, p.Start(ctx))

	mk := func(name string) *pdk.Plugin {
		plug := pdk.New(name, "v0.0.1", (&config.PluginProcess{Name: name}).SocketPath(cfg.SocketDir),
			zap.NewNop(), pdk.WithCapabilities(cnst.CapabilityGateway))
		plug.Register(cnst.EventStorageMessageSave, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
			return plug.OK(evt, nil)
		})
		return plug
	}
	startPlugin(t, ctx, p, mk("watcher-a"), "watcher-a")
	startPlugin(t, ctx, p, mk("watcher-b"), "watcher-b")

	n := p.BroadcastMessageEvent(ctx, cnst.EventStorageMessageSave, &protocol.SaveMessageRequest{MessageID: "m1"})
	assert.Equal(t, 2, n)
}

func TestHandshakePushesConfig(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := config.PluginProcess{Name: "cfg-test", Config: `{"dsn":"file::memory:"}`}
	p, cfg := newTestPool(t, proc)
	require.NoError(t, p.Start(ctx))

	var got string
	plug := pdk.New("cfg-test", "v0.0.1", proc.SocketPath(cfg.SocketDir), zap.NewNop(),
		pdk.WithCapabilities(cnst.CapabilityStorage),
		pdk.OnConfig(func(raw string) error {
			got = raw
			return nil
		}))
	startPlugin(t, ctx, p, plug, "cfg-test")

	assert.Equal(t, proc.Config, got)
}

func TestPluginReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := config.PluginProcess{Name: "storage-test"}
	p, cfg := newTestPool(t, proc)
	require.NoError(t, p.Start(ctx))

	plug := storagePlugin(t, proc.SocketPath(cfg.SocketDir))
	startPlugin(t, ctx, p, plug, "storage-test")

	// Taking the node down degrades the plugin runtime.
	p.Close()
	require.Eventually(t, func() bool {
		return plug.State() == pdk.StateDegraded
	}, 5*time.Second, 10*time.Millisecond)

	// A replacement node on the same socket picks the plugin back up.
	p2 := New(zap.NewNop(), cfg)
	t.Cleanup(p2.Close)
	require.NoError(t, p2.Start(ctx))
	require.Eventually(t, func() bool {
		return plug.State() == pdk.StateReady
	}, 10*time.Second, 20*time.Millisecond)

	_, err := p2.StorageCountOffline(ctx, &protocol.CountOfflineMessagesRequest{ToUID: "uid-1"})
	assert.NoError(t, err)
}

func TestSummaries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connected := config.PluginProcess{Name: "alive"}
	missing := config.PluginProcess{Name: "never-started"}
	p, cfg := newTestPool(t, connected, missing)
	require.NoError(t, p.Start(ctx))

	plug := pdk.New("alive", "v1.2.3", connected.SocketPath(cfg.SocketDir), zap.NewNop(),
		pdk.WithCapabilities(cnst.CapabilityStorage))
	startPlugin(t, ctx, p, plug, "alive")

	sums := p.Summaries()
	require.Len(t, sums, 2)
	assert.Equal(t, "alive", sums[0].Name)
	assert.Equal(t, StatusReady, sums[0].Status)
	assert.Equal(t, "v1.2.3", sums[0].Version)
	assert.Equal(t, "never-started", sums[1].Name)
	assert.Equal(t, StatusStarting, sums[1].Status)
}
