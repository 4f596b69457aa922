package pool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/common/cnst"
	"github.com/vera-byte/vconnect/internal/protocol"
)

// call routes one typed request to the plugin owning a capability and
// decodes the response data into out.
func (p *Pool) call(ctx context.Context, capability, eventType string, req, out any) error {
	c, err := p.byCapability(capability)
	if err != nil {
		return err
	}

	if p.met != nil {
		p.met.PluginReqStart(c.name)
	}
	start := time.Now()
	resp, err := c.roundTrip(ctx, p.cfg.CallTimeout, eventType, req)
	if p.met != nil {
		status := cnst.StatusError
		if err == nil {
			status = resp.Status
		}
		p.met.PluginReqDone(c.name, eventType, status, start)
	}
	if err != nil {
		return fmt.Errorf("%s via %s: %w", eventType, c.name, err)
	}

	switch resp.Status {
	case cnst.StatusOK:
	case cnst.StatusUnsupported:
		return fmt.Errorf("plugin %s does not handle %s: %w", c.name, eventType, cnst.ErrPluginUnavailable)
	default:
		return fmt.Errorf("%s via %s: %s", eventType, c.name, resp.Message)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := c.codec.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", eventType, err)
		}
	}
	return nil
}

func (p *Pool) StorageSaveMessage(ctx context.Context, req *protocol.SaveMessageRequest) (*protocol.SaveMessageResponse, error) {
	var resp protocol.SaveMessageResponse
	if err := p.call(ctx, cnst.CapabilityStorage, cnst.EventStorageMessageSave, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) StorageSaveOffline(ctx context.Context, req *protocol.SaveOfflineMessageRequest) (*protocol.SaveOfflineMessageResponse, error) {
	var resp protocol.SaveOfflineMessageResponse
	if err := p.call(ctx, cnst.CapabilityStorage, cnst.EventStorageOfflineSave, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) StoragePullOffline(ctx context.Context, req *protocol.PullOfflineMessagesRequest) (*protocol.PullOfflineMessagesResponse, error) {
	var resp protocol.PullOfflineMessagesResponse
	if err := p.call(ctx, cnst.CapabilityStorage, cnst.EventStorageOfflinePull, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) StorageAckOffline(ctx context.Context, req *protocol.AckOfflineMessagesRequest) (*protocol.AckOfflineMessagesResponse, error) {
	var resp protocol.AckOfflineMessagesResponse
	if err := p.call(ctx, cnst.CapabilityStorage, cnst.EventStorageOfflineAck, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) StorageCountOffline(ctx context.Context, req *protocol.CountOfflineMessagesRequest) (*protocol.CountOfflineMessagesResponse, error) {
	var resp protocol.CountOfflineMessagesResponse
	if err := p.call(ctx, cnst.CapabilityStorage, cnst.EventStorageOfflineCount, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) StorageQueryHistory(ctx context.Context, req *protocol.QueryHistoryRequest) (*protocol.QueryHistoryResponse, error) {
	var resp protocol.QueryHistoryResponse
	if err := p.call(ctx, cnst.CapabilityStorage, cnst.EventStorageMessageHistory, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) StorageAddRoomMember(ctx context.Context, req *protocol.AddRoomMemberRequest) (*protocol.AddRoomMemberResponse, error) {
	var resp protocol.AddRoomMemberResponse
	if err := p.call(ctx, cnst.CapabilityStorage, cnst.EventStorageRoomAddMember, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) StorageRemoveRoomMember(ctx context.Context, req *protocol.RemoveRoomMemberRequest) (*protocol.RemoveRoomMemberResponse, error) {
	var resp protocol.RemoveRoomMemberResponse
	if err := p.call(ctx, cnst.CapabilityStorage, cnst.EventStorageRoomRemove, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) StorageListRoomMembers(ctx context.Context, req *protocol.GetRoomMembersRequest) (*protocol.GetRoomMembersResponse, error) {
	var resp protocol.GetRoomMembersResponse
	if err := p.call(ctx, cnst.CapabilityStorage, cnst.EventStorageRoomMembers, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) StorageListRooms(ctx context.Context) (*protocol.ListRoomsResponse, error) {
	var resp protocol.ListRoomsResponse
	if err := p.call(ctx, cnst.CapabilityStorage, cnst.EventStorageRoomList, &protocol.ListRoomsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) AuthLogin(ctx context.Context, req *protocol.LoginRequest) (*protocol.LoginResponse, error) {
	var resp protocol.LoginResponse
	if err := p.call(ctx, cnst.CapabilityAuth, cnst.EventAuthLogin, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) AuthLogout(ctx context.Context, req *protocol.LogoutRequest) (*protocol.LogoutResponse, error) {
	var resp protocol.LogoutResponse
	if err := p.call(ctx, cnst.CapabilityAuth, cnst.EventAuthLogout, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) AuthValidateToken(ctx context.Context, req *protocol.ValidateTokenRequest) (*protocol.ValidateTokenResponse, error) {
	var resp protocol.ValidateTokenResponse
	if err := p.call(ctx, cnst.CapabilityAuth, cnst.EventAuthValidateToken, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) AuthRenewToken(ctx context.Context, req *protocol.RenewTokenRequest) (*protocol.RenewTokenResponse, error) {
	var resp protocol.RenewTokenResponse
	if err := p.call(ctx, cnst.CapabilityAuth, cnst.EventAuthRenewToken, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) AuthKickOut(ctx context.Context, req *protocol.KickOutRequest) (*protocol.KickOutResponse, error) {
	var resp protocol.KickOutResponse
	if err := p.call(ctx, cnst.CapabilityAuth, cnst.EventAuthKickOut, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Pool) AuthBanUser(ctx context.Context, req *protocol.BanUserRequest) (*protocol.BanUserResponse, error) {
	var resp protocol.BanUserResponse
	if err := p.call(ctx, cnst.CapabilityAuth, cnst.EventAuthBanned, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BroadcastMessageEvent notifies every connected plugin of an event, in
// priority order. Delivery is best effort: plugins that fail or answer
// "unsupported" are skipped. Returns how many plugins acknowledged.
func (p *Pool) BroadcastMessageEvent(ctx context.Context, eventType string, payload any) int {
	p.mu.RLock()
	conns := make([]*pluginConn, 0, len(p.conns))
	for _, c := range p.conns {
		if c.alive() {
			conns = append(conns, c)
		}
	}
	p.mu.RUnlock()
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].priority != conns[j].priority {
			return conns[i].priority > conns[j].priority
		}
		return conns[i].connectedAt.Before(conns[j].connectedAt)
	})

	delivered := 0
	for _, c := range conns {
		resp, err := c.roundTrip(ctx, p.cfg.CallTimeout, eventType, payload)
		if err != nil {
			p.logger.Warn("broadcast event failed",
				zap.String("plugin", c.name),
				zap.String("event", eventType),
				zap.Error(err))
			continue
		}
		if resp.Status == cnst.StatusOK {
			delivered++
		}
	}
	return delivered
}
