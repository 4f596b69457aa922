// auth-jwt is the reference auth plugin: it issues, validates and renews
// HS256 tokens and tracks banned uids in memory.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/common/cnst"
	"github.com/vera-byte/vconnect/internal/plugin/pdk"
	"github.com/vera-byte/vconnect/internal/protocol"
	"github.com/vera-byte/vconnect/pkg/version"
)

var (
	socketPath = flag.String("socket", "/tmp/vconnect/auth-jwt.sock", "node plugin socket")
	secretFlag = flag.String("secret", "", "HS256 signing secret, overridden by pushed config")
	ttlFlag    = flag.Duration("ttl", time.Hour, "token lifetime")
)

type pluginConfig struct {
	Secret     string `json:"secret"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// tokenService signs and verifies HS256 tokens for uids.
type tokenService struct {
	mu     sync.RWMutex
	secret []byte
	ttl    time.Duration
	banned map[string]int64 // uid -> unban time unix millis, 0 = forever
}

func newTokenService(secret string, ttl time.Duration) *tokenService {
	return &tokenService{
		secret: []byte(secret),
		ttl:    ttl,
		banned: make(map[string]int64),
	}
}

func (s *tokenService) configure(secret string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if secret != "" {
		s.secret = []byte(secret)
	}
	if ttl > 0 {
		s.ttl = ttl
	}
}

func (s *tokenService) issue(uid string) (string, int64, error) {
	s.mu.RLock()
	secret, ttl := s.secret, s.ttl
	s.mu.RUnlock()

	expires := time.Now().Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   uid,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", 0, err
	}
	return signed, expires.UnixMilli(), nil
}

func (s *tokenService) validate(uid, raw string) error {
	s.mu.RLock()
	secret := s.secret
	s.mu.RUnlock()

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		return err
	}
	if claims.Subject != uid {
		return fmt.Errorf("token subject %q does not match uid %q", claims.Subject, uid)
	}
	return nil
}

func (s *tokenService) ban(uid string, until int64) {
	s.mu.Lock()
	s.banned[uid] = until
	s.mu.Unlock()
}

func (s *tokenService) isBanned(uid string) bool {
	s.mu.RLock()
	until, ok := s.banned[uid]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if until > 0 && time.Now().UnixMilli() > until {
		s.mu.Lock()
		delete(s.banned, uid)
		s.mu.Unlock()
		return false
	}
	return true
}

func main() {
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	secret := *secretFlag
	if secret == "" {
		secret = os.Getenv("VCONNECT_JWT_SECRET")
	}
	svc := newTokenService(secret, *ttlFlag)

	plug := pdk.New("auth-jwt", version.Get(), *socketPath, logger,
		pdk.WithCapabilities(cnst.CapabilityAuth),
		pdk.WithPriority(10),
		pdk.OnConfig(func(raw string) error {
			var cfg pluginConfig
			if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
				return fmt.Errorf("parse pushed config: %w", err)
			}
			svc.configure(cfg.Secret, time.Duration(cfg.TTLSeconds)*time.Second)
			return nil
		}))
	registerHandlers(plug, svc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("auth plugin starting",
		zap.String("socket", *socketPath),
		zap.String("version", version.Get()))
	if err := plug.Run(ctx); err != nil {
		logger.Fatal("plugin runtime failed", zap.Error(err))
	}
}

func registerHandlers(plug *pdk.Plugin, svc *tokenService) {
	plug.Register(cnst.EventAuthLogin, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.LoginRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		if req.UID == "" {
			return plug.Fail(evt, "login requires a uid"), nil
		}
		if svc.isBanned(req.UID) {
			return plug.Fail(evt, "uid is banned"), nil
		}
		token, expires, err := svc.issue(req.UID)
		if err != nil {
			return nil, err
		}
		return plug.OK(evt, &protocol.LoginResponse{
			Status:    cnst.StatusOK,
			Token:     token,
			ExpiresAt: expires,
		})
	})

	plug.Register(cnst.EventAuthValidateToken, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.ValidateTokenRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		if svc.isBanned(req.UID) {
			return plug.OK(evt, &protocol.ValidateTokenResponse{
				Status: cnst.StatusOK, Valid: false, Message: "uid is banned",
			})
		}
		if err := svc.validate(req.UID, req.Token); err != nil {
			return plug.OK(evt, &protocol.ValidateTokenResponse{
				Status: cnst.StatusOK, Valid: false, Message: err.Error(),
			})
		}
		return plug.OK(evt, &protocol.ValidateTokenResponse{Status: cnst.StatusOK, Valid: true})
	})

	plug.Register(cnst.EventAuthRenewToken, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.RenewTokenRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		if err := svc.validate(req.UID, req.Token); err != nil {
			return plug.Fail(evt, err.Error()), nil
		}
		token, expires, err := svc.issue(req.UID)
		if err != nil {
			return nil, err
		}
		return plug.OK(evt, &protocol.RenewTokenResponse{
			Status:    cnst.StatusOK,
			Token:     token,
			ExpiresAt: expires,
		})
	})

	plug.Register(cnst.EventAuthLogout, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		// Tokens are stateless; logout succeeds so the node can finish its
		// session teardown.
		return plug.OK(evt, &protocol.LogoutResponse{Status: cnst.StatusOK})
	})

	plug.Register(cnst.EventAuthKickOut, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.KickOutRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		return plug.OK(evt, &protocol.KickOutResponse{Status: cnst.StatusOK})
	})

	plug.Register(cnst.EventAuthBanned, func(_ context.Context, evt *protocol.EventMessage) (*protocol.EventResponse, error) {
		var req protocol.BanUserRequest
		if err := plug.Decode(evt, &req); err != nil {
			return nil, err
		}
		svc.ban(req.UID, req.Until)
		return plug.OK(evt, &protocol.BanUserResponse{Status: cnst.StatusOK})
	})
}
