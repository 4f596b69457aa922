package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/admin"
	"github.com/vera-byte/vconnect/internal/cluster"
	"github.com/vera-byte/vconnect/internal/common/config"
	"github.com/vera-byte/vconnect/internal/plugin/pool"
	"github.com/vera-byte/vconnect/internal/registry"
	"github.com/vera-byte/vconnect/internal/storage"
	"github.com/vera-byte/vconnect/internal/ws"
	"github.com/vera-byte/vconnect/pkg/helper"
	"github.com/vera-byte/vconnect/pkg/logger"
	"github.com/vera-byte/vconnect/pkg/metrics"
	"github.com/vera-byte/vconnect/pkg/trace"
	"github.com/vera-byte/vconnect/pkg/version"
)

var (
	configPath  = flag.String("conf", "vconnect.yaml", "path to configuration file")
	showVersion = flag.Bool("version", false, "print version and exit")
)

// localNode exposes this process's store through the cluster directory so
// in-process peers can write to it.
type localNode struct {
	id    string
	store storage.Store
}

func (n *localNode) NodeID() string       { return n.id }
func (n *localNode) Store() storage.Store { return n.store }

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("vconnect version %s\n", version.Get())
		return
	}

	cfg, cfgPath, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting vconnect",
		zap.String("version", version.Get()),
		zap.String("node_id", cfg.Cluster.NodeID),
		zap.String("config", cfgPath))

	if cfg.PID != "" {
		pidPath := helper.GetPIDPath(cfg.PID)
		if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			log.Warn("failed to write pid file", zap.String("path", pidPath), zap.Error(err))
		} else {
			defer os.Remove(pidPath)
		}
	}
	if cfg.QUIC.Enabled {
		log.Info("quic transport requested; a gateway plugin must provide it",
			zap.String("host", cfg.QUIC.Host),
			zap.Int("port", cfg.QUIC.Port))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, log)
		if err != nil {
			log.Fatal("failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				log.Warn("tracing shutdown failed", zap.Error(err))
			}
		}()
	}

	var met *metrics.Metrics
	if cfg.Metrics.Enabled {
		met = metrics.New(cfg.Metrics)
	}

	reg := registry.New(log, cfg.Server.SendBuffer)
	store := storage.NewMemoryStore(log)

	locator, err := cluster.NewClientLocator(log, &cfg.Directory)
	if err != nil {
		log.Fatal("failed to initialize client locator", zap.Error(err))
	}
	dir := cluster.NewDirectory(log).WithLocator(locator)
	dir.RegisterNode(cluster.NodeInfo{
		NodeID: cfg.Cluster.NodeID,
		Weight: cfg.Cluster.Weight,
		Alive:  true,
	})
	dir.RegisterServer(cfg.Cluster.NodeID, &localNode{id: cfg.Cluster.NodeID, store: store})
	for _, peer := range cfg.Cluster.Peers {
		dir.RegisterNode(cluster.NodeInfo{NodeID: peer.NodeID, Weight: peer.Weight, Alive: true})
	}
	rep := cluster.NewReplicator(dir, cfg.Cluster.Leader, log)
	if met != nil {
		rep = rep.WithMetrics(met)
	}

	plugins := pool.New(log, &cfg.Plugin)
	if met != nil {
		plugins = plugins.WithMetrics(met)
	}
	if err := plugins.Start(ctx); err != nil {
		log.Fatal("failed to start plugin listeners", zap.Error(err))
	}
	defer plugins.Close()

	core := ws.NewServer(log, &cfg.Server, cfg.Cluster.NodeID, reg, dir, rep, store, plugins)
	if met != nil {
		core = core.WithMetrics(met)
	}
	go core.StartReaper(ctx)

	gin.SetMode(gin.ReleaseMode)
	wsRouter := gin.New()
	wsRouter.Use(gin.Recovery())
	core.Routes(wsRouter)
	wsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: wsRouter,
	}
	go func() {
		log.Info("websocket server listening", zap.String("addr", wsSrv.Addr))
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("websocket server failed", zap.Error(err))
		}
	}()

	adminRouter := gin.New()
	adminRouter.Use(gin.Recovery())
	adminSrv := admin.NewServer(log, cfg.Cluster.NodeID, reg, core, plugins)
	if met != nil {
		adminSrv = adminSrv.WithMetrics(met)
	}
	adminSrv.Routes(adminRouter)
	adminHTTP := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port),
		Handler: adminRouter,
	}
	go func() {
		log.Info("admin server listening", zap.String("addr", adminHTTP.Addr))
		if err := adminHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("admin server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("websocket server shutdown failed", zap.Error(err))
	}
	if err := adminHTTP.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", zap.Error(err))
	}
}
