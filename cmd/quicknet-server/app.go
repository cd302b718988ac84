package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KevinMorrison-629/QuickNet/pkg/codec"
	"github.com/KevinMorrison-629/QuickNet/pkg/config"
	"github.com/KevinMorrison-629/QuickNet/pkg/gateway/httpgw"
	"github.com/KevinMorrison-629/QuickNet/pkg/observability"
	"github.com/KevinMorrison-629/QuickNet/pkg/session"
	"github.com/KevinMorrison-629/QuickNet/pkg/transport"
	"github.com/KevinMorrison-629/QuickNet/pkg/transport/quicnet"
	"github.com/KevinMorrison-629/QuickNet/pkg/wire"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.Port != 0 {
		cfg.Server.Port = uint16(opts.Port)
	}
	if opts.HTTPAddr != "" {
		cfg.HTTP.Enable = true
		cfg.HTTP.Addr = opts.HTTPAddr
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("quicknet-server started", zap.String("app", cfg.AppName))

	engine, err := quicnet.Acquire()
	if err != nil {
		zap.L().Error("failed to start transport engine", zap.Error(err))
		return 1
	}
	defer quicnet.Release()

	dispatcher := session.NewDispatcher()
	srv := session.NewServer(engine, dispatcher, session.Options{
		ReceiveBatch: cfg.Server.ReceiveBatch,
		PollInterval: time.Duration(cfg.Server.PollIntervalMS) * time.Millisecond,
	})
	defer srv.Close()

	// Echo every message back to its sender and let everyone else see it.
	srv.OnMessage(func(peer transport.Handle, payload []byte) {
		msg, err := wire.Decode(payload)
		if err != nil {
			zap.L().Warn("undecodable message", zap.Uint32("peer", uint32(peer)), zap.Error(err))
			return
		}
		zap.L().Info("message",
			zap.Uint32("peer", uint32(peer)),
			zap.String("sender", msg.Sender),
			zap.String("text", msg.Text))
		srv.BroadcastReliable(payload)
	})

	if err := srv.Initialize(cfg.Server.Port); err != nil {
		zap.L().Error("failed to initialize server", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.Run()
		return nil
	})

	var gw *httpgw.Server
	if cfg.HTTP.Enable {
		gw = httpgw.New(cfg.HTTP.CORSOrigins)
		registerRoutes(gw, srv, cfg)
		g.Go(func() error { return gw.Run(cfg.HTTP.Addr) })
	}

	g.Go(func() error {
		<-ctx.Done()
		srv.Stop()
		if gw != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = gw.Stop(shutdownCtx)
		}
		return nil
	})

	zap.L().Info("server is running; press Ctrl+C to exit")
	if err := g.Wait(); err != nil {
		zap.L().Error("server exited", zap.Error(err))
		return 1
	}
	return 0
}

// registerRoutes exposes operational endpoints. The gateway shares no state
// with the session core beyond registry snapshots and the broadcast entry
// point.
func registerRoutes(gw *httpgw.Server, srv *session.Server, cfg *config.Config) {
	started := time.Now()

	codecs := codec.NewRegistry()
	if cb, err := codec.CBOR(); err == nil {
		codecs.Register(cb)
	} else {
		zap.L().Warn("cbor codec unavailable", zap.Error(err))
	}

	gw.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).String(),
			"app":    cfg.AppName,
		})
	})

	gw.GET("/peers", func(c *gin.Context) {
		peers := srv.Peers()
		ids := make([]uint32, 0, len(peers))
		for _, p := range peers {
			ids = append(ids, uint32(p))
		}
		c.JSON(http.StatusOK, gin.H{"count": len(ids), "peers": ids})
	})

	// Posted messages are decoded by Content-Type (JSON or CBOR) and fanned
	// out to every connected peer on the canonical wire encoding.
	gw.POST("/broadcast", func(c *gin.Context) {
		var msg wire.Message
		if err := httpgw.DecodeBody(c, codecs, &msg); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, httpgw.ErrUnsupportedContentType) {
				status = http.StatusUnsupportedMediaType
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		if msg.Version == 0 {
			msg.Version = 1
		}
		payload, err := wire.Encode(msg)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		srv.BroadcastReliable(payload)
		c.JSON(http.StatusAccepted, gin.H{"peers": len(srv.Peers())})
	})

	if cfg.HTTP.StaticDir != "" {
		if err := gw.ServeStaticFiles(cfg.HTTP.StaticMount, cfg.HTTP.StaticDir); err != nil {
			zap.L().Warn("static mount failed", zap.String("dir", cfg.HTTP.StaticDir), zap.Error(err))
		}
	}
}
