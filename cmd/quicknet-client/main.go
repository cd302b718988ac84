package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/KevinMorrison-629/QuickNet/pkg/config"
	"github.com/KevinMorrison-629/QuickNet/pkg/observability"
	"github.com/KevinMorrison-629/QuickNet/pkg/session"
	"github.com/KevinMorrison-629/QuickNet/pkg/transport/quicnet"
	"github.com/KevinMorrison-629/QuickNet/pkg/wire"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Server address (overrides config)")
	name := flag.String("name", "client", "Sender name stamped on outgoing messages")
	text := flag.String("message", "hello quicknet", "Message text to send")
	count := flag.Int("count", 5, "How many messages to send (0 = run until interrupted)")
	interval := flag.Duration("interval", time.Second, "Delay between messages")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Client.ServerAddr = *addr
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fatalf("setup logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	engine, err := quicnet.Acquire()
	if err != nil {
		fatalf("start transport engine: %v", err)
	}
	defer quicnet.Release()

	dispatcher := session.NewDispatcher()
	client := session.NewClient(engine, dispatcher, session.Options{
		ReceiveBatch: cfg.Client.ReceiveBatch,
	})
	defer client.Close()

	client.OnMessage(func(payload []byte) {
		msg, err := wire.Decode(payload)
		if err != nil {
			zap.L().Warn("undecodable message", zap.Error(err))
			return
		}
		zap.L().Info("received", zap.String("sender", msg.Sender), zap.String("text", msg.Text))
	})

	if err := client.Connect(cfg.Client.ServerAddr); err != nil {
		fatalf("connect: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// The client drives everything itself: poll for events, drain inbound,
	// send on the configured cadence.
	sent := 0
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	pump := time.NewTicker(10 * time.Millisecond)
	defer pump.Stop()

	for *count == 0 || sent < *count {
		select {
		case <-sigCh:
			zap.L().Info("interrupted")
			client.Disconnect()
			return
		case <-pump.C:
			client.Poll()
			client.ReceiveMessages()
		case <-ticker.C:
			if !client.IsConnected() {
				continue
			}
			payload, err := wire.Encode(wire.NewMessage(*name, fmt.Sprintf("%s #%d", *text, sent+1)))
			if err != nil {
				zap.L().Warn("encode failed", zap.Error(err))
				continue
			}
			client.SendReliable(payload)
			sent++
		}
	}

	// Give in-flight echoes a moment to come back before disconnecting.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		client.Poll()
		client.ReceiveMessages()
		time.Sleep(10 * time.Millisecond)
	}
	client.Disconnect()
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
