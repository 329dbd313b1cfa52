package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinyland-inc/slackrelay/cmd/slackrelay/internal"
	"github.com/tinyland-inc/slackrelay/pkg/chat"
	"github.com/tinyland-inc/slackrelay/pkg/gateway"
	"github.com/tinyland-inc/slackrelay/pkg/logger"
	"github.com/tinyland-inc/slackrelay/pkg/mapping"
	"github.com/tinyland-inc/slackrelay/pkg/node"
	"github.com/tinyland-inc/slackrelay/pkg/relay"
	"github.com/tinyland-inc/slackrelay/pkg/wire"
)

func serveCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("Debug mode enabled")
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	builder, err := wire.NewBuilder(
		cfg.Node.EncryptionSK,
		cfg.Node.SignatureSK,
		cfg.Node.ReceiverPK,
		cfg.Node.NodeName,
		cfg.Node.ProfileName,
		cfg.Node.DeviceName,
	)
	if err != nil {
		return fmt.Errorf("error building node identity: %w", err)
	}

	nodeClient := node.NewClient(cfg.Node.URL, builder, time.Duration(cfg.Node.TimeoutSeconds)*time.Second)

	store := mapping.NewStore(cfg.MappingPath())
	table, err := mapping.NewTable(store)
	if err != nil {
		return fmt.Errorf("error loading thread-job mapping: %w", err)
	}
	fmt.Printf("✓ Thread-job mapping loaded: %d entries\n", table.Len())

	registry := relay.NewRegistry()
	dedup := relay.NewDedup()
	archive := relay.NewArchive()
	poster := chat.NewPoster(cfg.Slack.BotToken)
	handler := relay.NewHandler(table, nodeClient, registry, dedup, cfg.Node.AgentID)
	poller := relay.NewPoller(
		registry,
		nodeClient,
		poster,
		archive,
		cfg.Node.AgentID,
		time.Duration(cfg.Poll.IntervalSeconds)*time.Second,
		time.Duration(cfg.Poll.MaxJobAgeSeconds)*time.Second,
	)

	server := gateway.NewServer(
		cfg.Gateway.Host,
		cfg.Gateway.Port,
		cfg.Slack.SigningSecret,
		cfg.Slack.AppID,
		handler,
		registry,
		archive,
		table,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go poller.Run(ctx)
	fmt.Println("✓ Delivery engine started")

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("gateway", "Gateway server error", map[string]any{"error": err.Error()})
		}
	}()
	fmt.Printf("✓ Gateway started on %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.WarnCF("gateway", "Gateway shutdown error", map[string]any{"error": err.Error()})
	}
	fmt.Println("✓ Gateway stopped")

	return nil
}
