package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HMasataka/conduit/internal/config"
	"github.com/HMasataka/conduit/internal/gateway"
	"github.com/HMasataka/conduit/logging"
	"github.com/HMasataka/conduit/pkg/eventbus"
	"github.com/HMasataka/conduit/pkg/network"
	"github.com/HMasataka/conduit/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file (json or yaml)")
	flag.Parse()

	cfg, err := config.Load(config.LoadOptions{Path: *configPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	bus := eventbus.NewInMemoryBus(cfg.Network.EventBufferSize)
	bus.SubscribeAll(func(event *eventbus.Event) {
		logger.Debug("connection event",
			"type", string(event.Type),
			"connection_id", event.Data,
		)
	})

	manager := network.NewManager(
		network.WithLogger(logger),
		network.WithEventBus(bus),
	)
	transport.RegisterDefaults(manager)

	gw := gateway.New(manager, logger, cfg.Network.ReceiveTimeout.Std())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      gw.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
		BaseContext: func(_ net.Listener) context.Context {
			return logging.WithLogger(context.Background(), logger)
		},
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}

	closed := manager.CloseAllConnections()
	logger.Info("connections closed", "count", closed)
}
