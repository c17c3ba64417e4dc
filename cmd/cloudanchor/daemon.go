package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/marimax/cloudanchor/internal/allocator"
	"github.com/marimax/cloudanchor/internal/audit"
	"github.com/marimax/cloudanchor/internal/controlplane"
	"github.com/marimax/cloudanchor/internal/storage/grpckv"
	"github.com/marimax/cloudanchor/internal/store"
)

var (
	listenAddr     string
	grpcListenAddr string
	dbPath         string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the shared store daemon",
	Long: `Starts the daemon that shares short codes between devices. It serves the
versioned key-value store over HTTP and gRPC, plus the code, anchor and
audit endpoints.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the HTTP API (overrides daemon.listen)")
	daemonCmd.Flags().StringVar(&grpcListenAddr, "grpc-listen", "", "Listen address for the gRPC KV service (overrides daemon.grpc_listen)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides daemon.db)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if listenAddr != "" {
		cfg.Daemon.Listen = listenAddr
	}
	if grpcListenAddr != "" {
		cfg.Daemon.GRPCListen = grpcListenAddr
	}
	if dbPath != "" {
		cfg.Daemon.DB = dbPath
	}
	log := logger.WithName("daemon")
	log.Info("Starting cloudanchor daemon", "version", controlplane.Version, "db", cfg.Daemon.DB)

	// Initialize store
	s, err := store.New(cfg.Daemon.DB)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing database connection")
		if err := s.Close(); err != nil {
			log.Error(err, "Database close error")
		}
	}()

	// Create service and server
	service := controlplane.NewService(s, audit.NewPDRWriter(s), controlplane.ServiceConfig{
		Root: cfg.Remote.Root,
		Allocator: allocator.Config{
			InitialCode: cfg.Remote.InitialCode,
			Timeout:     cfg.Allocator.Timeout,
		},
	}, logger)
	server := controlplane.NewServer(service, cfg.Daemon.Listen, logger)

	var grpcServer *grpc.Server
	var grpcLis net.Listener
	if cfg.Daemon.GRPCListen != "" {
		grpcLis, err = net.Listen("tcp", cfg.Daemon.GRPCListen)
		if err != nil {
			return err
		}
		grpcServer = grpc.NewServer()
		grpckv.RegisterKVServer(grpcServer, &grpckv.Server{Store: service.KVStore()})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			log.Info("gRPC KV service listening", "addr", grpcLis.Addr().String())
			return grpcServer.Serve(grpcLis)
		})
	}

	// Wait for shutdown signal or a listener failure, then stop both.
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			log.Info("Received signal, initiating graceful shutdown")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		log.Info("Shutting down HTTP server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "HTTP server shutdown error")
		}
		if grpcServer != nil {
			log.Info("Shutting down gRPC server")
			stopGRPC(shutdownCtx, grpcServer)
		}
		return nil
	})

	err = g.Wait()
	if err != nil {
		log.Error(err, "Server error")
	} else {
		log.Info("Shutdown complete")
	}
	return err
}

// stopGRPC drains in-flight RPCs, forcing a stop once ctx expires.
func stopGRPC(ctx context.Context, srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
	}
}
