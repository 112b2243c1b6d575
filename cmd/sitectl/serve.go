package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/livesite/internal/broadcast"
	"github.com/alfredjeanlab/livesite/internal/config"
	"github.com/alfredjeanlab/livesite/internal/events"
	"github.com/alfredjeanlab/livesite/internal/export"
	"github.com/alfredjeanlab/livesite/internal/idgen"
	"github.com/alfredjeanlab/livesite/internal/server"
	"github.com/alfredjeanlab/livesite/internal/store"
	"github.com/alfredjeanlab/livesite/internal/store/memory"
	"github.com/alfredjeanlab/livesite/internal/store/postgres"
	"github.com/alfredjeanlab/livesite/internal/syncer"
	"github.com/spf13/cobra"
)

const healthCheckInterval = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the livesite server",
	GroupID: "system",
	// The server needs no API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		replica, err := idgen.ReplicaID()
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}

		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL, "replica", replica)
		} else {
			publisher = events.NoopPublisher{}
			logger.Info("events disabled (LIVESITE_NATS_URL not set)")
		}

		hub := broadcast.NewHub(st, &broadcast.Config{
			HeartbeatTimeout: cfg.HeartbeatTimeout,
			SweepInterval:    cfg.SweepInterval,
			SendBuffer:       cfg.SendBuffer,
			EchoToOrigin:     cfg.EchoToOrigin,
		})
		hub.StartReaper()

		coord := syncer.New(st, hub, publisher, syncer.Config{
			Replica:    replica,
			PollWindow: cfg.PollWindow,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Fan changes made on other replicas out to this replica's sessions.
		if cfg.NATSURL != "" {
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				logger.Error("failed to create relay subscriber", "err", err)
			} else {
				go func() {
					if err := events.NewRelay(sub, hub, replica).Run(ctx); err != nil {
						logger.Error("relay error", "err", err)
					}
					sub.Close()
				}()
			}
		}

		srv := server.New(coord, hub, st, server.Options{
			AuthToken:      cfg.AuthToken,
			AllowedOrigins: cfg.AllowedOrigins,
		})
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		var stopGRPC func()
		if cfg.GRPCEnabled() {
			grpcServer, hs := server.NewGRPCServer(cfg.AuthToken)
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				logger.Error("gRPC listen failed", "addr", cfg.GRPCAddr, "err", err)
			} else {
				go server.WatchHealth(ctx, hs, st, healthCheckInterval)
				go func() {
					logger.Info("gRPC health listening", "addr", cfg.GRPCAddr)
					if err := grpcServer.Serve(lis); err != nil {
						logger.Error("gRPC server error", "err", err)
					}
				}()
				stopGRPC = grpcServer.GracefulStop
			}
		}

		scheduler := startExport(ctx, cfg, st, logger)

		logger.Info("livesite server started",
			"http_addr", cfg.HTTPAddr,
			"grpc_addr", cfg.GRPCAddr,
			"replica", replica,
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		cancel()
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("export scheduler stopped")
		}
		if stopGRPC != nil {
			stopGRPC()
			logger.Info("gRPC server stopped")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		// Closing sessions first ends the long-lived push handlers so
		// Shutdown does not wait out its timeout on them.
		hub.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("using in-memory store; content is lost on restart (LIVESITE_DATABASE_URL not set)")
		return memory.New(), nil
	}
	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("store: postgres")
	return pg, nil
}

// startExport starts the periodic JSONL export when a destination is
// configured. It returns nil when export is disabled.
func startExport(ctx context.Context, cfg *config.Config, src export.Source, logger *slog.Logger) *export.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []export.Destination
	if cfg.SyncS3Bucket != "" {
		d, err := export.NewS3Destination(ctx,
			cfg.SyncS3Bucket, cfg.SyncS3Key, cfg.SyncS3Region, cfg.SyncS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 export destination", "err", err)
		} else {
			dests = append(dests, d)
			logger.Info("export S3 destination enabled", "target", d.Name())
		}
	}
	if cfg.SyncGitRepo != "" {
		d := export.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch)
		dests = append(dests, d)
		logger.Info("export git destination enabled", "target", d.Name(), "branch", cfg.SyncGitBranch)
	}
	if len(dests) == 0 {
		return nil
	}
	s := export.NewScheduler(src, dests, cfg.SyncInterval, logger)
	s.Start(ctx)
	logger.Info("export scheduler started", "interval", cfg.SyncInterval)
	return s
}
