// cmd/replidoc-server is the main entrypoint for one coordinator
// process. Configuration is via flags (string flags also read
// REPLIDOC_* environment variables) so a single binary can run any
// replica.
//
// Example — in-memory, single process:
//
//	./replidoc-server -replica r1 -addr :8080
//
// Example — durable storage with Redis fan-out across processes:
//
//	./replidoc-server -replica r1 -addr :8080 -store file -data-dir /var/replidoc/r1 \
//	    -fanout redis -redis-addr localhost:6379
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"replidoc/config"
	"replidoc/coordinator"
	"replidoc/fanout"
	"replidoc/fanout/localbus"
	"replidoc/fanout/redisbus"
	"replidoc/persist"
	"replidoc/persist/fileadapter"
	"replidoc/persist/memadapter"
	"replidoc/stamp"
	"replidoc/transport/httpserver"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		slog.Error("parse config", "err", err)
		os.Exit(1)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		slog.Error("open store", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	fan, err := openFanout(cfg)
	if err != nil {
		slog.Error("open fanout", "err", err)
		os.Exit(1)
	}

	opts := []coordinator.Option{coordinator.WithOutboxCapacity(cfg.OutboxCapacity)}
	if len(cfg.Shards) > 0 {
		opts = append(opts, coordinator.WithMembership(buildMembership(cfg), cfg.ShardID))
		slog.Info("sharding enabled", "shard_id", cfg.ShardID, "shards", len(cfg.Shards))
	}

	coord := coordinator.New(stamp.ReplicaID(cfg.ReplicaID), store, fan, opts...)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	httpserver.New(coord).Register(router)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams hold the connection open
	}

	go func() {
		slog.Info("listening", "replica", cfg.ReplicaID, "addr", cfg.ListenAddr, "store", cfg.Store, "fanout", cfg.Fanout)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	stopSnapshots := startSnapshotLoop(cfg, store)
	defer stopSnapshots()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	slog.Info("shutting down", "replica", cfg.ReplicaID)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if sn, ok := store.(interface{ Snapshot() error }); ok {
		if err := sn.Snapshot(); err != nil {
			slog.Warn("final snapshot failed", "err", err)
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
}

func openStore(cfg config.Config) (persist.Adapter, func(), error) {
	switch cfg.Store {
	case config.StoreFile:
		a, err := fileadapter.Open(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return a, func() {
			if err := a.Close(); err != nil {
				slog.Warn("close store", "err", err)
			}
		}, nil
	default:
		return memadapter.New(), func() {}, nil
	}
}

func buildMembership(cfg config.Config) *coordinator.Membership {
	shards := make([]coordinator.Shard, 0, len(cfg.Shards))
	for _, s := range cfg.Shards {
		shards = append(shards, coordinator.Shard{ID: s.ID, Address: s.Address})
	}
	return coordinator.NewMembership(shards, 0)
}

func openFanout(cfg config.Config) (fanout.Adapter, error) {
	switch cfg.Fanout {
	case config.FanoutRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return redisbus.New(client), nil
	default:
		return localbus.New(), nil
	}
}

// startSnapshotLoop periodically flushes a file-backed store in the
// background. It is a no-op for the in-memory store, which has
// nothing to flush.
func startSnapshotLoop(cfg config.Config, store persist.Adapter) func() {
	sn, ok := store.(interface{ Snapshot() error })
	if !ok || cfg.SnapshotInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.SnapshotInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sn.Snapshot(); err != nil {
					slog.Warn("periodic snapshot failed", "err", err)
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
