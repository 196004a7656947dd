// Package config collects the flags a replidoc-server binary needs —
// a single flat flag.FlagSet rather than a config file parser, since
// deployments are single-binary and flag-driven throughout. Every
// string flag's default is taken from an environment variable first,
// so a container deployment can configure a node without a generated
// command line; -snapshot-interval and -outbox-capacity have no
// environment variable.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// StoreKind selects a persist.Adapter implementation.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreFile   StoreKind = "file"
)

// FanoutKind selects a fanout.Adapter implementation.
type FanoutKind string

const (
	FanoutLocal FanoutKind = "local"
	FanoutRedis FanoutKind = "redis"
)

// Config is every knob replidoc-server needs to start.
type Config struct {
	ReplicaID        string
	ListenAddr       string
	DataDir          string
	Store            StoreKind
	Fanout           FanoutKind
	RedisAddr        string
	SnapshotInterval int // seconds
	OutboxCapacity   int

	// ShardID and Shards configure optional document sharding across
	// multiple coordinator processes sharing one fan-out backbone.
	// Shards is empty for a single-node deployment, in which case
	// ShardID is unused and every document is served locally.
	ShardID string
	Shards  []ShardSpec
}

// ShardSpec names one coordinator shard's id and address, as parsed
// from the -shards flag's "id@address,id@address" syntax.
type ShardSpec struct {
	ID      string
	Address string
}

// Parse builds a Config from args (typically os.Args[1:]), applying
// sensible defaults for a single-node run. Every string flag's default
// is read from its REPLIDOC_* environment variable first, if set; the
// two integer flags use fixed defaults.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("replidoc-server", flag.ContinueOnError)

	replicaID := fs.String("replica", envOrDefault("REPLIDOC_REPLICA", "replica1"), "unique replica identifier")
	addr := fs.String("addr", envOrDefault("REPLIDOC_ADDR", ":8080"), "listen address (host:port)")
	dataDir := fs.String("data-dir", envOrDefault("REPLIDOC_DATA_DIR", "/tmp/replidoc"), "directory for WAL and snapshots")
	store := fs.String("store", envOrDefault("REPLIDOC_STORE", string(StoreMemory)), "persistence adapter: memory|file")
	fanout := fs.String("fanout", envOrDefault("REPLIDOC_FANOUT", string(FanoutLocal)), "fan-out adapter: local|redis")
	redisAddr := fs.String("redis-addr", envOrDefault("REPLIDOC_REDIS_ADDR", "localhost:6379"), "Redis address, used when -fanout=redis")
	snapshotInterval := fs.Int("snapshot-interval", 60, "seconds between periodic snapshots, used when -store=file")
	outboxCapacity := fs.Int("outbox-capacity", 256, "per-subscriber broadcast queue depth recorded on the coordinator (the HTTP binding's SSE queues use a fixed depth of 256)")
	shardID := fs.String("shard-id", envOrDefault("REPLIDOC_SHARD_ID", ""), "this node's shard id, required when -shards is set")
	shards := fs.String("shards", envOrDefault("REPLIDOC_SHARDS", ""), "comma-separated id@address list of every shard in the cluster, e.g. \"a@10.0.0.1:8080,b@10.0.0.2:8080\"; empty disables sharding")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	shardSpecs, err := parseShards(*shards)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ReplicaID:        *replicaID,
		ListenAddr:       *addr,
		DataDir:          *dataDir,
		Store:            StoreKind(*store),
		Fanout:           FanoutKind(*fanout),
		RedisAddr:        *redisAddr,
		SnapshotInterval: *snapshotInterval,
		OutboxCapacity:   *outboxCapacity,
		ShardID:          *shardID,
		Shards:           shardSpecs,
	}
	return cfg, cfg.validate()
}

func envOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func parseShards(raw string) ([]ShardSpec, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]ShardSpec, 0, len(parts))
	for _, p := range parts {
		id, addr, ok := strings.Cut(p, "@")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("config: -shards entry %q must be id@address", p)
		}
		out = append(out, ShardSpec{ID: id, Address: addr})
	}
	return out, nil
}

func (c Config) validate() error {
	switch c.Store {
	case StoreMemory, StoreFile:
	default:
		return fmt.Errorf("config: unknown -store %q", c.Store)
	}
	switch c.Fanout {
	case FanoutLocal, FanoutRedis:
	default:
		return fmt.Errorf("config: unknown -fanout %q", c.Fanout)
	}
	if c.ReplicaID == "" {
		return fmt.Errorf("config: -replica must not be empty")
	}
	if len(c.Shards) > 0 {
		if c.ShardID == "" {
			return fmt.Errorf("config: -shard-id is required when -shards is set")
		}
		found := false
		for _, s := range c.Shards {
			if s.ID == c.ShardID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("config: -shard-id %q is not among -shards", c.ShardID)
		}
	}
	return nil
}
