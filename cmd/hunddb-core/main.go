// Command hunddb-core is the process entrypoint: it wires configuration,
// object storage, the block/root managers, the cache, discovery, and
// telemetry into a running engine instance and waits for SIGTERM, honoring
// the configurable grace-period shutdown named in spec.md section 6.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	thanosfs "github.com/thanos-io/objstore/providers/filesystem"

	"github.com/hunddb/hunddb-core/blockfile"
	"github.com/hunddb/hunddb-core/blockstore"
	"github.com/hunddb/hunddb-core/compaction"
	"github.com/hunddb/hunddb-core/config"
	"github.com/hunddb/hunddb-core/discovery"
	"github.com/hunddb/hunddb-core/gc"
	"github.com/hunddb/hunddb-core/logstore"
	"github.com/hunddb/hunddb-core/objstore"
	"github.com/hunddb/hunddb-core/telemetry"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	cfg := config.Get()

	dataDir := envOr("HUNDDB_DATA_DIR", "./data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("creating data directory")
	}

	fsBucket, err := thanosfs.NewBucket(dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("opening filesystem object store")
	}
	store := objstore.NewBucket(fsBucket)

	bm, err := blockstore.NewBlockManager(store, envOr("HUNDDB_CACHE_DIR", "./cache"), 200*time.Millisecond)
	if err != nil {
		log.Fatal().Err(err).Msg("starting block manager")
	}
	bm.OnColdFetch(telemetry.ColdFetches.Inc)
	rm := blockstore.NewRootManager(store)

	// engine bundles the long-lived components a gRPC service layer would
	// dispatch against; that service layer itself is out of scope here.
	engine := struct {
		orchestrator *compaction.Orchestrator
		forkTree     *gc.ForkTree
		manifest     *logstore.Manifest
		cursors      *logstore.CursorStore
	}{
		orchestrator: compaction.New(bm, rm, &blockfile.PartitionedMutex{}),
		forkTree:     gc.NewForkTree(),
		manifest:     logstore.NewManifest(),
		cursors:      logstore.NewCursorStore(),
	}
	_ = engine

	var resolver *discovery.Resolver
	if nodeName := os.Getenv("HUNDDB_NODE_NAME"); nodeName != "" {
		resolver, err = discovery.New(discovery.Config{NodeName: nodeName})
		if err != nil {
			log.Warn().Err(err).Msg("discovery disabled: could not start memberlist agent")
		} else if seeds := os.Getenv("HUNDDB_SEEDS"); seeds != "" {
			if _, err := resolver.Join(splitCSV(seeds)); err != nil {
				log.Warn().Err(err).Msg("discovery: failed joining seed nodes")
			}
		}
	}

	log.Info().
		Int("min_versions_to_keep", cfg.Compaction.MinVersionsToKeep).
		Int64("poll_interval_ms", cfg.Compaction.PollIntervalMs).
		Msg("hunddb-core engine started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	<-ctx.Done()

	grace := time.Duration(cfg.Compaction.GRPCShutdownGracePeriod) * time.Millisecond
	log.Info().Dur("grace_period", grace).Msg("shutdown signal received, draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if resolver != nil {
		if err := resolver.Leave(); err != nil {
			log.Warn().Err(err).Msg("discovery: error leaving cluster")
		}
	}
	<-shutdownCtx.Done()
	log.Info().Msg("hunddb-core engine stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
