// Package main provides the warpctl CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/warp/pkg/codec"
	"github.com/orneryd/warp/pkg/config"
	"github.com/orneryd/warp/pkg/store"
	warpsync "github.com/orneryd/warp/pkg/sync"
	"github.com/orneryd/warp/pkg/warp"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "warpctl",
		Short: "warpctl - operate a WARP CRDT graph replica",
		Long: `warpctl drives a single WARP graph replica from the command line:
materializing state from its commit store, creating checkpoints and
coverage anchors, forking and capturing wormholes, and running the
sync protocol against a peer.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (env vars still override)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("warpctl v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd)
		},
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(initCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync protocol over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}
	serveCmd.Flags().Int("port", 8080, "HTTP listen port")
	rootCmd.AddCommand(serveCmd)

	materializeCmd := &cobra.Command{
		Use:   "materialize",
		Short: "Materialize the graph and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaterialize(configPath)
		},
	}
	rootCmd.AddCommand(materializeCmd)

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Checkpoint operations",
	}
	checkpointCmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Materialize (if needed) and write a new checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointCreate(configPath)
		},
	})
	rootCmd.AddCommand(checkpointCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "anchor",
		Short: "Record every writer's current tip in a coverage anchor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnchor(configPath)
		},
	})

	gcCmd := &cobra.Command{
		Use:   "gc",
		Short: "Materialize and report the compaction that ran",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaterialize(configPath)
		},
	}
	rootCmd.AddCommand(gcCmd)

	forkCmd := &cobra.Command{
		Use:   "fork [commit-hash] [fork-name]",
		Short: "Fork the graph at a commit on this replica's writer chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFork(configPath, args[0], args[1])
		},
	}
	rootCmd.AddCommand(forkCmd)

	syncCmd := &cobra.Command{
		Use:   "sync [peer-url]",
		Short: "Run one sync round against a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(configPath, args[0])
		},
	}
	rootCmd.AddCommand(syncCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.LoadFromEnv(), nil
	}
	return config.LoadFromYAML(configPath)
}

func openGraph(configPath string) (*warp.Graph, *config.Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	g, err := warp.OpenWithConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open graph: %w", err)
	}
	return g, cfg, nil
}

// closeGraph releases g and, for a Badger-backed replica, closes the
// underlying store — OpenWithConfig-built adapters are owned by the
// caller (pkg/warp.Graph.Close's doc comment), and the CLI is that
// caller here.
func closeGraph(g *warp.Graph) {
	if badger, ok := g.Adapter().(*store.BadgerAdapter); ok {
		_ = badger.Close()
	}
	_ = g.Close()
}

func runInit(cmd *cobra.Command) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	cfg := config.Default()
	cfg.Storage.Backend = "badger"
	cfg.Storage.DataDir = dataDir

	configPath := filepath.Join(dataDir, "warp.yaml")
	content := fmt.Sprintf(`graph:
  name: %s
  writer: %s
storage:
  backend: %s
  data_dir: %s
checkpoint:
  enabled: true
  threshold: %d
gc:
  enabled: true
sync:
  request_timeout: 30s
  max_retries: 5
logging:
  level: INFO
  output: stdout
`, cfg.Graph.Name, cfg.Graph.Writer, cfg.Storage.Backend, cfg.Storage.DataDir, cfg.Checkpoint.Threshold)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Initialized WARP replica in %s\n", dataDir)
	fmt.Printf("Config written to %s\n", configPath)
	return nil
}

func runServe(cmd *cobra.Command, configPath string) error {
	port, _ := cmd.Flags().GetInt("port")

	g, _, err := openGraph(configPath)
	if err != nil {
		return err
	}
	defer closeGraph(g)

	mux := http.NewServeMux()
	mux.Handle("/sync", g.Serve())

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	fmt.Printf("Serving graph %q on %s (sync endpoint /sync)\n", g.Name(), addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-sigCh:
	}

	fmt.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func runMaterialize(configPath string) error {
	g, _, err := openGraph(configPath)
	if err != nil {
		return err
	}
	defer closeGraph(g)

	result, err := g.Materialize(context.Background())
	if err != nil {
		return fmt.Errorf("materialize: %w", err)
	}

	fmt.Printf("Graph %q: %d nodes, %d edges\n", g.Name(), len(result.State.GetNodes()), len(result.State.GetEdges()))
	if result.CheckpointCreated {
		fmt.Println("Checkpoint created.")
	}
	if result.CheckpointErr != nil {
		fmt.Printf("Checkpoint error (non-fatal): %v\n", result.CheckpointErr)
	}
	if result.GC.Ran {
		fmt.Printf("GC compacted %d tombstoned dots.\n", result.GC.Metrics.TombstoneCount)
	} else if w := result.GC.Warning(); w != "" {
		fmt.Println(w)
	}
	return nil
}

func runCheckpointCreate(configPath string) error {
	g, _, err := openGraph(configPath)
	if err != nil {
		return err
	}
	defer closeGraph(g)

	cp, err := g.Checkpoint(context.Background())
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	fmt.Printf("Checkpoint %s created for graph %q (%d nodes).\n", cp.CommitHash, g.Name(), len(cp.State.GetNodes()))
	return nil
}

func runAnchor(configPath string) error {
	g, _, err := openGraph(configPath)
	if err != nil {
		return err
	}
	defer closeGraph(g)

	hash, err := g.Anchor()
	if err != nil {
		return fmt.Errorf("anchor: %w", err)
	}
	fmt.Printf("Coverage anchor %s recorded for graph %q.\n", hash, g.Name())
	return nil
}

func runFork(configPath, atHash, forkName string) error {
	g, _, err := openGraph(configPath)
	if err != nil {
		return err
	}
	defer closeGraph(g)

	forkedAt, err := g.Fork(codec.Hash(atHash), forkName)
	if err != nil {
		return fmt.Errorf("fork: %w", err)
	}
	fmt.Printf("Forked %q from %q at %s\n", forkName, g.Name(), forkedAt)
	return nil
}

func runSync(configPath, peerURL string) error {
	g, cfg, err := openGraph(configPath)
	if err != nil {
		return err
	}
	defer closeGraph(g)

	opts := warpsync.SessionOptions{
		MaxRetries:     cfg.Sync.MaxRetries,
		InitialBackoff: cfg.Sync.InitialBackoff,
		MaxBackoff:     cfg.Sync.MaxBackoff,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Sync.RequestTimeout*time.Duration(maxInt(opts.MaxRetries, 1)+1))
	defer cancel()

	frontier, events, err := g.Sync(ctx, &warpsync.HTTPTransport{Client: &http.Client{Timeout: cfg.Sync.RequestTimeout}}, peerURL, opts)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	for ev := range events {
		fmt.Printf("[%s] attempt=%d err=%v\n", ev.Kind, ev.Attempt, ev.Err)
	}

	fmt.Printf("Synced with %s. New frontier has %d writer(s):\n", peerURL, len(frontier))
	for writer, hash := range frontier {
		fmt.Printf("  %s -> %s\n", writer, hash)
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
