package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/gridrestore/pkg/affinity"
	"github.com/cuemby/gridrestore/pkg/cluster"
	"github.com/cuemby/gridrestore/pkg/log"
	"github.com/cuemby/gridrestore/pkg/metrics"
	"github.com/cuemby/gridrestore/pkg/reconciler"
	"github.com/cuemby/gridrestore/pkg/restore"
	"github.com/cuemby/gridrestore/pkg/security"
	"github.com/cuemby/gridrestore/pkg/snapshot"
	"github.com/cuemby/gridrestore/pkg/stage"
	"github.com/cuemby/gridrestore/pkg/transport"
	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/cuemby/gridrestore/pkg/wal"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gridrestore",
	Short: "gridrestore - distributed snapshot-restore engine",
	Long: `gridrestore coordinates restoring an in-memory cache grid from a
point-in-time snapshot across every node that holds a piece of it, in five
phases: Prepare, Preload, CacheStart, optional IncrementalApply, and
finish, with automatic rollback on failure.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"gridrestore version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(restoreCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// Node commands — bring up one gridrestore daemon.

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a gridrestore node",
}

var nodeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new gridrestore cluster with this node as the first member",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd, nil)
	},
}

var nodeJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join this node to an existing gridrestore cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		leader, _ := cmd.Flags().GetString("leader")
		if leader == "" {
			return fmt.Errorf("--leader is required")
		}
		return runNode(cmd, &leader)
	},
}

func init() {
	nodeCmd.AddCommand(nodeInitCmd)
	nodeCmd.AddCommand(nodeJoinCmd)

	for _, cmd := range []*cobra.Command{nodeInitCmd, nodeJoinCmd} {
		cmd.Flags().String("node-id", "node-1", "Unique node ID")
		cmd.Flags().String("bind-addr", "127.0.0.1:7946", "Address for Raft and transport traffic")
		cmd.Flags().String("data-dir", "./gridrestore-data", "Data directory for cluster and snapshot state")
		cmd.Flags().String("snapshots-dir", "", "Directory snapshot data is staged into and served from (default: <data-dir>/snapshots)")
		cmd.Flags().String("metrics-addr", "127.0.0.1:9191", "Address for the metrics/health HTTP server")
		cmd.Flags().Int("wal-stripe", 8, "Number of concurrent incremental-apply worker stripes")
	}
	nodeJoinCmd.Flags().String("leader", "", "Bind address of an existing cluster member")
}

// runNode wires every collaborator together and blocks until interrupted.
// leaderAddr is nil for a fresh cluster, set for a node joining an existing
// one.
func runNode(cmd *cobra.Command, leaderAddr *string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	snapshotsDir, _ := cmd.Flags().GetString("snapshots-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	walStripe, _ := cmd.Flags().GetInt("wal-stripe")

	if snapshotsDir == "" {
		snapshotsDir = filepath.Join(dataDir, "snapshots")
	}

	logger := log.WithComponent("main")
	logger.Info().Str("node_id", nodeID).Str("bind_addr", bindAddr).Msg("starting gridrestore node")

	c, err := cluster.NewCluster(&cluster.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: dataDir})
	if err != nil {
		return fmt.Errorf("failed to create cluster: %w", err)
	}

	layout, err := snapshot.NewLayout(snapshotsDir)
	if err != nil {
		return fmt.Errorf("failed to create snapshot layout: %w", err)
	}
	registry, err := snapshot.OpenMetadataRegistry(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open metadata registry: %w", err)
	}

	stager := stage.NewStager(layout, func(meta *types.SnapshotMetadata) string {
		return filepath.Join(snapshotsDir, "source", meta.FolderName)
	})

	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", false, "starting")
	collector := metrics.NewCollector(c)

	var cert *tls.Certificate
	var rootCA *x509.Certificate

	if leaderAddr == nil {
		if err := c.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
		logger.Info().Msg("cluster bootstrapped")
		cert, err = c.OwnCertificate()
		if err != nil {
			return fmt.Errorf("failed to load node certificate: %w", err)
		}
		rootCA, err = c.RootCACert()
		if err != nil {
			return fmt.Errorf("failed to load root CA: %w", err)
		}
	} else {
		// Joining nodes need mTLS material to even place the join RPC, but
		// Cluster only issues a certificate once Join has already added this
		// node to raft and loaded the cluster CA from local storage — so the
		// cert directory must already hold a cert/CA pair this node was
		// provisioned with out of band (e.g. copied from an existing member)
		// before this command runs.
		certDir, err := security.GetCertDir("node", nodeID)
		if err != nil {
			return fmt.Errorf("failed to resolve certificate directory: %w", err)
		}
		cert, err = security.LoadCertFromFile(certDir)
		if err != nil {
			return fmt.Errorf("no provisioned certificate found for node %s under %s — copy one from an existing cluster member before joining: %w", nodeID, certDir, err)
		}
		rootCA, err = security.LoadCACertFromFile(certDir)
		if err != nil {
			return fmt.Errorf("failed to load provisioned root CA: %w", err)
		}
	}

	transportClient := transport.NewClient(nodeID, addressResolver(c), cert, rootCA)

	engineCfg := restore.EngineConfig{
		NodeID:        nodeID,
		Cluster:       c,
		Layout:        layout,
		Registry:      registry,
		Stager:        stager,
		Affinity:      affinity.NewCalculator(),
		CacheCtrl:     restore.NewStubCacheGroupController(logger),
		ConfigStore:   restore.NewStubCacheConfigStore(),
		WALStripe:     walStripe,
		ApplyFn:       wal.NopApply,
		Finalize:      wal.NopFinalize,
		WALCtrl:       wal.NewStubWALControl(logger),
		Fetcher:       transportClient,
		SegmentsFor:   wal.EmptySegmentSource,
		SnapshotGuard: restore.NewStubSnapshotGuard(),
	}
	engine := restore.NewEngine(engineCfg)
	engine.SetPeerResolver(transportClient.PeerFor)

	recon := reconciler.NewReconciler(c)
	recon.OnNodeLeft(engine.OnNodeLeft)

	dispatcher := &transport.EngineDispatcher{Engine: engine, Cluster: c, Partition: layout}
	server, err := transport.NewServer(dispatcher, cert, rootCA)
	if err != nil {
		return fmt.Errorf("failed to create transport server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(bindAddr); err != nil {
			errCh <- fmt.Errorf("transport server error: %w", err)
		}
	}()

	if leaderAddr != nil {
		if err := c.Join(*leaderAddr, transportClient.RequestJoin); err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}
		logger.Info().Str("leader", *leaderAddr).Msg("joined cluster")
	}

	recon.Start()
	collector.Start()
	metrics.RegisterComponent("raft", true, "ready")
	metrics.RegisterComponent("transport", true, "serving")

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint ready")
	logger.Info().Str("addr", bindAddr).Msg("transport endpoint ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("fatal error")
	}

	recon.Stop()
	collector.Stop()
	server.Stop()
	if err := c.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down cluster: %w", err)
	}
	return nil
}

// addressResolver turns a node id into a dial address by looking it up in
// the cluster's baseline node registry.
func addressResolver(c *cluster.Cluster) transport.AddressResolver {
	return func(nodeID string) (string, error) {
		if nodeID == c.NodeID() {
			return "", fmt.Errorf("refusing to dial self (%s) over transport", nodeID)
		}
		nodes, err := c.ListNodes()
		if err != nil {
			return "", fmt.Errorf("failed to list nodes: %w", err)
		}
		for _, n := range nodes {
			if n.ID == nodeID {
				return n.Address, nil
			}
		}
		return "", fmt.Errorf("unknown node %s", nodeID)
	}
}

// Restore commands — control a running node's restore engine remotely.

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Start, cancel, or inspect a restore attempt on a running node",
}

var restoreStartCmd = &cobra.Command{
	Use:   "start SNAPSHOT",
	Short: "Start a restore attempt originating on the targeted node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshotName := args[0]
		groups, _ := cmd.Flags().GetStringSlice("group")
		incrementalIndex, _ := cmd.Flags().GetInt("incremental-index")

		client, addr, err := dialControlClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.RestoreStart(ctx, addr, snapshotName, groups, incrementalIndex); err != nil {
			return fmt.Errorf("failed to start restore: %w", err)
		}
		fmt.Printf("restore started for snapshot %s\n", snapshotName)
		return nil
	},
}

var restoreCancelCmd = &cobra.Command{
	Use:   "cancel REQUEST-ID-OR-SNAPSHOT",
	Short: "Cancel the in-progress restore on the targeted node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, addr, err := dialControlClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cancelled, err := client.RestoreCancel(ctx, addr, args[0])
		if err != nil {
			return fmt.Errorf("failed to cancel restore: %w", err)
		}
		if cancelled {
			fmt.Println("restore cancelled")
		} else {
			fmt.Println("nothing to cancel")
		}
		return nil
	},
}

var restoreStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the targeted node's current restore attempt, if any",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, addr, err := dialControlClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		status, err := client.RestoreStatus(ctx, addr)
		if err != nil {
			return fmt.Errorf("failed to fetch restore status: %w", err)
		}
		restoring, _ := status["restoring"].(bool)
		if !restoring {
			fmt.Println("no restore in progress")
			return nil
		}
		fmt.Printf("snapshot:   %v\n", status["snapshotName"])
		fmt.Printf("phase:      %v\n", status["phase"])
		fmt.Printf("partitions: %v/%v\n", status["processedPartitions"], status["totalPartitions"])
		fmt.Printf("failed:     %v\n", status["failed"])
		if errMsg, ok := status["err"]; ok {
			fmt.Printf("error:      %v\n", errMsg)
		}
		return nil
	},
}

func init() {
	restoreCmd.AddCommand(restoreStartCmd)
	restoreCmd.AddCommand(restoreCancelCmd)
	restoreCmd.AddCommand(restoreStatusCmd)

	for _, cmd := range []*cobra.Command{restoreStartCmd, restoreCancelCmd, restoreStatusCmd} {
		cmd.Flags().String("node-id", "node-1", "ID of the node whose certificate to load for mTLS")
		cmd.Flags().String("addr", "127.0.0.1:7946", "Transport address of the node to control")
		cmd.Flags().String("data-dir", "./gridrestore-data", "Data directory the node was started with (named in the error when its certificate is missing)")
	}
	restoreStartCmd.Flags().StringSlice("group", nil, "Cache groups to restore (default: every group in the snapshot)")
	restoreStartCmd.Flags().Int("incremental-index", 0, "Apply WAL segments up through this index after the baseline restore")
}

// dialControlClient builds a throwaway transport.Client from a node's own
// already-issued certificate and the cluster root CA, both read straight
// off local disk — the CLI runs alongside the node it controls rather than
// carrying its own separate join-token-issued identity.
func dialControlClient(cmd *cobra.Command) (*transport.Client, string, error) {
	nodeID, _ := cmd.Flags().GetString("node-id")
	addr, _ := cmd.Flags().GetString("addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	certDir, err := security.GetCertDir("node", nodeID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve certificate directory: %w", err)
	}
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load node certificate (has the node started at --data-dir=%s?): %w", dataDir, err)
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load root CA certificate: %w", err)
	}

	client := transport.NewClient(nodeID+"-cli", func(string) (string, error) { return addr, nil }, cert, caCert)
	return client, addr, nil
}
