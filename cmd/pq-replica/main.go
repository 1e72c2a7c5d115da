package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	replica "github.com/Trendyol/go-pq-replica"
	"github.com/Trendyol/go-pq-replica/config"
	serverhttp "github.com/Trendyol/go-pq-replica/internal/http"
	"github.com/Trendyol/go-pq-replica/internal/lock"
	"github.com/Trendyol/go-pq-replica/internal/metric"
	"github.com/Trendyol/go-pq-replica/logger"
	"github.com/Trendyol/go-pq-replica/node"
	"github.com/Trendyol/go-pq-replica/pgtools"
	"github.com/go-playground/errors/v5"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "pq-replica",
	Short:        "Synchronize a fresh subscriber node into a logically replicated cluster",
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yml", "config file path (yaml or json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	var cfg config.Config
	var err error

	if strings.HasSuffix(configPath, ".json") {
		cfg, err = config.ReadConfigJSON(configPath)
	} else {
		cfg, err = config.ReadConfigYAML(configPath)
	}
	if err != nil {
		return err
	}

	if err = cfg.Validate(); err != nil {
		return errors.Wrap(err, "config validation")
	}
	cfg.SetDefault()
	logger.InitLogger(cfg.Logger.Logger)
	cfg.Print()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := node.Connect(ctx, cfg.CatalogDSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	catalog := node.NewStore(pool, cfg.Extension.Schema)

	originNode, err := catalog.GetNode(ctx, cfg.OriginNodeID)
	if err != nil {
		return err
	}
	targetNode, err := catalog.GetNode(ctx, cfg.TargetNodeID)
	if err != nil {
		return err
	}

	runLock := lock.New(targetNode.Name)
	locked, err := runLock.TryLock()
	if err != nil {
		return errors.Wrap(err, "acquire run lock")
	}
	if !locked {
		return errors.Newf("another sync attempt for node %s is already running", targetNode.Name)
	}
	defer func() { _ = runLock.Unlock() }()

	m := metric.NewMetric(targetNode.Name)
	registry := metric.NewRegistry(m)
	server := serverhttp.NewServer(cfg, registry, &nodeInfo{catalog: catalog, id: targetNode.ID})
	go server.Listen()
	defer server.Shutdown()

	bootstrap := replica.NewBootstrap(&cfg, catalog, pgtools.NewToolchain(cfg.Tools.BinDir), m)

	return bootstrap.Run(ctx, &replica.NodeConnection{
		Origin:          originNode,
		Target:          targetNode,
		ReplicationSets: cfg.ReplicationSets,
	})
}

type nodeInfo struct {
	catalog *node.Store
	id      int
}

func (n *nodeInfo) Node(ctx context.Context) (*node.Node, error) {
	return n.catalog.GetNode(ctx, n.id)
}
