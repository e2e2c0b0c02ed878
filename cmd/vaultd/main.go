// vaultd runs a single-producer vault ledger node serving JSON-RPC and the
// account update stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/X1-Vault/internal/config"
	"github.com/fortiblox/X1-Vault/pkg/node"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

var (
	configPath  = flag.String("config", "", "configuration file path (YAML)")
	dataDir     = flag.String("data-dir", "", "data directory for blockstore and accounts (overrides config)")
	logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	rpcAddr     = flag.String("rpc-addr", "", "RPC server listen address (overrides config)")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("vaultd %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	if err := run(); err != nil {
		logrus.WithError(err).Error("vaultd failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *rpcAddr != "" {
		cfg.RPCAddr = *rpcAddr
	}
	cfg.ConfigureLogger()
	log := logrus.StandardLogger().WithField("type", "vaultd")

	nodeConfig, err := cfg.NodeConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeConfig.OnError = func(err error) {
		log.WithError(err).Error("component failed, shutting down")
		cancel()
	}

	n, err := node.New(nodeConfig)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"version":  Version,
		"commit":   GitCommit,
		"data_dir": nodeConfig.DataDir,
	}).Info("starting vaultd")
	if err := n.Start(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("received signal, shutting down")
	case <-ctx.Done():
	}

	if cfg.SnapshotOnExit != "" {
		header, err := n.WriteSnapshot(cfg.SnapshotOnExit)
		if err != nil {
			log.WithError(err).Warn("failed to write snapshot")
		} else {
			log.WithFields(logrus.Fields{
				"path":     cfg.SnapshotOnExit,
				"slot":     header.Slot,
				"accounts": header.AccountsCount,
			}).Info("wrote snapshot")
		}
	}

	return stop(n, cfg.ShutdownGracePeriod)
}

// stop stops the node, giving up after gracePeriod.
func stop(n *node.Node, gracePeriod time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- n.Stop()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(gracePeriod):
		return fmt.Errorf("failed to stop the node within %v", gracePeriod)
	}
}
