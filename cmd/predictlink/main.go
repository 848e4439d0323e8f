package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"github.com/UncleTom29/predictlink-evm/config"
	"github.com/UncleTom29/predictlink-evm/node"
)

var log = logging.Logger("main")

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		dataDir    = flag.String("data", "", "Data directory (overrides config)")
		listenAddr = flag.String("listen", "", "API listen address (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *listenAddr != "" {
		cfg.API.ListenAddr = *listenAddr
	}

	level, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		level = logging.LevelInfo
	}
	logging.SetAllLoggers(level)

	n, err := node.NewNode(cfg)
	if err != nil {
		log.Fatalw("failed to create node", "err", err)
	}

	if err := n.Start(); err != nil {
		log.Fatalw("failed to start node", "err", err)
	}
	log.Infow("node started", "id", cfg.NodeID, "address", n.Address(), "api", cfg.API.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("shutting down", "signal", sig)

	if err := n.Stop(); err != nil {
		log.Errorw("shutdown error", "err", err)
		os.Exit(1)
	}
}
