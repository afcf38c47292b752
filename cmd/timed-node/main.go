package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"timecore.dev/node/node"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := node.DefaultConfig()
	var peers multiStringFlag

	cfg := defaults
	fs := flag.NewFlagSet("timed-node", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var networkName string
	peerCSV := fs.String("peers", "", "bootstrap peers, comma-separated host:port")
	fs.Var(&peers, "peer", "single bootstrap peer host:port (repeatable)")
	fs.StringVar(&networkName, "network", string(defaults.Network), "network: mainnet|testnet")
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.BindAddr, "bind", defaults.BindAddr, "p2p bind address host:port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fs.IntVar(&cfg.MaxPeers, "max-peers", defaults.MaxPeers, "max connected peers")
	fs.StringVar(&cfg.GenesisPath, "genesis", "", "path to the genesis block JSON file")
	metricsAddr := fs.String("metrics-bind", "", "address to serve Prometheus metrics on (empty disables)")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit without starting")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	switch strings.ToLower(networkName) {
	case "testnet":
		cfg.Network = node.Testnet
	default:
		cfg.Network = node.Mainnet
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Peers = node.NormalizePeers(append([]string{*peerCSV}, peers...)...)

	if err := node.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}
	if strings.TrimSpace(cfg.GenesisPath) == "" {
		fmt.Fprintln(stderr, "invalid config: -genesis is required")
		return 2
	}

	if err := printConfig(stdout, cfg); err != nil {
		fmt.Fprintf(stderr, "config encode failed: %v\n", err)
		return 1
	}
	if *dryRun {
		return 0
	}

	log := node.NewLogger(cfg.LogLevel)
	n, err := node.New(cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "node init failed: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "node start failed: %v\n", err)
		return 2
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(n.Registry(), promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("timed-node: metrics server stopped: %v", err)
			}
		}()
	}

	fmt.Fprintln(stdout, "timed-node running")
	<-ctx.Done()
	fmt.Fprintln(stdout, "timed-node stopping")

	if metricsServer != nil {
		_ = metricsServer.Shutdown(context.Background())
	}
	if err := n.Stop(); err != nil {
		fmt.Fprintf(stderr, "node stop failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "timed-node stopped")
	return 0
}

func printConfig(w io.Writer, cfg node.Config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
