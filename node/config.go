package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// Network selects the magic bytes, default ports, and address version byte
// a node runs with. See spec.md §6.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Port defaults from spec.md §6.
const (
	MainnetP2PPort = 24000
	MainnetRPCPort = 24001
	TestnetP2PPort = 24100
	TestnetRPCPort = 24101
)

// Magic bytes from spec.md §6.
var (
	MainnetMagic = [4]byte{0xC0, 0x1D, 0x7E, 0x4D}
	TestnetMagic = [4]byte{0x7E, 0x57, 0x7E, 0x4D}
)

func (n Network) Magic() [4]byte {
	if n == Testnet {
		return TestnetMagic
	}
	return MainnetMagic
}

func (n Network) P2PPort() int {
	if n == Testnet {
		return TestnetP2PPort
	}
	return MainnetP2PPort
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Config is the node's full runtime configuration. cmd/timed-node builds it
// from DefaultConfig and its command-line flags; no config file is read.
// The JSON tags define the form its -dry-run mode prints.
type Config struct {
	Network  Network  `json:"network"`
	DataDir  string   `json:"data_dir"`
	BindAddr string   `json:"bind_addr"`
	LogLevel string   `json:"log_level"`
	Peers    []string `json:"peers"`
	MaxPeers int      `json:"max_peers"`

	GenesisPath string `json:"genesis_path"`

	// Consensus/timing parameters. See spec.md §4.5, §4.6.
	BlockIntervalSeconds  uint64 `json:"block_interval_seconds"`
	VoteTimeoutSeconds    uint64 `json:"vote_timeout_seconds"`
	BlockExchangeSeconds  uint64 `json:"block_exchange_seconds"`
	ProofOfTimeIterations uint64 `json:"proof_of_time_iterations"`
	MaxReorgDepth         uint64 `json:"max_reorg_depth"`

	// Rate limiting. See spec.md §4.4.
	RateLimitPerWindow  int `json:"rate_limit_per_window"`
	RateLimitWindowSecs int `json:"rate_limit_window_seconds"`
	RateLimitBurst      int `json:"rate_limit_burst"`

	// Mempool. See spec.md §4.2, §5.
	MempoolMemoryBudgetBytes uint64 `json:"mempool_memory_budget_bytes"`
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".timecore"
	}
	return filepath.Join(home, ".timecore")
}

func DefaultConfig() Config {
	return Config{
		Network:                  Mainnet,
		DataDir:                  DefaultDataDir(),
		BindAddr:                 fmt.Sprintf("0.0.0.0:%d", MainnetP2PPort),
		Peers:                    nil,
		LogLevel:                 "info",
		MaxPeers:                 64,
		BlockIntervalSeconds:     86400,
		VoteTimeoutSeconds:       60,
		BlockExchangeSeconds:     10,
		ProofOfTimeIterations:    0,
		MaxReorgDepth:            100,
		RateLimitPerWindow:       100,
		RateLimitWindowSecs:      60,
		RateLimitBurst:           20,
		MempoolMemoryBudgetBytes: 256 * 1024 * 1024,
	}
}

func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func ValidateConfig(cfg Config) error {
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	for _, peer := range cfg.Peers {
		if err := validateAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 || cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be in (0, 4096]")
	}
	if cfg.BlockIntervalSeconds == 0 {
		return errors.New("block_interval_seconds must be > 0")
	}
	if cfg.VoteTimeoutSeconds == 0 {
		return errors.New("vote_timeout_seconds must be > 0")
	}
	if cfg.RateLimitPerWindow <= 0 || cfg.RateLimitWindowSecs <= 0 || cfg.RateLimitBurst <= 0 {
		return errors.New("rate limit parameters must be > 0")
	}
	if cfg.MempoolMemoryBudgetBytes == 0 {
		return errors.New("mempool_memory_budget_bytes must be > 0")
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}
