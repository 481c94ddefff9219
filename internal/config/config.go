// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config resolves the environment and flag driven configuration
// of spec §6, generalizing the teacher's cmd/simulator/config pair
// (BuildFlagSet + BuildViper) to this service's surface.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	PortKey            = "port"
	DatabaseURLKey      = "database-url"
	EthMainnetURLKey   = "rpc-eth-mainnet-url"
	HeadTickPeriodKey  = "head-tick-period"
	GapScanPeriodKey   = "gap-scan-period"
	GapLimitKey        = "gap-limit"
	RPCTimeoutKey      = "rpc-timeout"
	LogLevelKey        = "log-level"
	LogFileKey         = "log-file"

	// EthMainnetChainID is the chain ID RPC_ETH_MAINNET_URL configures,
	// per spec §6.
	EthMainnetChainID uint32 = 1
)

// Config is the plain struct business code is constructed with. It is
// never read from global state once built.
type Config struct {
	Port           int
	DatabaseURL    string
	ChainRPCURLs   map[uint32]string // chain ID -> RPC URL, includes chain 1 if RPC_ETH_MAINNET_URL is set
	HeadTickPeriod time.Duration
	GapScanPeriod  time.Duration
	GapLimit       int
	RPCTimeout     time.Duration
	LogLevel       string
	LogFile        string
}

// ListenAddr is the address the Read API binds to.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ChainIDs returns the chain IDs discovered at startup, the set the
// Scheduler and RPC Gateway are constructed with (spec §4.3: "obtained
// once from the RPC Gateway at startup").
func (c Config) ChainIDs() []uint32 {
	ids := make([]uint32, 0, len(c.ChainRPCURLs))
	for id := range c.ChainRPCURLs {
		ids = append(ids, id)
	}
	return ids
}

// BuildFlagSet declares the flags BuildViper binds to environment
// variables. Defaults mirror spec §2/§4.3.
func BuildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("blockwatch", pflag.ContinueOnError)
	fs.Int(PortKey, 3000, "HTTP listen port")
	fs.String(DatabaseURLKey, "", "Block store connection string")
	fs.String(EthMainnetURLKey, "", "RPC URL for chain ID 1 (Ethereum mainnet)")
	fs.Duration(HeadTickPeriodKey, 5*time.Second, "head-tick period")
	fs.Duration(GapScanPeriodKey, 60*time.Second, "gap-scan period")
	fs.Int(GapLimitKey, 10, "max heights returned per gap scan")
	fs.Duration(RPCTimeoutKey, 5*time.Second, "deadline for each head-tick work unit")
	fs.String(LogLevelKey, "info", "log level: debug, info, warn, error")
	fs.String(LogFileKey, "", "optional rotating log file path")
	return fs
}

// BuildViper binds fs to env vars (upper-snake-case of the flag name,
// e.g. database-url -> DATABASE_URL) and parses args.
func BuildViper(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	v := viper.New()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v, nil
}

var chainEnvPattern = regexp.MustCompile(`^RPC_CHAIN_(\d+)_URL$`)

// BuildConfig materializes a Config from v plus a scan of os.Environ()
// for the dynamic RPC_CHAIN_<N>_URL family, which viper's static
// binding cannot express (spec §6).
func BuildConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:           v.GetInt(PortKey),
		DatabaseURL:    v.GetString(DatabaseURLKey),
		ChainRPCURLs:   map[uint32]string{},
		HeadTickPeriod: v.GetDuration(HeadTickPeriodKey),
		GapScanPeriod:  v.GetDuration(GapScanPeriodKey),
		GapLimit:       v.GetInt(GapLimitKey),
		RPCTimeout:     v.GetDuration(RPCTimeoutKey),
		LogLevel:       v.GetString(LogLevelKey),
		LogFile:        v.GetString(LogFileKey),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}

	if url := v.GetString(EthMainnetURLKey); url != "" {
		cfg.ChainRPCURLs[EthMainnetChainID] = url
	}

	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		m := chainEnvPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, err := cast.ToUint64E(m[1])
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid chain id in %s: %w", name, err)
		}
		cfg.ChainRPCURLs[uint32(n)] = value
	}

	if len(cfg.ChainRPCURLs) == 0 {
		return Config{}, fmt.Errorf("config: no chain configured (set RPC_ETH_MAINNET_URL or RPC_CHAIN_<N>_URL)")
	}

	return cfg, nil
}

// ChainURL resolves the URL for a chain previously discovered at
// startup, consulting a fresh environment read for lazily-configured
// chains per spec §6 ("consulted lazily on first use").
func ChainURL(cfg Config, chainID uint32) (string, bool) {
	if url, ok := cfg.ChainRPCURLs[chainID]; ok {
		return url, true
	}
	if chainID == EthMainnetChainID {
		if url := os.Getenv("RPC_ETH_MAINNET_URL"); url != "" {
			return url, true
		}
		return "", false
	}
	url := os.Getenv("RPC_CHAIN_" + strconv.FormatUint(uint64(chainID), 10) + "_URL")
	if url == "" {
		return "", false
	}
	return url, true
}
