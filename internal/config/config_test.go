// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/blockwatch/internal/config"
)

func build(t *testing.T, args []string, env map[string]string) (config.Config, error) {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
	fs := config.BuildFlagSet()
	v, err := config.BuildViper(fs, args)
	require.NoError(t, err)
	return config.BuildConfig(v)
}

func TestBuildConfigRequiresDatabaseURL(t *testing.T) {
	_, err := build(t, nil, map[string]string{"RPC_ETH_MAINNET_URL": "https://example.invalid"})
	require.Error(t, err)
}

func TestBuildConfigRequiresAtLeastOneChain(t *testing.T) {
	_, err := build(t, nil, map[string]string{"DATABASE_URL": "postgres://localhost/db"})
	require.Error(t, err)
}

func TestBuildConfigDiscoversDynamicChainEnv(t *testing.T) {
	cfg, err := build(t, nil, map[string]string{
		"DATABASE_URL":        "postgres://localhost/db",
		"RPC_CHAIN_137_URL":   "https://polygon.example.invalid",
		"RPC_CHAIN_42161_URL": "https://arbitrum.example.invalid",
	})
	require.NoError(t, err)
	require.Len(t, cfg.ChainRPCURLs, 2)
	require.Equal(t, "https://polygon.example.invalid", cfg.ChainRPCURLs[137])
}

func TestListenAddr(t *testing.T) {
	cfg, err := build(t, []string{"--port=8080"}, map[string]string{
		"DATABASE_URL":        "postgres://localhost/db",
		"RPC_ETH_MAINNET_URL": "https://mainnet.example.invalid",
	})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr())
}

func TestChainURLLazyResolution(t *testing.T) {
	cfg, err := build(t, nil, map[string]string{
		"DATABASE_URL":        "postgres://localhost/db",
		"RPC_ETH_MAINNET_URL": "https://mainnet.example.invalid",
	})
	require.NoError(t, err)

	os.Setenv("RPC_CHAIN_10_URL", "https://optimism.example.invalid")
	defer os.Unsetenv("RPC_CHAIN_10_URL")

	url, ok := config.ChainURL(cfg, 10)
	require.True(t, ok)
	require.Equal(t, "https://optimism.example.invalid", url)

	_, ok = config.ChainURL(cfg, 999)
	require.False(t, ok)
}
