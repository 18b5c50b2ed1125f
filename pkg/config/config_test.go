package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/session"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

func validConfig() *BridgeConfig {
	cfg := DefaultBridgeConfig()
	cfg.BridgeURL = "wss://bridge.example/ws"
	return cfg
}

func TestBridgeConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *BridgeConfig)
		wantErr string
	}{
		{name: "defaults with url", mutate: func(c *BridgeConfig) {}},
		{
			name:    "missing bridge url",
			mutate:  func(c *BridgeConfig) { c.BridgeURL = "" },
			wantErr: "bridgeUrl",
		},
		{
			name:    "http bridge url",
			mutate:  func(c *BridgeConfig) { c.BridgeURL = "https://bridge.example" },
			wantErr: "ws:// or wss://",
		},
		{
			name:    "unknown network",
			mutate:  func(c *BridgeConfig) { c.Network = "mainnet" },
			wantErr: "network",
		},
		{
			name:    "bad provider url",
			mutate:  func(c *BridgeConfig) { c.ProviderURL = "ftp://provider" },
			wantErr: "providerUrl",
		},
		{
			name: "badger needs a path",
			mutate: func(c *BridgeConfig) {
				c.Persistence.Type = PersistenceType_Badger
				c.Persistence.DataPath = ""
			},
			wantErr: "persistence.dataPath",
		},
		{
			name:    "redis needs an address",
			mutate:  func(c *BridgeConfig) { c.Persistence.Type = PersistenceType_Redis },
			wantErr: "persistence.redis.address",
		},
		{
			name:    "unknown persistence",
			mutate:  func(c *BridgeConfig) { c.Persistence.Type = "sqlite" },
			wantErr: "persistence.type",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *BridgeConfig) { c.RequestTimeout = -time.Second },
			wantErr: "requestTimeout",
		},
		{
			name:    "negative rate",
			mutate:  func(c *BridgeConfig) { c.MaxRequestsPerSecond = -1 },
			wantErr: "maxRequestsPerSecond",
		},
		{
			name:    "unknown account policy",
			mutate:  func(c *BridgeConfig) { c.AccountChangePolicy = "ignore" },
			wantErr: "accountChangePolicy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBridgeConfig_ValidateAggregatesErrors(t *testing.T) {
	cfg := DefaultBridgeConfig()
	cfg.Network = ""
	cfg.AccountChangePolicy = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bridgeUrl")
	assert.Contains(t, err.Error(), "network")
	assert.Contains(t, err.Error(), "accountChangePolicy")
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bridgeUrl: wss://bridge.example/ws
network: devnet
origin: https://app.example
persistence:
  type: redis
  redis:
    address: localhost:6379
    db: 2
requestTimeout: 30s
accountChangePolicy: disconnect
`), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "wss://bridge.example/ws", cfg.BridgeURL)
	assert.Equal(t, Network_Devnet, cfg.Network)
	assert.Equal(t, PersistenceType_Redis, cfg.Persistence.Type)
	assert.Equal(t, "localhost:6379", cfg.Persistence.Redis.Address)
	assert.Equal(t, 2, cfg.Persistence.Redis.DB)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, AccountChangePolicy_Disconnect, cfg.AccountChangePolicy)
	// untouched fields keep their defaults
	assert.Equal(t, "./data/bridge", cfg.Persistence.DataPath)
}

func TestLoadFromFile_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
bridge_url = "ws://127.0.0.1:9000/ws"
provider_url = "http://127.0.0.1:8787"
max_requests_per_second = 5.0

[persistence]
type = "badger"
data_path = "/tmp/bridge"
`), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ws://127.0.0.1:9000/ws", cfg.BridgeURL)
	assert.Equal(t, "http://127.0.0.1:8787", cfg.ProviderURL)
	assert.Equal(t, 5.0, cfg.MaxRequestsPerSecond)
	assert.Equal(t, PersistenceType_Badger, cfg.Persistence.Type)
	assert.Equal(t, "/tmp/bridge", cfg.Persistence.DataPath)
	assert.Equal(t, Network_MainnetBeta, cfg.Network)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("bridge_url = "), 0o600))
	_, err = LoadFromFile(path)
	require.Error(t, err)
}

func TestBridgeConfig_SessionConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Network = Network_Testnet
	cfg.Origin = "cli"
	cfg.RequestTimeout = 10 * time.Second
	cfg.MaxRequestsPerSecond = 3
	cfg.AccountChangePolicy = AccountChangePolicy_Disconnect

	sc := cfg.SessionConfig()
	assert.Equal(t, "testnet", sc.Network)
	assert.Equal(t, "cli", sc.Origin)
	assert.Equal(t, session.AccountChangeDisconnect, sc.AccountChangePolicy)
	require.NotNil(t, sc.Bus)
	assert.Equal(t, types.ChannelToBridge, sc.Bus.OutboundChannel)
	assert.Equal(t, 10*time.Second, sc.Bus.RequestTimeout)
	assert.Equal(t, 3.0, sc.Bus.MaxRequestsPerSecond)
}

func TestGetSupportedNetworksString(t *testing.T) {
	assert.Equal(t, "mainnet-beta, testnet, devnet", GetSupportedNetworksString())
}
