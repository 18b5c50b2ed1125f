package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/bus"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/session"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// Environment variable names for bridge client configuration
const (
	EnvBridgeURL            = "BRIDGE_URL"
	EnvBridgeNetwork        = "BRIDGE_NETWORK"
	EnvBridgeOrigin         = "BRIDGE_ORIGIN"
	EnvBridgeProviderURL    = "BRIDGE_PROVIDER_URL"
	EnvBridgePresenceURL    = "BRIDGE_PRESENCE_URL"
	EnvBridgePersistence    = "BRIDGE_PERSISTENCE"
	EnvBridgeDataPath       = "BRIDGE_DATA_PATH"
	EnvBridgeRedisAddress   = "BRIDGE_REDIS_ADDRESS"
	EnvBridgeRedisPassword  = "BRIDGE_REDIS_PASSWORD"
	EnvBridgeRedisDB        = "BRIDGE_REDIS_DB"
	EnvBridgeRequestTimeout = "BRIDGE_REQUEST_TIMEOUT"
	EnvBridgeRateLimit      = "BRIDGE_RATE_LIMIT"
	EnvBridgeAccountPolicy  = "BRIDGE_ACCOUNT_POLICY"
	EnvBridgeDebug          = "BRIDGE_DEBUG"
)

type Network string

func (n Network) String() string {
	return string(n)
}

const (
	Network_MainnetBeta Network = "mainnet-beta"
	Network_Testnet     Network = "testnet"
	Network_Devnet      Network = "devnet"
)

var supportedNetworks = []Network{Network_MainnetBeta, Network_Testnet, Network_Devnet}

type PersistenceType string

func (p PersistenceType) String() string {
	return string(p)
}

const (
	PersistenceType_Memory PersistenceType = "memory"
	PersistenceType_Badger PersistenceType = "badger"
	PersistenceType_Redis  PersistenceType = "redis"
)

type AccountChangePolicy string

func (p AccountChangePolicy) String() string {
	return string(p)
}

const (
	AccountChangePolicy_Notify     AccountChangePolicy = "notify"
	AccountChangePolicy_Disconnect AccountChangePolicy = "disconnect"
)

// GetSupportedNetworksString returns supported networks for CLI help
func GetSupportedNetworksString() string {
	return strings.Join(networkNames(), ", ")
}

type RedisConfig struct {
	Address   string `json:"address" yaml:"address" toml:"address"`
	Password  string `json:"password" yaml:"password" toml:"password"`
	DB        int    `json:"db" yaml:"db" toml:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix" toml:"key_prefix"`
}

type PersistenceConfig struct {
	Type PersistenceType `json:"type" yaml:"type" toml:"type"`
	// DataPath is the badger directory
	DataPath string      `json:"dataPath" yaml:"dataPath" toml:"data_path"`
	Redis    RedisConfig `json:"redis" yaml:"redis" toml:"redis"`
}

// BridgeConfig represents the complete configuration for a bridge client
type BridgeConfig struct {
	// BridgeURL is the websocket endpoint of the hosted bridge
	BridgeURL string  `json:"bridgeUrl" yaml:"bridgeUrl" toml:"bridge_url"`
	Network   Network `json:"network" yaml:"network" toml:"network"`
	Origin    string  `json:"origin" yaml:"origin" toml:"origin"`

	// ProviderURL is the delegated provider endpoint, optional
	ProviderURL string `json:"providerUrl" yaml:"providerUrl" toml:"provider_url"`
	// PresenceURL answers 200 once a wallet is available, optional
	PresenceURL string `json:"presenceUrl" yaml:"presenceUrl" toml:"presence_url"`

	Persistence PersistenceConfig `json:"persistence" yaml:"persistence" toml:"persistence"`

	// RequestTimeout bounds each signing request, zero waits indefinitely
	RequestTimeout       time.Duration       `json:"requestTimeout" yaml:"requestTimeout" toml:"request_timeout"`
	MaxRequestsPerSecond float64             `json:"maxRequestsPerSecond" yaml:"maxRequestsPerSecond" toml:"max_requests_per_second"`
	AccountChangePolicy  AccountChangePolicy `json:"accountChangePolicy" yaml:"accountChangePolicy" toml:"account_change_policy"`

	Debug bool `json:"debug" yaml:"debug" toml:"debug"`
}

// DefaultBridgeConfig returns a mainnet config with in-memory persistence
func DefaultBridgeConfig() *BridgeConfig {
	return &BridgeConfig{
		Network: Network_MainnetBeta,
		Persistence: PersistenceConfig{
			Type:     PersistenceType_Memory,
			DataPath: "./data/bridge",
		},
		AccountChangePolicy: AccountChangePolicy_Notify,
	}
}

// LoadFromFile overlays the file at path onto the defaults. Files ending in
// .toml are decoded as TOML, anything else as YAML.
func LoadFromFile(path string) (*BridgeConfig, error) {
	cfg := DefaultBridgeConfig()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate validates the bridge configuration
func (c *BridgeConfig) Validate() error {
	var allErrors field.ErrorList

	if c.BridgeURL == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("bridgeUrl"), "bridgeUrl is required"))
	} else if u, err := url.Parse(c.BridgeURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		allErrors = append(allErrors, field.Invalid(field.NewPath("bridgeUrl"), c.BridgeURL, "must be a ws:// or wss:// URL"))
	}

	if !isSupportedNetwork(c.Network) {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("network"), c.Network, networkNames()))
	}

	for name, raw := range map[string]string{"providerUrl": c.ProviderURL, "presenceUrl": c.PresenceURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			allErrors = append(allErrors, field.Invalid(field.NewPath(name), raw, "must be an http:// or https:// URL"))
		}
	}

	persistencePath := field.NewPath("persistence")
	switch c.Persistence.Type {
	case PersistenceType_Memory:
	case PersistenceType_Badger:
		if c.Persistence.DataPath == "" {
			allErrors = append(allErrors, field.Required(persistencePath.Child("dataPath"), "dataPath is required for badger persistence"))
		}
	case PersistenceType_Redis:
		if c.Persistence.Redis.Address == "" {
			allErrors = append(allErrors, field.Required(persistencePath.Child("redis", "address"), "address is required for redis persistence"))
		}
		if c.Persistence.Redis.DB < 0 {
			allErrors = append(allErrors, field.Invalid(persistencePath.Child("redis", "db"), c.Persistence.Redis.DB, "must not be negative"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(persistencePath.Child("type"), c.Persistence.Type, []string{
			PersistenceType_Memory.String(), PersistenceType_Badger.String(), PersistenceType_Redis.String(),
		}))
	}

	if c.RequestTimeout < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("requestTimeout"), c.RequestTimeout.String(), "must not be negative"))
	}
	if c.MaxRequestsPerSecond < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxRequestsPerSecond"), c.MaxRequestsPerSecond, "must not be negative"))
	}

	switch c.AccountChangePolicy {
	case AccountChangePolicy_Notify, AccountChangePolicy_Disconnect:
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("accountChangePolicy"), c.AccountChangePolicy, []string{
			AccountChangePolicy_Notify.String(), AccountChangePolicy_Disconnect.String(),
		}))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// SessionConfig converts the bridge config into session settings
func (c *BridgeConfig) SessionConfig() *session.Config {
	return &session.Config{
		Network: c.Network.String(),
		Origin:  c.Origin,
		Bus: &bus.Config{
			OutboundChannel:      types.ChannelToBridge,
			RequestTimeout:       c.RequestTimeout,
			MaxRequestsPerSecond: c.MaxRequestsPerSecond,
		},
		AccountChangePolicy: session.AccountChangePolicy(c.AccountChangePolicy),
	}
}

func isSupportedNetwork(n Network) bool {
	for _, supported := range supportedNetworks {
		if n == supported {
			return true
		}
	}
	return false
}

func networkNames() []string {
	names := make([]string, 0, len(supportedNetworks))
	for _, n := range supportedNetworks {
		names = append(names, n.String())
	}
	return names
}
