package session

import (
	"fmt"
	"time"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/bus"
)

// DefaultNetwork is used when no network is configured
const DefaultNetwork = "mainnet-beta"

// State is the connection state of a session
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

func (s State) String() string {
	return string(s)
}

// AccountChangePolicy decides what happens when the wallet reports that no
// account is selected any more
type AccountChangePolicy string

const (
	// AccountChangeNotify only emits accountChanged with no key
	AccountChangeNotify AccountChangePolicy = "notify"
	// AccountChangeDisconnect emits accountChanged and then tears the session down
	AccountChangeDisconnect AccountChangePolicy = "disconnect"
)

func (p AccountChangePolicy) String() string {
	return string(p)
}

// ProviderFactory builds the delegated provider named by a connect_native_web
// event. The returned value must implement delegatedAdapter.IProvider and one
// of its call shapes. It is called on the inbound frame goroutine and should
// not block.
type ProviderFactory func(name string) (interface{}, error)

type Config struct {
	// Network is passed to the bridge as the cluster to sign for
	Network string
	// Origin identifies this client to the bridge
	Origin string

	// Bus configures the correlation bus of every embedded adapter
	Bus *bus.Config
	// PollInterval is the liveness poll of delegated provider surfaces
	PollInterval time.Duration

	AccountChangePolicy AccountChangePolicy
}

// DefaultConfig returns a mainnet config with the notify account policy
func DefaultConfig() *Config {
	return &Config{
		Network:             DefaultNetwork,
		Bus:                 bus.DefaultConfig(),
		AccountChangePolicy: AccountChangeNotify,
	}
}

func (c *Config) withDefaults() (*Config, error) {
	out := DefaultConfig()
	if c == nil {
		return out, nil
	}
	if c.Network != "" {
		out.Network = c.Network
	}
	out.Origin = c.Origin
	if c.Bus != nil {
		out.Bus = c.Bus
	}
	out.PollInterval = c.PollInterval

	switch c.AccountChangePolicy {
	case "":
	case AccountChangeNotify, AccountChangeDisconnect:
		out.AccountChangePolicy = c.AccountChangePolicy
	default:
		return nil, fmt.Errorf("unsupported account change policy: %s", c.AccountChangePolicy)
	}
	return out, nil
}

// busConfig returns a private copy for one adapter's bus
func (c *Config) busConfig() *bus.Config {
	cfg := *c.Bus
	return &cfg
}
