package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mr-tron/base58"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/clients/providerClient"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/config"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/logger"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/persistence"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/persistence/badger"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/persistence/redis"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/session"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/transport/wsSurface"
)

// bridgeClient bundles a session with the resources it owns
type bridgeClient struct {
	config  *config.BridgeConfig
	session *session.Session
	surface *wsSurface.Surface
	prefs   persistence.IPreferenceStore
	logger  *zap.Logger
}

// loadConfig reads the optional config file and overlays any flags or
// environment variables that were set
func loadConfig(c *cli.Context) (*config.BridgeConfig, error) {
	cfg := config.DefaultBridgeConfig()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("bridge-url") {
		cfg.BridgeURL = c.String("bridge-url")
	}
	if c.IsSet("network") {
		cfg.Network = config.Network(c.String("network"))
	}
	if c.IsSet("origin") {
		cfg.Origin = c.String("origin")
	}
	if c.IsSet("provider-url") {
		cfg.ProviderURL = c.String("provider-url")
	}
	if c.IsSet("presence-url") {
		cfg.PresenceURL = c.String("presence-url")
	}
	if c.IsSet("persistence") {
		cfg.Persistence.Type = config.PersistenceType(c.String("persistence"))
	}
	if c.IsSet("data-path") {
		cfg.Persistence.DataPath = c.String("data-path")
	}
	if c.IsSet("redis-address") {
		cfg.Persistence.Redis.Address = c.String("redis-address")
	}
	if c.IsSet("redis-password") {
		cfg.Persistence.Redis.Password = c.String("redis-password")
	}
	if c.IsSet("redis-db") {
		cfg.Persistence.Redis.DB = c.Int("redis-db")
	}
	if c.IsSet("request-timeout") {
		cfg.RequestTimeout = c.Duration("request-timeout")
	}
	if c.IsSet("rate-limit") {
		cfg.MaxRequestsPerSecond = c.Float64("rate-limit")
	}
	if c.IsSet("account-policy") {
		cfg.AccountChangePolicy = config.AccountChangePolicy(c.String("account-policy"))
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	return cfg, nil
}

// newPreferenceStore opens the preference store selected by cfg and checks
// that it is usable before the session relies on it
func newPreferenceStore(cfg *config.BridgeConfig, l *zap.Logger) (persistence.IPreferenceStore, error) {
	var store persistence.IPreferenceStore
	switch cfg.Persistence.Type {
	case config.PersistenceType_Memory, "":
		return memory.NewMemoryPersistence(), nil
	case config.PersistenceType_Badger:
		bp, err := badger.NewBadgerPersistence(cfg.Persistence.DataPath, l)
		if err != nil {
			return nil, err
		}
		store = bp
	case config.PersistenceType_Redis:
		prefix := cfg.Persistence.Redis.KeyPrefix
		if prefix == "" {
			prefix = redis.OriginKeyPrefix(cfg.Origin)
		}
		rp, err := redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.Persistence.Redis.Address,
			Password:  cfg.Persistence.Redis.Password,
			DB:        cfg.Persistence.Redis.DB,
			KeyPrefix: prefix,
		}, l)
		if err != nil {
			return nil, err
		}
		store = rp
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", cfg.Persistence.Type)
	}
	return ensureHealthy(store)
}

// ensureHealthy closes store and fails if its health check does
func ensureHealthy(store persistence.IPreferenceStore) (persistence.IPreferenceStore, error) {
	if err := store.HealthCheck(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("preference store is unhealthy: %w", err)
	}
	return store, nil
}

// newProviderFactory returns a factory dialing the configured delegated
// provider endpoint, or nil when none is configured
func newProviderFactory(cfg *config.BridgeConfig, l *zap.Logger) session.ProviderFactory {
	if cfg.ProviderURL == "" {
		return nil
	}
	return func(name string) (interface{}, error) {
		return providerClient.NewClient(&providerClient.Config{
			BaseURL:  cfg.ProviderURL,
			Provider: name,
		}, l)
	}
}

func newBridgeClient(c *cli.Context) (*bridgeClient, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	surface, err := wsSurface.NewSurface(wsSurface.DefaultConfig(cfg.BridgeURL), l)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge surface: %w", err)
	}

	prefs, err := newPreferenceStore(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("failed to open preference store: %w", err)
	}

	s, err := session.New(cfg.SessionConfig(), surface, prefs, newProviderFactory(cfg, l), l)
	if err != nil {
		_ = prefs.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &bridgeClient{
		config:  cfg,
		session: s,
		surface: surface,
		prefs:   prefs,
		logger:  l,
	}, nil
}

// connect runs the handshake bounded by the --connect-timeout flag
func (b *bridgeClient) connect(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("connect-timeout"))
	defer cancel()
	if err := b.session.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect wallet: %w", err)
	}
	adapter := b.session.Adapter()
	pk := b.session.PublicKey()
	if adapter == nil || pk == nil {
		return fmt.Errorf("wallet disconnected during connect")
	}
	b.logger.Sugar().Infow("Wallet connected",
		"public_key", pk.String(),
		"adapter", adapter.Kind().String(),
	)
	return nil
}

// Close ends the session if one is live and releases the preference store
func (b *bridgeClient) Close() {
	if b.session.State() != session.StateDisconnected {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.session.Disconnect(ctx); err != nil {
			b.logger.Sugar().Warnw("Failed to disconnect wallet", "error", err)
		}
	}
	if err := b.prefs.Close(); err != nil {
		b.logger.Sugar().Warnw("Failed to close preference store", "error", err)
	}
	_ = b.logger.Sync()
}

// decodePayload accepts 0x-prefixed hex or base58
func decodePayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("payload cannot be empty")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		data, err := hexutil.Decode("0x" + s[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid hex payload: %w", err)
		}
		return data, nil
	}
	data, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("payload must be 0x hex or base58: %w", err)
	}
	return data, nil
}
