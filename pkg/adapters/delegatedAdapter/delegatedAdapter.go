package delegatedAdapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/adapters"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// DefaultPollInterval is how often the provider surface is checked for liveness
const DefaultPollInterval = 200 * time.Millisecond

const releaseTimeout = 5 * time.Second

type Config struct {
	PollInterval time.Duration
}

// DelegatedAdapter signs through a third party provider chosen by the bridge
type DelegatedAdapter struct {
	provider  IProvider
	call      callFunc
	config    *Config
	callbacks adapters.Callbacks
	logger    *zap.Logger

	mu        sync.RWMutex
	publicKey *types.PublicKey
	connected bool
	stopPoll  context.CancelFunc
	detached  bool
}

var _ adapters.IAdapter = (*DelegatedAdapter)(nil)

// NewDelegatedAdapter resolves the provider's call shape up front so an
// unusable provider fails with ErrUnsupportedAdapter before any connect
func NewDelegatedAdapter(
	provider interface{},
	cfg *Config,
	callbacks *adapters.Callbacks,
	logger *zap.Logger,
) (*DelegatedAdapter, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	lifecycle, ok := provider.(IProvider)
	if !ok {
		return nil, fmt.Errorf("provider %T has no connect lifecycle: %w", provider, types.ErrUnsupportedAdapter)
	}
	call, err := resolveCall(provider)
	if err != nil {
		return nil, err
	}

	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &DelegatedAdapter{
		provider: lifecycle,
		call:     call,
		config:   cfg,
		logger:   logger,
	}
	if callbacks != nil {
		a.callbacks = *callbacks
	}
	return a, nil
}

func (a *DelegatedAdapter) Kind() adapters.Kind {
	return adapters.KindDelegated
}

func (a *DelegatedAdapter) PublicKey() *types.PublicKey {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected || a.publicKey == nil {
		return nil
	}
	pk := *a.publicKey
	return &pk
}

func (a *DelegatedAdapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// Connect starts watching the provider surface and waits for the provider to
// approve the connection. A detached adapter cannot connect again.
func (a *DelegatedAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return nil
	}
	if a.detached {
		a.mu.Unlock()
		return types.ErrNotConnected
	}
	if a.stopPoll != nil {
		a.stopPoll()
	}
	pollCtx, cancel := context.WithCancel(context.Background())
	a.stopPoll = cancel
	a.mu.Unlock()

	go a.pollSurface(pollCtx)

	pk, err := a.provider.Connect(ctx)
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to connect provider")
	}
	if pk == nil {
		cancel()
		return errors.New("failed to connect provider: no public key")
	}

	a.mu.Lock()
	if a.detached {
		// torn down while the provider was connecting
		a.mu.Unlock()
		a.releaseProvider()
		return errors.New("failed to connect provider: adapter detached")
	}
	key := *pk
	a.publicKey = &key
	a.connected = true
	a.mu.Unlock()

	a.logger.Sugar().Infow("Delegated provider connected", "public_key", key.String())
	if a.callbacks.OnConnect != nil {
		a.callbacks.OnConnect(&key)
	}
	return nil
}

// Disconnect closes the provider session without reporting a disconnect
// through the callbacks; the caller already knows. An adapter that is still
// connecting stops watching the provider and will not come up connected;
// ErrNotConnected is returned in that case.
func (a *DelegatedAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	wasConnected := a.connected
	a.detachLocked()
	a.mu.Unlock()

	if !wasConnected {
		return types.ErrNotConnected
	}

	if err := a.provider.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "failed to disconnect provider")
	}
	return nil
}

func (a *DelegatedAdapter) detachLocked() {
	a.detached = true
	a.connected = false
	a.publicKey = nil
	if a.stopPoll != nil {
		a.stopPoll()
		a.stopPoll = nil
	}
}

// releaseProvider ends a provider session nobody owns
func (a *DelegatedAdapter) releaseProvider() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := a.provider.Disconnect(ctx); err != nil {
		a.logger.Sugar().Warnw("Failed to release provider after detach", "error", err)
	}
}

func (a *DelegatedAdapter) pollSurface(ctx context.Context) {
	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.provider.SurfaceOpen() {
				a.logger.Sugar().Infow("Delegated provider surface closed")
				a.handleDisconnect()
				return
			}
		}
	}
}

// handleDisconnect synthesizes a disconnect exactly once per connection
func (a *DelegatedAdapter) handleDisconnect() {
	a.mu.Lock()
	if a.detached {
		a.mu.Unlock()
		return
	}
	a.detachLocked()
	a.mu.Unlock()

	if a.callbacks.OnDisconnect != nil {
		a.callbacks.OnDisconnect()
	}
}

func (a *DelegatedAdapter) SignTransaction(ctx context.Context, message []byte) ([]byte, error) {
	if !a.Connected() {
		return nil, types.ErrNotConnected
	}

	res, err := a.call(ctx, types.MethodSignTransaction, map[string]string{
		"message": base58.Encode(message),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	var result types.SignatureResult
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction: malformed response")
	}
	return decodeSignature(result.Signature, "failed to sign transaction")
}

func (a *DelegatedAdapter) SignAllTransactions(ctx context.Context, messages [][]byte) ([][]byte, error) {
	if !a.Connected() {
		return nil, types.ErrNotConnected
	}

	encoded := make([]string, len(messages))
	for i, m := range messages {
		encoded[i] = base58.Encode(m)
	}
	res, err := a.call(ctx, types.MethodSignAllTransactions, map[string][]string{
		"messages": encoded,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transactions")
	}

	var result types.SignaturesResult
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, errors.Wrap(err, "failed to sign transactions: malformed response")
	}
	signatures := make([][]byte, 0, len(result.Signatures))
	for _, s := range result.Signatures {
		sig, err := decodeSignature(s, "failed to sign transactions")
		if err != nil {
			return nil, err
		}
		signatures = append(signatures, sig)
	}
	return signatures, nil
}

func (a *DelegatedAdapter) SignAndSendTransaction(ctx context.Context, transaction []byte, opts *types.SendOptions) (string, error) {
	if !a.Connected() {
		return "", types.ErrNotConnected
	}

	params := map[string]interface{}{
		"transaction": base58.Encode(transaction),
	}
	if opts != nil {
		params["options"] = opts
	}
	res, err := a.call(ctx, types.MethodSignAndSendTransaction, params)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign and send transaction")
	}

	var result types.SignatureResult
	if err := json.Unmarshal(res, &result); err != nil {
		return "", errors.Wrap(err, "failed to sign and send transaction: malformed response")
	}
	if result.Signature == "" {
		return "", errors.New("failed to sign and send transaction: empty signature")
	}
	return result.Signature, nil
}

func (a *DelegatedAdapter) SignMessage(ctx context.Context, data []byte, display types.DisplayEncoding) ([]byte, error) {
	if !a.Connected() {
		return nil, types.ErrNotConnected
	}
	if display == "" {
		display = types.DisplayHex
	}
	if err := display.Validate(); err != nil {
		return nil, err
	}

	res, err := a.call(ctx, types.MethodSignMessage, map[string]string{
		"data":    base58.Encode(data),
		"display": display.String(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign message")
	}

	// providers answer with either a bare signature or {publicKey, signature}
	var encoded string
	if err := json.Unmarshal(res, &encoded); err != nil {
		var result types.SignatureResult
		if err := json.Unmarshal(res, &result); err != nil {
			return nil, errors.Wrap(err, "failed to sign message: malformed response")
		}
		encoded = result.Signature
	}
	return decodeSignature(encoded, "failed to sign message")
}

// HandleInbound is a no-op: the provider has its own channel
func (a *DelegatedAdapter) HandleInbound(msg *types.InboundMessage) {}

func decodeSignature(s string, op string) ([]byte, error) {
	if s == "" {
		return nil, errors.Errorf("%s: empty signature", op)
	}
	sig, err := base58.Decode(s)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: invalid signature encoding", op)
	}
	return sig, nil
}
