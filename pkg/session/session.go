package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/adapters"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/adapters/delegatedAdapter"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/adapters/embeddedAdapter"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/bus"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/dispatcher"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/events"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/persistence"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/transport"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// releaseTimeout bounds the provider disconnect issued when the bridge tears
// a delegated session down
const releaseTimeout = 5 * time.Second

// Session owns one connection to the wallet bridge. It drives the handshake,
// keeps the active adapter and exposes the signing operations.
//
// Every attach starts a new generation. Frames, surface closures and adapter
// callbacks carry the generation they were created for and are ignored once
// it is stale.
type Session struct {
	config    *Config
	surface   transport.ISurface
	layout    transport.ILayout
	prefs     persistence.IPreferenceStore
	providers ProviderFactory
	notifier  *events.Registry
	handshake *bus.Bus
	logger    *zap.Logger

	mu          sync.Mutex
	state       State
	adapter     adapters.IAdapter
	poster      transport.IPoster
	attempt     *bus.Pending
	generation  uint64
	stopConnect context.CancelFunc

	// notifications queued in state order, delivered by flushNotifications
	outbox   []events.Notification
	draining bool
}

// New creates a disconnected session. prefs may be nil, in which case the
// preferred adapter is only remembered for the lifetime of the process.
// providers may be nil if delegated providers are not supported.
func New(
	cfg *Config,
	surface transport.ISurface,
	prefs persistence.IPreferenceStore,
	providers ProviderFactory,
	logger *zap.Logger,
) (*Session, error) {
	if surface == nil {
		return nil, fmt.Errorf("surface is required")
	}
	config, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if prefs == nil {
		prefs = memory.NewMemoryPersistence()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		config:    config,
		surface:   surface,
		prefs:     prefs,
		providers: providers,
		notifier:  events.NewRegistry(),
		handshake: bus.New(&bus.Config{OutboundChannel: config.Bus.OutboundChannel}, nil, logger),
		logger:    logger,
		state:     StateDisconnected,
	}
	if layout, ok := surface.(transport.ILayout); ok {
		s.layout = layout
	}
	return s, nil
}

// State returns the current connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Adapter returns the active adapter, or nil
func (s *Session) Adapter() adapters.IAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter
}

// PublicKey is non-nil iff an adapter exists and reports connected
func (s *Session) PublicKey() *types.PublicKey {
	adapter := s.Adapter()
	if adapter == nil || !adapter.Connected() {
		return nil
	}
	return adapter.PublicKey()
}

func (s *Session) Connected() bool {
	adapter := s.Adapter()
	return adapter != nil && adapter.Connected()
}

// Subscribe registers h for a lifecycle notification and returns a func
// that removes it
func (s *Session) Subscribe(kind events.Kind, h events.Handler) func() {
	return s.notifier.Subscribe(kind, h)
}

// Connect attaches the bridging surface and waits for the handshake.
// Calls made while a handshake is in flight join it. If ctx ends first the
// attempt is abandoned for every caller and the surface is detached.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		attempt := s.attempt
		s.mu.Unlock()
		s.logger.Sugar().Debugw("Joining connect attempt in flight")
		return s.await(ctx, attempt)
	}

	attempt, err := s.handshake.Expect(types.HandshakeID)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to arm handshake: %w", err)
	}
	s.generation++
	gen := s.generation
	s.state = StateConnecting
	s.attempt = attempt
	s.mu.Unlock()

	r := &router{session: s, generation: gen}
	d := dispatcher.NewDispatcher(types.ChannelFromBridge, r, r, r, s.logger)

	opts := &transport.AttachOptions{
		Network:          s.config.Network,
		Origin:           s.config.Origin,
		PreferredAdapter: s.loadPreference(),
		OnFrame: func(frame []byte) {
			d.Dispatch(frame)
		},
		OnClose: func(err error) {
			s.handleRemoteDisconnect(gen, fmt.Errorf("%w: bridge surface closed: %v", types.ErrConnectRejected, err))
		},
	}

	s.logger.Sugar().Infow("Attaching bridge surface",
		"network", opts.Network,
		"origin", opts.Origin,
		"preferred_adapter", opts.PreferredAdapter,
	)
	poster, err := s.surface.Attach(ctx, opts)
	if err != nil {
		err = fmt.Errorf("failed to attach bridge surface: %w", err)
		s.failAttempt(gen, err)
		return err
	}

	s.mu.Lock()
	if s.generation == gen {
		s.poster = poster
	}
	s.mu.Unlock()

	return s.await(ctx, attempt)
}

func (s *Session) await(ctx context.Context, attempt *bus.Pending) error {
	_, err := attempt.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		s.abandonAttempt(attempt, err)
	}
	return err
}

func (s *Session) abandonAttempt(attempt *bus.Pending, cause error) {
	s.mu.Lock()
	if s.state != StateConnecting || s.attempt != attempt {
		s.mu.Unlock()
		return
	}
	release := s.failLocked(fmt.Errorf("connect abandoned: %w", cause))
	s.mu.Unlock()

	s.logger.Sugar().Infow("Connect abandoned by caller", "error", cause)
	release()
}

func (s *Session) failAttempt(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.generation || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	release := s.failLocked(err)
	s.mu.Unlock()

	s.logger.Sugar().Warnw("Connect failed", "error", err)
	release()
}

// failLocked rejects the in-flight handshake and resets the session. The
// returned func releases the transport and must run without the lock.
func (s *Session) failLocked(err error) func() {
	s.handshake.Reject(types.HandshakeID, err)
	adapter := s.resetLocked()
	return func() {
		s.release(adapter)
	}
}

func (s *Session) resetLocked() adapters.IAdapter {
	adapter := s.adapter
	s.adapter = nil
	s.poster = nil
	s.attempt = nil
	s.state = StateDisconnected
	s.generation++
	if s.stopConnect != nil {
		s.stopConnect()
		s.stopConnect = nil
	}
	return adapter
}

// release detaches the surface, frees adapter and forgets the preference
func (s *Session) release(adapter adapters.IAdapter) {
	if err := s.surface.Detach(); err != nil {
		s.logger.Sugar().Warnw("Failed to detach bridge surface", "error", err)
	}
	s.releaseAdapter(adapter)
	s.clearPreference()
}

func (s *Session) releaseAdapter(adapter adapters.IAdapter) {
	switch a := adapter.(type) {
	case nil:
	case *embeddedAdapter.EmbeddedAdapter:
		a.Bus().Close()
	case *delegatedAdapter.DelegatedAdapter:
		// also stops an adapter whose provider is still connecting
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := a.Disconnect(ctx); err != nil && !errors.Is(err, types.ErrNotConnected) {
			s.logger.Sugar().Warnw("Failed to disconnect delegated provider", "error", err)
		}
	}
}

// notifyLocked queues n for delivery. Callers hold the lock so the queue
// follows the order of state transitions.
func (s *Session) notifyLocked(n events.Notification) {
	s.outbox = append(s.outbox, n)
}

// flushNotifications delivers queued notifications without the lock held.
// A flush that finds another one in progress leaves its notifications to it,
// which keeps delivery in order when handlers call back into the session.
func (s *Session) flushNotifications() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.outbox) > 0 {
		n := s.outbox[0]
		s.outbox = s.outbox[1:]
		s.mu.Unlock()
		s.notifier.Emit(n)
		s.mu.Lock()
	}
	s.outbox = nil
	s.draining = false
	s.mu.Unlock()
}

// Disconnect asks the active adapter to end the session and tears the
// session down whether or not the far end acknowledged it
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	adapter := s.adapter
	gen := s.generation
	s.mu.Unlock()

	if adapter == nil {
		return types.ErrNotConnected
	}

	farErr := adapter.Disconnect(ctx)
	if errors.Is(farErr, types.ErrNotConnected) {
		farErr = nil
	}

	s.mu.Lock()
	if gen != s.generation {
		// the bridge ended the session while we were asking it to
		s.mu.Unlock()
		return nil
	}
	wasConnected := s.state == StateConnected
	if wasConnected {
		s.notifyLocked(events.Notification{Kind: events.Disconnect})
	} else {
		s.handshake.Reject(types.HandshakeID, types.ErrConnectRejected)
	}
	s.resetLocked()
	s.mu.Unlock()

	if err := s.surface.Detach(); err != nil {
		s.logger.Sugar().Warnw("Failed to detach bridge surface", "error", err)
	}
	s.clearPreference()

	s.logger.Sugar().Infow("Wallet disconnected", "adapter", adapter.Kind(), "error", farErr)
	s.flushNotifications()
	return farErr
}

func (s *Session) active() (adapters.IAdapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.adapter == nil {
		return nil, types.ErrNotConnected
	}
	return s.adapter, nil
}

// SignTransaction returns the wallet's signature over a serialized transaction
func (s *Session) SignTransaction(ctx context.Context, message []byte) ([]byte, error) {
	adapter, err := s.active()
	if err != nil {
		return nil, err
	}
	return adapter.SignTransaction(ctx, message)
}

// SignAllTransactions returns one signature per message, in order
func (s *Session) SignAllTransactions(ctx context.Context, messages [][]byte) ([][]byte, error) {
	adapter, err := s.active()
	if err != nil {
		return nil, err
	}
	signatures, err := adapter.SignAllTransactions(ctx, messages)
	if err != nil {
		return nil, err
	}
	if len(signatures) != len(messages) {
		return nil, fmt.Errorf("requested %d signatures, wallet returned %d: %w",
			len(messages), len(signatures), types.ErrCountMismatch)
	}
	return signatures, nil
}

// SignAndSendTransaction has the wallet sign and submit the transaction and
// returns the transaction signature reported by the wallet
func (s *Session) SignAndSendTransaction(ctx context.Context, transaction []byte, opts *types.SendOptions) (string, error) {
	adapter, err := s.active()
	if err != nil {
		return "", err
	}
	return adapter.SignAndSendTransaction(ctx, transaction, opts)
}

// SignMessage signs arbitrary bytes. display defaults to hex.
func (s *Session) SignMessage(ctx context.Context, data []byte, display types.DisplayEncoding) ([]byte, error) {
	adapter, err := s.active()
	if err != nil {
		return nil, err
	}
	return adapter.SignMessage(ctx, data, display)
}

// posterFor returns the poster given to adapters created in generation gen.
// It stops posting once the generation is stale.
func (s *Session) posterFor(gen uint64) transport.IPoster {
	return transport.PosterFunc(func(ctx context.Context, env *types.OutboundEnvelope) error {
		s.mu.Lock()
		poster := s.poster
		current := gen == s.generation
		s.mu.Unlock()

		if !current || poster == nil {
			return types.ErrNotConnected
		}
		return poster.Post(ctx, env)
	})
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

// router binds inbound traffic to the generation of the attach that produced it
type router struct {
	session    *Session
	generation uint64
}

func (r *router) RouteResponse(msg *types.InboundMessage) {
	r.session.routeResponse(r.generation, msg)
}

func (r *router) RouteEvent(evt *types.Event) {
	r.session.routeEvent(r.generation, evt)
}

func (r *router) RouteResize(mode types.ResizeMode, params json.RawMessage) {
	if r.session.layout == nil || !r.session.current(r.generation) {
		return
	}
	r.session.layout.Resize(mode, params)
}

func (s *Session) routeResponse(gen uint64, msg *types.InboundMessage) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Sugar().Debugw("Dropping stale response", "id", msg.ID)
		return
	}
	if s.state == StateConnecting && msg.ID == types.HandshakeID {
		s.settleHandshakeLocked(msg)
		return
	}
	adapter := s.adapter
	s.mu.Unlock()

	if adapter == nil {
		s.logger.Sugar().Debugw("Dropping response with no adapter", "id", msg.ID)
		return
	}
	adapter.HandleInbound(msg)
}

// settleHandshakeLocked handles a reply to the handshake id. An error rejects
// the connect attempt and tears the transport down. Only a connect event
// completes the handshake, so a reply without an error is ignored.
// Unlocks s.mu.
func (s *Session) settleHandshakeLocked(msg *types.InboundMessage) {
	if !types.HasRPCError(msg.Error) {
		s.mu.Unlock()
		s.logger.Sugar().Debugw("Ignoring handshake reply without error", "id", msg.ID)
		return
	}

	rpcErr := types.NewRPCError(msg.Error)
	release := s.failLocked(rpcErr)
	s.mu.Unlock()

	s.logger.Sugar().Infow("Connect rejected by bridge", "error", rpcErr)
	release()
}

func (s *Session) routeEvent(gen uint64, evt *types.Event) {
	s.logger.Sugar().Debugw("Received bridge event", "type", evt.Type)

	switch evt.Type {
	case types.EventConnect:
		s.handleConnect(gen, evt.Data)
	case types.EventConnectNativeWeb:
		s.handleConnectNativeWeb(gen, evt.Data)
	case types.EventDisconnect:
		s.handleRemoteDisconnect(gen, types.ErrConnectRejected)
	case types.EventAccountChanged:
		s.handleAccountChanged(gen, evt.Data)
	case types.EventCollapse:
		if s.layout != nil && s.current(gen) {
			s.layout.Collapse()
		}
	default:
		s.logger.Sugar().Debugw("Ignoring unknown bridge event", "type", evt.Type)
	}
}

func (s *Session) handleConnect(gen uint64, raw json.RawMessage) {
	data, err := types.ParseHandshakeEventData(raw)
	var pk *types.PublicKey
	if err == nil {
		pk, err = types.ParsePublicKey(data.PublicKey)
	}

	s.mu.Lock()
	if gen != s.generation || s.state != StateConnecting {
		state := s.state
		s.mu.Unlock()
		s.logger.Sugar().Debugw("Ignoring connect event outside of a handshake", "state", state)
		return
	}

	var adapter *embeddedAdapter.EmbeddedAdapter
	if err == nil {
		adapter, err = embeddedAdapter.NewEmbeddedAdapter(s.posterFor(gen), pk, s.config.busConfig(), s.logger)
	}
	if err != nil {
		release := s.failLocked(fmt.Errorf("invalid connect event: %w", err))
		s.mu.Unlock()
		s.logger.Sugar().Warnw("Rejecting handshake", "error", err)
		release()
		return
	}

	// a delegated adapter may still be connecting if the bridge changed its mind
	previous := s.adapter
	s.adapter = adapter
	s.state = StateConnected
	s.attempt = nil
	if s.stopConnect != nil {
		s.stopConnect()
		s.stopConnect = nil
	}
	s.handshake.Settle(types.HandshakeID, nil, nil)
	s.notifyLocked(events.Notification{Kind: events.Connect, PublicKey: adapter.PublicKey()})
	s.mu.Unlock()

	s.releaseAdapter(previous)
	s.savePreference(data.Adapter)
	s.collapse()

	s.logger.Sugar().Infow("Wallet connected",
		"public_key", pk.String(),
		"adapter", adapter.Kind(),
		"bridge_adapter", data.Adapter,
	)
	s.flushNotifications()
}

func (s *Session) collapse() {
	if s.layout != nil {
		s.layout.Collapse()
	}
}

func (s *Session) handleConnectNativeWeb(gen uint64, raw json.RawMessage) {
	data, err := types.ParseHandshakeEventData(raw)

	s.mu.Lock()
	if gen != s.generation || s.state != StateConnecting {
		state := s.state
		s.mu.Unlock()
		s.logger.Sugar().Debugw("Ignoring connect_native_web event outside of a handshake", "state", state)
		return
	}

	var adapter *delegatedAdapter.DelegatedAdapter
	if err == nil {
		adapter, err = s.newDelegatedAdapter(gen, data.Provider)
	}
	if err != nil {
		release := s.failLocked(fmt.Errorf("failed to set up delegated adapter: %w", err))
		s.mu.Unlock()
		s.logger.Sugar().Warnw("Rejecting handshake", "error", err)
		release()
		return
	}

	previous := s.adapter
	s.adapter = adapter
	if s.stopConnect != nil {
		s.stopConnect()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopConnect = cancel
	s.mu.Unlock()

	s.releaseAdapter(previous)
	s.savePreference(adapters.KindDelegated.String())
	// the provider brings its own surface
	s.collapse()

	s.logger.Sugar().Infow("Connecting delegated provider", "provider", data.Provider)
	go func() {
		if err := adapter.Connect(ctx); err != nil {
			s.failDelegated(gen, adapter, fmt.Errorf("failed to connect delegated provider: %w", err))
		}
	}()
}

// newDelegatedAdapter must be called with the lock held
func (s *Session) newDelegatedAdapter(gen uint64, name string) (*delegatedAdapter.DelegatedAdapter, error) {
	if s.providers == nil {
		return nil, fmt.Errorf("no provider factory for %q: %w", name, types.ErrUnsupportedAdapter)
	}
	provider, err := s.providers(name)
	if err != nil {
		return nil, err
	}

	var adapter *delegatedAdapter.DelegatedAdapter
	callbacks := &adapters.Callbacks{
		OnConnect: func(pk *types.PublicKey) {
			s.completeDelegated(gen, adapter, pk)
		},
		OnDisconnect: func() {
			s.handleAdapterDisconnect(gen, adapter)
		},
	}
	adapter, err = delegatedAdapter.NewDelegatedAdapter(provider, &delegatedAdapter.Config{
		PollInterval: s.config.PollInterval,
	}, callbacks, s.logger)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

func (s *Session) completeDelegated(gen uint64, adapter *delegatedAdapter.DelegatedAdapter, pk *types.PublicKey) {
	s.mu.Lock()
	if gen != s.generation || s.state != StateConnecting || s.adapter != adapters.IAdapter(adapter) {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.attempt = nil
	s.stopConnect = nil
	s.handshake.Settle(types.HandshakeID, nil, nil)
	s.notifyLocked(events.Notification{Kind: events.Connect, PublicKey: pk})
	s.mu.Unlock()

	s.logger.Sugar().Infow("Wallet connected", "public_key", pk.String(), "adapter", adapter.Kind())
	s.flushNotifications()
}

func (s *Session) failDelegated(gen uint64, adapter *delegatedAdapter.DelegatedAdapter, err error) {
	s.mu.Lock()
	if gen != s.generation || s.state != StateConnecting || s.adapter != adapters.IAdapter(adapter) {
		s.mu.Unlock()
		return
	}
	release := s.failLocked(err)
	s.mu.Unlock()

	s.logger.Sugar().Warnw("Connect failed", "error", err)
	release()
}

func (s *Session) handleAdapterDisconnect(gen uint64, adapter *delegatedAdapter.DelegatedAdapter) {
	s.mu.Lock()
	stale := s.adapter != adapters.IAdapter(adapter)
	s.mu.Unlock()
	if stale {
		return
	}
	s.handleRemoteDisconnect(gen, fmt.Errorf("%w: provider surface closed", types.ErrConnectRejected))
}

// handleRemoteDisconnect ends the session from the far side. A handshake in
// flight is rejected with cause and no notification is emitted.
func (s *Session) handleRemoteDisconnect(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}

	switch s.state {
	case StateConnecting:
		release := s.failLocked(cause)
		s.mu.Unlock()
		s.logger.Sugar().Infow("Connect rejected by bridge", "error", cause)
		release()
	case StateConnected:
		adapter := s.resetLocked()
		s.notifyLocked(events.Notification{Kind: events.Disconnect})
		s.mu.Unlock()
		s.release(adapter)
		s.logger.Sugar().Infow("Wallet disconnected by bridge", "reason", cause)
		s.flushNotifications()
	default:
		s.mu.Unlock()
	}
}

func (s *Session) handleAccountChanged(gen uint64, raw json.RawMessage) {
	data, err := types.ParseHandshakeEventData(raw)
	if err != nil {
		s.logger.Sugar().Warnw("Ignoring malformed accountChanged event", "error", err)
		return
	}

	s.mu.Lock()
	if gen != s.generation || s.state != StateConnected {
		s.mu.Unlock()
		return
	}

	if data.PublicKey == "" {
		policy := s.config.AccountChangePolicy
		s.notifyLocked(events.Notification{Kind: events.AccountChanged})
		s.mu.Unlock()

		s.logger.Sugar().Infow("Wallet account deselected", "policy", policy)
		s.flushNotifications()
		if policy == AccountChangeDisconnect {
			s.handleRemoteDisconnect(gen, errors.New("wallet account deselected"))
		}
		return
	}

	pk, err := types.ParsePublicKey(data.PublicKey)
	if err != nil {
		s.mu.Unlock()
		s.logger.Sugar().Warnw("Ignoring accountChanged event with invalid key", "error", err)
		return
	}
	adapter, err := embeddedAdapter.NewEmbeddedAdapter(s.posterFor(gen), pk, s.config.busConfig(), s.logger)
	if err != nil {
		s.mu.Unlock()
		s.logger.Sugar().Errorw("Failed to bind adapter to new account", "error", err)
		return
	}
	previous := s.adapter
	s.adapter = adapter
	s.notifyLocked(events.Notification{Kind: events.AccountChanged, PublicKey: adapter.PublicKey()})
	s.mu.Unlock()

	// requests still waiting on the previous adapter are never settled
	if old, ok := previous.(*embeddedAdapter.EmbeddedAdapter); ok {
		old.Abandon()
	} else {
		s.releaseAdapter(previous)
	}

	s.logger.Sugar().Infow("Wallet account changed", "public_key", pk.String())
	s.flushNotifications()
}

func (s *Session) loadPreference() string {
	record, err := s.prefs.LoadPreference()
	if err != nil {
		s.logger.Sugar().Warnw("Failed to load preferred adapter", "error", err)
		return ""
	}
	if record == nil {
		return ""
	}
	return record.Adapter
}

func (s *Session) savePreference(adapter string) {
	if adapter == "" {
		return
	}
	if err := s.prefs.SavePreference(persistence.NewPreferenceRecord(adapter, s.config.Network)); err != nil {
		s.logger.Sugar().Warnw("Failed to save preferred adapter", "adapter", adapter, "error", err)
	}
}

func (s *Session) clearPreference() {
	if err := s.prefs.ClearPreference(); err != nil {
		s.logger.Sugar().Warnw("Failed to clear preferred adapter", "error", err)
	}
}
