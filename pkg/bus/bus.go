package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/transport"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// Config controls a correlation bus
type Config struct {
	// OutboundChannel is the channel tag stamped on every posted envelope
	OutboundChannel string

	// RequestTimeout bounds how long Send waits for a reply. Zero waits until
	// the caller's context ends.
	RequestTimeout time.Duration

	// MaxRequestsPerSecond limits outbound requests. Zero disables the limit.
	MaxRequestsPerSecond float64
	// Burst is the limiter bucket size, defaults to 1 when a limit is set
	Burst int
}

// DefaultConfig returns a config posting on the standard outbound channel
// with no timeout and no rate limit
func DefaultConfig() *Config {
	return &Config{
		OutboundChannel: types.ChannelToBridge,
	}
}

// Pending is a request awaiting its correlated reply
type Pending struct {
	id   string
	done chan struct{}
	once sync.Once

	result json.RawMessage
	err    error
}

func newPending(id string) *Pending {
	return &Pending{
		id:   id,
		done: make(chan struct{}),
	}
}

func (p *Pending) ID() string {
	return p.id
}

// Done is closed once the request is settled
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the settled value. Only valid after Done is closed.
func (p *Pending) Result() (json.RawMessage, error) {
	return p.result, p.err
}

// Wait blocks until the request settles or ctx ends. Any number of callers
// may wait on the same Pending.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pending) settle(result json.RawMessage, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}

// Bus correlates outbound requests with inbound responses by id
type Bus struct {
	config  *Config
	logger  *zap.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	poster  transport.IPoster
	pending map[string]*Pending
	closed  bool
}

// New creates a bus posting through poster. A nil poster makes every Send
// fail with ErrNotConnected.
func New(cfg *Config, poster transport.IPoster, logger *zap.Logger) *Bus {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.OutboundChannel == "" {
		cfg.OutboundChannel = types.ChannelToBridge
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bus{
		config:  cfg,
		logger:  logger,
		poster:  poster,
		pending: make(map[string]*Pending),
	}
	if cfg.MaxRequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), burst)
	}
	return b
}

// Send posts {id, method, params} and waits for the reply with the same id
func (b *Bus) Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	b.mu.Lock()
	poster := b.poster
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return nil, types.ErrBusClosed
	}
	if poster == nil {
		return nil, types.ErrNotConnected
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limited %s request: %w", method, err)
		}
	}

	id := uuid.New().String()
	p, err := b.register(id)
	if err != nil {
		return nil, err
	}

	env := &types.OutboundEnvelope{
		Channel: b.config.OutboundChannel,
		Data: &types.Request{
			ID:     id,
			Method: method,
			Params: params,
		},
	}
	if err := poster.Post(ctx, env); err != nil {
		b.remove(p)
		return nil, fmt.Errorf("failed to post %s request: %w", method, err)
	}
	b.logger.Sugar().Debugw("Posted request", "id", id, "method", method)

	waitCtx := ctx
	if b.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, b.config.RequestTimeout)
		defer cancel()
	}

	select {
	case <-p.done:
		return p.Result()
	case <-waitCtx.Done():
	}

	b.remove(p)
	// a reply may have won the race with the deadline
	select {
	case <-p.done:
		return p.Result()
	default:
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	b.logger.Sugar().Warnw("Request timed out", "id", id, "method", method, "timeout", b.config.RequestTimeout)
	return nil, fmt.Errorf("%s request %s: %w", method, id, types.ErrRequestTimeout)
}

// Expect arms a reserved id, such as the handshake, that is settled without
// a prior outbound request
func (b *Bus) Expect(id string) (*Pending, error) {
	return b.register(id)
}

func (b *Bus) register(id string) (*Pending, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, types.ErrBusClosed
	}
	if _, exists := b.pending[id]; exists {
		return nil, fmt.Errorf("%s: %w", id, types.ErrDuplicateRequest)
	}
	p := newPending(id)
	b.pending[id] = p
	return p, nil
}

// remove drops p if it is still the live entry for its id
func (b *Bus) remove(p *Pending) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.pending[p.id]; ok && current == p {
		delete(b.pending, p.id)
	}
}

func (b *Bus) take(id string) *Pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	return p
}

// Settle resolves or rejects the request with the given id. Unknown ids,
// including duplicate and late replies, are ignored and report false.
func (b *Bus) Settle(id string, result json.RawMessage, rpcErr json.RawMessage) bool {
	p := b.take(id)
	if p == nil {
		b.logger.Sugar().Debugw("Ignoring reply for unknown request", "id", id)
		return false
	}
	if types.HasRPCError(rpcErr) {
		p.settle(nil, types.NewRPCError(rpcErr))
	} else {
		p.settle(result, nil)
	}
	return true
}

// Reject settles the request with a local error
func (b *Bus) Reject(id string, err error) bool {
	p := b.take(id)
	if p == nil {
		return false
	}
	p.settle(nil, err)
	return true
}

// Pending returns the number of outstanding requests
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Abandon detaches the bus from its transport. Outstanding requests stay
// registered and are never settled; new sends fail with ErrNotConnected.
func (b *Bus) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.pending); n > 0 {
		b.logger.Sugar().Warnw("Abandoning bus with outstanding requests", "pending", n)
	}
	b.poster = nil
}

// Close rejects every outstanding request with ErrBusClosed. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.poster = nil
	pending := b.pending
	b.pending = make(map[string]*Pending)
	b.mu.Unlock()

	for _, p := range pending {
		p.settle(nil, types.ErrBusClosed)
	}
}
