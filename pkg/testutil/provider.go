package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// ProviderCall records one request made to a fake provider
type ProviderCall struct {
	Method string
	Params json.RawMessage
}

// ProviderHandler answers a provider request
type ProviderHandler func(method string, params json.RawMessage) (json.RawMessage, error)

// BaseProvider implements the delegated provider lifecycle. Embed it to pick
// a call shape.
type BaseProvider struct {
	mu          sync.Mutex
	publicKey   *types.PublicKey
	open        bool
	connectErr  error
	connectGate chan struct{}
	ignoreCtx   bool
	connects    int
	handler     ProviderHandler
	calls       []ProviderCall
	disconnects int
}

func newBaseProvider(pk *types.PublicKey) *BaseProvider {
	return &BaseProvider{publicKey: pk, open: true}
}

func (p *BaseProvider) Connect(ctx context.Context) (*types.PublicKey, error) {
	p.mu.Lock()
	p.connects++
	gate := p.connectGate
	ignoreCtx := p.ignoreCtx
	p.mu.Unlock()

	switch {
	case gate == nil:
	case ignoreCtx:
		<-gate
	default:
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	pk := *p.publicKey
	return &pk, nil
}

func (p *BaseProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects++
	return nil
}

func (p *BaseProvider) SurfaceOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// CloseSurface simulates the user closing the provider's window
func (p *BaseProvider) CloseSurface() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
}

// SetConnectError makes Connect fail
func (p *BaseProvider) SetConnectError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectErr = err
}

// HoldConnect blocks Connect until the returned func is called
func (p *BaseProvider) HoldConnect() func() {
	gate := make(chan struct{})
	p.mu.Lock()
	p.connectGate = gate
	p.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// HoldConnectPastCancel is HoldConnect for a provider that keeps waiting for
// approval after the caller's context ends
func (p *BaseProvider) HoldConnectPastCancel() func() {
	release := p.HoldConnect()
	p.mu.Lock()
	p.ignoreCtx = true
	p.mu.Unlock()
	return release
}

// ConnectCalls returns how many times Connect was entered
func (p *BaseProvider) ConnectCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

// SetHandler installs the function answering requests
func (p *BaseProvider) SetHandler(h ProviderHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

func (p *BaseProvider) Calls() []ProviderCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProviderCall, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *BaseProvider) Disconnects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnects
}

func (p *BaseProvider) handle(method string, params interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.calls = append(p.calls, ProviderCall{Method: method, Params: raw})
	h := p.handler
	p.mu.Unlock()

	if h == nil {
		return nil, fmt.Errorf("no handler for %s", method)
	}
	return h(method, raw)
}

// FakeProvider exposes the primary Request call shape
type FakeProvider struct {
	*BaseProvider
}

func NewFakeProvider(pk *types.PublicKey) *FakeProvider {
	return &FakeProvider{BaseProvider: newBaseProvider(pk)}
}

func (p *FakeProvider) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return p.handle(method, params)
}

// FakeLegacyProvider exposes only the fallback SendRequest call shape
type FakeLegacyProvider struct {
	*BaseProvider
}

func NewFakeLegacyProvider(pk *types.PublicKey) *FakeLegacyProvider {
	return &FakeLegacyProvider{BaseProvider: newBaseProvider(pk)}
}

func (p *FakeLegacyProvider) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return p.handle(method, params)
}

// FakeBareProvider has a lifecycle but no call shape at all
type FakeBareProvider struct {
	*BaseProvider
}

func NewFakeBareProvider(pk *types.PublicKey) *FakeBareProvider {
	return &FakeBareProvider{BaseProvider: newBaseProvider(pk)}
}
