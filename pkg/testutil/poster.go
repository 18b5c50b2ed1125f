package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// RecordingPoster records every envelope posted to it
type RecordingPoster struct {
	mu        sync.Mutex
	envelopes []*types.OutboundEnvelope
	err       error

	posted chan *types.OutboundEnvelope
}

func NewRecordingPoster() *RecordingPoster {
	return &RecordingPoster{
		posted: make(chan *types.OutboundEnvelope, 256),
	}
}

func (p *RecordingPoster) Post(ctx context.Context, env *types.OutboundEnvelope) error {
	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return err
	}
	p.envelopes = append(p.envelopes, env)
	p.mu.Unlock()

	p.posted <- env
	return nil
}

// SetError makes every following Post fail with err
func (p *RecordingPoster) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *RecordingPoster) Envelopes() []*types.OutboundEnvelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.OutboundEnvelope, len(p.envelopes))
	copy(out, p.envelopes)
	return out
}

// Next returns the next posted envelope, failing the test after timeout
func (p *RecordingPoster) Next(t *testing.T, timeout time.Duration) *types.OutboundEnvelope {
	t.Helper()
	select {
	case env := <-p.posted:
		return env
	case <-time.After(timeout):
		t.Fatalf("no envelope posted within %s", timeout)
		return nil
	}
}
