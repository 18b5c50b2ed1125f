package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/transport"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// ResizeCall records one layout request
type ResizeCall struct {
	Mode   types.ResizeMode
	Params json.RawMessage
}

// FakeSurface is an in-process bridging surface. Tests play the bridge by
// delivering frames and reading the envelopes the session posts.
type FakeSurface struct {
	mu        sync.Mutex
	poster    *RecordingPoster
	opts      *transport.AttachOptions
	attached  bool
	attachErr error
	attaches  int
	detaches  int
	resizes   []ResizeCall
	collapses int

	attachedCh chan *transport.AttachOptions
}

var (
	_ transport.ISurface = (*FakeSurface)(nil)
	_ transport.ILayout  = (*FakeSurface)(nil)
)

func NewFakeSurface() *FakeSurface {
	return &FakeSurface{
		poster:     NewRecordingPoster(),
		attachedCh: make(chan *transport.AttachOptions, 16),
	}
}

func (s *FakeSurface) Attach(ctx context.Context, opts *transport.AttachOptions) (transport.IPoster, error) {
	s.mu.Lock()
	if s.attachErr != nil {
		err := s.attachErr
		s.mu.Unlock()
		return nil, err
	}
	s.opts = opts
	s.attached = true
	s.attaches++
	s.mu.Unlock()

	s.attachedCh <- opts
	return s.poster, nil
}

func (s *FakeSurface) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		s.detaches++
	}
	s.attached = false
	return nil
}

func (s *FakeSurface) Resize(mode types.ResizeMode, params json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resizes = append(s.resizes, ResizeCall{Mode: mode, Params: params})
}

func (s *FakeSurface) Collapse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collapses++
}

// SetAttachError makes Attach fail
func (s *FakeSurface) SetAttachError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachErr = err
}

func (s *FakeSurface) Poster() *RecordingPoster {
	return s.poster
}

// WaitAttached blocks until the next Attach and returns its options
func (s *FakeSurface) WaitAttached(t *testing.T, timeout time.Duration) *transport.AttachOptions {
	t.Helper()
	select {
	case opts := <-s.attachedCh:
		return opts
	case <-time.After(timeout):
		t.Fatalf("surface not attached within %s", timeout)
		return nil
	}
}

// Deliver feeds a raw frame to the attached session. Frames delivered while
// detached are dropped, as a destroyed surface delivers nothing.
func (s *FakeSurface) Deliver(frame []byte) {
	s.mu.Lock()
	opts := s.opts
	attached := s.attached
	s.mu.Unlock()
	if !attached || opts == nil || opts.OnFrame == nil {
		return
	}
	opts.OnFrame(frame)
}

// DeliverMessage wraps msg in an envelope on the bridge channel and delivers it
func (s *FakeSurface) DeliverMessage(t *testing.T, msg *types.InboundMessage) {
	t.Helper()
	s.Deliver(InboundFrame(t, types.ChannelFromBridge, msg))
}

// DeliverEvent delivers an event from the bridge
func (s *FakeSurface) DeliverEvent(t *testing.T, eventType types.EventType, data interface{}) {
	t.Helper()
	s.DeliverMessage(t, EventMessage(t, eventType, data))
}

// Drop simulates the surface going away underneath the session
func (s *FakeSurface) Drop(err error) {
	s.mu.Lock()
	opts := s.opts
	s.attached = false
	s.mu.Unlock()
	if opts != nil && opts.OnClose != nil {
		opts.OnClose(err)
	}
}

func (s *FakeSurface) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *FakeSurface) Attaches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attaches
}

func (s *FakeSurface) Detaches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detaches
}

func (s *FakeSurface) Resizes() []ResizeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ResizeCall, len(s.resizes))
	copy(out, s.resizes)
	return out
}

func (s *FakeSurface) Collapses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collapses
}
