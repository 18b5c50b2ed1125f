package transport

import (
	"context"
	"encoding/json"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// IPoster delivers outbound envelopes to the bridging surface
type IPoster interface {
	Post(ctx context.Context, env *types.OutboundEnvelope) error
}

// PosterFunc adapts a function to IPoster
type PosterFunc func(ctx context.Context, env *types.OutboundEnvelope) error

func (f PosterFunc) Post(ctx context.Context, env *types.OutboundEnvelope) error {
	return f(ctx, env)
}

// FrameHandler receives every raw frame read from the surface. Frames are
// delivered from a single goroutine in arrival order.
type FrameHandler func(frame []byte)

// AttachOptions describes the surface a session wants to open
type AttachOptions struct {
	// Network is the cluster the wallet should sign for
	Network string
	// Origin identifies the page or process requesting signatures
	Origin string
	// PreferredAdapter is a hint from the last successful handshake, may be empty
	PreferredAdapter string

	// OnFrame receives inbound frames until Detach is called
	OnFrame FrameHandler
	// OnClose is called once if the surface goes away without Detach
	OnClose func(err error)
}

// ISurface creates and destroys the bridging surface. Rendering is up to the
// implementation.
type ISurface interface {
	// Attach creates a postable target and starts delivering inbound frames
	Attach(ctx context.Context, opts *AttachOptions) (IPoster, error)

	// Detach destroys the target. Idempotent.
	Detach() error
}

// ILayout is implemented by surfaces that can change their layout on request
// of the bridge. It has no effect on session semantics.
type ILayout interface {
	Resize(mode types.ResizeMode, params json.RawMessage)
	Collapse()
}
