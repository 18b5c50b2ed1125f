package delegatedAdapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// IProvider is the lifecycle every delegated provider must expose
type IProvider interface {
	// Connect opens the provider's own surface and returns the approved key
	Connect(ctx context.Context) (*types.PublicKey, error)
	Disconnect(ctx context.Context) error

	// SurfaceOpen reports whether the provider's UI is still available
	SurfaceOpen() bool
}

// IRequester is the primary call shape
type IRequester interface {
	Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// ILegacySender is the fallback call shape used by older providers
type ILegacySender interface {
	SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

type callFunc func(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

// resolveCall picks Request, then SendRequest. A provider with neither is
// unsupported.
func resolveCall(provider interface{}) (callFunc, error) {
	if r, ok := provider.(IRequester); ok {
		return r.Request, nil
	}
	if s, ok := provider.(ILegacySender); ok {
		return s.SendRequest, nil
	}
	return nil, fmt.Errorf("provider %T has no Request or SendRequest method: %w", provider, types.ErrUnsupportedAdapter)
}
