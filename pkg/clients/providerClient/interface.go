package providerClient

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// IProviderClient is a delegated wallet provider reached over HTTP JSON-RPC.
// It satisfies the delegated adapter's provider lifecycle and its primary
// call shape.
type IProviderClient interface {
	// SetHttpClient allows setting a custom HTTP client, mostly for tests.
	SetHttpClient(client *http.Client)

	// Connect asks the provider to open its approval surface and returns the
	// approved account key.
	Connect(ctx context.Context) (*types.PublicKey, error)

	// Disconnect ends the provider session.
	Disconnect(ctx context.Context) error

	// SurfaceOpen reports whether the provider's approval surface is still
	// available. It is polled frequently.
	SurfaceOpen() bool

	// Request forwards a signing call to the provider.
	Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// Compile-time check to ensure Client implements IProviderClient
var _ IProviderClient = (*Client)(nil)
