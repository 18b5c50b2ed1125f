package adapters

import (
	"context"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// Kind tags the signing transport an adapter uses
type Kind string

func (k Kind) String() string {
	return string(k)
}

const (
	// KindEmbedded signs through the bridging surface itself
	KindEmbedded Kind = "embedded"
	// KindDelegated signs through a third party provider the bridge points at
	KindDelegated Kind = "native_web"
)

// IAdapter is the capability set every signing transport provides
type IAdapter interface {
	Kind() Kind

	// PublicKey returns nil until the adapter is connected
	PublicKey() *types.PublicKey
	Connected() bool

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	SignTransaction(ctx context.Context, message []byte) ([]byte, error)
	SignAllTransactions(ctx context.Context, messages [][]byte) ([][]byte, error)
	SignAndSendTransaction(ctx context.Context, transaction []byte, opts *types.SendOptions) (string, error)
	SignMessage(ctx context.Context, data []byte, display types.DisplayEncoding) ([]byte, error)

	// HandleInbound receives response messages routed by the dispatcher
	HandleInbound(msg *types.InboundMessage)
}

// Callbacks lets an adapter report lifecycle changes it detects on its own
type Callbacks struct {
	OnConnect    func(pk *types.PublicKey)
	OnDisconnect func()
}
