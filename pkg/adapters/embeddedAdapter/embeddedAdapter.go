package embeddedAdapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/adapters"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/bus"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/transport"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// EmbeddedAdapter signs through the bridging surface. It only exists after a
// successful handshake, so it is always connected.
type EmbeddedAdapter struct {
	publicKey *types.PublicKey
	bus       *bus.Bus
	logger    *zap.Logger
}

var _ adapters.IAdapter = (*EmbeddedAdapter)(nil)

// NewEmbeddedAdapter binds a fresh correlation bus to the surface for publicKey
func NewEmbeddedAdapter(
	poster transport.IPoster,
	publicKey *types.PublicKey,
	busConfig *bus.Config,
	logger *zap.Logger,
) (*EmbeddedAdapter, error) {
	if poster == nil {
		return nil, fmt.Errorf("poster is required")
	}
	if publicKey == nil {
		return nil, fmt.Errorf("public key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pk := *publicKey
	return &EmbeddedAdapter{
		publicKey: &pk,
		bus:       bus.New(busConfig, poster, logger),
		logger:    logger,
	}, nil
}

func (a *EmbeddedAdapter) Kind() adapters.Kind {
	return adapters.KindEmbedded
}

func (a *EmbeddedAdapter) PublicKey() *types.PublicKey {
	pk := *a.publicKey
	return &pk
}

func (a *EmbeddedAdapter) Connected() bool {
	return true
}

// Bus exposes the adapter's correlation state
func (a *EmbeddedAdapter) Bus() *bus.Bus {
	return a.bus
}

// Connect is a no-op: the bridge already reported the connection
func (a *EmbeddedAdapter) Connect(ctx context.Context) error {
	return nil
}

// Disconnect asks the bridge to end the session and releases any request
// still waiting on this adapter
func (a *EmbeddedAdapter) Disconnect(ctx context.Context) error {
	defer a.bus.Close()
	if _, err := a.bus.Send(ctx, types.MethodDisconnect, nil); err != nil {
		return errors.Wrap(err, "failed to disconnect")
	}
	return nil
}

// Abandon detaches the adapter after an account swap. Requests in flight
// are never settled.
func (a *EmbeddedAdapter) Abandon() {
	a.bus.Abandon()
}

func (a *EmbeddedAdapter) SignTransaction(ctx context.Context, message []byte) ([]byte, error) {
	res, err := a.bus.Send(ctx, types.MethodSignTransaction, map[string]string{
		"message": base58.Encode(message),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	var result types.SignatureResult
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction: malformed response")
	}
	signature, err := base58.Decode(result.Signature)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction: invalid signature encoding")
	}
	return signature, nil
}

func (a *EmbeddedAdapter) SignAllTransactions(ctx context.Context, messages [][]byte) ([][]byte, error) {
	encoded := make([]string, len(messages))
	for i, m := range messages {
		encoded[i] = base58.Encode(m)
	}

	res, err := a.bus.Send(ctx, types.MethodSignAllTransactions, map[string][]string{
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
	for i, s := range result.Signatures {
		sig, err := base58.Decode(s)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to sign transactions: invalid signature encoding at index %d", i)
		}
		signatures = append(signatures, sig)
	}
	return signatures, nil
}

func (a *EmbeddedAdapter) SignAndSendTransaction(ctx context.Context, transaction []byte, opts *types.SendOptions) (string, error) {
	params := map[string]interface{}{
		"transaction": base58.Encode(transaction),
	}
	if opts != nil {
		params["options"] = opts
	}

	res, err := a.bus.Send(ctx, types.MethodSignAndSendTransaction, params)
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

func (a *EmbeddedAdapter) SignMessage(ctx context.Context, data []byte, display types.DisplayEncoding) ([]byte, error) {
	if display == "" {
		display = types.DisplayHex
	}
	if err := display.Validate(); err != nil {
		return nil, err
	}

	res, err := a.bus.Send(ctx, types.MethodSignMessage, map[string]string{
		"data":    base58.Encode(data),
		"display": display.String(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign message")
	}

	var encoded string
	if err := json.Unmarshal(res, &encoded); err != nil {
		return nil, errors.Wrap(err, "failed to sign message: malformed response")
	}
	signature, err := base58.Decode(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign message: invalid signature encoding")
	}
	return signature, nil
}

func (a *EmbeddedAdapter) HandleInbound(msg *types.InboundMessage) {
	if msg == nil || msg.Type != types.MessageTypeResponse {
		return
	}
	a.bus.Settle(msg.ID, msg.Result, msg.Error)
}
