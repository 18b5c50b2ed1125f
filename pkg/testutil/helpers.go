package testutil

import (
	"encoding/json"
	"testing"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

// TestPublicKey returns a deterministic public key filled with seed
func TestPublicKey(seed byte) *types.PublicKey {
	var pk types.PublicKey
	for i := range pk {
		pk[i] = seed
	}
	return &pk
}

// MustMarshal marshals v or fails the test
func MustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal %T: %v", v, err)
	}
	return raw
}

// InboundFrame builds a raw inbound frame on the given channel
func InboundFrame(t *testing.T, channel string, msg *types.InboundMessage) []byte {
	t.Helper()
	raw, err := json.Marshal(&types.InboundEnvelope{Channel: channel, Data: msg})
	if err != nil {
		t.Fatalf("failed to marshal inbound envelope: %v", err)
	}
	return raw
}

// EventMessage builds an inbound event message
func EventMessage(t *testing.T, eventType types.EventType, data interface{}) *types.InboundMessage {
	t.Helper()
	evt := &types.Event{Type: eventType}
	if data != nil {
		evt.Data = MustMarshal(t, data)
	}
	return &types.InboundMessage{
		Type:  types.MessageTypeEvent,
		ID:    string(eventType),
		Event: evt,
	}
}

// ResponseMessage builds an inbound response; a non-empty errField rejects
func ResponseMessage(t *testing.T, id string, result interface{}, errField string) *types.InboundMessage {
	t.Helper()
	msg := &types.InboundMessage{Type: types.MessageTypeResponse, ID: id}
	if errField != "" {
		msg.Error = json.RawMessage(errField)
		return msg
	}
	msg.Result = MustMarshal(t, result)
	return msg
}
