package types

import "encoding/json"

// Channel tags carried on every envelope crossing the bridge
const (
	ChannelToBridge   = "walletAdapterToBridge"
	ChannelFromBridge = "bridgeToWalletAdapter"
)

// HandshakeID is the reserved correlation id of the connect handshake. The
// first reply has no request to correlate against, so it is armed by name.
const HandshakeID = "connect"

// RPC methods understood by the bridge
const (
	MethodDisconnect             = "disconnect"
	MethodSignTransaction        = "signTransaction"
	MethodSignAllTransactions    = "signAllTransactions"
	MethodSignAndSendTransaction = "signAndSendTransaction"
	MethodSignMessage            = "signMessage"
)

// MessageType discriminates inbound messages
type MessageType string

const (
	MessageTypeResponse MessageType = "response"
	MessageTypeEvent    MessageType = "event"
	MessageTypeResize   MessageType = "resize"
)

// EventType names an inbound bridge event
type EventType string

const (
	EventConnect          EventType = "connect"
	EventConnectNativeWeb EventType = "connect_native_web"
	EventDisconnect       EventType = "disconnect"
	EventAccountChanged   EventType = "accountChanged"
	// EventCollapse is only sent by older bridge builds
	EventCollapse EventType = "collapse"
)

// ResizeMode selects how the surface should be laid out
type ResizeMode string

const (
	ResizeModeFull        ResizeMode = "full"
	ResizeModeCoordinates ResizeMode = "coordinates"
)

// Request is the body of an outbound envelope
type Request struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// OutboundEnvelope wraps every request posted to the bridge
type OutboundEnvelope struct {
	Channel string   `json:"channel"`
	Data    *Request `json:"data"`
}

// Event is a bridge initiated notification
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InboundMessage is one of response, event or resize, selected by Type
type InboundMessage struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"`

	// response
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`

	// event
	Event *Event `json:"event,omitempty"`

	// resize
	ResizeMode ResizeMode      `json:"resizeMode,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// InboundEnvelope wraps every message received from the bridge
type InboundEnvelope struct {
	Channel string          `json:"channel"`
	Data    *InboundMessage `json:"data"`
}

// HandshakeEventData is carried by connect, connect_native_web and accountChanged
type HandshakeEventData struct {
	PublicKey string `json:"publicKey,omitempty"`
	Adapter   string `json:"adapter,omitempty"`
	Provider  string `json:"provider,omitempty"`
}

// ParseHandshakeEventData decodes event data, tolerating an absent payload
func ParseHandshakeEventData(raw json.RawMessage) (*HandshakeEventData, error) {
	data := &HandshakeEventData{}
	if len(raw) == 0 || string(raw) == "null" {
		return data, nil
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, err
	}
	return data, nil
}

// SignatureResult is returned for signTransaction and signAndSendTransaction
type SignatureResult struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// SignaturesResult is returned for signAllTransactions
type SignaturesResult struct {
	PublicKey  string   `json:"publicKey"`
	Signatures []string `json:"signatures"`
}

// IsEmptyField reports whether an optional JSON field carries no value
func IsEmptyField(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
