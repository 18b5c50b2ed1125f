package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by any signing or disconnect call made without a session
	ErrNotConnected = errors.New("wallet not connected")

	// ErrTransportRejected matches every error returned by the far end of the bridge
	ErrTransportRejected = errors.New("request rejected by wallet")

	// ErrUnsupportedAdapter is returned when a delegated provider exposes no known call shape
	ErrUnsupportedAdapter = errors.New("unsupported wallet adapter")

	// ErrCountMismatch is returned when a batch response has fewer entries than were requested
	ErrCountMismatch = errors.New("signature count mismatch")

	// ErrConnectRejected is returned when the bridge ends the handshake with a disconnect
	ErrConnectRejected = errors.New("connection rejected")

	// ErrBusClosed settles requests still outstanding when their bus is closed
	ErrBusClosed = errors.New("message bus closed")

	// ErrRequestTimeout is returned when no reply arrives within the configured timeout
	ErrRequestTimeout = errors.New("request timed out")

	// ErrDuplicateRequest is returned when a reserved id is armed twice
	ErrDuplicateRequest = errors.New("request id already pending")
)

// RPCError carries the error field of a response. The field is either a bare
// string or an object with a message.
type RPCError struct {
	Code    int
	Message string
	Raw     json.RawMessage
}

// HasRPCError reports whether the error field of a response carries an error
func HasRPCError(raw json.RawMessage) bool {
	switch string(raw) {
	case "", "null", `""`, "false":
		return false
	default:
		return true
	}
}

// NewRPCError decodes the error field of a response
func NewRPCError(raw json.RawMessage) *RPCError {
	e := &RPCError{Raw: raw}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		e.Message = s
		return e
	}

	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		e.Code = obj.Code
		e.Message = obj.Message
		return e
	}

	e.Message = string(raw)
	return e
}

func (e *RPCError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return e.Message
}

// Is lets errors.Is(err, ErrTransportRejected) match any far end error
func (e *RPCError) Is(target error) bool {
	return target == ErrTransportRejected
}
