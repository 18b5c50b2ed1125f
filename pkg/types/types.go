package types

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeyLength is the size of an ed25519 wallet public key in bytes
const PublicKeyLength = 32

// PublicKey is a wallet account key as announced by the bridge
type PublicKey [PublicKeyLength]byte

// ParsePublicKey decodes a base58 encoded wallet public key
func ParsePublicKey(s string) (*PublicKey, error) {
	if s == "" {
		return nil, fmt.Errorf("public key cannot be empty")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 public key %q: %w", s, err)
	}
	if len(raw) != PublicKeyLength {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", PublicKeyLength, len(raw))
	}
	var pk PublicKey
	copy(pk[:], raw)
	return &pk, nil
}

// PublicKeyFromBytes copies raw key bytes into a PublicKey
func PublicKeyFromBytes(raw []byte) (*PublicKey, error) {
	if len(raw) != PublicKeyLength {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", PublicKeyLength, len(raw))
	}
	var pk PublicKey
	copy(pk[:], raw)
	return &pk, nil
}

func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

func (pk PublicKey) Bytes() []byte {
	return bytes.Clone(pk[:])
}

// IsEqual checks if two public keys are equal
func (pk *PublicKey) IsEqual(other *PublicKey) bool {
	if pk == nil || other == nil {
		return pk == other
	}
	return *pk == *other
}

func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePublicKey(s)
	if err != nil {
		return err
	}
	*pk = *parsed
	return nil
}

// DisplayEncoding tells the wallet how to render a message for the user
type DisplayEncoding string

const (
	DisplayHex  DisplayEncoding = "hex"
	DisplayUTF8 DisplayEncoding = "utf8"
)

func (d DisplayEncoding) String() string {
	return string(d)
}

// Validate returns an error for any encoding the wallet does not render
func (d DisplayEncoding) Validate() error {
	switch d {
	case DisplayHex, DisplayUTF8:
		return nil
	default:
		return fmt.Errorf("unsupported display encoding: %s", d)
	}
}

// SendOptions are forwarded untouched to the wallet for signAndSendTransaction
type SendOptions struct {
	SkipPreflight       bool    `json:"skipPreflight,omitempty"`
	PreflightCommitment string  `json:"preflightCommitment,omitempty"`
	MaxRetries          *uint   `json:"maxRetries,omitempty"`
	MinContextSlot      *uint64 `json:"minContextSlot,omitempty"`
}
