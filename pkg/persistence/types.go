package persistence

import (
	"fmt"
	"time"
)

// PreferenceRecord is the adapter hint remembered between sessions
type PreferenceRecord struct {
	// Adapter is the tag reported by the bridge in its connect event, or
	// "native_web" for delegated providers
	Adapter string `json:"adapter"`

	// Network the preference was recorded on
	Network string `json:"network,omitempty"`

	// UpdatedAt is the Unix timestamp of the handshake that produced the record
	UpdatedAt int64 `json:"updatedAt"`
}

// NewPreferenceRecord stamps a record for adapter with the current time
func NewPreferenceRecord(adapter string, network string) *PreferenceRecord {
	return &PreferenceRecord{
		Adapter:   adapter,
		Network:   network,
		UpdatedAt: time.Now().Unix(),
	}
}

// Validate rejects records that carry no adapter
func (r *PreferenceRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("preference record cannot be nil")
	}
	if r.Adapter == "" {
		return fmt.Errorf("preference record must name an adapter")
	}
	return nil
}
