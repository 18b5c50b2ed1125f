package persistence

import (
	"encoding/json"
	"fmt"
)

// MarshalPreference serializes a PreferenceRecord to JSON bytes.
func MarshalPreference(record *PreferenceRecord) ([]byte, error) {
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("cannot marshal preference: %w", err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal PreferenceRecord to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalPreference deserializes a PreferenceRecord from JSON bytes.
func UnmarshalPreference(data []byte) (*PreferenceRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var record PreferenceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to PreferenceRecord: %w", err)
	}

	return &record, nil
}
