package persistence

// IPreferenceStore persists the adapter hint chosen by the last successful
// handshake so the next attach can ask the bridge for it directly.
// All implementations must be thread-safe.
type IPreferenceStore interface {
	// SavePreference overwrites any stored preference.
	SavePreference(record *PreferenceRecord) error

	// LoadPreference returns nil if no preference is stored, error only on
	// storage failure.
	LoadPreference() (*PreferenceRecord, error)

	// ClearPreference removes the stored preference.
	// Idempotent - returns nil if nothing is stored.
	ClearPreference() error

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	// Returns nil if healthy, error describing the problem if not.
	HealthCheck() error
}
