package lifecycle

import "time"

// Config aggregates behavioural parameters for the booking lifecycle.
type Config struct {
	// RequireDocuments blocks checkout until both document URLs are attached.
	RequireDocuments bool
	// MaxRentalDays caps the requested window. Zero disables the cap.
	MaxRentalDays int
	// MaxReturnExtension bounds how far past EndAt staff may push the
	// return deadline. Zero disables the bound.
	MaxReturnExtension time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RequireDocuments:   true,
		MaxRentalDays:      180,
		MaxReturnExtension: 30 * 24 * time.Hour,
	}
}
