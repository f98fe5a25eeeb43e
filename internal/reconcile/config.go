// Package reconcile merges an incoming batch of incident records against a
// previously stored dataset keyed by a business identifier, resolving
// conflicts with report timestamps and location equality, and pushes the
// resulting updates and deletions to the store in bounded batches.
package reconcile

import (
	"time"

	"github.com/rotisserie/eris"
)

// Config holds the reconciliation options recognized by the engine.
type Config struct {
	// IDField is the business identifier field. Required.
	IDField string `yaml:"id_field" mapstructure:"id_field"`

	// DateField is the report date field used to decide which of two
	// records with the same id is more recent. Required.
	DateField string `yaml:"date_field" mapstructure:"date_field"`

	// LocationFields are the fields whose combined equality defines "same
	// location". A change in any of them invalidates the stored geometry,
	// so the stored record is replaced rather than patched.
	LocationFields []string `yaml:"location_fields" mapstructure:"location_fields"`

	// TimestampFormat is the Go layout for string-valued report dates.
	TimestampFormat string `yaml:"timestamp_format" mapstructure:"timestamp_format"`

	// Timezone names the location string report dates are interpreted in.
	// Empty means UTC. Hosted services store dates as epoch milliseconds,
	// which are always UTC regardless of this setting.
	Timezone string `yaml:"timezone" mapstructure:"timezone"`

	// ChunkSize bounds each batched write (default 100).
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`

	// IgnoreZeroCoordinates treats (0,0) coordinates as missing during the
	// append step.
	IgnoreZeroCoordinates bool `yaml:"ignore_zero_coordinates" mapstructure:"ignore_zero_coordinates"`
}

// Validate checks the configuration before any store mutation happens.
func (c Config) Validate() error {
	if c.IDField == "" {
		return eris.New("reconcile: id_field is required")
	}
	if c.DateField == "" {
		return eris.New("reconcile: date_field is required to identify duplicate records")
	}
	if c.TimestampFormat == "" {
		return eris.New("reconcile: timestamp_format is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: unknown timezone %q", c.Timezone)
	}
	return loc, nil
}
