package extension

import "time"

// Config holds the entitle extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.entitle" or "entitle" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// SchedulingEnabled runs the lifecycle sweep in the background while the
	// app is up. When false, sweeps only run when the host calls them.
	SchedulingEnabled bool `json:"scheduling_enabled" mapstructure:"scheduling_enabled" yaml:"scheduling_enabled"`

	// SweepInterval is the background sweep cadence (default: 1m).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// EndingSoonDays is the ending-soon lookahead in days (default: 7).
	EndingSoonDays int `json:"ending_soon_days" mapstructure:"ending_soon_days" yaml:"ending_soon_days"`

	// Driver selects the store built over a grove database given with
	// WithGroveDB: "sqlite" (default), "postgres" or "mongo".
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:  time.Minute,
		EndingSoonDays: 7,
		Driver:         DriverSQLite,
	}
}

// Grove drivers understood by Config.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)
