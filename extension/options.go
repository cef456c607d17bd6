package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/store"
)

// Option configures the entitle Forge extension.
type Option func(*Extension)

// WithStore sets the store for the entitle engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store over db. Config.Driver picks the backend.
func WithGroveDB(db *grove.DB) Option {
	return func(e *Extension) {
		e.groveDB = db
	}
}

// WithEngineOption passes an entitle.Option through to the underlying engine.
func WithEngineOption(opt entitle.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an entitle plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithScheduling runs the background sweep every interval.
func WithScheduling(interval time.Duration) Option {
	return func(e *Extension) {
		e.config.SchedulingEnabled = true
		e.config.SweepInterval = interval
	}
}

// WithEndingSoonDays sets the ending-soon lookahead.
func WithEndingSoonDays(days int) Option {
	return func(e *Extension) { e.config.EndingSoonDays = days }
}

// WithDriver selects the grove-backed store ("sqlite", "postgres" or "mongo").
func WithDriver(driver string) Option {
	return func(e *Extension) { e.config.Driver = driver }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
