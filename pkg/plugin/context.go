package plugin

import (
	"pwnrelay/internal/clock"
	"pwnrelay/internal/config"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Context provides dependencies to plugins during initialization.
type Context struct {
	// Config is the loaded pwnrelay configuration
	Config *config.Config

	// Logger is a structured logger for the plugin to use.
	// Plugins should use logger.Named("pluginname") for namespacing.
	Logger *zap.Logger

	// Registerer receives the plugin's metrics. A nil Registerer disables
	// registration.
	Registerer prometheus.Registerer

	// Clock drives relay timers
	Clock clock.Clock
}

// NewContext creates a new plugin context with all required dependencies.
func NewContext(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer, clk clock.Clock) *Context {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Context{
		Config:     cfg,
		Logger:     logger,
		Registerer: reg,
		Clock:      clk,
	}
}
