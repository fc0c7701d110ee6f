package companion

import (
	"pwnrelay/internal/config"
	"pwnrelay/pkg/plugin"
)

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        Name,
		Description: "Serves the companion app over WebSocket",
		Priority:    plugin.PriorityDefault,
		Order:       30,
		Enabled:     func(cfg *config.Config) bool { return cfg.Companion.Enabled },
		Factory:     createPlugin,
	})
}

func createPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	return NewManager(ctx.Config, ctx.Registerer, ctx.Clock, ctx.Logger), nil
}
