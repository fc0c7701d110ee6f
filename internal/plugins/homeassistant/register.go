package homeassistant

import (
	"pwnrelay/internal/config"
	"pwnrelay/pkg/plugin"
)

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        Name,
		Description: "Relays unit status and captured handshakes to Home Assistant",
		Priority:    plugin.PriorityDefault,
		Order:       20,
		Enabled:     func(cfg *config.Config) bool { return cfg.HomeAssistant.Enabled },
		Factory:     createPlugin,
	})
}

func createPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	return NewManager(ctx.Config, nil, ctx.Registerer, ctx.Clock, ctx.Logger)
}
