package routes

import (
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"

	"github.com/nexsess/gateway/internal/rdp"
	"github.com/nexsess/gateway/internal/settings"
)

var defaultRDPSettings = map[string]any{
	"mode":             "local",
	"localServiceURL":  "",
	"dockerServiceURL": "",
}

// rdpConfig builds an rdp.Config from the gateway/rdp settings group (§6.3),
// read through settings.GetGroup with defaultRDPSettings as the fallback.
func rdpConfig(app core.App) rdp.Config {
	group, _ := settings.GetGroup(app, "gateway", "rdp", defaultRDPSettings)
	return rdp.Config{
		Mode:             rdp.DeploymentMode(settings.String(group, "mode", "local")),
		LocalServiceURL:  settings.String(group, "localServiceURL", ""),
		DockerServiceURL: settings.String(group, "dockerServiceURL", ""),
	}
}

// registerRDPRoutes mounts the RDP Tunnel Proxy (C8) endpoint. It shares the
// gateway group's auth middleware but is otherwise independent of the
// session registry — each request is its own relay, token-authenticated by
// the upstream RDP service rather than the gateway's own session table.
func registerRDPRoutes(g *router.RouterGroup[*core.RequestEvent]) {
	rg := g.Group("/rdp")
	rg.Bind(wsTokenAuth())
	rg.GET("/tunnel", func(e *core.RequestEvent) error {
		rdp.ServeHTTP(rdpConfig(e.App), e.Response, e.Request)
		return nil
	})
}
