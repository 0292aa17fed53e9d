// Package routes registers the session multiplexer's custom API routes.
//
// Route groups:
//   - /api/appos/gateway — SSH session multiplexer WebSocket endpoint
//   - /api/appos/rdp     — RDP Tunnel Proxy WebSocket relay
package routes

import (
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// Register mounts all custom route groups on the PocketBase router.
func Register(se *core.ServeEvent) {
	// All custom routes require authentication
	g := se.Router.Group("/api/appos")
	g.Bind(apis.RequireAuth())

	registerGatewayRoutes(g)
	registerRDPRoutes(g)
}
