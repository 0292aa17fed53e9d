package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/hook"
	"github.com/pocketbase/pocketbase/tools/router"

	"github.com/nexsess/gateway/internal/crypto"
	"github.com/nexsess/gateway/internal/gateway"
)

// gatewayUpgrader is shared by the session-multiplexer and RDP WebSocket
// endpoints — permissive CORS, JWT auth enforced at the route-group level
// instead (see wsTokenAuth).
var gatewayUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTokenAuth authenticates WebSocket upgrade requests using a "token" query
// parameter. Browsers cannot set custom headers on a WS upgrade, so the
// frontend sends the JWT as ?token=. PocketBase's global loadAuthToken
// middleware runs before route-level Bind, so the auth record is resolved
// here rather than via the Authorization header.
func wsTokenAuth() *hook.Handler[*core.RequestEvent] {
	return &hook.Handler[*core.RequestEvent]{
		Id: "wsTokenAuth",
		// Must run AFTER loadAuthToken (-1020) but BEFORE RequireAuth (0).
		Priority: -1019,
		Func: func(e *core.RequestEvent) error {
			if e.Auth != nil {
				return e.Next() // already authenticated (e.g. via header/cookie)
			}
			tok := e.Request.URL.Query().Get("token")
			if tok == "" {
				return e.Next()
			}
			record, err := e.App.FindAuthRecordByToken(tok, core.TokenTypeAuth)
			if err == nil && record != nil {
				e.Auth = record
			}
			return e.Next()
		},
	}
}

var (
	sessionRouterOnce sync.Once
	sessionRouter     *gateway.Router
)

// sharedRouter lazily constructs the one process-wide Router (Registry +
// EventBus + Keeper), started once and reused by every accepted connection.
func sharedRouter(app core.App) *gateway.Router {
	sessionRouterOnce.Do(func() {
		registry := gateway.NewRegistry()
		keeper := gateway.NewKeeper(registry)
		keeper.Start()
		sessionRouter = &gateway.Router{
			Registry:          registry,
			Bus:               gateway.NewEventBus(gateway.AuditSink{App: app}),
			Keeper:            keeper,
			ResolveConnection: connectionResolver(app),
		}
	})
	return sessionRouter
}

// connectionResolver implements the §1 "persistent storage of connection
// profiles" and "credential decryption primitive" external collaborators: it
// looks up the servers record carrying connectionId, decrypts its related
// secrets record with crypto.Decrypt, and assembles a gateway.ConnectSpec.
func connectionResolver(app core.App) func(connectionID int) (gateway.ConnectSpec, string, error) {
	return func(connectionID int) (gateway.ConnectSpec, string, error) {
		rec, err := app.FindFirstRecordByFilter(
			"servers",
			"connection_id = {:id}",
			dbx.Params{"id": connectionID},
		)
		if err != nil {
			return gateway.ConnectSpec{}, "", fmt.Errorf("connection %d not found: %w", connectionID, err)
		}

		spec := gateway.ConnectSpec{
			Host:       rec.GetString("host"),
			Port:       rec.GetInt("port"),
			Username:   rec.GetString("user"),
			AuthMethod: rec.GetString("auth_type"),
		}
		if spec.Port == 0 {
			spec.Port = 22
		}

		credentialID := rec.GetString("credential")
		if credentialID != "" {
			secretRec, err := app.FindRecordById("secrets", credentialID)
			if err != nil {
				return gateway.ConnectSpec{}, "", fmt.Errorf("credential not found: %w", err)
			}
			plaintext, err := crypto.Decrypt(secretRec.GetString("value"))
			if err != nil {
				return gateway.ConnectSpec{}, "", fmt.Errorf("decrypt credential: %w", err)
			}
			switch spec.AuthMethod {
			case "key":
				spec.PrivateKey = plaintext
			default:
				spec.Password = plaintext
			}
		}

		return spec, rec.GetString("name"), nil
	}
}

// registerGatewayRoutes mounts the session-multiplexer WebSocket endpoint.
func registerGatewayRoutes(g *router.RouterGroup[*core.RequestEvent]) {
	gw := g.Group("/gateway")
	gw.Bind(wsTokenAuth())
	gw.Bind(apis.RequireAuth())
	gw.GET("/session", handleGatewaySession)
}

// wsClientConn adapts one *websocket.Conn to gateway.ClientConn, serializing
// concurrent sends the way terminal.go's LocalSession serializes PTY->WS
// writes under a mutex.
type wsClientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClientConn) Send(msg gateway.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClientConn) Close() error {
	return c.conn.Close()
}

// deriveRequestIP implements §6.4's precedence: first X-Forwarded-For
// entry, then X-Real-IP, then the socket remote address, then "unknown".
func deriveRequestIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func handleGatewaySession(e *core.RequestEvent) error {
	conn, err := gatewayUpgrader.Upgrade(e.Response, e.Request, nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	rt := sharedRouter(e.App)

	userID, username := "unknown", "unknown"
	if e.Auth != nil {
		userID = e.Auth.Id
		username = e.Auth.GetString("email")
	}
	ip := deriveRequestIP(e.Request)

	client := &wsClientConn{conn: conn}
	s := rt.NewSession(client, userID, username, ip)
	defer rt.Registry.Remove(s.ID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		rt.Dispatch(s.ID, data)
	}
	return nil
}
