// Package rdp implements the RDP Tunnel Proxy: a pure WebSocket byte relay
// between a browser client and an upstream RDP gateway service. It does not
// interact with any SSH session or the gateway session registry.
package rdp

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// DeploymentMode selects which upstream base URL to resolve (§4.8).
type DeploymentMode string

const (
	ModeLocal  DeploymentMode = "local"
	ModeDocker DeploymentMode = "docker"
)

const (
	defaultLocalURL  = "ws://localhost:8081"
	defaultDockerURL = "ws://rdp:8081"
)

// Config carries the deployment-mode-dependent upstream URLs (§6.3).
type Config struct {
	Mode            DeploymentMode
	LocalServiceURL string
	DockerServiceURL string
}

func (c Config) upstreamBase() string {
	switch c.Mode {
	case ModeDocker:
		if c.DockerServiceURL != "" {
			return c.DockerServiceURL
		}
		return defaultDockerURL
	case ModeLocal:
		if c.LocalServiceURL != "" {
			return c.LocalServiceURL
		}
		return defaultLocalURL
	default:
		return defaultLocalURL
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// sessionParams is the client's initial {token, width, height} request (§4.8).
type sessionParams struct {
	Token  string
	Width  int
	Height int
}

func parseSessionParams(q url.Values) (sessionParams, error) {
	var p sessionParams
	p.Token = q.Get("token")
	if p.Token == "" {
		return p, fmt.Errorf("missing token")
	}
	width, err := strconv.Atoi(q.Get("width"))
	if err != nil || width <= 0 {
		return p, fmt.Errorf("invalid width")
	}
	height, err := strconv.Atoi(q.Get("height"))
	if err != nil || height <= 0 {
		return p, fmt.Errorf("invalid height")
	}
	p.Width, p.Height = width, height
	return p, nil
}

func dpiFor(width int) int {
	if width > 1920 {
		return 120
	}
	return 96
}

// ServeHTTP upgrades the inbound HTTP request to a WebSocket, validates
// {token, width, height}, opens an upstream WebSocket to the resolved RDP
// gateway, and relays bytes in both directions until either side closes.
func ServeHTTP(cfg Config, w http.ResponseWriter, r *http.Request) {
	params, err := parseSessionParams(r.URL.Query())
	if err != nil {
		conn, upErr := upgrader.Upgrade(w, r, nil)
		if upErr != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		closeWithCode(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[rdp] upgrade: %v", err)
		return
	}

	dpi := dpiFor(params.Width)
	upstreamURL := fmt.Sprintf("%s/?token=%s&width=%d&height=%d&dpi=%d",
		cfg.upstreamBase(), url.QueryEscape(params.Token), params.Width, params.Height, dpi)

	upstreamConn, _, err := websocket.DefaultDialer.Dial(upstreamURL, nil)
	if err != nil {
		log.Printf("[rdp] upstream dial %s: %v", cfg.upstreamBase(), err)
		closeWithCode(clientConn, websocket.CloseInternalServerErr, "upstream unavailable")
		return
	}

	relay(clientConn, upstreamConn)
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = conn.Close()
}

// relay performs the bidirectional byte copy of §4.8. It does not parse RDP
// protocol data frames, only WebSocket binary/text messages. Whichever side
// ends first closes the other with 1000 (clean) or 1011 (error).
func relay(client, upstream *websocket.Conn) {
	defer client.Close()
	defer upstream.Close()

	var once sync.Once
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		pump(client, upstream, &once)
	}()
	go func() {
		defer wg.Done()
		pump(upstream, client, &once)
	}()
	wg.Wait()
}

func pump(src, dst *websocket.Conn, closeOnce *sync.Once) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			code := websocket.CloseNormalClosure
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				code = websocket.CloseInternalServerErr
			}
			closeOnce.Do(func() { closeWithCode(dst, code, "") })
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			closeOnce.Do(func() { closeWithCode(src, websocket.CloseInternalServerErr, "") })
			return
		}
	}
}
