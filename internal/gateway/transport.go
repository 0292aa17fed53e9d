package gateway

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/net/proxy"

	"github.com/nexsess/gateway/internal/terminal"
)

// ProxyType selects how the Transport Adapter reaches the target host (§4.2).
type ProxyType string

const (
	ProxyNone        ProxyType = ""
	ProxySOCKS5      ProxyType = "socks5"
	ProxyHTTPConnect ProxyType = "http_connect"
)

// ProxySpec describes an optional proxy hop in front of the SSH target.
type ProxySpec struct {
	Type     ProxyType
	Host     string
	Port     int
	Username string
	Password string
}

// ConnectSpec is the decrypted connection spec of §4.2: {host, port,
// username, authMethod, password?, privateKey?, passphrase?, proxy?}.
type ConnectSpec struct {
	Host       string
	Port       int
	Username   string
	AuthMethod string // "password" | "key"
	Password   string
	PrivateKey string
	Passphrase string
	Proxy      *ProxySpec
}

// liveKeepaliveInterval/MaxMissed implement "keepalive is enabled on live
// (non-test) connections with interval 30s and max-missed 3" (§4.2).
const (
	liveKeepaliveInterval = 30 * time.Second
	liveKeepaliveMaxMiss  = 3
)

// ConnectTimeoutLive and ConnectTimeoutTest are the two SSH connect budgets
// named in §5 ("SSH connect timeout: 20 s (live), 15 s (test)").
const (
	ConnectTimeoutLive = 20 * time.Second
	ConnectTimeoutTest = 15 * time.Second
)

func authMethod(spec ConnectSpec) (cryptossh.AuthMethod, error) {
	switch spec.AuthMethod {
	case "key":
		var signer cryptossh.Signer
		var err error
		if spec.Passphrase != "" {
			signer, err = cryptossh.ParsePrivateKeyWithPassphrase([]byte(spec.PrivateKey), []byte(spec.Passphrase))
		} else {
			signer, err = cryptossh.ParsePrivateKey([]byte(spec.PrivateKey))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return cryptossh.PublicKeys(signer), nil
	default:
		return cryptossh.Password(spec.Password), nil
	}
}

// Connect implements the Transport Adapter (C2): dial the target, optionally
// through a SOCKS5 or HTTP CONNECT proxy, complete the SSH handshake, and
// return a ready transport or a single typed TransportError. keepalive
// enables the 30s/3-missed liveness probe on the resulting connection
// unless test is true.
func Connect(ctx context.Context, spec ConnectSpec, timeout time.Duration, test bool) (*cryptossh.Client, error) {
	auth, err := authMethod(spec)
	if err != nil {
		return nil, Wrap(KindTransport, "auth config", err)
	}
	hostKeyCB, err := terminal.HostKeyCallback()
	if err != nil {
		return nil, Wrap(KindTransport, "host key policy", err)
	}

	addr := net.JoinHostPort(spec.Host, fmt.Sprintf("%d", spec.Port))
	clientCfg := &cryptossh.ClientConfig{
		User:            spec.Username,
		Auth:            []cryptossh.AuthMethod{auth},
		HostKeyCallback: hostKeyCB,
		Timeout:         timeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialThroughProxy(dialCtx, spec, addr)
	if err != nil {
		return nil, Wrap(KindTransport, "connect", err)
	}

	type result struct {
		client *cryptossh.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		c, chans, reqs, err := cryptossh.NewClientConn(conn, addr, clientCfg)
		if err != nil {
			ch <- result{nil, err}
			return
		}
		ch <- result{cryptossh.NewClient(c, chans, reqs), nil}
	}()

	select {
	case <-dialCtx.Done():
		_ = conn.Close()
		return nil, Wrap(KindTimeout, "ssh handshake", dialCtx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, Wrap(KindTransport, "ssh handshake", r.err)
		}
		if !test {
			startKeepalive(r.client)
		}
		return r.client, nil
	}
}

// dialThroughProxy performs the proxy dispatch of §4.2: direct TCP when no
// proxy is configured, a SOCKS5 CONNECT negotiation, or an HTTP CONNECT
// tunnel. The returned net.Conn is handed to the SSH client as its
// underlying transport.
func dialThroughProxy(ctx context.Context, spec ConnectSpec, targetAddr string) (net.Conn, error) {
	if spec.Proxy == nil || spec.Proxy.Type == ProxyNone {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", targetAddr)
	}

	proxyAddr := net.JoinHostPort(spec.Proxy.Host, fmt.Sprintf("%d", spec.Proxy.Port))

	switch spec.Proxy.Type {
	case ProxySOCKS5:
		var auth *proxy.Auth
		if spec.Proxy.Username != "" {
			auth = &proxy.Auth{User: spec.Proxy.Username, Password: spec.Proxy.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", proxyAddr, auth, &net.Dialer{})
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
			return ctxDialer.DialContext(ctx, "tcp", targetAddr)
		}
		return dialer.Dial("tcp", targetAddr)

	case ProxyHTTPConnect:
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", proxyAddr)
		if err != nil {
			return nil, fmt.Errorf("dial proxy: %w", err)
		}
		if err := httpConnect(conn, targetAddr, spec.Proxy.Username, spec.Proxy.Password); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil

	default:
		return nil, fmt.Errorf("unsupported proxy type %q", spec.Proxy.Type)
	}
}

// httpConnect sends `CONNECT host:port HTTP/1.1` on conn, with HTTP Basic
// proxy authentication when credentials are present, and requires a 200
// response before the caller may reuse conn as a raw byte tunnel.
func httpConnect(conn net.Conn, targetAddr, user, pass string) error {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: targetAddr},
		Host:   targetAddr,
		Header: make(http.Header),
	}
	if user != "" {
		req.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
	}
	if err := req.Write(conn); err != nil {
		return fmt.Errorf("http connect: write request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return fmt.Errorf("http connect: read response: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http connect: proxy returned %d", resp.StatusCode)
	}
	return nil
}

// startKeepalive sends an SSH keepalive@openssh.com request every interval
// and force-closes the client after maxMissed consecutive failures.
func startKeepalive(client *cryptossh.Client) {
	go func() {
		missed := 0
		ticker := time.NewTicker(liveKeepaliveInterval)
		defer ticker.Stop()
		for range ticker.C {
			_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				missed++
				if missed >= liveKeepaliveMaxMiss {
					_ = client.Close()
					return
				}
				continue
			}
			missed = 0
		}
	}()
}
