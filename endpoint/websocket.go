package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mini-jsonrpc/peer"
	"mini-jsonrpc/transport"
)

const (
	wsReadBuffer  = 1024
	wsWriteBuffer = 1024
)

var wsBufferPool = new(sync.Pool)

// WebsocketHandler returns a handler that upgrades requests to WebSocket
// and serves JSON-RPC on them, one document per text frame.
//
// allowedOrigins lists the browser origins accepted; "*" accepts any.
// With an empty list only localhost and this host's name are accepted.
// Requests without an Origin header are always accepted.
func (e *Endpoint) WebsocketHandler(allowedOrigins []string) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		WriteBufferPool: wsBufferPool,
		CheckOrigin:     e.handshakeValidator(allowedOrigins),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			e.log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		p, ok := e.track(transport.NewWebsocketConn(ws, e.transportOptions()...))
		if !ok {
			return
		}
		e.run(p)
	})
}

// ServeWebsocket serves WebsocketHandler at path on addr until Shutdown.
func (e *Endpoint) ServeWebsocket(addr, path string, allowedOrigins []string) error {
	l, err := e.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(path, e.WebsocketHandler(allowedOrigins))
	srv := &http.Server{Addr: l.Addr().String(), Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		l.Close()
		return nil
	}
	e.httpServers = append(e.httpServers, srv)
	e.mu.Unlock()

	e.log.Info("accepting websocket connections", zap.String("addr", srv.Addr), zap.String("path", path))
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("endpoint: serve websocket: %w", err)
	}
	return nil
}

// DialWebsocket connects to a ws:// or wss:// URL and returns the running
// peer of the connection. A non-empty origin is sent as the Origin header.
func (e *Endpoint) DialWebsocket(ctx context.Context, rawURL, origin string) (*peer.Peer, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		WriteBufferPool: wsBufferPool,
		Proxy:           http.ProxyFromEnvironment,
	}
	header := make(http.Header)
	if origin != "" {
		header.Set("Origin", origin)
	}
	ws, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("endpoint: dial %s: %w (HTTP status %s)", rawURL, err, resp.Status)
		}
		return nil, fmt.Errorf("endpoint: dial %s: %w", rawURL, err)
	}
	p, ok := e.track(transport.NewWebsocketConn(ws, e.transportOptions()...))
	if !ok {
		return nil, errors.New("endpoint: shut down")
	}
	go e.run(p)
	return p, nil
}

// handshakeValidator checks the Origin header of an upgrade request.
func (e *Endpoint) handshakeValidator(allowedOrigins []string) func(*http.Request) bool {
	origins := mapset.NewSet[string]()
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		if origin != "" {
			origins.Add(strings.ToLower(origin))
		}
	}
	if origins.Cardinality() == 0 {
		origins.Add("http://localhost")
		if hostname, err := os.Hostname(); err == nil {
			origins.Add("http://" + strings.ToLower(hostname))
		}
	}
	e.log.Debug("allowed websocket origins", zap.Strings("origins", origins.ToSlice()))

	return func(r *http.Request) bool {
		// Browsers always send Origin. Anything else can forge it, so its
		// absence is not checked.
		if _, ok := r.Header["Origin"]; !ok {
			return true
		}
		origin := strings.ToLower(r.Header.Get("Origin"))
		if allowAll || originIsAllowed(origins, origin) {
			return true
		}
		e.log.Warn("rejected websocket connection", zap.String("origin", origin))
		return false
	}
}

func originIsAllowed(allowed mapset.Set[string], browserOrigin string) bool {
	if allowed.Contains(browserOrigin) {
		return true
	}
	for _, rule := range allowed.ToSlice() {
		if ruleAllowsOrigin(rule, browserOrigin) {
			return true
		}
	}
	return false
}

// ruleAllowsOrigin matches the parts a rule spells out: a rule without a
// scheme or a port accepts any.
func ruleAllowsOrigin(rule, browserOrigin string) bool {
	ruleScheme, ruleHost, rulePort, err := parseOrigin(rule)
	if err != nil {
		return false
	}
	scheme, host, port, err := parseOrigin(browserOrigin)
	if err != nil {
		return false
	}
	if ruleScheme != "" && ruleScheme != scheme {
		return false
	}
	if ruleHost != "" && ruleHost != host {
		return false
	}
	return rulePort == "" || rulePort == port
}

func parseOrigin(origin string) (scheme, host, port string, err error) {
	if !strings.Contains(origin, "://") {
		host, port, err = net.SplitHostPort(origin)
		if err != nil {
			// a bare host name
			return "", origin, "", nil
		}
		return "", host, port, nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return "", "", "", err
	}
	return u.Scheme, u.Hostname(), u.Port(), nil
}
