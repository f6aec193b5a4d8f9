package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mini-jsonrpc/client"
	"mini-jsonrpc/config"
	"mini-jsonrpc/endpoint"
	"mini-jsonrpc/loadbalance"
	"mini-jsonrpc/middleware"
	"mini-jsonrpc/protocol"
	"mini-jsonrpc/server"
)

const shutdownTimeout = 5 * time.Second

var (
	tcpAddrFlag = &cli.StringFlag{
		Name:  "tcp",
		Usage: "TCP listen address, empty to disable",
	}
	wsAddrFlag = &cli.StringFlag{
		Name:  "ws",
		Usage: "WebSocket listen address, empty to disable",
	}
	wsPathFlag = &cli.StringFlag{
		Name:  "ws.path",
		Usage: "HTTP path of the WebSocket endpoint",
	}
	originsFlag = &cli.StringSliceFlag{
		Name:  "ws.origins",
		Usage: "origins accepted for browser WebSocket connections (* for any)",
	}
	handlerTimeoutFlag = &cli.DurationFlag{
		Name:  "handler.timeout",
		Usage: "bound on a single dispatch, 0 for none",
	}
	rateLimitFlag = &cli.Float64Flag{
		Name:  "ratelimit",
		Usage: "requests per second accepted across all connections, 0 for no limit",
	}
	balancerFlag = &cli.StringFlag{
		Name:  "balancer",
		Usage: "how relayed calls pick a connection: round_robin or consistent_hash",
	}
)

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Serve the demo services over TCP and WebSocket",
	Flags:  []cli.Flag{tcpAddrFlag, wsAddrFlag, wsPathFlag, originsFlag, handlerTimeoutFlag, rateLimitFlag, balancerFlag},
	Action: serve,
}

func serveConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if ctx.IsSet(tcpAddrFlag.Name) {
		cfg.Server.TCPAddr = ctx.String(tcpAddrFlag.Name)
	}
	if ctx.IsSet(wsAddrFlag.Name) {
		cfg.Server.WSAddr = ctx.String(wsAddrFlag.Name)
	}
	if ctx.IsSet(wsPathFlag.Name) {
		cfg.Server.WSPath = ctx.String(wsPathFlag.Name)
	}
	if ctx.IsSet(originsFlag.Name) {
		cfg.Server.AllowedOrigins = ctx.StringSlice(originsFlag.Name)
	}
	if ctx.IsSet(handlerTimeoutFlag.Name) {
		cfg.Server.HandlerTimeout = ctx.Duration(handlerTimeoutFlag.Name)
	}
	if ctx.IsSet(rateLimitFlag.Name) {
		cfg.Server.RateLimit = ctx.Float64(rateLimitFlag.Name)
	}
	if ctx.IsSet(balancerFlag.Name) {
		cfg.Client.Balancer = ctx.String(balancerFlag.Name)
	}
	return cfg, cfg.Validate()
}

// newServer builds the dispatcher with the middleware the config asks for.
func newServer(cfg *config.Config, log *zap.Logger) (*server.Server, error) {
	band, err := cfg.Band()
	if err != nil {
		return nil, err
	}
	srv := server.NewServer(server.WithBand(band), server.WithLogger(log))

	mws := []middleware.Middleware{middleware.LoggingMiddleware(log)}
	if cfg.Server.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if cfg.Server.HandlerTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.Server.HandlerTimeout))
	}
	srv.Use(mws...)
	return srv, nil
}

// newHub builds the client the daemon uses to call its own peers.
func newHub(cfg *config.Config, log *zap.Logger) (*client.Client, error) {
	b, err := loadbalance.New(cfg.Client.Balancer)
	if err != nil {
		return nil, err
	}
	return client.New(
		client.WithTimeout(cfg.Client.RequestTimeout),
		client.WithBalancer(b),
		client.WithLogger(log),
	), nil
}

func serve(ctx *cli.Context) error {
	cfg, err := serveConfig(ctx)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	srv, err := newServer(cfg, log)
	if err != nil {
		return err
	}
	framing, err := protocol.ParseFraming(cfg.Server.Framing)
	if err != nil {
		return err
	}

	// The hub pushes notifications to connected peers and relays calls to them.
	hub, err := newHub(cfg, log)
	if err != nil {
		return err
	}
	defer hub.Close()
	e := endpoint.New(
		endpoint.WithServer(srv),
		endpoint.WithClient(hub),
		endpoint.WithLogger(log),
		endpoint.WithFraming(framing),
		endpoint.WithPingInterval(cfg.Server.PingInterval),
	)
	if err := registerDemo(srv, hub, e.Group()); err != nil {
		return err
	}
	log.Info("registered methods", zap.Strings("methods", srv.Service().Methods()))

	sigCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)
	if addr := cfg.Server.TCPAddr; addr != "" {
		g.Go(func() error { return e.ServeTCP("tcp", addr) })
	}
	if addr := cfg.Server.WSAddr; addr != "" {
		g.Go(func() error { return e.ServeWebsocket(addr, cfg.Server.WSPath, cfg.Server.AllowedOrigins) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return e.Shutdown(shutdownTimeout)
	})
	return g.Wait()
}
