package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"

	"mini-jsonrpc/client"
	"mini-jsonrpc/endpoint"
	"mini-jsonrpc/peer"
	"mini-jsonrpc/protocol"
)

var (
	notifyFlag = &cli.BoolFlag{
		Name:  "notify",
		Usage: "send a notification and do not wait for a reply",
	}
	originFlag = &cli.StringFlag{
		Name:  "origin",
		Usage: "Origin header sent when dialing a WebSocket",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "how long to wait for the reply, defaults to client.request_timeout",
	}
)

var callCommand = &cli.Command{
	Name:      "call",
	Usage:     "Call a method on a running server",
	ArgsUsage: "<tcp://host:port | ws://host:port/path> <method> [params JSON]",
	Flags:     []cli.Flag{notifyFlag, originFlag, timeoutFlag},
	Action:    call,
}

func call(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return cli.Exit("call needs a URL and a method name", 2)
	}
	target, method := ctx.Args().Get(0), ctx.Args().Get(1)
	var params json.RawMessage
	if raw := ctx.Args().Get(2); raw != "" {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("params are not valid JSON: %s", raw)
		}
		params = json.RawMessage(raw)
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	timeout := cfg.Client.RequestTimeout
	if ctx.IsSet(timeoutFlag.Name) {
		timeout = ctx.Duration(timeoutFlag.Name)
	}
	framing, err := protocol.ParseFraming(cfg.Server.Framing)
	if err != nil {
		return err
	}
	c := client.New(client.WithTimeout(timeout), client.WithLogger(log))
	defer c.Close()
	e := endpoint.New(endpoint.WithClient(c), endpoint.WithLogger(log), endpoint.WithFraming(framing))
	defer e.Shutdown(time.Second)

	dialCtx, cancel := context.WithTimeout(ctx.Context, 10*time.Second)
	defer cancel()
	p, err := dial(dialCtx, e, target, ctx.String(originFlag.Name))
	if err != nil {
		return err
	}

	if ctx.Bool(notifyFlag.Name) {
		return p.Notify(ctx.Context, method, paramsOrNil(params))
	}
	result, err := peer.Call[json.RawMessage](ctx.Context, p, method, paramsOrNil(params))
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, string(result))
	return nil
}

func dial(ctx context.Context, e *endpoint.Endpoint, target, origin string) (*peer.Peer, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("bad URL %q: %w", target, err)
	}
	switch u.Scheme {
	case "tcp":
		return e.DialTCP(ctx, u.Host)
	case "ws", "wss":
		return e.DialWebsocket(ctx, target, origin)
	}
	return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
}

// paramsOrNil keeps absent params out of the request.
func paramsOrNil(params json.RawMessage) any {
	if params == nil {
		return nil
	}
	return params
}
