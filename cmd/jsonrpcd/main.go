// jsonrpcd serves JSON-RPC 2.0 over TCP and WebSocket, and calls remote
// methods from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"mini-jsonrpc/config"
	"mini-jsonrpc/logging"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "TOML configuration file",
		EnvVars: []string{"MINIRPC_CONFIG"},
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "log level (debug, info, warn, error)",
	}
	logEncodingFlag = &cli.StringFlag{
		Name:  "log.encoding",
		Usage: "log encoding (json, console)",
	}
	framingFlag = &cli.StringFlag{
		Name:  "framing",
		Usage: "stream framing (json, length)",
	}
)

var app = &cli.App{
	Name:  "jsonrpcd",
	Usage: "JSON-RPC 2.0 over TCP and WebSocket",
	Flags: []cli.Flag{configFlag, logLevelFlag, logEncodingFlag, framingFlag},
	Commands: []*cli.Command{
		serveCommand,
		callCommand,
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the global flags over it.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet(logLevelFlag.Name) {
		cfg.Log.Level = ctx.String(logLevelFlag.Name)
	}
	if ctx.IsSet(logEncodingFlag.Name) {
		cfg.Log.Encoding = ctx.String(logEncodingFlag.Name)
	}
	if ctx.IsSet(framingFlag.Name) {
		cfg.Server.Framing = ctx.String(framingFlag.Name)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	return log, nil
}
