// Package config loads the settings of the jsonrpcd daemon.
//
// Settings come from three places, later ones winning: the built-in
// defaults, a TOML file, and the environment (a .env file in the working
// directory is read first when present).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"mini-jsonrpc/loadbalance"
	"mini-jsonrpc/protocol"
	"mini-jsonrpc/rpcerror"
)

// Environment variables read by Load.
const (
	EnvTCPAddr        = "MINIRPC_TCP_ADDR"
	EnvWSAddr         = "MINIRPC_WS_ADDR"
	EnvLogLevel       = "MINIRPC_LOG_LEVEL"
	EnvRequestTimeout = "MINIRPC_REQUEST_TIMEOUT"
)

// Server holds the listening side.
type Server struct {
	TCPAddr        string        `toml:"tcp_addr"`
	WSAddr         string        `toml:"ws_addr"`
	WSPath         string        `toml:"ws_path"`
	AllowedOrigins []string      `toml:"allowed_origins"`
	Framing        string        `toml:"framing"`
	PingInterval   time.Duration `toml:"ping_interval"`
	// HandlerTimeout bounds one dispatch. Zero disables the bound.
	HandlerTimeout time.Duration `toml:"handler_timeout"`
	// RateLimit is in requests per second. Zero disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

type Client struct {
	RequestTimeout time.Duration `toml:"request_timeout"`
	// Balancer picks the connection for calls fanned out to a group:
	// round_robin or consistent_hash.
	Balancer string `toml:"balancer"`
}

// Errors is the code band application errors are clamped into.
type Errors struct {
	BandLower int `toml:"band_lower"`
	BandUpper int `toml:"band_upper"`
}

type Log struct {
	Level    string `toml:"level"`
	Encoding string `toml:"encoding"` // json or console
}

type Config struct {
	Server Server `toml:"server"`
	Client Client `toml:"client"`
	Errors Errors `toml:"errors"`
	Log    Log    `toml:"log"`
}

func Default() *Config {
	return &Config{
		Server: Server{
			TCPAddr:      "127.0.0.1:4444",
			WSAddr:       "127.0.0.1:4445",
			WSPath:       "/",
			Framing:      string(protocol.FramingJSON),
			PingInterval: 30 * time.Second,
		},
		Client: Client{RequestTimeout: 60 * time.Second, Balancer: loadbalance.StrategyRoundRobin},
		Errors: Errors{
			BandLower: rpcerror.DefaultBand.Lower,
			BandUpper: rpcerror.DefaultBand.Upper,
		},
		Log: Log{Level: "info", Encoding: "console"},
	}
}

// Load reads the TOML file at path over the defaults, then applies the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: read .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvTCPAddr); ok {
		cfg.Server.TCPAddr = v
	}
	if v, ok := lookup(EnvWSAddr); ok {
		cfg.Server.WSAddr = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookup(EnvRequestTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvRequestTimeout, err)
		}
		cfg.Client.RequestTimeout = d
	}
	return nil
}

// Band returns the configured error band.
func (cfg *Config) Band() (rpcerror.Band, error) {
	return rpcerror.NewBand(cfg.Errors.BandLower, cfg.Errors.BandUpper)
}

// Validate checks a config that was assembled or changed outside Load.
func (cfg *Config) Validate() error { return cfg.validate() }

func (cfg *Config) validate() error {
	if cfg.Errors.BandLower > cfg.Errors.BandUpper {
		return fmt.Errorf("config: errors.band_lower %d is above errors.band_upper %d", cfg.Errors.BandLower, cfg.Errors.BandUpper)
	}
	if _, err := protocol.ParseFraming(cfg.Server.Framing); err != nil {
		return fmt.Errorf("config: server.framing: %w", err)
	}
	if cfg.Server.TCPAddr == "" && cfg.Server.WSAddr == "" {
		return errors.New("config: server.tcp_addr and server.ws_addr are both empty")
	}
	if cfg.Server.WSPath == "" {
		cfg.Server.WSPath = "/"
	} else if !strings.HasPrefix(cfg.Server.WSPath, "/") {
		cfg.Server.WSPath = "/" + cfg.Server.WSPath
	}
	if cfg.Server.RateLimit < 0 || cfg.Server.RateBurst < 0 {
		return errors.New("config: server.rate_limit and server.rate_burst must not be negative")
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 1
	}
	if _, err := loadbalance.New(cfg.Client.Balancer); err != nil {
		return fmt.Errorf("config: client.balancer: %w", err)
	}
	if cfg.Client.RequestTimeout < 0 {
		return errors.New("config: client.request_timeout must not be negative")
	}
	return nil
}
