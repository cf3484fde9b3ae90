package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Backend struct {
	APIURL  string        `yaml:"apiURL"`  // "http://localhost:8080"
	WSURL   string        `yaml:"wsURL"`   // "ws://localhost:8080/ws/websocket"
	Timeout time.Duration `yaml:"timeout"` // "10s", per REST call
}

type Realtime struct {
	ReconnectDelay   time.Duration `yaml:"reconnectDelay"`   // "3s"
	HeartBeat        time.Duration `yaml:"heartBeat"`        // "4s"
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"` // "10s"
}

type Fetch struct {
	Attempts int           `yaml:"attempts"` // 3
	Delay    time.Duration `yaml:"delay"`    // "2s"
}

type Send struct {
	Rate  float64 `yaml:"rate"`  // messages per second
	Burst int     `yaml:"burst"` // 5
}

type Session struct {
	Path    string `yaml:"path"`    // sqlite file, "" keeps identity in memory
	Profile string `yaml:"profile"` // one identity per profile
}

type Bridge struct {
	Addr           string   `yaml:"addr"` // "127.0.0.1:7070"
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Archive struct {
	DSN string `yaml:"dsn"` // postgres, optional
}

type Export struct {
	Dir string `yaml:"dir"` // completed stories as markdown
}

type Logging struct {
	Env       string `yaml:"env"`     // dev|stage|prod
	Service   string `yaml:"service"` // "taleforge"
	Version   string `yaml:"version"`
	Backend   string `yaml:"backend"` // "std"|"zap"
	AddSource bool   `yaml:"addSource"`
	Debug     bool   `yaml:"debug"`
}

type Config struct {
	Backend  Backend  `yaml:"backend"`
	Realtime Realtime `yaml:"realtime"`
	Fetch    Fetch    `yaml:"fetch"`
	Send     Send     `yaml:"send"`
	Session  Session  `yaml:"session"`
	Bridge   Bridge   `yaml:"bridge"`
	Archive  Archive  `yaml:"archive"`
	Export   Export   `yaml:"export"`
	Logging  Logging  `yaml:"logging"`
}

// Load reads .env, the YAML file at TALEFORGE_CONFIG (optional) and env
// overrides, then fills defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("TALEFORGE_CONFIG")
	explicit := path != ""
	if !explicit {
		path = filepath.Join("config", "taleforge.yaml")
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.Backend.APIURL, "TALEFORGE_API_URL")
	set(&cfg.Backend.WSURL, "TALEFORGE_WS_URL")
	set(&cfg.Bridge.Addr, "TALEFORGE_BRIDGE_ADDR")
	set(&cfg.Session.Path, "TALEFORGE_SESSION_PATH")
	set(&cfg.Session.Profile, "TALEFORGE_SESSION_PROFILE")
	set(&cfg.Archive.DSN, "TALEFORGE_ARCHIVE_DSN")
	set(&cfg.Export.Dir, "TALEFORGE_EXPORT_DIR")
	set(&cfg.Logging.Env, "APP_ENV")
}

func (c *Config) setDefaults() {
	if c.Backend.APIURL == "" {
		c.Backend.APIURL = "http://localhost:8080"
	}
	if c.Backend.WSURL == "" {
		c.Backend.WSURL = deriveWSURL(c.Backend.APIURL)
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 10 * time.Second
	}
	if c.Realtime.ReconnectDelay == 0 {
		c.Realtime.ReconnectDelay = 3 * time.Second
	}
	if c.Realtime.HeartBeat == 0 {
		c.Realtime.HeartBeat = 4 * time.Second
	}
	if c.Realtime.HandshakeTimeout == 0 {
		c.Realtime.HandshakeTimeout = 10 * time.Second
	}
	if c.Fetch.Attempts == 0 {
		c.Fetch.Attempts = 3
	}
	if c.Fetch.Delay == 0 {
		c.Fetch.Delay = 2 * time.Second
	}
	if c.Send.Rate == 0 {
		c.Send.Rate = 1
	}
	if c.Send.Burst == 0 {
		c.Send.Burst = 5
	}
	if c.Session.Profile == "" {
		c.Session.Profile = "default"
	}
	if c.Bridge.Addr == "" {
		c.Bridge.Addr = "127.0.0.1:7070"
	}
	if len(c.Bridge.AllowedOrigins) == 0 {
		c.Bridge.AllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	if c.Export.Dir == "" {
		c.Export.Dir = "stories"
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "taleforge"
	}
}

func (c *Config) Validate() error {
	api, err := url.Parse(c.Backend.APIURL)
	if err != nil || api.Host == "" || (api.Scheme != "http" && api.Scheme != "https") {
		return fmt.Errorf("config: backend.apiURL %q must be an http(s) URL", c.Backend.APIURL)
	}
	ws, err := url.Parse(c.Backend.WSURL)
	if err != nil || ws.Host == "" || (ws.Scheme != "ws" && ws.Scheme != "wss") {
		return fmt.Errorf("config: backend.wsURL %q must be a ws(s) URL", c.Backend.WSURL)
	}
	if c.Fetch.Attempts < 1 {
		return fmt.Errorf("config: fetch.attempts must be >= 1")
	}
	if c.Send.Rate < 0 || c.Send.Burst < 1 {
		return fmt.Errorf("config: send.rate must be >= 0 and send.burst >= 1")
	}
	return nil
}

// deriveWSURL maps http://host to ws://host/ws/websocket, the raw
// websocket endpoint next to the SockJS one.
func deriveWSURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/websocket"
	return u.String()
}
