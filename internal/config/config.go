package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultServer = "ws://localhost:8080/ws"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
	DefaultLang   = "en"
)

// Config holds application configuration
type Config struct {
	// Server is the signaling websocket URL
	Server string `mapstructure:"server"`

	// API is the base URL of the file endpoints. Derived from Server when empty.
	API string `mapstructure:"api"`

	// Name is the display name sent to the room
	Name string `mapstructure:"name"`

	// ICE servers for WebRTC
	STUNServer string `mapstructure:"stun"`
	TURNServer string `mapstructure:"turn"`
	TURNUser   string `mapstructure:"turn_user"`
	TURNPass   string `mapstructure:"turn_pass"`
	ForceRelay bool   `mapstructure:"relay"`

	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	TypingIdle    time.Duration `mapstructure:"typing_idle"`
	UploadGap     time.Duration `mapstructure:"upload_gap"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
	RefreshDelay  time.Duration `mapstructure:"refresh_delay"`
	Heartbeat     time.Duration `mapstructure:"heartbeat"`

	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectStep     time.Duration `mapstructure:"reconnect_step"`
	ReconnectCap      time.Duration `mapstructure:"reconnect_cap"`

	Lang string `mapstructure:"lang"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	File       string
	Server     string
	API        string
	Name       string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	Lang       string
}

var defaults = map[string]any{
	"server":             DefaultServer,
	"api":                "",
	"name":               "",
	"stun":               DefaultSTUN,
	"turn":               "",
	"turn_user":          "",
	"turn_pass":          "",
	"relay":              false,
	"settle_delay":       "1s",
	"typing_idle":        "1s",
	"upload_gap":         "500ms",
	"upload_timeout":     "30s",
	"refresh_delay":      "500ms",
	"heartbeat":          "30s",
	"reconnect_attempts": 5,
	"reconnect_step":     "2s",
	"reconnect_cap":      "10s",
	"lang":               DefaultLang,
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (HUDDLE_SERVER, HUDDLE_TURN_USER, ...)
// 3. huddle.yaml, or the file named by Options.File
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("huddle")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "huddle"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	override := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	override("server", opts.Server)
	override("api", opts.API)
	override("name", opts.Name)
	override("stun", opts.STUNServer)
	override("turn", opts.TURNServer)
	override("turn_user", opts.TURNUser)
	override("turn_pass", opts.TURNPass)
	override("lang", opts.Lang)
	if opts.ForceRelay {
		v.Set("relay", true)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.API == "" {
		api, err := deriveAPI(cfg.Server)
		if err != nil {
			return nil, err
		}
		cfg.API = api
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var problems []string
	for name, d := range map[string]time.Duration{
		"settle_delay":   c.SettleDelay,
		"typing_idle":    c.TypingIdle,
		"upload_timeout": c.UploadTimeout,
		"heartbeat":      c.Heartbeat,
		"reconnect_step": c.ReconnectStep,
		"reconnect_cap":  c.ReconnectCap,
	} {
		if d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", name))
		}
	}
	if c.UploadGap < 0 || c.RefreshDelay < 0 {
		problems = append(problems, "upload_gap and refresh_delay must not be negative")
	}
	if c.ReconnectAttempts < 0 {
		problems = append(problems, "reconnect_attempts must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// deriveAPI maps ws://host/ws to http://host/api and wss:// to https://.
func deriveAPI(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid server URL %q: scheme must be ws or wss", server)
	}
	u.Path = "/api"
	u.RawQuery = ""
	return u.String(), nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
