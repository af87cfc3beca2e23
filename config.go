package obsrpc

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds everything a Comm and its transport need.
// NewConfig gives working defaults; LoadConfig overlays a
// yaml file on them. Each Comm keeps its own Clone.
type Config struct {

	// Name is the module's short name; on XMPP it is the
	// user part of the JID.
	Name string `yaml:"name" validate:"required"`

	// Domain and Resource complete the JID, user@domain/resource.
	// JID, when set, overrides all three.
	Domain   string `yaml:"domain"`
	Resource string `yaml:"resource"`
	JID      string `yaml:"jid"`
	Password string `yaml:"password"`

	// Server is the router websocket URL, e.g. ws://localhost:5280/xmpp.
	// Empty means the transport is wired up in-process.
	Server string `yaml:"server" validate:"omitempty,url"`

	// CallTimeout is the default patience window of a Future.
	CallTimeout time.Duration `yaml:"call_timeout" validate:"gt=0"`

	// CallGrace is how long past its window a pending call
	// stays in the correlation table before it is swept.
	CallGrace time.Duration `yaml:"call_grace" validate:"gte=0"`

	// EventMaxAge: older incoming events are dropped.
	EventMaxAge time.Duration `yaml:"event_max_age" validate:"gt=0"`

	// LogTick is the idle hold-off of the log forwarding loop.
	LogTick time.Duration `yaml:"log_tick" validate:"gt=0"`

	// LogRate caps forwarded log events per second; 0 is unlimited.
	LogRate float64 `yaml:"log_rate" validate:"gte=0"`

	LogQueueSize    int    `yaml:"log_queue_size" validate:"gt=0"`
	LogForwardLevel string `yaml:"log_forward_level" validate:"oneof=debug info warn error"`

	// VarSyncInterval is the shared variable replication period.
	VarSyncInterval time.Duration `yaml:"var_sync_interval" validate:"gt=0"`

	CacheProxies bool `yaml:"cache_proxies"`

	// AllowOpOverride keeps the legacy behavior of letting the
	// later of two unrelated interfaces win a method name clash.
	AllowOpOverride bool `yaml:"allow_op_override"`

	// RestartDelay is the pause before the supervisor restarts
	// a failed background task.
	RestartDelay time.Duration `yaml:"restart_delay" validate:"gte=0"`

	DialTimeout time.Duration `yaml:"dial_timeout" validate:"gt=0"`
}

func NewConfig() *Config {
	return &Config{
		Resource:        "pyobs",
		CallTimeout:     DefaultCallTimeout,
		CallGrace:       5 * time.Second,
		EventMaxAge:     30 * time.Second,
		LogTick:         time.Second,
		LogRate:         50,
		LogQueueSize:    1000,
		LogForwardLevel: "info",
		VarSyncInterval: 10 * time.Second,
		CacheProxies:    true,
		RestartDelay:    time.Second,
		DialTimeout:     10 * time.Second,
	}
}

// Clone returns a copy of c so callers cannot mutate it
// out from under a running Comm.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w: %w", ErrValidation, err)
	}
	return nil
}

// ForwardLevel converts LogForwardLevel to a slog.Level.
func (c *Config) ForwardLevel() slog.Level {
	var lev slog.Level
	if err := lev.UnmarshalText([]byte(strings.ToUpper(c.LogForwardLevel))); err != nil {
		return slog.LevelInfo
	}
	return lev
}

// LoadConfig reads a yaml file over NewConfig's defaults.
// An empty path loads DefaultConfigPath() if it exists.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		path = DefaultConfigPath()
		if _, err := os.Stat(path); err != nil {
			return cfg, nil
		}
	}
	by, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config '%v': %w", path, err)
	}
	if err := yaml.Unmarshal(by, cfg); err != nil {
		return nil, fmt.Errorf("parsing config '%v': %w", path, err)
	}
	return cfg, cfg.Validate()
}

// GetConfigDir says where per-user configuration lives:
// $XDG_CONFIG_HOME/obsrpc, else $HOME/.config/obsrpc, else the
// current directory.
func GetConfigDir() (path string) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	home := os.Getenv("HOME")
	switch {
	case dir != "":
		path = filepath.Join(dir, "obsrpc")
	case home != "":
		path = filepath.Join(home, ".config", "obsrpc")
	default:
		path = "."
	}
	return path
}

func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "obsrpc.yaml")
}
