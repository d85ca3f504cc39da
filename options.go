package codex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/aweris/codex-go/internal/native"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

// Log levels accepted by the engine.
const (
	LogTrace  = "trace"
	LogDebug  = "debug"
	LogInfo   = "info"
	LogNotice = "notice"
	LogWarn   = "warn"
	LogError  = "error"
	LogFatal  = "fatal"
)

// Repository backends.
const (
	RepoFS      = "fs"
	RepoSQLite  = "sqlite"
	RepoLevelDB = "leveldb"
)

const defaultQuota = 8 << 30

var (
	logLevels  = []string{LogTrace, LogDebug, LogInfo, LogNotice, LogWarn, LogError, LogFatal}
	repoKinds  = []string{RepoFS, RepoSQLite, RepoLevelDB}
	logFormats = []string{"auto", "colors", "nocolors", "json"}
)

// Config is the node configuration handed to the engine as JSON.
type Config struct {
	DataDir        string   `json:"data-dir,omitempty"`
	LogLevel       string   `json:"log-level,omitempty"`
	LogFormat      string   `json:"log-format,omitempty"`
	MetricsEnabled bool     `json:"metrics,omitempty"`
	ListenAddrs    []string `json:"listen-addrs,omitempty"`
	DiscoveryPort  int      `json:"disc-port,omitempty"`
	BootstrapNodes []string `json:"bootstrap-node,omitempty"`
	MaxPeers       int      `json:"max-peers,omitempty"`
	StorageQuota   uint64   `json:"storage-quota,omitempty"`
	// BlockTTL is in seconds.
	BlockTTL   int64  `json:"block-ttl,omitempty"`
	RepoKind   string `json:"repo-kind,omitempty"`
	NumThreads int    `json:"num-threads,omitempty"`
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() Config {
	return Config{
		DataDir:      defaultDataDir(),
		LogLevel:     LogInfo,
		LogFormat:    "auto",
		ListenAddrs:  []string{"/ip4/0.0.0.0/tcp/0"},
		MaxPeers:     160,
		StorageQuota: defaultQuota,
		RepoKind:     RepoFS,
	}
}

// Validate checks the fields the engine would otherwise reject late.
func (c Config) Validate() error {
	const op = "config"

	if c.DataDir == "" {
		return invalidParam(op, "data-dir", "must not be empty")
	}
	if c.LogLevel != "" && !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		return invalidParam(op, "log-level", fmt.Sprintf("%q is not one of %s", c.LogLevel, strings.Join(logLevels, ", ")))
	}
	if c.LogFormat != "" && !slices.Contains(logFormats, c.LogFormat) {
		return invalidParam(op, "log-format", fmt.Sprintf("%q is not one of %s", c.LogFormat, strings.Join(logFormats, ", ")))
	}
	if c.RepoKind != "" && !slices.Contains(repoKinds, c.RepoKind) {
		return invalidParam(op, "repo-kind", fmt.Sprintf("%q is not one of %s", c.RepoKind, strings.Join(repoKinds, ", ")))
	}
	for _, a := range c.ListenAddrs {
		if _, err := ma.NewMultiaddr(a); err != nil {
			return invalidParam(op, "listen-addrs", fmt.Sprintf("%q: %v", a, err))
		}
	}
	for _, b := range c.BootstrapNodes {
		if !strings.HasPrefix(b, "spr:") {
			return invalidParam(op, "bootstrap-node", fmt.Sprintf("%q is not a signed peer record", b))
		}
	}
	if c.MaxPeers < 0 {
		return invalidParam(op, "max-peers", "must not be negative")
	}
	if c.BlockTTL < 0 {
		return invalidParam(op, "block-ttl", "must not be negative")
	}
	return nil
}

// JSON returns the engine representation of c.
func (c Config) JSON() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Options configures New.
type Options struct {
	Config  Config
	Library native.Library
	Logger  *logrus.Logger
}

// Option is a functional option for configuring New.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Config: DefaultConfig(),
		Logger: logrus.StandardLogger(),
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *Options) { o.Config = cfg }
}

// WithDataDir sets the repository directory.
func WithDataDir(dir string) Option {
	return func(o *Options) { o.Config.DataDir = expandPath(dir) }
}

// WithLogLevel sets the engine log level.
func WithLogLevel(level string) Option {
	return func(o *Options) { o.Config.LogLevel = level }
}

// WithLogFormat sets the engine log format.
func WithLogFormat(format string) Option {
	return func(o *Options) { o.Config.LogFormat = format }
}

// WithListenAddrs sets the multiaddrs the node listens on.
func WithListenAddrs(addrs ...string) Option {
	return func(o *Options) { o.Config.ListenAddrs = addrs }
}

// WithDiscoveryPort sets the UDP port used for peer discovery.
func WithDiscoveryPort(port int) Option {
	return func(o *Options) { o.Config.DiscoveryPort = port }
}

// WithBootstrapNodes sets the signed peer records used to join the network.
func WithBootstrapNodes(sprs ...string) Option {
	return func(o *Options) { o.Config.BootstrapNodes = sprs }
}

// WithStorageQuota caps the repository size in bytes.
func WithStorageQuota(bytes uint64) Option {
	return func(o *Options) {
		if bytes > 0 {
			o.Config.StorageQuota = bytes
		}
	}
}

// WithBlockTTL sets how long unreferenced blocks are kept.
func WithBlockTTL(ttl time.Duration) Option {
	return func(o *Options) { o.Config.BlockTTL = int64(ttl / time.Second) }
}

// WithMaxPeers limits the number of connected peers.
func WithMaxPeers(n int) Option {
	return func(o *Options) { o.Config.MaxPeers = n }
}

// WithRepoKind selects the repository backend.
func WithRepoKind(kind string) Option {
	return func(o *Options) { o.Config.RepoKind = kind }
}

// WithLibrary selects the engine implementation.
func WithLibrary(lib native.Library) Option {
	return func(o *Options) { o.Library = lib }
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *logrus.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "codex")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "codex")
	}
	return ".codex"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
