package codex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aweris/codex-go/internal/bridge"
	"github.com/aweris/codex-go/internal/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.DataDir = "/var/lib/codex"
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantParam string
	}{
		{"defaults", func(*Config) {}, ""},
		{"upper case level", func(c *Config) { c.LogLevel = "DEBUG" }, ""},
		{"no data dir", func(c *Config) { c.DataDir = "" }, "data-dir"},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }, "log-level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log-format"},
		{"bad repo", func(c *Config) { c.RepoKind = "s3" }, "repo-kind"},
		{"bad listen addr", func(c *Config) { c.ListenAddrs = []string{"0.0.0.0:8070"} }, "listen-addrs"},
		{"bad bootstrap", func(c *Config) { c.BootstrapNodes = []string{"enr:-abc"} }, "bootstrap-node"},
		{"good bootstrap", func(c *Config) { c.BootstrapNodes = []string{"spr:CiUIAhIh"} }, ""},
		{"negative peers", func(c *Config) { c.MaxPeers = -1 }, "max-peers"},
		{"negative ttl", func(c *Config) { c.BlockTTL = -5 }, "block-ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantParam == "" {
				assert.NoError(t, err)
				return
			}
			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.wantParam, cerr.Param)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestConfigJSON(t *testing.T) {
	o := defaultOptions()
	for _, opt := range []Option{
		WithDataDir("/data/codex"),
		WithLogLevel(LogTrace),
		WithListenAddrs("/ip4/0.0.0.0/tcp/8070"),
		WithDiscoveryPort(8090),
		WithBootstrapNodes("spr:abc"),
		WithMaxPeers(20),
		WithStorageQuota(1 << 30),
		WithBlockTTL(2 * time.Hour),
		WithRepoKind(RepoLevelDB),
	} {
		opt(o)
	}

	raw, err := o.Config.JSON()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "/data/codex", got["data-dir"])
	assert.Equal(t, "trace", got["log-level"])
	assert.Equal(t, []any{"/ip4/0.0.0.0/tcp/8070"}, got["listen-addrs"])
	assert.Equal(t, float64(8090), got["disc-port"])
	assert.Equal(t, []any{"spr:abc"}, got["bootstrap-node"])
	assert.Equal(t, float64(20), got["max-peers"])
	assert.Equal(t, float64(1<<30), got["storage-quota"])
	assert.Equal(t, float64(7200), got["block-ttl"])
	assert.Equal(t, "leveldb", got["repo-kind"])
	assert.NotContains(t, got, "num-threads")
}

func TestOptionDefaults(t *testing.T) {
	o := defaultOptions()
	WithStorageQuota(0)(o)
	WithLogger(nil)(o)

	assert.Equal(t, uint64(defaultQuota), o.Config.StorageQuota)
	assert.NotNil(t, o.Logger)
	assert.Equal(t, RepoFS, o.Config.RepoKind)
}

func TestDataDirExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	o := defaultOptions()
	WithDataDir("~/codex-data")(o)
	assert.Equal(t, filepath.Join(home, "codex-data"), o.Config.DataDir)

	t.Setenv("XDG_DATA_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "codex"), defaultDataDir())
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{invalidParam("connect", "peer_id", "peer ID cannot be empty"), "codex: connect: invalid peer_id: peer ID cannot be empty"},
		{stateError("stop", "node is not started"), "codex: stop: node is not started"},
		{destroyed("start"), "codex: start: node has been destroyed"},
		{&Error{Kind: KindIO, Op: "upload"}, "codex: upload: io"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestCallErrorMapping(t *testing.T) {
	rejected := callError("version", &bridge.RejectedError{Op: "version", Status: native.StatusErr})
	assert.ErrorIs(t, rejected, ErrCallRejected)
	assert.NotErrorIs(t, rejected, ErrNativeFailure)

	failed := callError("start", &bridge.NativeError{Status: native.StatusErr, Message: "boom"})
	assert.ErrorIs(t, failed, ErrNativeFailure)
	var nerr *bridge.NativeError
	assert.True(t, errors.As(failed, &nerr))

	wrapped := fmt.Errorf("outer: %w", context.Canceled)
	assert.Same(t, wrapped, callError("stop", wrapped))
	assert.Nil(t, callError("stop", nil))
}
