package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	codex "github.com/aweris/codex-go"
	"github.com/aweris/codex-go/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

var rootCmd = &cobra.Command{
	Use:               "codex",
	Short:             "Codex storage node CLI",
	Long:              "CLI for running a Codex node, storing datasets and mirroring them through OCI registries.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ~/.config/codex/config.yaml)")
	flags.String("data-dir", "", "repository directory (default: ~/.local/share/codex)")
	flags.String("log-level", codex.LogInfo, "engine and CLI log level")
	flags.String("log-format", "auto", "log format (auto, colors, nocolors, json)")
	flags.StringSlice("listen", nil, "multiaddrs to listen on")
	flags.StringSlice("bootstrap", nil, "signed peer records of bootstrap nodes")
	flags.Uint64("storage-quota", 0, "repository quota in bytes")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")

	viper.BindPFlag("data_dir", flags.Lookup("data-dir"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("listen", flags.Lookup("listen"))
	viper.BindPFlag("bootstrap", flags.Lookup("bootstrap"))
	viper.BindPFlag("storage_quota", flags.Lookup("storage-quota"))
	viper.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CODEX")
	viper.AutomaticEnv()
	viper.SetDefault("data_dir", defaultDataDir())

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codex")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "codex")
	}
	return ".codex"
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "codex")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "codex")
	}
	return ".codex"
}

// setup configures logging and the metrics endpoint before any command runs.
func setup(cmd *cobra.Command, _ []string) error {
	level := viper.GetString("log_level")
	if level == codex.LogNotice {
		level = codex.LogInfo
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(cmd.ErrOrStderr())
	if viper.GetString("log_format") == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	if addr := viper.GetString("metrics_addr"); addr != "" {
		serveMetrics(addr)
	}
	return nil
}

func serveMetrics(addr string) {
	metrics.Register(prometheus.DefaultRegisterer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).WithField("addr", addr).Error("Metrics server failed")
		}
	}()
}

// openNode creates and starts a node from the CLI configuration.
func openNode(ctx context.Context) (*codex.Node, error) {
	opts := []codex.Option{
		codex.WithDataDir(viper.GetString("data_dir")),
		codex.WithLogLevel(viper.GetString("log_level")),
		codex.WithLogFormat(viper.GetString("log_format")),
		codex.WithStorageQuota(viper.GetUint64("storage_quota")),
	}
	if addrs := viper.GetStringSlice("listen"); len(addrs) > 0 {
		opts = append(opts, codex.WithListenAddrs(addrs...))
	}
	if sprs := viper.GetStringSlice("bootstrap"); len(sprs) > 0 {
		opts = append(opts, codex.WithBootstrapNodes(sprs...))
	}

	n, err := codex.New(opts...)
	if err != nil {
		return nil, err
	}
	if err := n.StartContext(ctx); err != nil {
		n.Release()
		return nil, err
	}
	return n, nil
}

func closeNode(n *codex.Node) error {
	defer n.Release()
	return multierr.Combine(n.Stop(), n.Destroy())
}

// withNode runs fn against a started node and shuts the node down after.
func withNode(fn func(cmd *cobra.Command, n *codex.Node, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		n, err := openNode(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, closeNode(n))
		}()
		return fn(cmd, n, args)
	}
}
