package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration. Every key can be overridden from the
// environment as QMRESULTS_<SECTION>_<KEY>, e.g. QMRESULTS_SERVER_ADDR.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Client    ClientConfig    `mapstructure:"client" yaml:"client"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

type ServerConfig struct {
	Addr   string `mapstructure:"addr" yaml:"addr"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	// Legacy serves only the first-generation protocol.
	Legacy      bool   `mapstructure:"legacy" yaml:"legacy"`
	PieceSize   int    `mapstructure:"piece_size" yaml:"piece_size"`
	ServerID    string `mapstructure:"server_id" yaml:"server_id"`
	DebugErrors bool   `mapstructure:"debug_errors" yaml:"debug_errors"`
}

type ClientConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// LogLevel is the lowest server log level forwarded to the client.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type TelemetryConfig struct {
	// Stdout exports traces and metrics to standard output.
	Stdout bool `mapstructure:"stdout" yaml:"stdout"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:      "127.0.0.1:8080",
			Prefix:    "/qm",
			PieceSize: 64 << 10,
			ServerID:  "qmresults",
		},
		Client: ClientConfig{
			URL:      "http://127.0.0.1:8080/qm",
			Timeout:  30 * time.Second,
			LogLevel: "INFO",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads configuration from path. With an empty path it looks for
// qmresults.yaml in the working directory and tolerates its absence.
// Environment overrides are applied last.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("qmresults")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("QMRESULTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.prefix", cfg.Server.Prefix)
	v.SetDefault("server.legacy", cfg.Server.Legacy)
	v.SetDefault("server.piece_size", cfg.Server.PieceSize)
	v.SetDefault("server.server_id", cfg.Server.ServerID)
	v.SetDefault("server.debug_errors", cfg.Server.DebugErrors)
	v.SetDefault("client.url", cfg.Client.URL)
	v.SetDefault("client.timeout", cfg.Client.Timeout)
	v.SetDefault("client.log_level", cfg.Client.LogLevel)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("telemetry.stdout", cfg.Telemetry.Stdout)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !strings.HasPrefix(c.Server.Prefix, "/") {
		return fmt.Errorf("server.prefix must start with '/', got %q", c.Server.Prefix)
	}
	if c.Server.PieceSize <= 0 {
		return fmt.Errorf("server.piece_size must be positive, got %d", c.Server.PieceSize)
	}
	u, err := url.Parse(c.Client.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("client.url must include scheme and host (e.g. http://localhost:8080/qm)")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log.format %q", c.Log.Format)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unsupported log.level %q", s)
	}
	return l, nil
}

func (c LogConfig) newLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}
