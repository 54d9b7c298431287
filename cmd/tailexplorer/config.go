package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/tailexplorer/internal/model"
	"github.com/tinytelemetry/tailexplorer/internal/socketrpc"
	"github.com/tinytelemetry/tailexplorer/internal/stream"
)

const (
	defaultConfigPath = "config.yaml"
	defaultHost       = "0.0.0.0"
	defaultPort       = 8000
	defaultSourceID   = "default"
	defaultLogLevel   = "info"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Server     serverConfig            `mapstructure:"server" yaml:"server"`
	Logging    bufferConfig            `mapstructure:"logging" yaml:"logging"`
	Stream     streamConfig            `mapstructure:"stream" yaml:"stream"`
	Auth       authConfig              `mapstructure:"auth" yaml:"auth"`
	Log        logConfig               `mapstructure:"log" yaml:"log"`
	SocketPath string                  `mapstructure:"socket_path" yaml:"socket_path"`
	Sources    map[string]sourceConfig `mapstructure:"log_sources" yaml:"log_sources"`
	ConfigPath string                  `mapstructure:"-" yaml:"-"` // not from config file
}

type serverConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// Addr is the HTTP listen address.
func (s serverConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// bufferConfig holds the per-source buffer defaults.
type bufferConfig struct {
	MaxLinesPerSource int `mapstructure:"max_lines_per_source" yaml:"max_lines_per_source"`
	CleanupThreshold  int `mapstructure:"cleanup_threshold" yaml:"cleanup_threshold"`
}

type streamConfig struct {
	GracePeriod         time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	StopTimeout         time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	SnapshotLines       int           `mapstructure:"snapshot_lines" yaml:"snapshot_lines"`
	SnapshotIdleTimeout time.Duration `mapstructure:"snapshot_idle_timeout" yaml:"snapshot_idle_timeout"`
	SnapshotMaxIdle     int           `mapstructure:"snapshot_max_idle" yaml:"snapshot_max_idle"`
}

// MarshalYAML writes durations in their string form.
func (s streamConfig) MarshalYAML() (any, error) {
	return map[string]any{
		"grace_period":          s.GracePeriod.String(),
		"stop_timeout":          s.StopTimeout.String(),
		"snapshot_lines":        s.SnapshotLines,
		"snapshot_idle_timeout": s.SnapshotIdleTimeout.String(),
		"snapshot_max_idle":     s.SnapshotMaxIdle,
	}, nil
}

type authConfig struct {
	Password     string `mapstructure:"password" yaml:"password"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
}

type logConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

type sourceConfig struct {
	Name             string      `mapstructure:"name" yaml:"name"`
	Type             string      `mapstructure:"type" yaml:"type"`
	Command          commandLine `mapstructure:"command" yaml:"command"`
	WorkingDir       string      `mapstructure:"working_dir" yaml:"working_dir"`
	Description      string      `mapstructure:"description" yaml:"description"`
	MaxLines         int         `mapstructure:"max_lines" yaml:"max_lines,omitempty"`
	CleanupThreshold int         `mapstructure:"cleanup_threshold" yaml:"cleanup_threshold,omitempty"`
	MergeStderr      bool        `mapstructure:"merge_stderr" yaml:"merge_stderr"`
}

// commandLine is a source command as argv. In YAML it may be written as a
// single string, which is split on whitespace, or as a list.
type commandLine []string

var commandLineType = reflect.TypeOf(commandLine{})

// commandLineHook decodes a string command into argv.
func commandLineHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != commandLineType || from.Kind() != reflect.String {
		return data, nil
	}
	return commandLine(strings.Fields(data.(string))), nil
}

func defaultSources() map[string]sourceConfig {
	return map[string]sourceConfig{
		defaultSourceID: {
			Name:        "Default logs",
			Type:        "docker-compose",
			Command:     commandLine{"docker-compose", "logs", "-f", "--tail=100"},
			WorkingDir:  ".",
			Description: "Default Docker Compose logs",
		},
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	v := viper.New()
	v.SetEnvPrefix("TAILEXPLORER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault("server.host", defaultHost)
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("logging.max_lines_per_source", model.DefaultMaxLines)
	v.SetDefault("logging.cleanup_threshold", model.DefaultCleanupThreshold)
	v.SetDefault("stream.grace_period", model.DefaultGracePeriod)
	v.SetDefault("stream.stop_timeout", model.DefaultStopTimeout)
	v.SetDefault("stream.snapshot_lines", model.DefaultSnapshotLines)
	v.SetDefault("stream.snapshot_idle_timeout", model.DefaultSnapshotIdleTimeout)
	v.SetDefault("stream.snapshot_max_idle", model.DefaultSnapshotMaxIdle)
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.password_hash", "")
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.file", "")
	v.SetDefault("socket_path", socketrpc.DefaultSocketPath())

	if configPath == "" {
		configPath = defaultConfigPath
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("reading %s: %w", configPath, err)
		}
	} else {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		commandLineHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return cfg, err
	}

	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultSources()
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c appConfig) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if err := checkThresholds("logging", c.Logging.MaxLinesPerSource, c.Logging.CleanupThreshold); err != nil {
		return err
	}
	if c.Stream.GracePeriod <= 0 {
		return fmt.Errorf("invalid stream.grace_period: %s", c.Stream.GracePeriod)
	}
	if c.Stream.SnapshotLines < 0 || c.Stream.SnapshotMaxIdle < 0 {
		return errors.New("stream snapshot limits must not be negative")
	}
	for id, src := range c.Sources {
		if strings.TrimSpace(id) == "" {
			return errors.New("log_sources: empty source id")
		}
		if len(src.Command) == 0 {
			return fmt.Errorf("log_sources.%s: command is required", id)
		}
		maxLines, cleanup := c.bufferLimits(src)
		if err := checkThresholds("log_sources."+id, maxLines, cleanup); err != nil {
			return err
		}
	}
	return nil
}

func checkThresholds(scope string, maxLines, cleanup int) error {
	if maxLines <= 0 {
		return fmt.Errorf("%s: max lines must be positive, got %d", scope, maxLines)
	}
	if cleanup <= 0 || cleanup >= maxLines {
		return fmt.Errorf("%s: cleanup threshold %d must be between 0 and max lines %d", scope, cleanup, maxLines)
	}
	return nil
}

// bufferLimits resolves a source's buffer limits against the global ones.
func (c appConfig) bufferLimits(src sourceConfig) (int, int) {
	maxLines, cleanup := src.MaxLines, src.CleanupThreshold
	if maxLines <= 0 {
		maxLines = c.Logging.MaxLinesPerSource
	}
	if cleanup <= 0 {
		cleanup = c.Logging.CleanupThreshold
		if cleanup >= maxLines {
			cleanup = maxLines / 2
		}
	}
	return maxLines, cleanup
}

// sourceSpecs converts the configured sources into registry specs, sorted by id.
func (c appConfig) sourceSpecs() []stream.SourceSpec {
	ids := make([]string, 0, len(c.Sources))
	for id := range c.Sources {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	specs := make([]stream.SourceSpec, 0, len(ids))
	for _, id := range ids {
		src := c.Sources[id]
		maxLines, cleanup := c.bufferLimits(src)
		name := src.Name
		if name == "" {
			name = id
		}
		specs = append(specs, stream.SourceSpec{
			ID:               model.SourceID(id),
			Name:             name,
			Type:             src.Type,
			Description:      src.Description,
			Command:          slices.Clone([]string(src.Command)),
			WorkingDir:       src.WorkingDir,
			MaxLines:         maxLines,
			CleanupThreshold: cleanup,
			MergeStderr:      src.MergeStderr,
		})
	}
	return specs
}

// dumpConfig renders the effective configuration as YAML with secrets masked.
func dumpConfig(c appConfig) ([]byte, error) {
	if c.Auth.Password != "" {
		c.Auth.Password = "********"
	}
	return yaml.Marshal(c)
}
