// Package config loads runtime settings from defaults, an optional config
// file and OPRT_ environment variables, in increasing priority.
//
//	log:
//	  level: info          # debug, info, warn, error
//	  encoding: console    # console or json
//	permissions:
//	  net: ["127.0.0.1"]
//	  read: ["/srv/plugins"]
//	  run: false
//	  plugin: true
//	  signal: false
//	storage:
//	  dir: /var/lib/oprt
//	runtime:
//	  collision: error     # error or replace
//	  completion_capacity: 1024
//	  disabled: [process_shell] # ops that fail as unsupported
//	  trace: false         # span per call on the global OpenTelemetry provider
//	plugin:
//	  memory_limit_pages: 256
//	  wasi: false
//
// Nested keys map to variables with dots replaced by underscores, e.g.
// OPRT_LOG_LEVEL or OPRT_PERMISSIONS_NET=example.com,127.0.0.1.
package config

import (
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ext"
	"github.com/wippyai/op-runtime/ext/plugin"
	"github.com/wippyai/op-runtime/middleware"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/permissions"
	"github.com/wippyai/op-runtime/runtime"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OPRT"

// Log configures the logger.
type Log struct {
	Level    string `mapstructure:"level" yaml:"level"`
	Encoding string `mapstructure:"encoding" yaml:"encoding"`
}

// Storage configures persistent storage.
type Storage struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Runtime configures dispatch.
type Runtime struct {
	Collision          string   `mapstructure:"collision" yaml:"collision"`
	Disabled           []string `mapstructure:"disabled" yaml:"disabled"`
	CompletionCapacity int      `mapstructure:"completion_capacity" yaml:"completion_capacity"`
	Trace              bool     `mapstructure:"trace" yaml:"trace"`
}

// Config is the full configuration.
type Config struct {
	Log         Log                     `mapstructure:"log" yaml:"log"`
	Storage     Storage                 `mapstructure:"storage" yaml:"storage"`
	Runtime     Runtime                 `mapstructure:"runtime" yaml:"runtime"`
	Permissions permissions.Permissions `mapstructure:"permissions" yaml:"permissions"`
	Plugin      plugin.Config           `mapstructure:"plugin" yaml:"plugin"`
}

// Default returns the built-in defaults. Every capability is denied.
func Default() *Config {
	return &Config{
		Log:     Log{Level: "info", Encoding: "console"},
		Runtime: Runtime{Collision: ops.CollisionError.String(), CompletionCapacity: runtime.DefaultCompletionCapacity},
	}
}

// Load reads the configuration. path may be empty to use defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("storage.dir", d.Storage.Dir)
	v.SetDefault("runtime.collision", d.Runtime.Collision)
	v.SetDefault("runtime.completion_capacity", d.Runtime.CompletionCapacity)
	v.SetDefault("runtime.disabled", []string{})
	v.SetDefault("runtime.trace", d.Runtime.Trace)
	v.SetDefault("permissions.net", []string{})
	v.SetDefault("permissions.read", []string{})
	v.SetDefault("permissions.write", []string{})
	v.SetDefault("permissions.run", d.Permissions.Run)
	v.SetDefault("permissions.plugin", d.Permissions.Plugin)
	v.SetDefault("permissions.signal", d.Permissions.Signal)
	v.SetDefault("plugin.memory_limit_pages", d.Plugin.MemoryLimitPages)
	v.SetDefault("plugin.wasi", d.Plugin.WASI)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Cause(err).
				Path(path).
				Detail("read config").
				Build()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "decode config")
	}
	return &cfg, nil
}

// Logger builds a zap logger writing to stderr.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.Encoding = c.Log.Encoding
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	if c.Log.Encoding == "console" {
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	log, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.encoding")
	}
	return log, nil
}

// Options turns the configuration into runtime options with every
// capability extension installed. extra middleware runs inside the
// configured tracing, logging and disabling layers.
func (c *Config) Options(log *zap.Logger, extra ...ops.Middleware) ([]runtime.Option, error) {
	policy, err := ops.ParseCollisionPolicy(c.Runtime.Collision)
	if err != nil {
		return nil, err
	}

	var mws []ops.Middleware
	if c.Runtime.Trace {
		mws = append(mws, middleware.Tracing(nil))
	}
	mws = append(mws, middleware.Logging(log))
	if len(c.Runtime.Disabled) > 0 {
		mws = append(mws, middleware.Disable(c.Runtime.Disabled...))
	}
	mws = append(mws, extra...)

	perms := c.Permissions
	return []runtime.Option{
		runtime.WithLogger(log),
		runtime.WithMiddleware(ops.Chain(mws...)),
		runtime.WithCollisionPolicy(policy),
		runtime.WithCompletionCapacity(c.Runtime.CompletionCapacity),
		runtime.WithPermissions(&perms),
		runtime.WithExtensions(ext.Std(ext.Config{
			Plugin:     c.Plugin,
			StorageDir: c.Storage.Dir,
		})),
	}, nil
}
