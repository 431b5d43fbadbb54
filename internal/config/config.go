package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Engine   EngineConfig `mapstructure:"engine"`
	Reduce   ReduceConfig `mapstructure:"reduce"`
	Server   ServerConfig `mapstructure:"server"`
	LogLevel string       `mapstructure:"log_level"`
}

type EngineConfig struct {
	Backend string `mapstructure:"backend"`
	Lanes   int    `mapstructure:"lanes"`
	FPE     int    `mapstructure:"fpe"`
}

type ReduceConfig struct {
	Ranks    int    `mapstructure:"ranks"`
	Topology string `mapstructure:"topology"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	MaxElements     int    `mapstructure:"max_elements"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

// maxFPE mirrors the largest expansion the kernels accept.
const maxFPE = 16

func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			Backend: BackendSerial,
			Lanes:   0,
			FPE:     0,
		},
		Reduce: ReduceConfig{
			Ranks:    1,
			Topology: TopologyTree,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			MaxElements:     1 << 20,
			RequestTimeout:  60,
			ShutdownTimeout: 30,
		},
		LogLevel: "info",
	}
}

// flagKeys maps each flag to the config key it sets.
var flagKeys = map[string]string{
	"backend":          "engine.backend",
	"lanes":            "engine.lanes",
	"fpe":              "engine.fpe",
	"ranks":            "reduce.ranks",
	"topology":         "reduce.topology",
	"listen-addr":      "server.listen_addr",
	"workers":          "server.workers",
	"max-elements":     "server.max_elements",
	"request-timeout":  "server.request_timeout",
	"shutdown-timeout": "server.shutdown_timeout",
	"log-level":        "log_level",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("backend", defaults.Engine.Backend, "Execution backend for local vectors (serial|parallel)")
	fs.Int("lanes", defaults.Engine.Lanes, "Data-parallel lane count (0 = GOMAXPROCS)")
	fs.Int("fpe", defaults.Engine.FPE, "Floating-point expansion size in front of each accumulator (0 = default, <0 = off)")
	fs.Int("ranks", defaults.Reduce.Ranks, "Number of simulated ranks for distributed reductions")
	fs.String("topology", defaults.Reduce.Topology, "All-reduce topology (linear|tree|ring)")
	fs.String("listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent HTTP dot-product requests")
	fs.Int("max-elements", defaults.Server.MaxElements, "Max values (inputs plus result rows) in one HTTP request")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "HTTP request timeout in seconds")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("EXDOT")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("exdot")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate normalizes enumerated values in place and checks numeric ranges.
func (c *Config) Validate() error {
	backend, err := NormalizeBackend(c.Engine.Backend)
	if err != nil {
		return err
	}
	c.Engine.Backend = backend

	topology, err := NormalizeTopology(c.Reduce.Topology)
	if err != nil {
		return err
	}
	c.Reduce.Topology = topology

	switch {
	case c.Engine.Lanes < 0:
		return fmt.Errorf("engine.lanes must be >= 0, got %d", c.Engine.Lanes)
	case c.Engine.FPE > maxFPE:
		return fmt.Errorf("engine.fpe must be <= %d, got %d", maxFPE, c.Engine.FPE)
	case c.Reduce.Ranks < 1:
		return fmt.Errorf("reduce.ranks must be >= 1, got %d", c.Reduce.Ranks)
	case c.Server.Workers < 1:
		return fmt.Errorf("server.workers must be >= 1, got %d", c.Server.Workers)
	case c.Server.MaxElements < 1:
		return fmt.Errorf("server.max_elements must be >= 1, got %d", c.Server.MaxElements)
	}

	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("engine.backend", c.Engine.Backend)
	v.SetDefault("engine.lanes", c.Engine.Lanes)
	v.SetDefault("engine.fpe", c.Engine.FPE)
	v.SetDefault("reduce.ranks", c.Reduce.Ranks)
	v.SetDefault("reduce.topology", c.Reduce.Topology)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_elements", c.Server.MaxElements)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("log_level", c.LogLevel)
}

// bindFlags binds every registered config flag to its key. Flags missing
// from fs are skipped so commands may register a subset.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}
