// Package config loads sio2prom settings from a JSON file, environment
// variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "cfg/sio2prom.json"

// EnvPrefix prefixes environment overrides, e.g. SIO2PROM_SIO_PASS.
const EnvPrefix = "SIO2PROM"

// Source kinds.
const (
	SourceSIO      = "sio"
	SourceSnapshot = "snapshot"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete sio2prom configuration.
type Config struct {
	SIO    SIO    `mapstructure:"sio"`
	Prom   Prom   `mapstructure:"prom"`
	Source Source `mapstructure:"source"`
	Log    Log    `mapstructure:"log"`
}

// SIO configures the ScaleIO gateway.
type SIO struct {
	Host string `mapstructure:"host"`
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
	// MetricUpdate is the collection interval in seconds. Zero disables
	// periodic collection.
	MetricUpdate int  `mapstructure:"metric_update"`
	Insecure     bool `mapstructure:"insecure"`
	// Definitions is a metric definitions file. Empty uses the built-in set.
	Definitions string `mapstructure:"definitions"`
	// InstanceTTL is how long instance listings are cached, in seconds.
	InstanceTTL int `mapstructure:"instance_ttl"`
	// Timeout bounds a single gateway request, in seconds.
	Timeout int `mapstructure:"timeout"`
}

// Prom configures the exposition endpoint.
type Prom struct {
	ListenIP    string `mapstructure:"listen_ip"`
	ListenPort  int    `mapstructure:"listen_port"`
	Path        string `mapstructure:"path"`
	GoCollector bool   `mapstructure:"go_collector"`
	Compression bool   `mapstructure:"compression"`
}

// Source selects where measurements come from.
type Source struct {
	Kind string `mapstructure:"kind"`
	// Snapshot is a snapshot URL, used when Kind is "snapshot".
	Snapshot string `mapstructure:"snapshot"`
}

// Log configures logging.
type Log struct {
	Level string `mapstructure:"level"`
}

// Interval returns the collection interval.
func (c Config) Interval() time.Duration {
	return time.Duration(c.SIO.MetricUpdate) * time.Second
}

// ListenAddr returns the exposition listen address.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(strings.Trim(c.Prom.ListenIP, `"`), strconv.Itoa(c.Prom.ListenPort))
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs error
	invalid := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.Source.Kind {
	case SourceSIO:
		if c.SIO.Host == "" {
			invalid("sio.host is required for the %s source", SourceSIO)
		}
	case SourceSnapshot:
		if c.Source.Snapshot == "" {
			invalid("source.snapshot is required for the %s source", SourceSnapshot)
		}
	default:
		invalid("unknown source.kind %q", c.Source.Kind)
	}

	if c.SIO.MetricUpdate < 0 {
		invalid("sio.metric_update must not be negative, got %d", c.SIO.MetricUpdate)
	}
	if c.SIO.InstanceTTL < 0 {
		invalid("sio.instance_ttl must not be negative, got %d", c.SIO.InstanceTTL)
	}
	if c.SIO.Timeout <= 0 {
		invalid("sio.timeout must be positive, got %d", c.SIO.Timeout)
	}
	if c.Prom.ListenPort < 1 || c.Prom.ListenPort > 65535 {
		invalid("prom.listen_port must be in 1..65535, got %d", c.Prom.ListenPort)
	}
	if !strings.HasPrefix(c.Prom.Path, "/") {
		invalid("prom.path must start with /, got %q", c.Prom.Path)
	}
	return errs
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"sio-host":     "sio.host",
	"sio-user":     "sio.user",
	"interval":     "sio.metric_update",
	"insecure":     "sio.insecure",
	"definitions":  "sio.definitions",
	"listen-ip":    "prom.listen_ip",
	"listen-port":  "prom.listen_port",
	"metrics-path": "prom.path",
	"source":       "source.kind",
	"snapshot":     "source.snapshot",
	"log-level":    "log.level",
	"go-collector": "prom.go_collector",
	"compression":  "prom.compression",
	"instance-ttl": "sio.instance_ttl",
	"sio-timeout":  "sio.timeout",
}

// Load reads the config file at path, applying environment and flag
// overrides. An empty path reads DefaultPath if it exists. flags may be nil;
// only flags named in flagKeys and set by the user override the file.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("json")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("cfg")
		v.SetConfigName("sio2prom")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sio.host", "")
	v.SetDefault("sio.user", "")
	v.SetDefault("sio.pass", "")
	v.SetDefault("sio.metric_update", 60)
	v.SetDefault("sio.insecure", false)
	v.SetDefault("sio.definitions", "")
	v.SetDefault("sio.instance_ttl", 300)
	v.SetDefault("sio.timeout", 60)
	v.SetDefault("prom.listen_ip", "0.0.0.0")
	v.SetDefault("prom.listen_port", 8080)
	v.SetDefault("prom.path", "/metrics")
	v.SetDefault("prom.go_collector", false)
	v.SetDefault("prom.compression", true)
	v.SetDefault("source.kind", SourceSIO)
	v.SetDefault("source.snapshot", "")
	v.SetDefault("log.level", "info")
}

// RegisterFlags adds the override flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("sio-host", "", "ScaleIO gateway host (overrides sio.host)")
	fs.String("sio-user", "", "ScaleIO gateway user (overrides sio.user)")
	fs.Int("interval", 0, "collection interval in seconds, 0 disables (overrides sio.metric_update)")
	fs.Bool("insecure", false, "skip gateway TLS verification (overrides sio.insecure)")
	fs.String("definitions", "", "metric definitions file (overrides sio.definitions)")
	fs.Int("instance-ttl", 0, "instance listing cache TTL in seconds (overrides sio.instance_ttl)")
	fs.Int("sio-timeout", 0, "gateway request timeout in seconds (overrides sio.timeout)")
	fs.String("listen-ip", "", "exposition listen address (overrides prom.listen_ip)")
	fs.Int("listen-port", 0, "exposition listen port (overrides prom.listen_port)")
	fs.String("metrics-path", "", "exposition path (overrides prom.path)")
	fs.Bool("go-collector", false, "export Go runtime and process metrics (overrides prom.go_collector)")
	fs.Bool("compression", true, "compress responses when the client accepts it (overrides prom.compression)")
	fs.String("source", "", "measurement source: sio or snapshot (overrides source.kind)")
	fs.String("snapshot", "", "snapshot URL for the snapshot source (overrides source.snapshot)")
	fs.String("log-level", "", "log level (overrides log.level)")
}
