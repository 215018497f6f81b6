// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package config gathers the settings of a blackdig run from CLI flags,
environment variables with the "BLACKDIG_" prefix, and an optional YAML
configuration file, in this order of precedence.

Nested settings map to flags and environment variables by replacing dots with
dashes and underscores respectively, so "lookup.timeout" becomes
"--lookup-timeout" and "BLACKDIG_LOOKUP_TIMEOUT".
*/
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/siemens/blackdig/capture"
	"github.com/siemens/blackdig/geo"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes all environment variables carrying settings.
const EnvPrefix = "BLACKDIG"

// Config holds the settings of a run.
type Config struct {
	Blacklist string `mapstructure:"blacklist" validate:"required"`
	Capture   string `mapstructure:"capture" validate:"required"`
	Backend   string `mapstructure:"backend" validate:"oneof=pcap tshark"`
	Tshark    string `mapstructure:"tshark" validate:"required_if=Backend tshark"`
	AuditLog  string `mapstructure:"audit-log" validate:"required"`
	Workers   int    `mapstructure:"workers" validate:"min=1,max=32"`

	Lookup struct {
		URL          string        `mapstructure:"url" validate:"required,http_url"`
		Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0,lte=5m"`
		Token        string        `mapstructure:"token"`
		RateLimit    float64       `mapstructure:"rate-limit" validate:"gte=0"`
		Burst        int           `mapstructure:"burst" validate:"gte=0"`
		Retries      int           `mapstructure:"retries" validate:"gte=0,lte=10"`
		RetryBackoff time.Duration `mapstructure:"retry-backoff" validate:"gte=0"`
	} `mapstructure:"lookup"`

	Cache struct {
		TTL           time.Duration `mapstructure:"ttl" validate:"gte=0"`
		Redis         string        `mapstructure:"redis" validate:"omitempty,hostname_port"`
		RedisPassword string        `mapstructure:"redis-password"`
		RedisDB       int           `mapstructure:"redis-db" validate:"gte=0"`
	} `mapstructure:"cache"`

	Resolver    string `mapstructure:"resolver" validate:"omitempty,hostname_port"`
	MetricsFile string `mapstructure:"metrics-file"`
	DryRun      bool   `mapstructure:"dry-run"`
}

// setting describes a single setting together with its default value and
// the usage of its flag.
type setting struct {
	key   string
	value any
	usage string
}

var settings = []setting{
	{"blacklist", "blacklist.txt", "blacklist `file` with one address per line, optionally .gz or .zst compressed"},
	{"capture", "http.cap", "packet capture `file` to check"},
	{"backend", string(capture.BackendPcap), "capture reader backend, either \"pcap\" or \"tshark\""},
	{"tshark", "tshark", "tshark `binary` used by the tshark backend"},
	{"audit-log", "flagged_ips.log", "audit log `file`, truncated at the start of each run"},
	{"workers", 5, "number of concurrent lookups (1..32)"},
	{"lookup.url", geo.DefaultBaseURL, "base `URL` of the geolocation lookup service"},
	{"lookup.timeout", geo.DefaultTimeout, "timeout of a single lookup"},
	{"lookup.token", "", "API `token` of the lookup service"},
	{"lookup.rate-limit", 0.0, "maximum lookups per second, 0 for unlimited"},
	{"lookup.burst", 1, "lookup burst size when rate limiting"},
	{"lookup.retries", 0, "retries of lookups failing transiently"},
	{"lookup.retry-backoff", 500 * time.Millisecond, "initial backoff between lookup retries"},
	{"cache.ttl", 24 * time.Hour, "time-to-live of cached lookups"},
	{"cache.redis", "", "Redis server `host:port` for caching lookups across runs"},
	{"cache.redis-password", "", "Redis `password`"},
	{"cache.redis-db", 0, "Redis database number"},
	{"resolver", "", "DNS resolver `host:port` for reverse lookups of flagged addresses"},
	{"metrics-file", "", "write Prometheus metrics textfile to `file`"},
	{"dry-run", false, "only report flagged addresses, without lookups and without touching the audit log"},
}

// FlagName returns the name of the CLI flag for the specified setting key.
func FlagName(key string) string { return strings.ReplaceAll(key, ".", "-") }

// RegisterFlags defines the CLI flags for all settings on the specified flag
// set, with their default values.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, s := range settings {
		name := FlagName(s.key)
		switch v := s.value.(type) {
		case string:
			fs.String(name, v, s.usage)
		case int:
			fs.Int(name, v, s.usage)
		case float64:
			fs.Float64(name, v, s.usage)
		case bool:
			fs.Bool(name, v, s.usage)
		case time.Duration:
			fs.Duration(name, v, s.usage)
		}
	}
}

// New returns a new viper instance with defaults, environment variables and
// the flags of the specified flag set bound to the settings.
func New(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if fs == nil {
		return v, nil
	}
	for _, s := range settings {
		flag := fs.Lookup(FlagName(s.key))
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(s.key, flag); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Load returns the validated settings, after reading the named YAML
// configuration file if not empty.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("cannot read configuration file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode configuration: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report setting keys instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		return name
	})
	return v
}()

// Validate checks the settings for sane values, reporting the offending
// settings by their keys.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	problems := make([]string, 0, len(verrs))
	for _, ferr := range verrs {
		_, key, _ := strings.Cut(ferr.Namespace(), ".")
		problems = append(problems, fmt.Sprintf("invalid %s %q (%s)",
			key, fmt.Sprint(ferr.Value()), ferr.ActualTag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
}
