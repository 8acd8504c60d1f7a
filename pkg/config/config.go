package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fulmenhq/exportsync/pkg/track"
)

// Config holds all configuration for exportsync
type Config struct {
	VaultDir           string          `mapstructure:"vault_dir"`
	VaultZip           string          `mapstructure:"vault_zip"`
	ExportRoot         string          `mapstructure:"export_root"`
	Destination        string          `mapstructure:"destination"`
	FocusTracksRaw     string          `mapstructure:"focus_tracks"`
	MinReportsRaw      string          `mapstructure:"min_reports"`
	AllowZipFallback   bool            `mapstructure:"allow_zip_fallback"`
	AllowFocusMismatch bool            `mapstructure:"allow_focus_mismatch"`
	MetricsFile        string          `mapstructure:"metrics_file"`
	Discovery          DiscoveryConfig `mapstructure:"discovery"`

	// FocusTracksExplicit is true when a flag, the environment or the config
	// file set focus_tracks rather than the built-in default.
	FocusTracksExplicit bool `mapstructure:"-"`
}

// DiscoveryConfig bounds candidate discovery
type DiscoveryConfig struct {
	MaxDepth    int      `mapstructure:"max_depth"`
	Exclude     []string `mapstructure:"exclude"`
	IgnoreFile  string   `mapstructure:"ignore_file"`
	Concurrency int      `mapstructure:"concurrency"`
}

var defaultConfig = Config{
	VaultZip:       "13 - Lattice Labs.zip",
	Destination:    "public/data/site_export.v1",
	FocusTracksRaw: "critical_minerals,maritime_logistics",
	MinReportsRaw:  "1",
	Discovery: DiscoveryConfig{
		MaxDepth:    8,
		Exclude:     []string{},
		IgnoreFile:  ".exportsyncignore",
		Concurrency: 4,
	},
}

// envBindings maps config keys to the environment variables the site
// tooling already exports.
var envBindings = map[string]string{
	"vault_dir":            "CLARUM_VAULT_DIR",
	"vault_zip":            "CLARUM_VAULT_ZIP",
	"export_root":          "CLARUM_EXPORT_ROOT",
	"destination":          "CLARUM_SITE_EXPORT_DEST",
	"focus_tracks":         "CLARUM_SYNC_FOCUS_TRACKS",
	"min_reports":          "CLARUM_SYNC_MIN_REPORTS",
	"allow_zip_fallback":   "CLARUM_ALLOW_ZIP_FALLBACK",
	"allow_focus_mismatch": "CLARUM_ALLOW_FOCUS_MISMATCH",
	"discovery.max_depth":  "CLARUM_DISCOVERY_MAX_DEPTH",
	"metrics_file":         "CLARUM_SYNC_METRICS_FILE",
}

// envFallbacks lists older variable names consulted after the primary one.
var envFallbacks = map[string][]string{
	"focus_tracks": {"SYNC_EXPECT_TRACKS"},
}

// FlagKeys maps command flag names to config keys. Only flags present on the
// bound flag set are consulted.
var FlagKeys = map[string]string{
	"vault-dir":            "vault_dir",
	"vault-zip":            "vault_zip",
	"export-root":          "export_root",
	"dest":                 "destination",
	"focus":                "focus_tracks",
	"min-reports":          "min_reports",
	"allow-zip-fallback":   "allow_zip_fallback",
	"allow-focus-mismatch": "allow_focus_mismatch",
	"max-depth":            "discovery.max_depth",
	"exclude":              "discovery.exclude",
	"ignore-file":          "discovery.ignore_file",
	"concurrency":          "discovery.concurrency",
	"metrics-file":         "metrics_file",
}

// LoadOptions selects the config file and the flags layered on top.
type LoadOptions struct {
	// ConfigFile is an explicit path; empty searches for exportsync.yaml in
	// the working directory.
	ConfigFile string
	Flags      *pflag.FlagSet
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("vault_dir", defaultConfig.VaultDir)
	v.SetDefault("vault_zip", defaultConfig.VaultZip)
	v.SetDefault("export_root", defaultConfig.ExportRoot)
	v.SetDefault("destination", defaultConfig.Destination)
	v.SetDefault("focus_tracks", defaultConfig.FocusTracksRaw)
	v.SetDefault("min_reports", defaultConfig.MinReportsRaw)
	v.SetDefault("allow_zip_fallback", defaultConfig.AllowZipFallback)
	v.SetDefault("allow_focus_mismatch", defaultConfig.AllowFocusMismatch)
	v.SetDefault("metrics_file", defaultConfig.MetricsFile)

	v.SetDefault("discovery.max_depth", defaultConfig.Discovery.MaxDepth)
	v.SetDefault("discovery.exclude", defaultConfig.Discovery.Exclude)
	v.SetDefault("discovery.ignore_file", defaultConfig.Discovery.IgnoreFile)
	v.SetDefault("discovery.concurrency", defaultConfig.Discovery.Concurrency)
}

// Load layers defaults, the config file, environment variables and flags,
// in increasing priority.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("exportsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else if err := ValidateFile(v.ConfigFileUsed()); err != nil {
		return nil, err
	}

	for key, env := range envBindings {
		names := append([]string{key, env}, envFallbacks[key]...)
		if err := v.BindEnv(names...); err != nil {
			return nil, fmt.Errorf("error binding env %s: %w", env, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("error binding flag --%s: %w", name, err)
				}
			}
		}
	}

	// A YAML list of focus tracks is accepted alongside the comma form.
	if list, ok := v.Get("focus_tracks").([]interface{}); ok {
		parts := make([]string, 0, len(list))
		for _, p := range list {
			parts = append(parts, fmt.Sprint(p))
		}
		v.Set("focus_tracks", strings.Join(parts, ","))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %v", err)
	}
	cfg.FocusTracksExplicit = v.InConfig("focus_tracks") ||
		envSet(append([]string{envBindings["focus_tracks"]}, envFallbacks["focus_tracks"]...)) ||
		(opts.Flags != nil && opts.Flags.Changed("focus"))
	if cfg.Discovery.MaxDepth <= 0 {
		cfg.Discovery.MaxDepth = defaultConfig.Discovery.MaxDepth
	}
	if cfg.Discovery.Concurrency <= 0 {
		cfg.Discovery.Concurrency = defaultConfig.Discovery.Concurrency
	}
	return &cfg, nil
}

func envSet(names []string) bool {
	for _, n := range names {
		if os.Getenv(n) != "" {
			return true
		}
	}
	return false
}

// FocusTracks parses the configured focus list, falling back to the default
// tracks when it is blank.
func (c *Config) FocusTracks() []track.Key {
	return track.ParseFocus(c.FocusTracksRaw)
}

// MinReports parses the configured threshold. Invalid or negative values
// yield 1.
func (c *Config) MinReports() int {
	return track.ParseMinReports(c.MinReportsRaw)
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	cfg.Discovery.Exclude = append([]string{}, defaultConfig.Discovery.Exclude...)
	return &cfg
}
