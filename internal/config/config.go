// Package config loads and validates runtime configuration and sets up
// logging.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"io"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/goby/internal/ir"
)

//go:embed config.cue
var schemaCUE string

const (
	DefaultBundleName         = "index.android.bundle"
	DefaultBinaryBundlePrefix = "assets://"
	DefaultServerURL          = "https://goby.azurewebsites.net/"
	DefaultLogLevel           = "info"
)

// Config is the runtime configuration. Field names follow the YAML keys.
type Config struct {
	// DataDir holds the settings database and the package store.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	BundleName         string `yaml:"bundle_name" json:"bundle_name"`
	BinaryBundlePrefix string `yaml:"binary_bundle_prefix" json:"binary_bundle_prefix"`

	DeploymentKey string `yaml:"deployment_key" json:"deployment_key"`
	ServerURL     string `yaml:"server_url" json:"server_url"`

	DebugMode bool `yaml:"debug_mode" json:"debug_mode"`

	// TestConfiguration makes fingerprint checks ignore the app version.
	TestConfiguration bool `yaml:"test_configuration" json:"test_configuration"`

	AppVersionOverride string `yaml:"app_version_override" json:"app_version_override"`
	DevBundleCachePath string `yaml:"dev_bundle_cache_path" json:"dev_bundle_cache_path"`

	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
}

// Default returns a configuration with every default applied.
// DataDir has no default and must be set.
func Default() Config {
	return Config{
		BundleName:         DefaultBundleName,
		BinaryBundlePrefix: DefaultBinaryBundlePrefix,
		ServerURL:          DefaultServerURL,
		LogLevel:           DefaultLogLevel,
	}
}

// Load reads a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, ir.NewConfigurationError("load config", "cannot read "+path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, ir.NewConfigurationError("parse config", "invalid YAML", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults restores defaults for keys set to empty values.
func (c *Config) applyDefaults() {
	d := Default()
	if c.BundleName == "" {
		c.BundleName = d.BundleName
	}
	if c.BinaryBundlePrefix == "" {
		c.BinaryBundlePrefix = d.BinaryBundlePrefix
	}
	if c.ServerURL == "" {
		c.ServerURL = d.ServerURL
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate checks the configuration against the #Config schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return ir.NewConfigurationError("validate config", "schema does not compile", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return ir.NewConfigurationError("validate config", "configuration does not match schema", err)
	}
	return nil
}
