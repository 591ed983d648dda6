package hloc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hupe1980/hloc/covis"
	"github.com/hupe1980/hloc/match"
	"github.com/hupe1980/hloc/pose"
	"github.com/hupe1980/hloc/resource"
	"github.com/hupe1980/hloc/retrieval"
	"gopkg.in/yaml.v3"
)

// VerifyMode selects verification queries drawn from the map itself.
type VerifyMode string

const (
	// VerifyNone localizes external queries.
	VerifyNone VerifyMode = ""
	// VerifyDay uses every map image as a query.
	VerifyDay VerifyMode = "day"
	// VerifyNight uses the augmented night copy of every map image.
	VerifyNight VerifyMode = "night"
	// VerifyAll runs the day queries followed by the night queries.
	VerifyAll VerifyMode = "all"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *VerifyMode) UnmarshalText(text []byte) error {
	switch v := VerifyMode(strings.ToLower(string(text))); v {
	case VerifyNone, VerifyDay, VerifyNight, VerifyAll:
		*m = v
		return nil
	case "none":
		*m = VerifyNone
		return nil
	default:
		return &ConfigError{Field: "verify", Reason: fmt.Sprintf("unknown mode %q", text)}
	}
}

// Day reports whether the mode includes day queries.
func (m VerifyMode) Day() bool { return m == VerifyDay || m == VerifyAll }

// Night reports whether the mode includes night queries.
func (m VerifyMode) Night() bool { return m == VerifyNight || m == VerifyAll }

// StorageConfig configures how local features are served from a map.
type StorageConfig struct {
	// CacheBytes bounds the decoded feature cache. 0 disables caching.
	CacheBytes int64           `yaml:"cache_bytes"`
	Resources  resource.Config `yaml:"resources"`
}

// Config is the localization configuration. It is immutable once passed to
// New.
type Config struct {
	Retrieval  retrieval.Options `yaml:"retrieval"`
	Clustering covis.Options     `yaml:"clustering"`
	Matching   match.Strategy    `yaml:"matching"`
	Pose       pose.Options      `yaml:"pose"`
	Storage    StorageConfig     `yaml:"storage"`

	// Verify draws the queries from the map.
	Verify VerifyMode `yaml:"verify"`
	// Augmentation adds the augmented copies to the retrieval database.
	// Requires a verification mode.
	Augmentation bool `yaml:"augmentation"`

	// Workers is the number of queries processed concurrently. 0 means
	// GOMAXPROCS.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Retrieval:  retrieval.DefaultOptions,
		Clustering: covis.DefaultOptions,
		Matching:   match.DefaultStrategy,
		Pose:       pose.DefaultOptions,
		Storage:    StorageConfig{CacheBytes: 512 << 20},
	}
}

// Validate checks the configuration. Every problem is reported; each one
// satisfies errors.Is(err, ErrInvalidConfig).
func (c Config) Validate() error {
	var errs []error
	wrap := func(field string, err error) {
		if err != nil {
			errs = append(errs, &ConfigError{Field: field, Reason: err.Error(), cause: err})
		}
	}

	wrap("retrieval", c.Retrieval.Validate())
	wrap("matching", c.Matching.Validate())
	wrap("pose", c.Pose.Validate())

	switch c.Verify {
	case VerifyNone, VerifyDay, VerifyNight, VerifyAll:
	default:
		errs = append(errs, &ConfigError{Field: "verify", Reason: fmt.Sprintf("unknown mode %q", c.Verify)})
	}
	if c.Augmentation && c.Verify == VerifyNone {
		errs = append(errs, &ConfigError{Field: "augmentation", Reason: "requires a verification mode"})
	}
	if c.Workers < 0 {
		errs = append(errs, &ConfigError{Field: "workers", Reason: fmt.Sprintf("must not be negative, got %d", c.Workers)})
	}
	if c.Storage.CacheBytes < 0 {
		errs = append(errs, &ConfigError{Field: "storage.cache_bytes", Reason: "must not be negative"})
	}
	return errors.Join(errs...)
}

// ParseConfig decodes YAML over the defaults and validates the result.
// Unknown fields are rejected.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var ce *ConfigError
		if errors.As(err, &ce) {
			return Config{}, err
		}
		return Config{}, &ConfigError{Field: "yaml", Reason: err.Error(), cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("hloc: read config: %w", err)
	}
	cfg, err := ParseConfig(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("hloc: %s: %w", path, err)
	}
	return cfg, nil
}

// WriteConfig encodes cfg as YAML.
func WriteConfig(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("hloc: encode config: %w", err)
	}
	return enc.Close()
}

// SaveConfig writes cfg to a YAML file.
func SaveConfig(path string, cfg Config) error {
	var buf bytes.Buffer
	if err := WriteConfig(&buf, cfg); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
