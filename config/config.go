// Package config loads the nodeprep configuration from defaults, an optional TOML file, environment variables
// and command-line flags, in increasing order of priority.
package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/graphbench/nodeprep/datasets"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

const (
	// EnvPrefix of the environment variables read, e.g. NODEPREP_DATASET or NODEPREP_DATA_DIR.
	EnvPrefix = "NODEPREP_"

	// DefaultFile is the configuration file read if no other is given. It's fine if it doesn't exist.
	DefaultFile = "nodeprep.toml"
)

// Config of the loaders and pipelines.
type Config struct {
	// Dataset name, one of datasets.Names().
	Dataset string `koanf:"dataset" validate:"required,dataset"`

	// R is the number of hops of neighbor averaging.
	R int `koanf:"r" validate:"gte=0"`

	// DataDir where raw datasets are downloaded to.
	DataDir string `koanf:"data_dir" validate:"required"`

	// CacheDir where preprocessed graphs are saved.
	CacheDir string `koanf:"cache_dir" validate:"required"`

	// Backend is the GoMLX backend configuration, e.g. "xla:cpu". Empty selects the default backend.
	Backend string `koanf:"backend"`

	// ReferenceAggregator selects the plain Go aggregation instead of running it on a backend.
	ReferenceAggregator bool `koanf:"reference_aggregator"`
}

// Defaults of every configuration key.
var Defaults = map[string]any{
	"dataset":              datasets.Karate.String(),
	"r":                    3,
	"data_dir":             "~/data/OGB",
	"cache_dir":            "./DATA",
	"backend":              "",
	"reference_aggregator": false,
}

// RegisterFlags defines one flag per configuration key on fs. Flag names use "-" where keys use "_".
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("dataset", Defaults["dataset"].(string), "Dataset, one of: "+strings.Join(datasets.Names(), ", "))
	fs.Int("r", Defaults["r"].(int), "Number of hops of neighbor-averaged features")
	fs.String("data-dir", Defaults["data_dir"].(string), "Directory where raw datasets are downloaded to")
	fs.String("cache-dir", Defaults["cache_dir"].(string), "Directory where preprocessed graphs are saved")
	fs.String("backend", Defaults["backend"].(string), "GoMLX backend configuration, e.g. \"xla:cpu\"; empty for the default")
	fs.Bool("reference-aggregator", Defaults["reference_aggregator"].(bool), "Aggregate neighbor features in plain Go instead of on the backend")
}

// Load the configuration with priority: flags > environment > configFile > Defaults.
//
// flags may be nil. If configFile is empty DefaultFile is tried; a missing file is not an error.
func Load(flags *pflag.FlagSet, configFile string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(Defaults), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load defaults")
	}

	explicitFile := configFile != ""
	if !explicitFile {
		configFile = DefaultFile
	}
	if err := k.Load(file.Provider(configFile), toml.Parser()); err != nil {
		if explicitFile {
			return nil, errors.Wrapf(err, "failed to load configuration file %q", configFile)
		}
		klog.V(2).Infof("no configuration file %q: %v", configFile, err)
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load environment variables")
	}

	if flags != nil {
		err = k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, known := Defaults[key]; !known {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load flags")
		}
	}

	var cfg Config
	if err = k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mapProvider is a koanf.Provider for an in-memory map of flat keys.
type mapProvider map[string]any

func (p mapProvider) Read() (map[string]any, error) {
	m := make(map[string]any, len(p))
	for key, value := range p {
		m[key] = value
	}
	return m, nil
}

func (p mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("mapProvider does not support ReadBytes")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	err := v.RegisterValidation("dataset", func(fl validator.FieldLevel) bool {
		_, err := datasets.ParseID(fl.Field().String())
		return err == nil
	})
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks the configuration values. An unknown dataset returns an error wrapping
// datasets.ErrUnsupportedDataset.
func (cfg *Config) Validate() error {
	if _, err := datasets.ParseID(cfg.Dataset); err != nil {
		return err
	}
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// ID returns the configured dataset. It assumes the configuration was validated.
func (cfg *Config) ID() datasets.ID {
	id, err := datasets.ParseID(cfg.Dataset)
	if err != nil {
		panic(err)
	}
	return id
}

// Options returns the loader options, without an aggregator: the caller picks one according to
// Backend and ReferenceAggregator.
func (cfg *Config) Options() datasets.Options {
	return datasets.Options{
		DataDir:  cfg.DataDir,
		CacheDir: cfg.CacheDir,
		NumHops:  cfg.R,
	}
}
