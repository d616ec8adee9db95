package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/liliang-cn/vecalign/pkg/align"
	"github.com/liliang-cn/vecalign/pkg/core"
	"github.com/liliang-cn/vecalign/pkg/space"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "VECALIGN_"

// DataConfig names the input and output files of a run.
type DataConfig struct {
	Source string `yaml:"src_emb"`    // source vector file
	Target string `yaml:"tgt_emb"`    // target vector file
	Train  string `yaml:"dico_train"` // training lexicon; empty means identical-token anchors
	Test   string `yaml:"dico_test"`  // evaluation lexicon
	Output string `yaml:"output"`     // aligned source vectors
	Matrix string `yaml:"matrix"`     // learned R (.npy or text)
	MaxSup int    `yaml:"maxsup"`     // training pairs kept, <= 0 keeps all
}

// LoadConfig controls how vector files are read.
type LoadConfig struct {
	MaxLoad   int  `yaml:"maxload"`
	Normalize bool `yaml:"normalize"`
	Center    bool `yaml:"center"`
}

// Options converts to space.LoadOptions
func (l LoadConfig) Options() space.LoadOptions {
	return space.LoadOptions{MaxLoad: l.MaxLoad, Normalize: l.Normalize, Center: l.Center}
}

// StoreConfig locates the run registry.
type StoreConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// AppConfig is the root configuration structure.
type AppConfig struct {
	Data  DataConfig   `yaml:"data"`
	Load  LoadConfig   `yaml:"load"`
	Align align.Config `yaml:"align"`
	Store StoreConfig  `yaml:"store"`
	Log   LogConfig    `yaml:"log"`
}

// Default returns the configuration used when no file exists.
func Default() *AppConfig {
	defaults := space.DefaultLoadOptions()
	return &AppConfig{
		Data: DataConfig{
			MaxSup: -1,
		},
		Load: LoadConfig{
			MaxLoad:   defaults.MaxLoad,
			Normalize: defaults.Normalize,
			Center:    defaults.Center,
		},
		Align: align.DefaultConfig(),
		Store: StoreConfig{Path: "vecalign.db"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads a config from path on top of the defaults. A missing file
// yields the defaults.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, core.WrapError("load_config", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, core.Errorf("load_config", core.ErrInvalidConfig, "%s: %v", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return core.WrapError("save_config", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return core.WrapError("save_config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return core.WrapError("save_config", err)
	}
	return nil
}

// LoadDotEnv loads path (usually ".env") into the process environment
// without overriding variables that are already set. A missing file is
// not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return core.WrapError("load_env", err)
	}
	return nil
}

// ApplyEnv overrides cfg with VECALIGN_* variables found through lookup
// (os.LookupEnv in production).
func ApplyEnv(cfg *AppConfig, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	flt := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("SRC_EMB", &cfg.Data.Source)
	str("TGT_EMB", &cfg.Data.Target)
	str("DICO_TRAIN", &cfg.Data.Train)
	str("DICO_TEST", &cfg.Data.Test)
	str("OUTPUT", &cfg.Data.Output)
	str("MATRIX", &cfg.Data.Matrix)
	num("MAXSUP", &cfg.Data.MaxSup)
	num("MAXLOAD", &cfg.Load.MaxLoad)
	flag("CENTER", &cfg.Load.Center)
	num("KNN", &cfg.Align.KNN)
	num("MAXNEG", &cfg.Align.MaxNeg)
	flt("REG", &cfg.Align.Reg)
	flt("LR", &cfg.Align.LR)
	num("NITER", &cfg.Align.NIter)
	flag("SGD", &cfg.Align.SGD)
	num("BATCHSIZE", &cfg.Align.BatchSize)
	str("DB", &cfg.Store.Path)
	str("LOG_LEVEL", &cfg.Log.Level)

	if v, ok := lookup(EnvPrefix + "MODEL"); ok {
		if err := cfg.Align.Model.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, err)
		}
	}
	if v, ok := lookup(EnvPrefix + "SEED"); ok {
		seed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSEED: %w", EnvPrefix, err))
		} else {
			cfg.Align.Seed = seed
		}
	}

	if err := errors.Join(errs...); err != nil {
		return core.Errorf("apply_env", core.ErrInvalidConfig, "%v", err)
	}
	return nil
}

// Validate checks the parts of the config every command depends on.
func (c *AppConfig) Validate() error {
	if err := c.Align.Validate(); err != nil {
		return err
	}
	if _, err := core.ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	if !c.Store.Disabled && c.Store.Path == "" {
		return core.Errorf("validate_config", core.ErrInvalidConfig, "store.path is empty")
	}
	return nil
}
