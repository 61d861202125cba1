package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/common"
)

const envPrefix = "EFTD_"

type config struct {
	Addr        string `koanf:"addr"`
	StorageDir  string `koanf:"storage_dir"`
	PolicyFile  string `koanf:"policy_file"`
	CodecBinDir string `koanf:"codec_bin_dir"`
	Concurrency int    `koanf:"concurrency"`

	DecodeTimeout   time.Duration `koanf:"decode_timeout"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	ArtifactTTL     time.Duration `koanf:"artifact_ttl"`

	MaxUploadMB    int64    `koanf:"max_upload_mb"`
	RateLimit      float64  `koanf:"rate_limit"`
	RateBurst      int      `koanf:"rate_burst"`
	TrustedProxies []string `koanf:"trusted_proxies"`

	Logs common.LogConfig `koanf:"logs"`
}

func defaultConfig() config {
	return config{
		Addr:            ":8080",
		StorageDir:      filepath.Join(".", "data"),
		Concurrency:     runtime.NumCPU(),
		DecodeTimeout:   30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		ArtifactTTL:     time.Hour,
		MaxUploadMB:     512,
		RateLimit:       5,
		RateBurst:       10,
		Logs: common.LogConfig{
			FileName:   "eftd.log",
			Level:      "info",
			MaxSizeMB:  25,
			MaxAgeDays: 7,
			MaxBackups: 5,
		},
	}
}

// loadConfig layers the YAML file at path (optional when empty) and EFTD_*
// environment variables over the defaults. Nested keys use a double
// underscore, e.g. EFTD_LOGS__LEVEL.
func loadConfig(path string) (config, error) {
	k := koanf.New(".")
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return config{}, fmt.Errorf("loading defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return config{}, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return config{}, fmt.Errorf("loading environment: %w", err)
	}
	var cfg config
	if err := k.Unmarshal("", &cfg); err != nil {
		return config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	if path != "" {
		base := filepath.Dir(path)
		cfg.PolicyFile = resolvePath(base, cfg.PolicyFile)
		cfg.CodecBinDir = resolvePath(base, cfg.CodecBinDir)
	}
	if cfg.Logs.Directory == "" {
		cfg.Logs.Directory = filepath.Join(cfg.StorageDir, "logs")
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is empty"))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB))
	}
	if c.DecodeTimeout <= 0 {
		errs = append(errs, errors.New("decode_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func resolvePath(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
