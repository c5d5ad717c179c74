// Package config loads optional environment-variable overrides for a
// cache's Options. It is sugar over the programmatic constructor (spec §6
// "No CLI, no environment variables" governs the cache's wire surface, not
// this package): callers may still construct Options by hand and skip
// Load entirely.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Options holds the environment-loadable tunables of the cache (spec §6
// "Recognized options"). Apart from DataDir, field names mirror the public
// tandem.Options; StorageType is carried as a string and Codec has no
// environment form. internal/config exists only to populate one from
// defaults plus environment, validated.
type Options struct {
	DataDir         string        `koanf:"data_dir" validate:"required,custom_path"`
	StorageType     string        `koanf:"storage_type" validate:"required,oneof=mixed file inline"`
	InlineThreshold int64         `koanf:"inline_threshold" validate:"required,gt=0"`

	MemoryCountLimit   int64         `koanf:"memory_count_limit" validate:"gte=0"`
	MemoryCostLimit    int64         `koanf:"memory_cost_limit" validate:"gte=0"`
	MemoryAgeLimit     time.Duration `koanf:"memory_age_limit" validate:"gte=0"`
	MemoryTrimInterval time.Duration `koanf:"memory_trim_interval" validate:"required,gt=0"`

	DiskSizeLimit    int64         `koanf:"disk_size_limit" validate:"gte=0"`
	DiskCountLimit   int64         `koanf:"disk_count_limit" validate:"gte=0"`
	DiskTrimInterval time.Duration `koanf:"disk_trim_interval" validate:"required,gt=0"`

	ErrorLogsEnabled bool `koanf:"error_logs_enabled"`
}

// Default provides the default configuration values (spec §6 defaults).
var Default = Options{
	DataDir:            "",
	StorageType:        "mixed",
	InlineThreshold:    20480,
	MemoryTrimInterval: 5 * time.Second,
	DiskTrimInterval:   60 * time.Second,
	ErrorLogsEnabled:   false,
}

// defaultLoader loads Default into k using the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(Default, "koanf"), nil)
}

// envLoader overlays environment variables prefixed TANDEM_.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{Prefix: "TANDEM_", TransformFunc: func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, "TANDEM_"))
		return key, strings.TrimSpace(value)
	}}), nil)
}

// validDirPath checks that the value is a non-empty, non-root, non-upward
// traversing directory path. Mirrors the teacher's validDirNotExists: it
// does not require the directory to already exist.
func validDirPath(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return false
	}
	cleaned := filepath.Clean(raw)
	if cleaned == "." || cleaned == string(os.PathSeparator) {
		return false
	}
	for _, part := range strings.Split(cleaned, string(os.PathSeparator)) {
		if part == ".." {
			return false
		}
	}
	return true
}

var registerValidators = func(v *validator.Validate) error {
	return v.RegisterValidation("custom_path", validDirPath)
}

// Load builds Options from Default overlaid with TANDEM_-prefixed
// environment variables, then validates the result.
func Load() (*Options, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var opts Options
	if err := k.UnmarshalWithConf("", &opts, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			Result:           &opts,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(validate); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := validate.Struct(&opts); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return &opts, nil
}
