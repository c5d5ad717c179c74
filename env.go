package tandem

import (
	"fmt"
	"path/filepath"

	"github.com/tandemkv/tandem/internal/config"
	"github.com/tandemkv/tandem/internal/domain"
)

// NewFromEnv builds Options from internal/config.Load (defaults overlaid
// with TANDEM_-prefixed environment variables, validated) and opens a
// cache at the resulting data directory. It is sugar over NewAtPath for
// callers who configure this module entirely through the environment;
// the programmatic constructors remain available and do not require it.
func NewFromEnv(codec Codec) (*Cache, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	storageType, err := parseStorageType(cfg.StorageType)
	if err != nil {
		return nil, err
	}

	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve data_dir: %v", ErrInvalidPath, err)
	}

	return NewAtPath(dataDir, Options{
		StorageType:        storageType,
		Codec:              codec,
		InlineThreshold:    cfg.InlineThreshold,
		MemoryCountLimit:   cfg.MemoryCountLimit,
		MemoryCostLimit:    cfg.MemoryCostLimit,
		MemoryAgeLimit:     cfg.MemoryAgeLimit,
		MemoryTrimInterval: cfg.MemoryTrimInterval,
		DiskSizeLimit:      cfg.DiskSizeLimit,
		DiskCountLimit:     cfg.DiskCountLimit,
		DiskTrimInterval:   cfg.DiskTrimInterval,
		ErrorLogsEnabled:   cfg.ErrorLogsEnabled,
	})
}

func parseStorageType(s string) (StorageType, error) {
	switch s {
	case "file":
		return domain.StorageFile, nil
	case "inline":
		return domain.StorageInline, nil
	case "mixed", "":
		return domain.StorageMixed, nil
	default:
		return 0, fmt.Errorf("%w: unrecognized storage_type %q", ErrInvalidPath, s)
	}
}
