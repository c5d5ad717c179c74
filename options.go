package tandem

import (
	"time"

	"github.com/tandemkv/tandem/internal/coordinator"
	"github.com/tandemkv/tandem/internal/domain"
)

// StorageType fixes how a store instance places value bytes, chosen once
// at directory creation (spec §3 "Storage type").
type StorageType = domain.StorageType

const (
	// Mixed routes values over Options.InlineThreshold to external blob
	// storage and the rest inline. The default.
	Mixed = domain.StorageMixed
	// File requires every value to be external; a Set without room to
	// write a blob fails.
	File = domain.StorageFile
	// Inline stores every value in the index, ignoring size.
	Inline = domain.StorageInline
)

// Options configures a Cache. Zero values fall back to the spec §6
// defaults noted per field.
type Options struct {
	// StorageType is fixed for the lifetime of the store directory.
	// Defaults to Mixed.
	StorageType StorageType

	// Codec converts caller values to/from the bytes the storage engine
	// persists. Defaults to BytesCodec, which requires values be []byte.
	Codec Codec

	// InlineThreshold is the byte length at or under which a Mixed-type
	// value is inlined rather than routed to an external blob. Default
	// 20480 (20 KiB).
	InlineThreshold int64

	// MemoryCountLimit, MemoryCostLimit, and MemoryAgeLimit bound the
	// in-memory (L1) tier; zero means unlimited.
	MemoryCountLimit int64
	MemoryCostLimit  int64
	MemoryAgeLimit   time.Duration
	// MemoryTrimInterval is the L1 background trim period. Default 5s.
	MemoryTrimInterval time.Duration

	// DiskSizeLimit and DiskCountLimit bound the persistent (L2) tier;
	// zero means unlimited.
	DiskSizeLimit  int64
	DiskCountLimit int64
	// DiskTrimInterval is the L2 background trim period. Default 60s.
	DiskTrimInterval time.Duration

	// ErrorLogsEnabled turns on the diagnostics hook's error logging.
	ErrorLogsEnabled bool
}

func (o Options) codec() Codec {
	if o.Codec != nil {
		return o.Codec
	}
	return BytesCodec{}
}

func (o Options) coordinatorOptions() coordinator.Options {
	return coordinator.Options{
		InlineThreshold:    o.InlineThreshold,
		MemoryCountLimit:   o.MemoryCountLimit,
		MemoryCostLimit:    o.MemoryCostLimit,
		MemoryAgeLimit:     o.MemoryAgeLimit,
		MemoryTrimInterval: o.MemoryTrimInterval,
		DiskSizeLimit:      o.DiskSizeLimit,
		DiskCountLimit:     o.DiskCountLimit,
		DiskTrimInterval:   o.DiskTrimInterval,
		ErrorLogsEnabled:   o.ErrorLogsEnabled,
	}
}
