package tandem

import (
	"fmt"

	"github.com/tandemkv/tandem/internal/coordinator"
)

// Codec converts between a caller's typed value and the opaque byte
// sequence the storage engine persists. It is the seam spec §9 calls the
// "serializer boundary": object serialization is an external collaborator,
// out of this module's scope, so callers supply their own.
type Codec = coordinator.Codec

// BytesCodec is the identity codec for callers whose values are already
// raw []byte. It is the default when Options.Codec is left nil.
type BytesCodec struct{}

// Encode returns value unmodified if it is already a []byte.
func (BytesCodec) Encode(value any) ([]byte, error) {
	b, ok := value.([]byte)
	if !ok {
		return nil, fmt.Errorf("tandem: BytesCodec requires []byte values, got %T", value)
	}
	return b, nil
}

// Decode returns data unmodified, boxed as any.
func (BytesCodec) Decode(data []byte) (any, error) {
	return data, nil
}
