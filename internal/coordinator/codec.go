package coordinator

// Codec converts between a caller's typed value and the opaque byte
// sequence the storage engine persists (spec §9 "Serializer boundary").
// Object serialization itself is out of scope; the coordinator only
// defines the seam and the failure behavior (decode failure is treated
// as an L2 miss with the offending row deleted).
type Codec interface {
	Encode(value any) ([]byte, error)
	Decode(data []byte) (any, error)
}
