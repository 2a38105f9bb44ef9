package biometric

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// The persisted form of an Encoding is standard padded base64 over exactly
// Dim IEEE-754 float64 values in little-endian byte order (1024 bytes, 1368
// characters). Nothing else is stored alongside.
const encodedBytes = Dim * 8

// EncodeString serializes enc into its persisted form.
func EncodeString(enc Encoding) (string, error) {
	if len(enc) != Dim {
		return "", newError(KindEncoding, ReasonDimensionMismatch,
			fmt.Errorf("encoding has %d values, want %d", len(enc), Dim))
	}
	buf := make([]byte, encodedBytes)
	for i, v := range enc {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", newError(KindEncoding, ReasonCorruptEncoding, fmt.Errorf("value %d is not finite", i))
		}
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// DecodeString parses a persisted encoding. Any value that does not decode to
// exactly Dim finite floats is corrupt.
func DecodeString(s string) (Encoding, error) {
	if s == "" {
		return nil, newError(KindEncoding, ReasonMissingEncoding, nil)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, newError(KindEncoding, ReasonCorruptEncoding, fmt.Errorf("decode base64: %w", err))
	}
	if len(raw) != encodedBytes {
		return nil, newError(KindEncoding, ReasonCorruptEncoding,
			fmt.Errorf("stored encoding has %d bytes, want %d", len(raw), encodedBytes))
	}
	enc := make(Encoding, Dim)
	for i := range enc {
		v := math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, newError(KindEncoding, ReasonCorruptEncoding, fmt.Errorf("value %d is not finite", i))
		}
		enc[i] = v
	}
	return enc, nil
}
