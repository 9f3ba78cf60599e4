package fieldbus

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nerrad567/meterpoll/internal/catalog"
)

// The meters send multi-word values lowest word first while each word is
// big-endian on the wire. Decoders therefore reverse the word order and
// read the result as one big-endian number.

// DecodeFloat32 rebuilds a float from two words in wire order: words[0] is
// the low half, words[1] the high half. The conversion is bit-exact.
func DecodeFloat32(words []uint16) (float32, error) {
	if len(words) != 2 {
		return 0, fmt.Errorf("%w: float needs 2, got %d", ErrWordCount, len(words))
	}
	bits := uint32(words[1])<<16 | uint32(words[0])
	return math.Float32frombits(bits), nil
}

// EncodeFloat32 is the inverse of DecodeFloat32.
func EncodeFloat32(f float32) []uint16 {
	bits := math.Float32bits(f)
	return []uint16{uint16(bits), uint16(bits >> 16)}
}

// DecodeInt64 rebuilds a signed 64-bit integer from four words in wire
// order, lowest word first.
func DecodeInt64(words []uint16) (int64, error) {
	if len(words) != 4 {
		return 0, fmt.Errorf("%w: long needs 4, got %d", ErrWordCount, len(words))
	}
	var buf [8]byte
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint16(buf[i*2:], words[3-i])
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// EncodeInt64 is the inverse of DecodeInt64.
func EncodeInt64(v int64) []uint16 {
	u := uint64(v)
	return []uint16{uint16(u), uint16(u >> 16), uint16(u >> 32), uint16(u >> 48)}
}

// Decode converts raw words to the register's value before scaling.
func Decode(dt catalog.DataType, words []uint16) (float64, error) {
	switch dt {
	case catalog.Short:
		if len(words) != 1 {
			return 0, fmt.Errorf("%w: short needs 1, got %d", ErrWordCount, len(words))
		}
		return float64(words[0]), nil
	case catalog.Long:
		v, err := DecodeInt64(words)
		return float64(v), err
	default:
		f, err := DecodeFloat32(words)
		return float64(f), err
	}
}

// Scale applies the register factor and rounding. Rounding on the register
// wins over the poll-wide decimals; decimals < 0 disables rounding.
func Scale(reg catalog.Register, raw float64, decimals int) float64 {
	v := raw * reg.UnitFactor
	if reg.Rounding != nil {
		decimals = *reg.Rounding
	}
	if decimals < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// wordsFromBytes splits a Modbus payload into big-endian words.
func wordsFromBytes(b []byte) []uint16 {
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return words
}
