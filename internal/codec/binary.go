// Package codec provides the low-level byte-field readers and the
// date-time encoding used to decode GT06 frame content.
package codec

import (
	"encoding/binary"
)

// ReadUint16BE reads a big-endian uint16 from the first 2 bytes of data.
func ReadUint16BE(data []byte) uint16 {
	if len(data) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(data)
}

// ReadUint32BE reads a big-endian uint32 from the first 4 bytes of data.
func ReadUint32BE(data []byte) uint32 {
	if len(data) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(data)
}
