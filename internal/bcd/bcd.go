// Package bcd decodes the binary-coded-decimal IMEI field carried in GT06
// login packets.
package bcd

import "fmt"

// DecodeIMEI decodes an 8-byte BCD-encoded IMEI field, skipping any 0xF
// padding nibble, and returns exactly 15 decimal digits.
//
// Devices commonly BCD-encode the IMEI as 8 bytes holding 16 nibbles for 15
// digits, with the extra nibble set to 0xF as padding (position varies by
// firmware, so every nibble is checked rather than assuming it is always
// last). A non-hex-decimal nibble that is not 0xF is a malformed frame.
func DecodeIMEI(data []byte) (string, error) {
	if len(data) != 8 {
		return "", fmt.Errorf("bcd: IMEI field must be 8 bytes, got %d", len(data))
	}

	digits := make([]byte, 0, 16)
	for _, b := range data {
		high := (b >> 4) & 0x0F
		low := b & 0x0F
		for _, nibble := range [2]byte{high, low} {
			if nibble == 0xF {
				continue
			}
			if nibble > 9 {
				return "", fmt.Errorf("bcd: invalid nibble 0x%X in IMEI bytes", nibble)
			}
			digits = append(digits, '0'+nibble)
		}
	}

	if len(digits) < 15 {
		return "", fmt.Errorf("bcd: decoded only %d digits, need 15", len(digits))
	}

	return string(digits[:15]), nil
}
