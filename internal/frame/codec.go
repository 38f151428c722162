// Package frame splits an inbound GT06 device byte stream into complete
// frames and builds outbound ACK frames.
//
// A frame is `0x78 0x78 | length | protocol | payload… | serial(2) | crc(2) |
// 0x0D 0x0A`. length counts every byte from protocol through crc inclusive,
// so the total wire size of a frame is length+5.
package frame

import (
	"errors"

	"github.com/intelcon-group/gt06-gateway/internal/validator"
)

const (
	startByte = 0x78
	stopHi    = 0x0D
	stopLo    = 0x0A

	// minLength is the smallest legal value of the length byte: protocol(1)
	// + serial(2) + crc(2).
	minLength = 5
	maxLength = 255
)

// ErrImpossibleLength is returned by FrameLength for a length byte outside
// [minLength, maxLength]. Split returns no error for such a frame: it skips
// the start marker, resyncs and continues.
var (
	ErrImpossibleLength = errors.New("frame: length field out of range")
)

// Codec splits byte streams into GT06 frames and builds ACK frames. It is
// stateless and carries no per-device data; callers own the residue buffer
// between calls.
type Codec struct{}

// New creates a Codec.
func New() *Codec {
	return &Codec{}
}

// Split consumes residue (leftover bytes from a previous call) followed by
// newData, and returns every complete frame found plus whatever partial tail
// remains for the next call. It never discards a byte that could still be
// the start of a valid frame: on a bad pair of leading bytes it scans forward
// to the next 0x78 0x78 and resumes from there.
func (c *Codec) Split(residue, newData []byte) (frames [][]byte, tail []byte) {
	buf := append(append([]byte{}, residue...), newData...)

	for {
		start := findStart(buf)
		if start < 0 {
			// No start marker anywhere in the buffer. Keep a trailing 0x78,
			// which may be the first half of a marker split across reads.
			if n := len(buf); n > 0 && buf[n-1] == startByte {
				return frames, buf[n-1:]
			}
			return frames, nil
		}
		if start > 0 {
			buf = buf[start:]
		}

		if len(buf) < 3 {
			return frames, buf
		}

		length := int(buf[2])
		if length < minLength || length > maxLength {
			// Impossible length at this position: this 0x7878 wasn't a real
			// start marker. Skip past it and keep scanning.
			buf = buf[2:]
			continue
		}

		total := length + 5
		if len(buf) < total {
			// Partial frame; wait for more data.
			return frames, buf
		}

		candidate := buf[:total]
		if candidate[total-2] != stopHi || candidate[total-1] != stopLo {
			// Stop bits don't land where the length said they would: this
			// wasn't a real frame. Skip the bogus start marker and rescan.
			buf = buf[2:]
			continue
		}

		frames = append(frames, candidate)
		buf = buf[total:]
	}
}

func findStart(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == startByte && buf[i+1] == startByte {
			return i
		}
	}
	return -1
}

// BuildACK constructs a complete ACK frame for protocol with the given
// content (may be nil) and echoed serial number, computing a real CRC-16.
func BuildACK(protocol byte, content []byte, serial uint16) []byte {
	length := 1 + len(content) + 2 + 2

	body := make([]byte, 0, length)
	body = append(body, protocol)
	body = append(body, content...)
	body = append(body, byte(serial>>8), byte(serial&0xFF))

	crcData := make([]byte, 0, 1+len(body))
	crcData = append(crcData, byte(length))
	crcData = append(crcData, body...)
	crc := validator.CalculateCRC(crcData)

	frame := make([]byte, 0, 2+1+length+2)
	frame = append(frame, startByte, startByte)
	frame = append(frame, byte(length))
	frame = append(frame, body...)
	frame = append(frame, byte(crc>>8), byte(crc&0xFF))
	frame = append(frame, stopHi, stopLo)
	return frame
}

// FrameLength reports the declared payload length (protocol..crc span) for a
// frame whose first three bytes (start x2 + length) are present, or an error
// if the length is out of range.
func FrameLength(header []byte) (int, error) {
	if len(header) < 3 {
		return 0, errors.New("frame: header too short")
	}
	length := int(header[2])
	if length < minLength || length > maxLength {
		return 0, ErrImpossibleLength
	}
	return length, nil
}
