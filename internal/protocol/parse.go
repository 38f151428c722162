// Package protocol decodes GT06 frame payloads into the closed set of
// packet variants {Login, Location, Heartbeat, Unknown}.
package protocol

import (
	"github.com/intelcon-group/gt06-gateway/internal/bcd"
	"github.com/intelcon-group/gt06-gateway/internal/codec"
)

// frameHeaderSize is the number of bytes preceding the protocol byte
// (0x78 0x78 + 1-byte length).
const frameHeaderSize = 3

// Parse decodes a complete, CRC-validated GT06 frame (start bits through
// stop bits) into a Packet. hemisphereMode controls how LocationPacket
// resolves latitude/longitude sign; it has no effect on other variants.
func Parse(rawFrame []byte, hemisphereMode HemisphereMode) (Packet, error) {
	if len(rawFrame) < frameHeaderSize+1+2+2+2 {
		return nil, NewDecodeError(0, 0, "frame shorter than minimum size", ErrInsufficientData)
	}

	length := int(rawFrame[2])
	protocolNum := rawFrame[3]
	contentLen := length - 5
	if contentLen < 0 {
		return nil, NewDecodeError(protocolNum, 2, "impossible content length", ErrInsufficientData)
	}

	contentStart := frameHeaderSize + 1
	if contentStart+contentLen+2 > len(rawFrame) {
		return nil, NewDecodeError(protocolNum, contentStart, "frame shorter than declared length", ErrInsufficientData)
	}
	content := rawFrame[contentStart : contentStart+contentLen]
	serial := uint16(rawFrame[contentStart+contentLen])<<8 | uint16(rawFrame[contentStart+contentLen+1])

	base := BasePacket{ProtocolNum: protocolNum, SerialNum: serial}

	switch protocolNum {
	case Login:
		return parseLogin(base, content)
	case Location:
		return parseLocation(base, content, hemisphereMode)
	case Heartbeat:
		return HeartbeatPacket{BasePacket: base}, nil
	default:
		return UnknownPacket{BasePacket: base}, nil
	}
}

func parseLogin(base BasePacket, content []byte) (Packet, error) {
	if len(content) < 8 {
		return nil, NewDecodeError(base.ProtocolNum, 0, "login content shorter than 8 bytes", ErrInsufficientData)
	}
	imei, err := bcd.DecodeIMEI(content[:8])
	if err != nil {
		return nil, NewDecodeError(base.ProtocolNum, 0, "invalid BCD IMEI", err)
	}
	if len(imei) != 15 {
		return nil, NewDecodeError(base.ProtocolNum, 0, "decoded IMEI is not 15 digits", ErrInvalidIMEI)
	}
	return LoginPacket{BasePacket: base, IMEI: imei}, nil
}

// Location content layout (offsets relative to the content slice, i.e.
// frame offset minus 4):
//
//	[0:6]   date-time: year-2000, month, day, hour, minute, second (UTC)
//	[6]     GPS info byte: high nibble = satellite count
//	[7:11]  latitude, signed 32-bit big-endian, ÷ CoordinateDivisor
//	[11:15] longitude, signed 32-bit big-endian, ÷ CoordinateDivisor
//	[15]    speed, km/h
//	[16:18] course/status word: low 10 bits = course, bit 13 = realtime GPS
func parseLocation(base BasePacket, content []byte, mode HemisphereMode) (Packet, error) {
	const minLen = 18
	if len(content) < minLen {
		return nil, NewDecodeError(base.ProtocolNum, 0, "location content shorter than 18 bytes", ErrInsufficientData)
	}

	payloadTime, err := codec.DecodeDateTime(content[0:6])
	if err != nil {
		return nil, NewDecodeError(base.ProtocolNum, 4, "invalid date-time", err)
	}

	satellites := (content[6] >> 4) & 0x0F

	latRaw := int32(codec.ReadUint32BE(content[7:11]))
	lonRaw := int32(codec.ReadUint32BE(content[11:15]))
	speed := content[15]
	courseStatus := codec.ReadUint16BE(content[16:18])

	course := courseStatus & 0x03FF
	if course >= 360 {
		course %= 360
	}
	realtimeGPS := courseStatus&0x2000 != 0

	lat, lon := resolveCoordinates(latRaw, lonRaw, courseStatus, mode)

	return LocationPacket{
		BasePacket:  base,
		PayloadTime: payloadTime.UTC(),
		Satellites:  satellites,
		Latitude:    lat,
		Longitude:   lon,
		Speed:       speed,
		Course:      course,
		RealtimeGPS: realtimeGPS,
	}, nil
}

// resolveCoordinates applies the configured hemisphere convention. In
// HemisphereSigned mode (the default) the sign of the raw 32-bit value is
// trusted directly. In HemisphereFlagBits mode the magnitude is taken from
// the raw value and the sign comes from dedicated bits in the course/status
// word instead (bit 11 = west, bit 10 = south), for device variants known to
// encode hemisphere that way rather than in the coordinate's own sign.
func resolveCoordinates(latRaw, lonRaw int32, courseStatus uint16, mode HemisphereMode) (lat, lon float64) {
	if mode == HemisphereFlagBits {
		isWest := courseStatus&0x0800 != 0
		isSouth := courseStatus&0x0400 != 0

		latMag := absInt32(latRaw)
		lonMag := absInt32(lonRaw)

		lat = float64(latMag) / CoordinateDivisor
		lon = float64(lonMag) / CoordinateDivisor
		if isSouth {
			lat = -lat
		}
		if isWest {
			lon = -lon
		}
		return lat, lon
	}

	return float64(latRaw) / CoordinateDivisor, float64(lonRaw) / CoordinateDivisor
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
