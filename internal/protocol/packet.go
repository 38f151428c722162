package protocol

import "time"

// Packet is the closed set of decoded GT06 packet variants: Login, Location,
// Heartbeat, and Unknown. The session handler dispatches with a type switch
// over these concrete variants rather than treating packets as polymorphic
// objects, since the variant set is fixed and never grows at runtime.
type Packet interface {
	// ProtocolNumber is the raw protocol byte from the frame.
	ProtocolNumber() byte
	// SerialNumber is the frame's information serial number.
	SerialNumber() uint16
	// Type names the packet's variant.
	Type() string
}

// BasePacket holds the fields common to every variant.
type BasePacket struct {
	ProtocolNum byte
	SerialNum   uint16
}

func (p BasePacket) ProtocolNumber() byte { return p.ProtocolNum }
func (p BasePacket) SerialNumber() uint16 { return p.SerialNum }

// LoginPacket carries the device's IMEI.
type LoginPacket struct {
	BasePacket
	IMEI string
}

func (p LoginPacket) Type() string { return "Login" }

// LocationPacket carries a GPS fix.
type LocationPacket struct {
	BasePacket

	// PayloadTime is the UTC instant reported by the device.
	PayloadTime time.Time

	// Satellites is the number of GPS satellites used for this fix (0-15).
	Satellites uint8

	// Latitude and Longitude are signed decimal degrees (WGS-84).
	Latitude  float64
	Longitude float64

	// Speed is in km/h.
	Speed uint8

	// Course is the heading in degrees, taken mod 360. The source word is a
	// 10-bit field (0-1023); this parser's documented convention is to fold
	// any value above 359 back into range with mod 360 rather than reject
	// it, so Course is always in [0, 359].
	Course uint16

	// RealtimeGPS reflects bit 13 of the course/status word.
	RealtimeGPS bool
}

func (p LocationPacket) Type() string { return "Location" }

// HeartbeatPacket carries no fields; its presence is the signal.
type HeartbeatPacket struct {
	BasePacket
}

func (p HeartbeatPacket) Type() string { return "Heartbeat" }

// UnknownPacket is produced for any protocol number outside the closed set
// this gateway understands. The session handler logs it and advances past
// the frame without acknowledging.
type UnknownPacket struct {
	BasePacket
}

func (p UnknownPacket) Type() string { return "Unknown" }
