package protocol

// Protocol numbers for the closed set of packet types this gateway
// recognizes. Any other protocol byte decodes to an UnknownPacket.
const (
	Login     byte = 0x01
	Location  byte = 0x12
	Heartbeat byte = 0x13

	// OnlineCommand is used only for the server->device command channel; it
	// is never produced by Parse on an inbound device frame.
	OnlineCommand byte = 0x80
)

// HemisphereMode selects how LocationPacket resolves the sign of latitude
// and longitude. Both interpretations are real in the wild across device
// variants, so it is a runtime configuration choice rather than a guess
// baked into the parser.
type HemisphereMode int

const (
	// HemisphereSigned trusts the sign of the raw signed 32-bit lat/lon
	// value directly. This is the default.
	HemisphereSigned HemisphereMode = iota

	// HemisphereFlagBits reads hemisphere from dedicated flag bits in the
	// course/status word instead of the sign of the coordinate value, for
	// device variants known to encode it that way.
	HemisphereFlagBits
)

// CoordinateDivisor converts the raw signed 32-bit latitude/longitude value
// into decimal degrees.
const CoordinateDivisor = 1800000.0
