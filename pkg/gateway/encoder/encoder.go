// Package encoder builds the online-command frame used to inject a
// server-to-device AT-style command. Frame assembly and CRC already live in
// internal/frame.BuildACK, so this package only builds the command content
// and hands it to that shared framer rather than duplicating packet framing.
package encoder

import (
	"strconv"

	"github.com/intelcon-group/gt06-gateway/internal/frame"
	"github.com/intelcon-group/gt06-gateway/internal/protocol"
)

// Commonly used AT-style commands supported by GT06-family devices.
const (
	CmdRequestLocation = "WHERE#"
	CmdGetStatus       = "STATUS#"
	CmdGetVersion      = "VERSION#"
	CmdReboot          = "RESET#"
)

// Command builds a complete online-command frame carrying an ASCII
// instruction string, echoing serial as the frame's serial number and
// serverFlag as the device's own command-tracking identifier.
func Command(serverFlag uint32, command string, serial uint16) []byte {
	cmdBytes := []byte(command)
	contentLen := 4 + len(cmdBytes)

	content := make([]byte, 0, 1+contentLen)
	content = append(content, byte(contentLen))
	content = append(content,
		byte(serverFlag>>24), byte(serverFlag>>16), byte(serverFlag>>8), byte(serverFlag))
	content = append(content, cmdBytes...)

	return frame.BuildACK(protocol.OnlineCommand, content, serial)
}

// RequestLocation builds a one-shot location request command frame.
func RequestLocation(serverFlag uint32, serial uint16) []byte {
	return Command(serverFlag, CmdRequestLocation, serial)
}

// SetTrackingInterval builds a command that sets the device's periodic
// location-report interval, in seconds.
func SetTrackingInterval(serverFlag uint32, seconds int, serial uint16) []byte {
	return Command(serverFlag, trackCommand(seconds), serial)
}

func trackCommand(seconds int) string {
	if seconds < 10 {
		seconds = 10
	}
	return "TIMER," + strconv.Itoa(seconds) + "#"
}
