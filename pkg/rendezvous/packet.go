package rendezvous

import "fmt"

// Registration frame markers. The frame is `0x00 || name-bytes || 0xFF`.
const (
	frameStart byte = 0x00
	frameEnd   byte = 0xFF
)

// EncodeRegistration builds the registration frame announcing name to the
// rendezvous server.
func EncodeRegistration(name string) []byte {
	frame := make([]byte, 0, len(name)+2)
	frame = append(frame, frameStart)
	frame = append(frame, name...)
	frame = append(frame, frameEnd)
	return frame
}

// DecodeRegistration recovers the endpoint name from a registration frame.
func DecodeRegistration(frame []byte) (string, error) {
	if len(frame) < 2 {
		return "", fmt.Errorf("registration frame too short: %d bytes", len(frame))
	}
	if frame[0] != frameStart {
		return "", fmt.Errorf("registration frame has bad start marker 0x%02x", frame[0])
	}
	if frame[len(frame)-1] != frameEnd {
		return "", fmt.Errorf("registration frame has bad end marker 0x%02x", frame[len(frame)-1])
	}
	return string(frame[1 : len(frame)-1]), nil
}
