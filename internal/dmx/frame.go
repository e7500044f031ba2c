// Package dmx drives a USB DMX widget: it owns the 513-byte universe buffer,
// encodes it into widget frames and keeps the serial link alive.
package dmx

const (
	// UniverseLength is the start code slot plus 512 channels.
	UniverseLength = 513

	frameStart   = 0x7E
	labelSendDMX = 0x06
	frameEnd     = 0xE7
)

// EncodeFrame wraps a universe in a send-DMX widget message:
// start, label, little-endian length, payload, end.
func EncodeFrame(universe [UniverseLength]byte) []byte {
	buf := make([]byte, 0, UniverseLength+5)
	buf = append(buf,
		frameStart,
		labelSendDMX,
		byte(UniverseLength&0xFF),
		byte(UniverseLength>>8),
	)
	buf = append(buf, universe[:]...)
	return append(buf, frameEnd)
}
