package audio

import "encoding/binary"

// WAVDurationMS reads the duration from a RIFF/WAVE header.
func WAVDurationMS(data []byte) (int, bool) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, false
	}
	var byteRate uint32
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8
		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, false
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, false
			}
			// streamed WAVs may carry a placeholder size
			avail := uint32(len(data) - body)
			if size == 0 || size == 0xFFFFFFFF || size > avail {
				size = avail
			}
			return int(uint64(size) * 1000 / uint64(byteRate)), true
		}
		next := body + int(size)
		if size%2 == 1 {
			next++
		}
		if next <= off {
			return 0, false
		}
		off = next
	}
	return 0, false
}
