package oto

import "math"

// FloatBufferTo16BitLE converts a []float32 buffer to 16-bit little-endian
// PCM, writing into dst, which must hold at least 2*len(src) bytes. Values
// outside [-1, 1] are clamped.
func FloatBufferTo16BitLE(src []float32, dst []byte) {
	for i, v := range src {
		var uv int16
		if v < -1.0 {
			uv = -math.MaxInt16
		} else if v > 1.0 {
			uv = math.MaxInt16
		} else {
			uv = int16(v * math.MaxInt16)
		}
		dst[2*i] = byte(uv)
		dst[2*i+1] = byte(uv >> 8)
	}
}
