package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// RMS computes the root-mean-square amplitude of 16-bit little-endian mono
// PCM, normalized to [0, 1]. A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		f := float64(v) / 32768.0
		sumSquares += f * f
	}
	return math.Sqrt(sumSquares / float64(n))
}

// PCMDuration returns the playback duration of 16-bit mono PCM at the given
// sample rate.
func PCMDuration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
