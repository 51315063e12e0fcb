package audio

import (
	"encoding/binary"
	"math"
)

// Int16sToBytes converts a slice of int16 samples to little-endian bytes.
func Int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16s converts little-endian PCM16 bytes to int16 samples. A trailing
// odd byte is ignored.
func BytesToInt16s(pcm []byte) []int16 {
	n := len(pcm) / BytesPerSample
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// ToFloat32 converts PCM16 bytes to float32 samples normalised to [-1, 1].
func ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / BytesPerSample
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// RMS returns the normalised root-mean-square energy of a PCM16 buffer:
// sqrt(mean(s²) / 32768²). The result is in [0, 1]. Empty input yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}

// Tone returns n samples of a sine wave at freq Hz with the given peak
// amplitude (0..1), encoded as PCM16. It is used by tests and the energy
// model's calibration path.
func Tone(rate, n int, freq, amplitude float64) []byte {
	samples := make([]int16, n)
	for i := range samples {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
		samples[i] = int16(v * 32767)
	}
	return Int16sToBytes(samples)
}
