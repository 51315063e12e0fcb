// Package audio provides the PCM primitives shared by the ingestion pipeline:
// sample conversion, energy measurement, and WAV framing.
//
// All PCM in hearken is signed 16-bit little-endian, mono, at either 8 kHz or
// 16 kHz. Nothing in this package resamples; callers that receive audio at the
// wrong rate must reject it.
package audio

import "time"

// Supported sample rates. The VAD model and the device protocol only agree on
// these two.
const (
	Rate8k  = 8000
	Rate16k = 16000
)

// BytesPerSample is the width of one PCM16 sample.
const BytesPerSample = 2

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// ValidSampleRate reports whether rate is one of the supported rates.
func ValidSampleRate(rate int) bool {
	return rate == Rate8k || rate == Rate16k
}

// Samples returns the number of mono samples that make up d at rate.
func Samples(rate int, d time.Duration) int {
	return int(int64(rate) * int64(d) / int64(time.Second))
}

// Duration returns the playback length of n mono samples at rate.
func Duration(rate, n int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// PCMDuration returns the playback length of a mono PCM16 buffer at rate.
func PCMDuration(rate int, pcm []byte) time.Duration {
	return Duration(rate, len(pcm)/BytesPerSample)
}
