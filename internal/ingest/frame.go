package ingest

import (
	"fmt"
	"time"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/audio/opus"
)

// Decoder turns one inbound packet into PCM16 mono at the session's sample
// rate. Errors must wrap [opus.ErrDecode]; the controller drops such packets.
type Decoder interface {
	Decode(packet []byte) ([]byte, error)
	Close() error
}

// DecoderFactory builds the decoder of a new session.
type DecoderFactory func(sampleRate int, frameDuration time.Duration) (Decoder, error)

// OpusDecoders is the production [DecoderFactory].
func OpusDecoders(sampleRate int, frameDuration time.Duration) (Decoder, error) {
	d, err := opus.NewDecoder(sampleRate, frameDuration)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// PCMDecoder accepts raw PCM16 packets and only checks their length. It
// stands in for Opus when a device streams PCM or in tests.
type PCMDecoder struct {
	frameBytes int
}

var _ Decoder = (*PCMDecoder)(nil)

// NewPCMDecoder returns a decoder accepting packets of exactly one
// frameDuration at sampleRate.
func NewPCMDecoder(sampleRate int, frameDuration time.Duration) (*PCMDecoder, error) {
	if !audio.ValidSampleRate(sampleRate) {
		return nil, fmt.Errorf("ingest: unsupported sample rate %d", sampleRate)
	}
	if frameDuration <= 0 {
		frameDuration = opus.DefaultFrameDuration
	}
	return &PCMDecoder{frameBytes: audio.Samples(sampleRate, frameDuration) * audio.BytesPerSample}, nil
}

// PCMDecoders is a [DecoderFactory] producing [PCMDecoder]s.
func PCMDecoders(sampleRate int, frameDuration time.Duration) (Decoder, error) {
	d, err := NewPCMDecoder(sampleRate, frameDuration)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Decode returns a copy of packet if it has the expected length. A packet of
// any other length (another sample rate or frame size) is rejected rather
// than resampled.
func (d *PCMDecoder) Decode(packet []byte) ([]byte, error) {
	if len(packet) != d.frameBytes {
		return nil, fmt.Errorf("%w: pcm packet of %d bytes, want %d", opus.ErrDecode, len(packet), d.frameBytes)
	}
	return append([]byte(nil), packet...), nil
}

// Close is a no-op.
func (d *PCMDecoder) Close() error { return nil }
