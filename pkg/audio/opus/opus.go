// Package opus decodes the device's Opus packets into PCM16 mono at a fixed
// sample rate.
//
// One Decoder must be used per audio stream: Opus decoders carry state across
// packets for loss concealment, so sharing or replacing a decoder mid-stream
// corrupts the output.
package opus

import (
	"errors"
	"fmt"
	"time"

	"layeh.com/gopus"

	"github.com/MrWong99/hearken/pkg/audio"
)

// ErrDecode is wrapped by every error returned from Decode. Decode errors are
// per packet; the caller drops the packet and continues with the next one.
var ErrDecode = errors.New("opus: decode failed")

// DefaultFrameDuration is the packet length emitted by the device firmware.
const DefaultFrameDuration = 60 * time.Millisecond

// Decoder decodes mono Opus packets of a fixed duration.
// It is not safe for concurrent use.
type Decoder struct {
	dec        *gopus.Decoder
	sampleRate int
	frameSize  int
}

// NewDecoder creates a decoder producing sampleRate Hz mono PCM. sampleRate
// must be 8000 or 16000. frameDuration is the nominal packet length; packets
// that decode to any other length are rejected.
func NewDecoder(sampleRate int, frameDuration time.Duration) (*Decoder, error) {
	if !audio.ValidSampleRate(sampleRate) {
		return nil, fmt.Errorf("opus: unsupported sample rate %d", sampleRate)
	}
	if frameDuration <= 0 {
		frameDuration = DefaultFrameDuration
	}
	dec, err := gopus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{
		dec:        dec,
		sampleRate: sampleRate,
		frameSize:  audio.Samples(sampleRate, frameDuration),
	}, nil
}

// SampleRate returns the output sample rate in Hz.
func (d *Decoder) SampleRate() int { return d.sampleRate }

// FrameSize returns the number of samples every decoded packet must contain.
func (d *Decoder) FrameSize() int { return d.frameSize }

// Decode decodes one packet into PCM16 little-endian bytes containing exactly
// FrameSize samples.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, fmt.Errorf("%w: empty packet", ErrDecode)
	}
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if len(pcm) != d.frameSize {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrDecode, len(pcm), d.frameSize)
	}
	return audio.Int16sToBytes(pcm), nil
}

// Close releases the decoder. gopus frees its C state through a finalizer, so
// Close only drops the reference.
func (d *Decoder) Close() error {
	d.dec = nil
	return nil
}

// Encoder encodes mono PCM16 into Opus packets. The server never sends audio,
// but tests and the device simulator in cmd/devicesim use it to produce
// realistic packets.
type Encoder struct {
	enc       *gopus.Encoder
	frameSize int
}

// NewEncoder creates a VoIP-tuned mono encoder.
func NewEncoder(sampleRate int, frameDuration time.Duration) (*Encoder, error) {
	if !audio.ValidSampleRate(sampleRate) {
		return nil, fmt.Errorf("opus: unsupported sample rate %d", sampleRate)
	}
	if frameDuration <= 0 {
		frameDuration = DefaultFrameDuration
	}
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc, frameSize: audio.Samples(sampleRate, frameDuration)}, nil
}

// Encode encodes exactly one frame of PCM16 bytes.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	samples := audio.BytesToInt16s(pcm)
	if len(samples) != e.frameSize {
		return nil, fmt.Errorf("opus: encode: got %d samples, want %d", len(samples), e.frameSize)
	}
	out, err := e.enc.Encode(samples, e.frameSize, 4000)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return out, nil
}
