package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const bitsPerSample = 16

// ErrUnsupportedWAV is returned by DecodeWAV for containers that are not
// uncompressed PCM16.
var ErrUnsupportedWAV = errors.New("audio: unsupported wav")

// EncodeWAV wraps raw PCM16 data in a RIFF/WAV container suitable for
// batch transcription uploads.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV walks the RIFF chunks of data and returns the PCM payload with
// its format. Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: not a RIFF/WAVE container", ErrUnsupportedWAV)
	}
	var (
		f      Format
		hasFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			// Streaming writers leave the data size unset; take the rest.
			if id != "data" {
				return nil, Format{}, fmt.Errorf("%w: truncated %q chunk", ErrUnsupportedWAV, id)
			}
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			chunk := data[body : body+size]
			if tag := binary.LittleEndian.Uint16(chunk[0:2]); tag != 1 {
				return nil, Format{}, fmt.Errorf("%w: format tag %d", ErrUnsupportedWAV, tag)
			}
			if bits := binary.LittleEndian.Uint16(chunk[14:16]); bits != bitsPerSample {
				return nil, Format{}, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			hasFmt = true
		case "data":
			if !hasFmt {
				return nil, Format{}, fmt.Errorf("%w: data before fmt", ErrUnsupportedWAV)
			}
			return data[body : body+size], f, nil
		}
		off = body + size + size%2
	}
	return nil, Format{}, fmt.Errorf("%w: no data chunk", ErrUnsupportedWAV)
}
