package ws

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types of the device protocol. Control messages are JSON text
// frames; audio travels as binary frames carrying one encoded packet each.
const (
	TypeHello   = "hello"
	TypeListen  = "listen"
	TypeAbort   = "abort"
	TypeTTS     = "tts"
	TypeSTT     = "stt"
	TypeGoodbye = "goodbye"
)

// States carried by listen, tts and stt messages.
const (
	StateStart   = "start"
	StateStop    = "stop"
	StateDetect  = "detect"
	StatePartial = "partial"
)

// FormatOpus is the only audio format the server decodes.
const FormatOpus = "opus"

// AudioParams describes the device's uplink audio.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"` // milliseconds
}

// Message is the envelope of every text frame in both directions. Fields a
// message type does not use are omitted.
type Message struct {
	Type           string       `json:"type"`
	Version        int          `json:"version,omitempty"`
	Transport      string       `json:"transport,omitempty"`
	SessionID      string       `json:"session_id,omitempty"`
	AudioParams    *AudioParams `json:"audio_params,omitempty"`
	State          string       `json:"state,omitempty"`
	Mode           string       `json:"mode,omitempty"`
	Text           string       `json:"text,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	ExpectResponse *bool        `json:"expect_response,omitempty"`
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("ws: decode message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("ws: decode message: missing type")
	}
	return m, nil
}

// negotiate checks the device's audio parameters against what the session
// decodes. Zero channel and frame duration fields mean "server default".
func negotiate(p *AudioParams, sampleRate int, frame time.Duration) error {
	if p == nil {
		return fmt.Errorf("ws: hello without audio_params")
	}
	if p.Format != FormatOpus {
		return fmt.Errorf("ws: unsupported audio format %q", p.Format)
	}
	if p.SampleRate != sampleRate {
		return fmt.Errorf("ws: sample rate %d, server decodes %d", p.SampleRate, sampleRate)
	}
	if p.Channels != 0 && p.Channels != 1 {
		return fmt.Errorf("ws: %d channels, only mono is supported", p.Channels)
	}
	if p.FrameDuration != 0 && time.Duration(p.FrameDuration)*time.Millisecond != frame {
		return fmt.Errorf("ws: frame duration %dms, server expects %dms", p.FrameDuration, frame.Milliseconds())
	}
	return nil
}
