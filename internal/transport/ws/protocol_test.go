package ws

import (
	"testing"
	"time"
)

func TestNegotiate(t *testing.T) {
	t.Parallel()
	const frame = 60 * time.Millisecond

	tests := []struct {
		name    string
		params  *AudioParams
		wantErr bool
	}{
		{"full match", &AudioParams{Format: "opus", SampleRate: 16000, Channels: 1, FrameDuration: 60}, false},
		{"defaults omitted", &AudioParams{Format: "opus", SampleRate: 16000}, false},
		{"missing", nil, true},
		{"pcm", &AudioParams{Format: "pcm", SampleRate: 16000}, true},
		{"wrong rate", &AudioParams{Format: "opus", SampleRate: 8000}, true},
		{"stereo", &AudioParams{Format: "opus", SampleRate: 16000, Channels: 2}, true},
		{"20ms frames", &AudioParams{Format: "opus", SampleRate: 16000, FrameDuration: 20}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := negotiate(tt.params, 16000, frame)
			if (err != nil) != tt.wantErr {
				t.Errorf("negotiate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	t.Parallel()

	m, err := decodeMessage([]byte(`{"type":"tts","state":"stop","expect_response":true}`))
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}
	if m.Type != TypeTTS || m.State != StateStop || m.ExpectResponse == nil || !*m.ExpectResponse {
		t.Errorf("decoded %+v", m)
	}

	for _, bad := range []string{`{"state":"start"}`, `not json`} {
		if _, err := decodeMessage([]byte(bad)); err == nil {
			t.Errorf("decodeMessage(%q) succeeded", bad)
		}
	}
}
