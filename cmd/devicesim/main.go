// Command devicesim plays the part of a voice device: it opens a session
// against a hearken server, streams a WAV recording (or a synthetic tone
// burst) as Opus packets in real time, and prints every transcript the
// server sends back.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hearken/internal/transport/ws"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/audio/opus"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8000/xiaozhi/v1/", "server WebSocket URL")
	token := flag.String("token", "", "bearer token")
	device := flag.String("device", "devicesim", "device id sent in the Device-Id header")
	wavPath := flag.String("wav", "", "mono PCM16 WAV file to stream; a tone burst when empty")
	rate := flag.Int("rate", audio.Rate16k, "sample rate of the synthetic tone")
	frame := flag.Duration("frame", opus.DefaultFrameDuration, "packet duration")
	wait := flag.Duration("wait", 5*time.Second, "how long to wait for transcripts after the audio ends")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pcm, sampleRate, err := loadAudio(*wavPath, *rate)
	if err != nil {
		slog.Error("load audio", "err", err)
		os.Exit(1)
	}
	sim := &simulator{url: *url, token: *token, device: *device, rate: sampleRate, frame: *frame, wait: *wait}
	if err := sim.run(ctx, pcm); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session failed", "err", err)
		os.Exit(1)
	}
}

// loadAudio reads path, or synthesises one second of silence, two seconds of
// tone, and one second of silence at rate.
func loadAudio(path string, rate int) ([]byte, int, error) {
	if path == "" {
		if !audio.ValidSampleRate(rate) {
			return nil, 0, fmt.Errorf("unsupported sample rate %d", rate)
		}
		silence := make([]byte, audio.Samples(rate, time.Second)*audio.BytesPerSample)
		tone := audio.Tone(rate, audio.Samples(rate, 2*time.Second), 220, 0.6)
		pcm := append(append(append([]byte(nil), silence...), tone...), silence...)
		return pcm, rate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	pcm, f, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	if f.Channels != 1 || !audio.ValidSampleRate(f.SampleRate) {
		return nil, 0, fmt.Errorf("%s: need mono 8 or 16 kHz, got %d channels at %d Hz", path, f.Channels, f.SampleRate)
	}
	return pcm, f.SampleRate, nil
}

type simulator struct {
	url    string
	token  string
	device string
	rate   int
	frame  time.Duration
	wait   time.Duration
}

func (s *simulator) run(ctx context.Context, pcm []byte) error {
	enc, err := opus.NewEncoder(s.rate, s.frame)
	if err != nil {
		return err
	}

	h := http.Header{}
	h.Set("Device-Id", s.device)
	if s.token != "" {
		h.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.CloseNow()

	err = s.send(ctx, conn, ws.Message{
		Type:      ws.TypeHello,
		Version:   1,
		Transport: "websocket",
		AudioParams: &ws.AudioParams{
			Format:        ws.FormatOpus,
			SampleRate:    s.rate,
			Channels:      1,
			FrameDuration: int(s.frame.Milliseconds()),
		},
	})
	if err != nil {
		return err
	}
	reply, err := s.receive(ctx, conn)
	if err != nil {
		return fmt.Errorf("await hello: %w", err)
	}
	if reply.Type != ws.TypeHello {
		return fmt.Errorf("expected hello, got %q", reply.Type)
	}
	slog.Info("session opened", "session_id", reply.SessionID)

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		for {
			m, err := s.receive(gctx, conn)
			if err != nil {
				select {
				case <-done:
					return nil
				default:
				}
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return nil
				}
				return err
			}
			switch m.Type {
			case ws.TypeSTT:
				if m.State == ws.StatePartial {
					fmt.Printf("  ... %s\n", m.Text)
				} else {
					fmt.Printf(">>> %s\n", m.Text)
				}
			case ws.TypeGoodbye:
				slog.Info("server said goodbye", "reason", m.Reason)
				return nil
			}
		}
	})
	g.Go(func() error {
		defer close(done)
		if err := s.stream(gctx, conn, enc, pcm); err != nil {
			return err
		}
		select {
		case <-time.After(s.wait):
		case <-gctx.Done():
		}
		return conn.Close(websocket.StatusNormalClosure, "done")
	})
	return g.Wait()
}

// stream paces packets at the frame rate, the way a microphone would.
func (s *simulator) stream(ctx context.Context, conn *websocket.Conn, enc *opus.Encoder, pcm []byte) error {
	if err := s.send(ctx, conn, ws.Message{Type: ws.TypeListen, State: ws.StateStart, Mode: "auto"}); err != nil {
		return err
	}
	step := audio.Samples(s.rate, s.frame) * audio.BytesPerSample
	tick := time.NewTicker(s.frame)
	defer tick.Stop()

	sent := 0
	for off := 0; off+step <= len(pcm); off += step {
		pkt, err := enc.Encode(pcm[off : off+step])
		if err != nil {
			return err
		}
		if err := conn.Write(ctx, websocket.MessageBinary, pkt); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
		sent++
		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	slog.Info("audio sent", "packets", sent, "duration", time.Duration(sent)*s.frame)
	return s.send(ctx, conn, ws.Message{Type: ws.TypeListen, State: ws.StateStop})
}

func (s *simulator) send(ctx context.Context, conn *websocket.Conn, m ws.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

func (s *simulator) receive(ctx context.Context, conn *websocket.Conn) (ws.Message, error) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return ws.Message{}, err
		}
		if typ != websocket.MessageText {
			continue
		}
		var m ws.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return ws.Message{}, fmt.Errorf("decode: %w", err)
		}
		return m, nil
	}
}
