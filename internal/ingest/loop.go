package ingest

import (
	"context"
	"time"
)

// Control is the kind of an inbound [Record].
type Control int

const (
	// ControlNone marks a Record carrying an audio packet.
	ControlNone Control = iota

	// ControlListenStart reports that the device started listening. It arms
	// the echo gate.
	ControlListenStart

	// ControlListenStop reports that the device stopped listening. An open
	// utterance is force-ended.
	ControlListenStop

	// ControlSpeakStart reports that assistant playback started.
	ControlSpeakStart

	// ControlSpeakStop reports that assistant playback finished.
	ControlSpeakStop

	// ControlExpectResponse sets whether the assistant waits for an answer
	// from Record.Flag.
	ControlExpectResponse
)

var controlNames = [...]string{
	ControlNone:           "frame",
	ControlListenStart:    "listen_start",
	ControlListenStop:     "listen_stop",
	ControlSpeakStart:     "speak_start",
	ControlSpeakStop:      "speak_stop",
	ControlExpectResponse: "expect_response",
}

func (c Control) String() string {
	if c >= 0 && int(c) < len(controlNames) {
		return controlNames[c]
	}
	return "unknown"
}

// Record is one entry of a session's inbound queue: an audio packet or a
// control signal, interleaved in arrival order.
type Record struct {
	Packet  []byte
	Control Control
	Flag    bool
}

// Frame returns a Record carrying packet.
func Frame(packet []byte) Record { return Record{Packet: packet} }

type runConfig struct {
	idle   time.Duration
	onIdle func()
}

// RunOption configures [Run].
type RunOption func(*runConfig)

// WithIdleTimeout makes Run call onIdle once no speech has been heard for d
// while no utterance is open. The timer restarts on voice activity and after
// each onIdle call. A non-positive d disables it.
func WithIdleTimeout(d time.Duration, onIdle func()) RunOption {
	return func(rc *runConfig) {
		rc.idle = d
		rc.onIdle = onIdle
	}
}

// Run processes the records of in, in order, until in is closed or ctx is
// done. On return any open utterance has been force-ended under a fresh
// context bounded by the session's end timeout, so a final transcript is not
// lost to the cancellation that stopped the loop.
//
// Run returns ctx.Err() if it stopped because ctx was done and nil otherwise.
func Run(ctx context.Context, c *Controller, s *Session, in <-chan Record, opts ...RunOption) error {
	var rc runConfig
	for _, o := range opts {
		o(&rc)
	}

	defer func() {
		endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.EndTimeout)
		defer cancel()
		c.ForceEnd(endCtx, s)
	}()

	var idleC <-chan time.Time
	var idle *time.Timer
	if rc.idle > 0 {
		idle = time.NewTimer(rc.idle)
		defer idle.Stop()
		idleC = idle.C
	}
	lastVoice := s.lastVoiceAt

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idleC:
			if s.Active() {
				idle.Reset(rc.idle)
				continue
			}
			s.log.Info("no speech detected, session idle", "idle_timeout", rc.idle)
			if rc.onIdle != nil {
				rc.onIdle()
			}
			idle.Reset(rc.idle)

		case r, ok := <-in:
			if !ok {
				return nil
			}
			c.handle(ctx, s, r)
			if idle != nil && (s.lastVoiceAt != lastVoice || s.Active()) {
				lastVoice = s.lastVoiceAt
				idle.Reset(rc.idle)
			}
		}
	}
}

func (c *Controller) handle(ctx context.Context, s *Session, r Record) {
	switch r.Control {
	case ControlNone:
		c.OnFrame(ctx, s, r.Packet)
	case ControlListenStart:
		s.ListenStart()
	case ControlListenStop:
		c.ForceEnd(ctx, s)
	case ControlSpeakStart:
		s.SpeakStart()
	case ControlSpeakStop:
		s.SpeakStop()
	case ControlExpectResponse:
		s.ExpectResponse(r.Flag)
	default:
		s.log.Debug("ignoring unknown control record", "control", int(r.Control))
	}
	if r.Control != ControlNone {
		s.log.Debug("control record", "control", r.Control.String())
	}
}
