package ingest

import (
	"log/slog"
	"time"

	"github.com/MrWong99/hearken/internal/transcript"
	"github.com/MrWong99/hearken/internal/vad"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	vadmodel "github.com/MrWong99/hearken/pkg/provider/vad"
)

// Session is the ingest state of one device connection.
//
// A Session is driven by exactly one goroutine (see [Run]); none of its
// methods are safe for concurrent use except [Session.Repudiate] and the
// read-only identity accessors.
type Session struct {
	id         string
	sampleRate int
	cfg        ControllerConfig
	filter     *transcript.Filter
	log        *slog.Logger

	decoder  Decoder
	model    vadmodel.SessionHandle
	analyzer *vad.Analyzer
	preRoll  *PreRoll
	echo     *EchoGate

	// lead is the pre-roll as it stood when the detector entered Starting,
	// followed by every chunk of that Starting run. It is empty outside a
	// Starting run.
	lead [][]byte
	history  *transcript.History

	// Conversation state reported by the device and the assistant.
	speaking          bool
	expectingResponse bool
	botFinishedAt     time.Time

	// audioPos is the session's audio timeline: the total duration of every
	// decoded chunk so far.
	audioPos time.Duration

	// Recognizer state. handle != nil means an utterance is open.
	handle         stt.SessionHandle
	silenceBeganAt time.Duration
	silenceSet     bool
	lastPartial    string
	utteranceStart time.Duration
	fed            time.Duration

	lastVoiceAt time.Time
	stats       SessionStats
	closed      bool
}

// SessionStats are per-session counters.
type SessionStats struct {
	// Frames is the number of successfully decoded frames.
	Frames int

	// Dropped is the number of frames rejected by the decoder.
	Dropped int

	// Onsets is the number of confirmed speech onsets.
	Onsets int

	// Utterances is the number of recognizer sessions that were opened.
	Utterances int

	// Dispatched is the number of transcripts that passed the filter.
	Dispatched int

	// Rejected is the number of transcripts the filter rejected.
	Rejected int
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SampleRate returns the session's audio sample rate in Hz.
func (s *Session) SampleRate() int { return s.sampleRate }

// State returns the speech detector state after the last frame.
func (s *Session) State() vad.State { return s.analyzer.State() }

// Active reports whether a recognizer session is open.
func (s *Session) Active() bool { return s.handle != nil }

// LastPartial returns the most recent non-empty partial of the open
// utterance, or "".
func (s *Session) LastPartial() string { return s.lastPartial }

// UtteranceStart returns the audio time of the first pre-roll chunk fed to
// the open utterance.
func (s *Session) UtteranceStart() time.Duration { return s.utteranceStart }

// AudioTime returns the duration of all audio decoded so far.
func (s *Session) AudioTime() time.Duration { return s.audioPos }

// Stats returns a copy of the session counters.
func (s *Session) Stats() SessionStats { return s.stats }

// History returns the session's recently rejected transcripts.
func (s *Session) History() *transcript.History { return s.history }

// PreRoll returns the session's pre-roll ring.
func (s *Session) PreRoll() *PreRoll { return s.preRoll }

// Config returns the configuration the session was created with.
func (s *Session) Config() ControllerConfig { return s.cfg }

// Repudiate records an accepted transcript that upstream later judged to be
// noise, so that the same text is rejected as repeated next time. It is safe
// to call from any goroutine.
func (s *Session) Repudiate(text string) {
	s.history.Add(transcript.Residue(text))
}

// ListenStart arms the echo gate: the device just started listening and may
// still hear the tail of its own playback.
func (s *Session) ListenStart() {
	s.echo.Arm()
}

// SpeakStart marks the start of assistant playback on the device. Frames are
// analyzed as unvoiced until [Session.SpeakStop].
func (s *Session) SpeakStart() {
	s.speaking = true
}

// SpeakStop marks the end of assistant playback. It records the time for the
// after-bot filter rule and arms the echo gate.
func (s *Session) SpeakStop() {
	s.speaking = false
	s.botFinishedAt = s.echo.now()
	s.echo.Arm()
}

// Speaking reports whether assistant playback is in progress.
func (s *Session) Speaking() bool { return s.speaking }

// ExpectResponse sets whether the assistant is waiting for an answer. Short
// answers like "yes" are let through while it is set.
func (s *Session) ExpectResponse(v bool) {
	s.expectingResponse = v
}

// trackLead keeps lead in step with the detector state that produced res.
func (s *Session) trackLead(prev vad.State, res vad.Result, pcm []byte) {
	starting := res.State == vad.Starting || res.Onset
	switch {
	case prev == vad.Quiet && starting:
		// The pre-roll already holds pcm as its newest entry.
		s.lead = s.preRoll.Snapshot()
	case prev == vad.Starting && starting:
		s.lead = append(s.lead, pcm)
	default:
		s.lead = nil
	}
}

func (s *Session) clearUtterance() {
	s.handle = nil
	s.silenceSet = false
	s.silenceBeganAt = 0
	s.lastPartial = ""
	s.utteranceStart = 0
	s.fed = 0
}

func (s *Session) filterContext(now time.Time) transcript.Context {
	return transcript.Context{
		ExpectingResponse: s.expectingResponse,
		BotFinishedAt:     s.botFinishedAt,
		Now:               now,
	}
}
