// Package mock provides test doubles for the stt package interfaces.
//
// Provider opens a new Session per StartStream call. Finals scripts the final
// transcript of each successive session, so a test can drive several
// utterances through one provider. Every call on the provider and its sessions
// is appended to a single ordered event log, which lets tests assert on the
// start, feed*, end sequence of an utterance.
//
// Example:
//
//	p := &mock.Provider{Finals: []string{"turn on the lights"}}
//	h, _ := p.StartStream(ctx, cfg)
//	_, _ = h.Feed(ctx, pcm)
//	final, _ := h.End(ctx) // "turn on the lights"
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// Op names a recorded call.
type Op string

const (
	OpStart Op = "start"
	OpFeed  Op = "feed"
	OpEnd   Op = "end"
	OpClose Op = "close"
)

// Event is one entry of the ordered call log.
type Event struct {
	Op Op

	// Session is the index of the session the call belongs to, in
	// StartStream order.
	Session int

	// PCM is a copy of the fed chunk for OpFeed events.
	PCM []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Finals is the final transcript returned by End of the n-th session.
	// Sessions beyond the end of the slice return "".
	Finals []string

	// Partial is returned by every Feed call.
	Partial string

	// StartErr, if non-nil, is returned as the error from StartStream.
	StartErr error

	// StartDelay delays StartStream without observing ctx, like a backend that
	// ignores cancellation. The session is still created and returned.
	StartDelay time.Duration

	// FeedErr, if non-nil, is returned by every Feed call.
	FeedErr error

	// EndErr, if non-nil, is returned by every End call.
	EndErr error

	// EndDelay delays End. The delay is cut short if ctx is done.
	EndDelay time.Duration

	// StartStreamCalls records the config of every StartStream call.
	StartStreamCalls []stt.StreamConfig

	// Sessions holds every session created, in order.
	Sessions []*Session

	events []Event
}

// StartStream records the call, waits StartDelay, and returns a new Session or
// StartErr.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	delay := p.StartDelay
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, cfg)
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	idx := len(p.Sessions)
	s := &Session{
		provider: p,
		index:    idx,
		Partial:  p.Partial,
		FeedErr:  p.FeedErr,
		EndErr:   p.EndErr,
		EndDelay: p.EndDelay,
	}
	if idx < len(p.Finals) {
		s.Final = p.Finals[idx]
	}
	p.Sessions = append(p.Sessions, s)
	p.events = append(p.events, Event{Op: OpStart, Session: idx})
	return s, nil
}

// Events returns a copy of the ordered call log. Thread-safe.
func (p *Provider) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Ops returns the operations of the call log without payloads. Thread-safe.
func (p *Provider) Ops() []Op {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]Op, len(p.events))
	for i, e := range p.events {
		ops[i] = e.Op
	}
	return ops
}

// StartCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) StartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Session returns the i-th created session, or nil. Thread-safe.
func (p *Provider) Session(i int) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.Sessions) {
		return nil
	}
	return p.Sessions[i]
}

func (p *Provider) record(e Event) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle. It may be used on its
// own or be created by a Provider, in which case calls are also appended to
// the provider's event log.
type Session struct {
	mu       sync.Mutex
	provider *Provider
	index    int

	// Final is returned by End.
	Final string

	// Partial is returned by every Feed call.
	Partial string

	// FeedErr, if non-nil, is returned by every Feed call.
	FeedErr error

	// EndErr, if non-nil, is returned by End.
	EndErr error

	// EndDelay delays End. The delay is cut short if ctx is done.
	EndDelay time.Duration

	// --- Call records ---

	// Fed records a copy of every chunk passed to Feed.
	Fed [][]byte

	// EndCallCount is the number of End calls.
	EndCallCount int

	// CloseCallCount is the number of Close calls.
	CloseCallCount int

	closed bool
}

// Feed records the chunk and returns Partial or FeedErr.
func (s *Session) Feed(_ context.Context, pcm []byte) (string, error) {
	cp := append([]byte(nil), pcm...)
	s.provider.record(Event{Op: OpFeed, Session: s.index, PCM: cp})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", stt.ErrSessionClosed
	}
	s.Fed = append(s.Fed, cp)
	if s.FeedErr != nil {
		return "", s.FeedErr
	}
	return s.Partial, nil
}

// End records the call, waits EndDelay, and returns Final or EndErr.
func (s *Session) End(ctx context.Context) (string, error) {
	s.provider.record(Event{Op: OpEnd, Session: s.index})

	s.mu.Lock()
	s.EndCallCount++
	delay := s.EndDelay
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", stt.ErrSessionClosed
	}
	if s.EndErr != nil {
		return "", s.EndErr
	}
	return s.Final, nil
}

// Close records the call. It always returns nil.
func (s *Session) Close() error {
	s.provider.record(Event{Op: OpClose, Session: s.index})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.closed = true
	return nil
}

// FedChunks returns a copy of the fed chunks. Thread-safe.
func (s *Session) FedChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.Fed...)
}

// Closes returns the number of Close calls. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ends returns the number of End calls. Thread-safe.
func (s *Session) Ends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EndCallCount
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
