// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to inject events into the ordered stream and inspect which
// audio blobs were sent.
//
// Example:
//
//	sess := mock.NewSession(8)
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.Event{Type: live.EventOpened})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/hudlink/pkg/pcm"
	"github.com/MrWong99/hudlink/pkg/provider/live"
)

// Compile-time assertions.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*Session)(nil)
)

// ErrClosed is returned by Session.SendRealtimeInput after Close.
var ErrClosed = errors.New("mock: session closed")

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new Session
	// with a buffered event channel.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Block, if non-nil, makes Connect wait until it is closed or ctx ends.
	Block chan struct{}

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession(16)
	}
	return p.Session, nil
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Session is a mock implementation of live.Session.
type Session struct {
	mu     sync.Mutex
	events chan live.Event
	closed bool
	sent   []pcm.Blob

	// SendErr, if non-nil, is returned by SendRealtimeInput (the blob is
	// still recorded).
	SendErr error

	// CloseErr is returned by every Close call.
	CloseErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// sentCh is signalled after every recorded send.
	sentCh chan struct{}
}

// NewSession returns an open session whose event channel holds up to
// buffered events.
func NewSession(buffered int) *Session {
	return &Session{
		events: make(chan live.Event, buffered),
		sentCh: make(chan struct{}, 1),
	}
}

// Emit pushes ev into the event stream. It reports false if the session is
// already closed.
func (s *Session) Emit(ev live.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events <- ev
	return true
}

// SendRealtimeInput records blob and returns SendErr.
func (s *Session) SendRealtimeInput(_ context.Context, blob pcm.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.sent = append(s.sent, blob)
	select {
	case s.sentCh <- struct{}{}:
	default:
	}
	return s.SendErr
}

// Sent returns a copy of every blob passed to SendRealtimeInput.
func (s *Session) Sent() []pcm.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pcm.Blob, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentSignal is signalled (non-blocking, capacity 1) after each send.
func (s *Session) SentSignal() <-chan struct{} { return s.sentCh }

// Events returns the event channel.
func (s *Session) Events() <-chan live.Event { return s.events }

// Close marks the session closed and closes the event channel on the first
// call. Returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return s.CloseErr
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCalls returns the number of Close calls.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
