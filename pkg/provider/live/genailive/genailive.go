// Package genailive implements the live.Provider interface on top of the
// official Google Gen AI Go SDK (google.golang.org/genai).
//
// The SDK delivers model audio as raw bytes; this package re-wraps it in
// base64 so that every backend hands the same wire representation to the
// caller's decoder.
package genailive

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/hudlink/pkg/pcm"
	"github.com/MrWong99/hudlink/pkg/provider/live"
)

// Compile-time assertions.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*session)(nil)
)

const (
	defaultModel = "gemini-2.0-flash-live-001"
	eventBuffer  = 64
)

// ErrSessionClosed is returned by SendRealtimeInput after Close.
var ErrSessionClosed = errors.New("genailive: session closed")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used when the session config names none.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider opens live sessions through the Gen AI SDK.
type Provider struct {
	apiKey  string
	model   string
	baseURL string

	once    sync.Once
	client  *genai.Client
	initErr error
}

// New returns a Provider authenticating with apiKey against the Gemini API
// backend. The SDK client is created lazily on the first Connect.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: defaultModel}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) sdkClient(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:  p.apiKey,
			Backend: genai.BackendGeminiAPI,
		}
		if p.baseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
		}
		p.client, p.initErr = genai.NewClient(ctx, cc)
	})
	return p.client, p.initErr
}

// Connect opens a live session. The SDK sends the setup message before it
// returns; [live.EventOpened] follows once the server acknowledges it.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	client, err := p.sdkClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("genailive: client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = p.model
	}

	sdkSess, err := client.Live.Connect(ctx, model, BuildConnectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genailive: connect: %w", err)
	}

	s := &session{
		sdk:    sdkSess,
		events: make(chan live.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go s.receiveLoop()
	return s, nil
}

// BuildConnectConfig translates a live.Config into the SDK connect config.
func BuildConnectConfig(cfg live.Config) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{}
	for _, m := range cfg.Modalities {
		out.ResponseModalities = append(out.ResponseModalities, genai.Modality(m))
	}
	if len(out.ResponseModalities) == 0 {
		out.ResponseModalities = []genai.Modality{genai.ModalityAudio}
	}
	if cfg.Voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		out.SystemInstruction = genai.NewContentFromText(cfg.Instructions, genai.RoleUser)
	}
	if cfg.OutputTranscription {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.InputTranscription {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return out
}

// ToMessage reduces an SDK server content payload to a live.Message. It
// returns nil when there is nothing to act on.
func ToMessage(sc *genai.LiveServerContent) *live.Message {
	if sc == nil {
		return nil
	}
	msg := &live.Message{
		TurnComplete: sc.TurnComplete,
		Interrupted:  sc.Interrupted,
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			msg.Audio = append(msg.Audio, base64.StdEncoding.EncodeToString(part.InlineData.Data))
		}
	}
	if sc.OutputTranscription != nil {
		msg.Transcript = sc.OutputTranscription.Text
	}
	if sc.InputTranscription != nil {
		msg.InputTranscript = sc.InputTranscription.Text
	}
	if len(msg.Audio) == 0 && msg.Transcript == "" && msg.InputTranscript == "" &&
		!msg.TurnComplete && !msg.Interrupted {
		return nil
	}
	return msg
}

// isCleanClose reports whether err is a normal WebSocket closure.
func isCleanClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	return false
}

type session struct {
	sdk    *genai.Session
	events chan live.Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (s *session) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// receiveLoop owns the events channel and closes it on exit.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		msg, err := s.sdk.Receive()
		if err != nil {
			if s.isClosed() {
				return
			}
			if isCleanClose(err) {
				s.emit(live.Event{Type: live.EventClosed})
			} else {
				s.emit(live.Event{Type: live.EventError, Err: fmt.Errorf("genailive: receive: %w", err)})
			}
			return
		}
		if msg.SetupComplete != nil {
			if !s.emit(live.Event{Type: live.EventOpened}) {
				return
			}
		}
		if msg.GoAway != nil {
			slog.Info("genailive: server announced disconnect")
		}
		if m := ToMessage(msg.ServerContent); m != nil {
			if !s.emit(live.Event{Type: live.EventMessage, Message: m}) {
				return
			}
		}
	}
}

// SendRealtimeInput decodes the blob back to bytes for the SDK, which
// re-encodes it on the wire.
func (s *session) SendRealtimeInput(_ context.Context, blob pcm.Blob) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	raw, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return fmt.Errorf("genailive: blob: %w", err)
	}
	err = s.sdk.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: raw, MIMEType: blob.MIMEType},
	})
	if err != nil {
		return fmt.Errorf("genailive: send realtime input: %w", err)
	}
	return nil
}

func (s *session) Events() <-chan live.Event { return s.events }

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	if err := s.sdk.Close(); err != nil {
		return fmt.Errorf("genailive: close: %w", err)
	}
	return nil
}
