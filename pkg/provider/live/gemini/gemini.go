// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Microphone audio is sent as base64 PCM realtimeInput media chunks;
// model audio arrives as base64 inlineData parts and is passed through to the
// caller still encoded.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/hudlink/pkg/pcm"
	"github.com/MrWong99/hudlink/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	eventBuffer = 64

	// readLimit bounds a single inbound frame. Audio turns can be large.
	readLimit = 16 << 20
)

// ErrSessionClosed is returned by SendRealtimeInput after Close.
var ErrSessionClosed = errors.New("gemini: session closed")

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used when the session config names none.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithLogger sets the logger for protocol diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the Gemini Live endpoint and sends the setup message. The
// session reports [live.EventOpened] once the server acknowledges the setup.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		strings.TrimSuffix(p.baseURL, "/"), url.QueryEscape(p.apiKey),
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	model := cfg.Model
	if model == "" {
		model = p.model
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		logger: p.logger.With("model", model),
		events: make(chan live.Event, eventBuffer),
		ctx:    sessCtx,
		cancel: cancel,
	}
	if err := wsjson.Write(ctx, conn, buildSetup(model, cfg)); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()
	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// buildSetup translates a live.Config into the BidiGenerateContent setup message.
func buildSetup(model string, cfg live.Config) setupMessage {
	modalities := make([]string, 0, len(cfg.Modalities))
	for _, m := range cfg.Modalities {
		modalities = append(modalities, string(m))
	}
	if len(modalities) == 0 {
		modalities = []string{string(live.ModalityAudio)}
	}

	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", strings.TrimPrefix(model, "models/")),
			GenerationConfig: generationConfig{
				ResponseModalities: modalities,
			},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	return msg
}

// toMessage reduces serverContent to a live.Message. It returns nil when the
// content carries nothing a consumer acts on.
func toMessage(sc *serverContent) *live.Message {
	msg := &live.Message{
		TurnComplete: sc.TurnComplete,
		Interrupted:  sc.Interrupted,
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				msg.Audio = append(msg.Audio, p.InlineData.Data)
			}
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

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	logger *slog.Logger
	events chan live.Event

	closed atomic.Bool
	// ctx is cancelled by Close and stops both loops.
	ctx    context.Context
	cancel context.CancelFunc
}

// emit delivers ev unless the session is being torn down.
func (s *session) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// receiveLoop owns the events channel and closes it on exit. A local Close
// ends it without a terminal event. Frames are decoded here rather than with
// wsjson, which closes the connection on the first undecodable frame.
func (s *session) receiveLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.emit(terminalEvent(err))
			}
			return
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("gemini: skipping malformed frame", "err", err)
			continue
		}
		if !s.dispatch(&msg) {
			return
		}
	}
}

// terminalEvent maps a read failure to EventClosed for an orderly close
// frame and to EventError otherwise.
func terminalEvent(err error) live.Event {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return live.Event{Type: live.EventClosed}
	default:
		return live.Event{Type: live.EventError, Err: fmt.Errorf("gemini: read: %w", err)}
	}
}

// dispatch emits the events for one frame and reports whether reading
// continues.
func (s *session) dispatch(msg *serverMessage) bool {
	if e := msg.Error; e != nil {
		text := e.Message
		if text == "" {
			text = "unknown error"
		}
		s.emit(live.Event{Type: live.EventError, Err: fmt.Errorf("gemini: server error %d: %s", e.Code, text)})
		return false
	}
	if msg.SetupComplete != nil && !s.emit(live.Event{Type: live.EventOpened}) {
		return false
	}
	if msg.GoAway != nil {
		s.logger.Info("gemini: server announced disconnect", "detail", string(*msg.GoAway))
	}
	if msg.ServerContent == nil {
		return true
	}
	m := toMessage(msg.ServerContent)
	return m == nil || s.emit(live.Event{Type: live.EventMessage, Message: m})
}

func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			if err := s.conn.Ping(ctx); err != nil && s.ctx.Err() == nil {
				s.logger.Debug("gemini: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

// SendRealtimeInput streams one encoded microphone blob to the model.
func (s *session) SendRealtimeInput(ctx context.Context, blob pcm.Blob) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{MIMEType: blob.MIMEType, Data: blob.Data}},
		},
	}
	if err := wsjson.Write(ctx, s.conn, msg); err != nil {
		return fmt.Errorf("gemini: send realtime input: %w", err)
	}
	return nil
}

func (s *session) Events() <-chan live.Event { return s.events }

// Close ends the session. Only the first call has an effect.
func (s *session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
