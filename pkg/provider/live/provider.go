// Package live defines the Provider interface for realtime conversational
// audio backends (the "Live Session Client").
//
// A live session is a single bidirectional channel: the caller streams
// encoded microphone audio into it with [Session.SendRealtimeInput] and reads
// an ordered stream of [Event] values out of it. Every lifecycle signal (open,
// message, close, error) travels through the same channel, so a consumer that
// reads [Session.Events] from one goroutine observes them in delivery order.
//
// Implementations must be safe for concurrent use.
package live

import (
	"context"

	"github.com/MrWong99/hudlink/pkg/pcm"
)

// Modality is a response modality requested from the model.
type Modality string

// ModalityAudio requests spoken responses only.
const ModalityAudio Modality = "AUDIO"

// Config is the initial configuration for a new live session.
type Config struct {
	// Model is the provider model identifier. Empty selects the provider default.
	Model string

	// Modalities lists the requested response modalities. Empty means
	// [ModalityAudio] only.
	Modalities []Modality

	// Voice is the prebuilt voice the model speaks with.
	Voice string

	// Instructions is the system instruction defining the assistant persona.
	Instructions string

	// OutputTranscription asks the provider to stream a text transcription of
	// the model's spoken output alongside the audio.
	OutputTranscription bool

	// InputTranscription asks the provider to transcribe the user's speech.
	InputTranscription bool
}

// EventType classifies the events emitted by a [Session].
type EventType int

const (
	// EventOpened signals that the session finished its handshake and is ready
	// to carry audio.
	EventOpened EventType = iota

	// EventMessage carries one inbound server message.
	EventMessage

	// EventClosed signals that the remote side closed the session cleanly.
	EventClosed

	// EventError signals a transport or protocol failure. No further events
	// follow.
	EventError
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventOpened:
		return "OPENED"
	case EventMessage:
		return "MESSAGE"
	case EventClosed:
		return "CLOSED"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Message is one inbound server message, reduced to the parts a voice link
// consumes. Audio and transcript may both be present.
type Message struct {
	// Audio holds base64 PCM16 fragments (24 kHz mono) in delivery order.
	Audio []string

	// Transcript is an incremental fragment of the output transcription.
	Transcript string

	// InputTranscript is an incremental fragment of the user speech
	// transcription, when enabled.
	InputTranscript string

	// TurnComplete marks the end of a model turn.
	TurnComplete bool

	// Interrupted reports that the model stopped generating because the user
	// started speaking.
	Interrupted bool
}

// Event is one item of a session's ordered event stream.
type Event struct {
	Type EventType

	// Message is set for [EventMessage].
	Message *Message

	// Err is set for [EventError].
	Err error
}

// Session is an open live session.
type Session interface {
	// SendRealtimeInput streams one encoded audio blob to the model. It returns
	// an error if the session is closed or the write fails; callers do not
	// retry.
	SendRealtimeInput(ctx context.Context, blob pcm.Blob) error

	// Events returns the ordered event stream. The channel is closed after the
	// terminal [EventClosed] or [EventError], or when Close is called.
	Events() <-chan Event

	// Close terminates the session and releases its resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect starts a new session. The transport may still be completing its
	// handshake when Connect returns; readiness is reported by [EventOpened].
	// The caller owns the Session and must call Close.
	Connect(ctx context.Context, cfg Config) (Session, error)
}
