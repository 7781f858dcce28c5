// Package control exposes the session controller over HTTP.
//
// Routes:
//
//   - GET  /status      current [session.Snapshot] as JSON
//   - POST /activate    start a session (202, or 409 when already active)
//   - POST /deactivate  stop the session (200)
//   - GET  /events      websocket stream of snapshots, one per state or
//     caption change, starting with the current snapshot
//
// It is the presentation boundary: it reads snapshots and issues activate and
// deactivate requests but never touches the audio pipelines directly.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/hudlink/internal/observe"
	"github.com/MrWong99/hudlink/internal/session"
)

const (
	// eventBuffer is the per-subscriber change buffer. Changes beyond it are
	// dropped by the controller; the next one carries the full snapshot again.
	eventBuffer = 32

	writeTimeout = 5 * time.Second
)

// Controller is the subset of [*session.Controller] the HTTP surface needs.
type Controller interface {
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	Snapshot() session.Snapshot
	Subscribe(buffer int) (<-chan session.Change, func())
}

var _ Controller = (*session.Controller)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOriginPatterns allows cross-origin websocket clients whose host matches
// one of patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server serves the control routes.
type Server struct {
	ctrl    Controller
	logger  *slog.Logger
	origins []string
}

// New returns a Server for ctrl.
func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the control routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", s.status)
	mux.HandleFunc("POST /activate", s.activate)
	mux.HandleFunc("POST /deactivate", s.deactivate)
	mux.HandleFunc("GET /events", s.events)
}

type errorBody struct {
	Error    string           `json:"error"`
	Snapshot session.Snapshot `json:"snapshot"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) activate(w http.ResponseWriter, r *http.Request) {
	err := s.ctrl.Activate(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.ctrl.Snapshot())
	case errors.Is(err, session.ErrAlreadyActive):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Snapshot: s.ctrl.Snapshot()})
	case errors.Is(err, session.ErrDeviceAcquisition):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Snapshot: s.ctrl.Snapshot()})
	default:
		observe.LoggerFrom(r.Context(), s.logger).Error("control: activate failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Snapshot: s.ctrl.Snapshot()})
	}
}

func (s *Server) deactivate(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Deactivate(r.Context()); err != nil {
		// Teardown is best effort; the state is already OFFLINE or ERROR.
		observe.LoggerFrom(r.Context(), s.logger).Warn("control: deactivate reported errors", "err", err)
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("control: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Subscribe before the first snapshot so no change is missed between them.
	changes, unsubscribe := s.ctrl.Subscribe(eventBuffer)
	defer unsubscribe()

	// Inbound frames are not expected; CloseRead cancels ctx when the client
	// goes away.
	ctx := conn.CloseRead(r.Context())

	if err := s.write(ctx, conn, s.ctrl.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := s.write(ctx, conn, s.ctrl.Snapshot()); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, snap session.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, snap); err != nil {
		s.logger.Debug("control: event stream closed", "err", err)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}
