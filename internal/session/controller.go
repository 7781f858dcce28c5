package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hudlink/internal/caption"
	"github.com/MrWong99/hudlink/internal/capture"
	"github.com/MrWong99/hudlink/internal/observe"
	"github.com/MrWong99/hudlink/internal/playback"
	"github.com/MrWong99/hudlink/pkg/audio"
	"github.com/MrWong99/hudlink/pkg/provider/live"
)

// DefaultBlockSize is the number of samples per captured frame.
const DefaultBlockSize = 4096

var (
	// ErrAlreadyActive is returned by Activate while CONNECTING or ONLINE.
	ErrAlreadyActive = errors.New("session: already active")

	// ErrDeviceAcquisition wraps failures to open the microphone or the
	// output device.
	ErrDeviceAcquisition = errors.New("session: device acquisition failed")

	// ErrChannel wraps failures surfaced by the live session channel.
	ErrChannel = errors.New("session: channel error")
)

// Config configures a [Controller].
type Config struct {
	// Provider opens live sessions. Required.
	Provider live.Provider

	// Capture acquires the microphone. Required.
	Capture audio.CaptureDevice

	// Output acquires the playback device. Required.
	Output audio.OutputDevice

	// Live is passed to Provider.Connect on every activation.
	Live live.Config

	// BlockSize is the capture frame size in samples. Defaults to 4096.
	BlockSize int

	// QueueCapacity bounds the outbound audio queue. Defaults to
	// [capture.DefaultQueueCapacity].
	QueueCapacity int

	// CaptionMaxChars and CaptionSilence configure the caption aggregator.
	// Zero values select the aggregator defaults.
	CaptionMaxChars int
	CaptionSilence  time.Duration

	// CaptionAfterFunc replaces the caption timer factory. Nil uses
	// [time.AfterFunc].
	CaptionAfterFunc caption.AfterFunc

	// TelemetryInterval is the period of the background metrics timer.
	// Defaults to 1s.
	TelemetryInterval time.Duration

	// ConnectTimeout bounds the time from activation until the channel
	// reports it is open. Zero waits indefinitely.
	ConnectTimeout time.Duration

	// Metrics receives pipeline and state metrics. Nil discards them.
	Metrics *observe.Metrics

	// Logger is the base logger. Nil uses [slog.Default].
	Logger *slog.Logger
}

// ChangeKind distinguishes the notifications delivered by Subscribe.
type ChangeKind int

const (
	// ChangeState reports a connection state transition.
	ChangeState ChangeKind = iota

	// ChangeCaption reports a new caption text.
	ChangeCaption
)

// String returns "state" or "caption".
func (k ChangeKind) String() string {
	if k == ChangeCaption {
		return "caption"
	}
	return "state"
}

// Change is a single notification delivered to subscribers.
type Change struct {
	Kind      ChangeKind
	From, To  State
	Caption   string
	SessionID string
	Err       error
	At        time.Time
}

// Snapshot is a read-only view of the controller for presentation.
type Snapshot struct {
	State          State                 `json:"state"`
	SessionID      string                `json:"session_id,omitempty"`
	Since          time.Time             `json:"since"`
	Caption        string                `json:"caption"`
	InputLevel     float64               `json:"input_level"`
	PlaybackCursor float64               `json:"playback_cursor"`
	PlaybackLead   float64               `json:"playback_lead"`
	ActiveBuffers  int                   `json:"active_buffers"`
	Outbound       capture.OutboundStats `json:"outbound"`
	LastError      string                `json:"last_error,omitempty"`
}

// Controller owns the connection state machine and the resources of the
// current activation. All methods are safe for concurrent use.
type Controller struct {
	cfg     Config
	metrics *observe.Metrics
	logger  *slog.Logger
	caption *caption.Aggregator

	// opMu serialises Activate and Deactivate.
	opMu sync.Mutex

	mu        sync.Mutex
	live      live.Config
	state     State
	since     time.Time
	sessionID string
	lastErr   error
	run       *activation
	subs      map[int]chan Change
	nextSub   int
}

// New validates cfg and returns an OFFLINE controller.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Provider == nil {
		errs = append(errs, errors.New("session: Provider is required"))
	}
	if cfg.Capture == nil {
		errs = append(errs, errors.New("session: Capture is required"))
	}
	if cfg.Output == nil {
		errs = append(errs, errors.New("session: Output is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.NopMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Controller{
		cfg:     cfg,
		live:    cfg.Live,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		state:   StateOffline,
		since:   time.Now(),
		subs:    make(map[int]chan Change),
	}
	capOpts := []caption.Option{
		caption.WithMaxChars(cfg.CaptionMaxChars),
		caption.WithSilenceTimeout(cfg.CaptionSilence),
		caption.WithMetrics(cfg.Metrics),
		caption.WithOnChange(c.captionChanged),
	}
	if cfg.CaptionAfterFunc != nil {
		capOpts = append(capOpts, caption.WithAfterFunc(cfg.CaptionAfterFunc))
	}
	c.caption = caption.New(capOpts...)
	return c, nil
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the controller to ERROR, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Ready reports an error while the controller is in ERROR. OFFLINE counts as
// ready: the controller can accept an activation.
func (c *Controller) Ready(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateError {
		return nil
	}
	if c.lastErr != nil {
		return fmt.Errorf("session: state %s: %w", c.state, c.lastErr)
	}
	return fmt.Errorf("session: state %s", c.state)
}

// SetLive replaces the session configuration used by the next activation.
// A session that is already connecting or online keeps its configuration.
func (c *Controller) SetLive(cfg live.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = cfg
}

// Caption returns the current caption text.
func (c *Controller) Caption() string {
	return c.caption.Text()
}

// Activate moves OFFLINE or ERROR to CONNECTING, acquires the microphone and
// the output device, and starts opening the live session. It returns once the
// devices are open; the transition to ONLINE happens asynchronously when the
// channel reports it is open.
//
// A device failure moves the controller to ERROR and is returned wrapped in
// [ErrDeviceAcquisition]; no session is requested in that case.
func (c *Controller) Activate(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOnline {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	prev := c.run
	c.mu.Unlock()

	if prev != nil {
		// Already torn down by the event that ended it; wait for its goroutines.
		_ = prev.teardown()
		<-prev.done
	}

	id := uuid.NewString()
	ctx, span := observe.StartSpan(observe.WithSession(ctx, id), "session.activate")
	defer span.End()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &activation{
		id:     id,
		logger: observe.LoggerFrom(ctx, c.logger),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.telemetry = newTelemetry(c.cfg.TelemetryInterval, a.sample, c.metrics, a.logger)

	c.caption.Reset()
	c.mu.Lock()
	c.run = a
	c.sessionID = id
	c.setStateLocked(StateConnecting, nil)
	c.mu.Unlock()
	a.logger.Info("session: activating")

	if err := c.acquire(runCtx, a); err != nil {
		close(a.done)
		c.fail(a, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return a.pipeline.Run(gctx) })
	g.Go(func() error { return a.queue.Run(gctx) })
	g.Go(func() error { return c.runSession(gctx, a) })
	go func() {
		if err := g.Wait(); err != nil {
			a.logger.Debug("session: activation ended", "err", err)
		}
		close(a.done)
	}()
	return nil
}

// acquire opens both devices and builds the activation's pipelines.
func (c *Controller) acquire(ctx context.Context, a *activation) error {
	stream, err := c.cfg.Capture.Open(ctx, c.cfg.BlockSize)
	if err != nil {
		return fmt.Errorf("%w: microphone: %w", ErrDeviceAcquisition, err)
	}
	a.setStream(stream)

	out, err := c.cfg.Output.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: output: %w", ErrDeviceAcquisition, err)
	}

	queue := capture.NewOutbound(
		capture.WithCapacity(c.cfg.QueueCapacity),
		capture.WithOutboundMetrics(c.metrics),
		capture.WithOutboundLogger(a.logger),
	)
	a.setPipelines(out,
		queue,
		capture.New(stream, queue, capture.WithMetrics(c.metrics), capture.WithLogger(a.logger)),
		playback.New(out, playback.WithMetrics(c.metrics), playback.WithLogger(a.logger)),
	)
	return nil
}

// runSession connects and then consumes session events in delivery order
// until the channel ends or ctx is cancelled.
func (c *Controller) runSession(ctx context.Context, a *activation) error {
	var deadline <-chan time.Time
	connectCtx := ctx
	if c.cfg.ConnectTimeout > 0 {
		timer := time.NewTimer(c.cfg.ConnectTimeout)
		defer timer.Stop()
		deadline = timer.C

		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	c.mu.Lock()
	liveCfg := c.live
	c.mu.Unlock()
	sess, err := c.cfg.Provider.Connect(connectCtx, liveCfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		err = fmt.Errorf("%w: connect: %w", ErrChannel, err)
		c.fail(a, err)
		return err
	}
	if !a.setSession(sess) {
		return nil
	}

	events := sess.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			if c.State() == StateConnecting {
				err := fmt.Errorf("%w: not opened within %s", ErrChannel, c.cfg.ConnectTimeout)
				c.fail(a, err)
				return err
			}
			deadline = nil
		case ev, ok := <-events:
			if !ok {
				ev = live.Event{Type: live.EventClosed}
			}
			if stop, err := c.dispatch(ctx, a, sess, ev); stop {
				return err
			}
		}
	}
}

// dispatch handles one session event. It reports whether the event ended
// the session.
func (c *Controller) dispatch(ctx context.Context, a *activation, sess live.Session, ev live.Event) (bool, error) {
	switch ev.Type {
	case live.EventOpened:
		if !c.transition(a, StateOnline, nil) {
			a.logger.Debug("session: ignoring open signal", "state", c.State())
			return false, nil
		}
		a.queue.Attach(sess)
		a.telemetry.Start(ctx)
		a.logger.Info("session: online")

	case live.EventMessage:
		if c.State() != StateOnline {
			a.logger.Debug("session: dropping message received while not online")
			return false, nil
		}
		c.handleMessage(ctx, a, ev.Message)

	case live.EventClosed:
		switch c.State() {
		case StateOnline:
			c.transition(a, StateOffline, nil)
			a.logger.Info("session: channel closed")
			c.teardown(a)
		case StateConnecting:
			c.fail(a, fmt.Errorf("%w: closed before opening", ErrChannel))
		default:
			c.teardown(a)
		}
		return true, nil

	case live.EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("unknown error")
		}
		err = fmt.Errorf("%w: %w", ErrChannel, err)
		c.fail(a, err)
		return true, err
	}
	return false, nil
}

// handleMessage forwards audio to the scheduler and transcript text to the
// caption. Both may be present in one message.
func (c *Controller) handleMessage(ctx context.Context, a *activation, msg *live.Message) {
	if msg == nil {
		return
	}
	for _, data := range msg.Audio {
		if _, err := a.scheduler.Enqueue(ctx, data); err != nil && !errors.Is(err, playback.ErrDecode) {
			a.logger.Warn("session: scheduling playback failed", "err", err)
		}
	}
	if msg.Transcript != "" {
		c.caption.Append(msg.Transcript)
	}
	if msg.InputTranscript != "" {
		a.logger.Debug("session: input transcription", "text", msg.InputTranscript)
	}
	if msg.Interrupted {
		a.logger.Info("session: model turn interrupted")
	}
	if msg.TurnComplete {
		a.logger.Debug("session: model turn complete")
	}
}

// Deactivate tears down the current activation. CONNECTING and ONLINE move to
// OFFLINE; ERROR and OFFLINE keep their state. Every teardown step is
// attempted even if an earlier one fails; the failures are joined. It waits
// for the activation's goroutines until ctx ends.
func (c *Controller) Deactivate(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	a := c.run
	if c.state == StateConnecting || c.state == StateOnline {
		c.setStateLocked(StateOffline, nil)
	}
	c.mu.Unlock()

	c.caption.Reset()
	if a == nil {
		return nil
	}

	err := a.teardown()
	if err != nil {
		a.logger.Warn("session: teardown incomplete", "err", err)
	}
	select {
	case <-a.done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	a.logger.Info("session: deactivated")
	return err
}

// Close deactivates and closes all subscriber channels.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Deactivate(ctx)
	c.mu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()
	return err
}

// Snapshot returns the current presentation state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		State:     c.state,
		SessionID: c.sessionID,
		Since:     c.since,
	}
	if c.lastErr != nil && c.state == StateError {
		s.LastError = c.lastErr.Error()
	}
	a := c.run
	c.mu.Unlock()

	s.Caption = c.caption.Text()
	if a != nil && (s.State == StateConnecting || s.State == StateOnline) {
		smp := a.sample()
		s.InputLevel = smp.Level
		s.PlaybackLead = smp.Lead
		s.ActiveBuffers = smp.Active
		queue, scheduler := a.parts()
		if scheduler != nil {
			s.PlaybackCursor = scheduler.Cursor()
		}
		if queue != nil {
			s.Outbound = queue.Stats()
		}
	}
	return s
}

// Subscribe returns a channel receiving state and caption changes, and a
// function that unsubscribes and closes it. Changes are dropped for a
// subscriber whose buffer is full.
func (c *Controller) Subscribe(buffer int) (<-chan Change, func()) {
	ch := make(chan Change, max(buffer, 1))
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// transition moves to `to` on behalf of a, unless a was superseded.
func (c *Controller) transition(a *activation, to State, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != a {
		return false
	}
	return c.setStateLocked(to, err)
}

// setStateLocked applies a legal transition and notifies subscribers. Must be
// called with c.mu held.
func (c *Controller) setStateLocked(to State, err error) bool {
	from := c.state
	if !CanTransition(from, to) {
		return false
	}
	c.state = to
	c.since = time.Now()
	switch to {
	case StateError:
		c.lastErr = err
	case StateConnecting:
		c.lastErr = nil
	}

	ctx := context.Background()
	if from == StateOnline {
		c.metrics.ActiveSessions.Add(ctx, -1)
	}
	if to == StateOnline {
		c.metrics.ActiveSessions.Add(ctx, 1)
	}
	c.metrics.RecordTransition(ctx, from.String(), to.String())
	c.publishLocked(Change{
		Kind:      ChangeState,
		From:      from,
		To:        to,
		SessionID: c.sessionID,
		Err:       err,
		At:        c.since,
	})
	return true
}

func (c *Controller) publishLocked(chg Change) {
	for _, ch := range c.subs {
		select {
		case ch <- chg:
		default:
		}
	}
}

func (c *Controller) captionChanged(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked(Change{
		Kind:      ChangeCaption,
		From:      c.state,
		To:        c.state,
		Caption:   text,
		SessionID: c.sessionID,
		At:        time.Now(),
	})
}

// fail moves a to ERROR, logs err and tears the activation down.
func (c *Controller) fail(a *activation, err error) {
	if c.transition(a, StateError, err) {
		a.logger.Error("session: failed", "err", err)
	}
	c.teardown(a)
}

func (c *Controller) teardown(a *activation) {
	if err := a.teardown(); err != nil {
		a.logger.Warn("session: teardown incomplete", "err", err)
	}
}
