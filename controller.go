package voicesession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const inboxSize = 64

type timer interface{ Stop() bool }

func afterFunc(d time.Duration, f func()) timer { return time.AfterFunc(d, f) }

// Controller is the voice session state machine. It owns at most one pipeline
// (a frame source plus the recognition stream it feeds) and serializes every
// transition through a single event loop goroutine. Pipelines are opened off
// the loop, so a slow device or recognizer never delays call handling.
// Safe for concurrent use.
type Controller struct {
	cfg       Config
	caps      Capabilities
	cb        Callbacks
	log       *log.Logger
	matcher   TriggerMatcher
	responder *SpeechResponder
	afterFunc func(time.Duration, func()) timer

	inbox  chan message
	opened chan openedMsg
	cancel context.CancelFunc
	quit   <-chan struct{} // closed by Close before the loop shuts down
	done   chan struct{}

	// Owned by the event loop.
	state      SessionState
	call       CallState
	auth       AuthorizationStatus
	available  bool
	pipe       *pipeline
	opening    *opening
	gen        uint64
	latest     TranscriptionUpdate
	restart    timer
	restartGen uint64
	lastUI     *UIState

	snapMu sync.RWMutex
	snap   snapshot
}

type snapshot struct {
	state  SessionState
	call   CallState
	auth   AuthorizationStatus
	latest TranscriptionUpdate
}

// pipeline is replaced as a whole; its fields never change after creation.
type pipeline struct {
	id       string
	gen      uint64
	source   AudioFrameSource
	stream   RecognitionStream
	cancel   context.CancelFunc
	pumpDone chan struct{}
}

// opening is a pipeline being opened off the event loop.
type opening struct {
	gen    uint64
	cancel context.CancelFunc
	reply  chan error // nil for automatic restarts
}

type message any

type (
	startMsg struct {
		ctx   context.Context
		reply chan error
	}
	stopMsg struct {
		reply chan error
	}
	authMsg struct {
		status AuthorizationStatus
	}
	availabilityMsg struct {
		available bool
	}
	recognitionMsg struct {
		gen   uint64
		event RecognitionEvent
	}
	sourceEndedMsg struct {
		gen uint64
	}
	restartMsg struct {
		gen uint64
	}
	openedMsg struct {
		gen    uint64
		stream RecognitionStream
		source AudioFrameSource
		frames <-chan Frame
		err    error
	}
)

// release stops whatever an abandoned open produced.
func (m openedMsg) release() {
	if m.source != nil {
		m.source.Stop()
	}
	if m.stream != nil {
		m.stream.Cancel()
	}
}

// New validates cfg, subscribes to call-state changes and starts the event loop.
// Call Close to release it.
func New(cfg Config, caps Capabilities, cb Callbacks) (*Controller, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if caps.Microphone == nil {
		return nil, errors.New("capabilities: Microphone is required")
	}
	if caps.Recognizer == nil {
		return nil, errors.New("capabilities: Recognizer is required")
	}
	if caps.Synthesizer == nil {
		return nil, errors.New("capabilities: Synthesizer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = defaultLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	var calls <-chan CallState
	if caps.Calls != nil {
		ch, err := caps.Calls.Subscribe(ctx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe to call state: %w", err)
		}
		calls = ch
	}

	c := &Controller{
		cfg:       cfg,
		caps:      caps,
		cb:        cb,
		log:       logger,
		matcher:   TriggerMatcher{Word: cfg.TriggerWord, Response: cfg.Response},
		responder: NewSpeechResponder(caps.Synthesizer, cfg.Voice, logger),
		afterFunc: afterFunc,
		inbox:     make(chan message, inboxSize),
		opened:    make(chan openedMsg),
		cancel:    cancel,
		quit:      ctx.Done(),
		done:      make(chan struct{}),
		available: true,
	}
	go c.run(ctx, calls)
	return c, nil
}

// State returns the current session state.
func (c *Controller) State() SessionState {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap.state
}

// CallState returns the most recent call state.
func (c *Controller) CallState() CallState {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap.call
}

// Authorization returns the last known recognition authorization status.
func (c *Controller) Authorization() AuthorizationStatus {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap.auth
}

// LatestUpdate returns the latest transcription of the current or last session.
func (c *Controller) LatestUpdate() TranscriptionUpdate {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap.latest
}

// Authorize asks the recognition engine for permission and publishes the
// resulting control state.
func (c *Controller) Authorize(ctx context.Context) (AuthorizationStatus, error) {
	status, err := c.caps.Recognizer.RequestAuthorization(ctx)
	if err != nil {
		return AuthNotDetermined, fmt.Errorf("request authorization: %w", err)
	}
	if err := c.post(ctx, authMsg{status: status}); err != nil {
		return status, err
	}
	return status, nil
}

// Start opens a frame source and a recognition stream and begins listening.
// Authorization is requested first if it was never determined. ctx bounds
// opening the pipeline only, not its lifetime. A call, Stop or Close while the
// pipeline is being opened aborts the start.
func (c *Controller) Start(ctx context.Context) error {
	if c.Authorization() == AuthNotDetermined {
		if _, err := c.Authorize(ctx); err != nil {
			return err
		}
	}
	reply := make(chan error, 1)
	if err := c.post(ctx, startMsg{ctx: ctx, reply: reply}); err != nil {
		return err
	}
	return c.wait(ctx, reply)
}

// Stop tears the pipeline down. Stopping an idle controller is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.post(ctx, stopMsg{reply: reply}); err != nil {
		return err
	}
	return c.wait(ctx, reply)
}

// SetRecognizerAvailable records an availability change reported by the
// recognition engine.
func (c *Controller) SetRecognizerAvailable(available bool) {
	_ = c.post(context.Background(), availabilityMsg{available: available})
}

// Close stops the pipeline, drops any pending restart and stops the event loop.
// No callback runs after Close returns.
func (c *Controller) Close() {
	c.cancel()
	<-c.done
}

func (c *Controller) post(ctx context.Context, m message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.inbox <- m:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) wait(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) run(ctx context.Context, calls <-chan CallState) {
	defer close(c.done)
	defer c.shutdown()

	c.publish()
	for {
		// Call-state changes win over anything else already queued.
		select {
		case s, ok := <-calls:
			if !ok {
				calls = nil
				continue
			}
			c.handleCall(s)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case s, ok := <-calls:
			if !ok {
				calls = nil
				continue
			}
			c.handleCall(s)
		case m := <-c.inbox:
			c.handle(ctx, m)
		case m := <-c.opened:
			c.handleOpened(m)
		}
	}
}

func (c *Controller) handle(ctx context.Context, m message) {
	switch m := m.(type) {
	case startMsg:
		// the caller may have given up while the request was queued
		if err := m.ctx.Err(); err != nil {
			m.reply <- err
			return
		}
		if err := c.start(m.ctx, m.reply); err != nil {
			c.log.Warn("start failed", "error", err)
			m.reply <- err
		}
	case stopMsg:
		if c.opening != nil {
			c.log.Info("stop requested while opening")
			c.abortOpening(fmt.Errorf("start aborted: %w", context.Canceled))
		}
		if c.state != StateIdle {
			c.log.Info("stop requested")
			c.stopPipeline()
		}
		m.reply <- nil
	case authMsg:
		c.auth = m.status
		c.log.Info("authorization", "status", m.status)
		c.sync()
		c.publish()
	case availabilityMsg:
		c.available = m.available
		c.log.Info("recognizer availability changed", "available", m.available)
		c.publish()
	case recognitionMsg:
		c.handleRecognition(m)
	case sourceEndedMsg:
		if c.pipe == nil || c.pipe.gen != m.gen {
			return
		}
		c.log.Warn("audio source ended", "session", c.pipe.id)
		c.stopPipeline()
		c.fail(ErrDeviceUnavailable)
	case restartMsg:
		c.handleRestart(ctx, m)
	}
}

// start checks that a pipeline may be opened and hands the opening to a
// goroutine so that the loop keeps serving calls and requests meanwhile. The
// outcome is sent to reply, or reported through OnError when reply is nil.
func (c *Controller) start(ctx context.Context, reply chan error) error {
	if c.state != StateIdle || c.opening != nil {
		return ErrAlreadyActive
	}
	if c.auth != AuthAuthorized {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, c.auth)
	}
	if c.call != CallIdle {
		return fmt.Errorf("%w: %s", ErrCallActive, c.call)
	}
	if !c.available {
		return ErrRecognizerUnavailable
	}

	c.gen++
	octx, cancel := context.WithCancel(ctx)
	c.opening = &opening{gen: c.gen, cancel: cancel, reply: reply}
	go c.open(octx, c.gen)
	return nil
}

// open runs off the event loop. The result is handed to the loop, or released
// when the loop is shutting down.
func (c *Controller) open(ctx context.Context, gen uint64) {
	m := openedMsg{gen: gen}
	if stream, err := c.caps.Recognizer.OpenStream(ctx, c.cfg.Locale, c.cfg.Session); err != nil {
		m.err = fmt.Errorf("open recognition stream: %w", err)
	} else if err := ctx.Err(); err != nil {
		stream.Cancel()
		m.err = err
	} else {
		source := c.caps.Microphone.NewSource()
		frames, err := source.Start(c.cfg.Session)
		if err != nil {
			source.Stop()
			stream.Cancel()
			if !errors.Is(err, ErrDeviceUnavailable) {
				err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
			}
			m.err = err
		} else {
			m.stream, m.source, m.frames = stream, source, frames
		}
	}

	select {
	case c.opened <- m:
	case <-c.quit:
		m.release()
	}
}

func (c *Controller) handleOpened(m openedMsg) {
	op := c.opening
	if op == nil || op.gen != m.gen {
		c.log.Debug("releasing abandoned pipeline", "gen", m.gen)
		m.release()
		return
	}
	c.opening = nil
	op.cancel()
	if m.err != nil {
		c.startFailed(op, m.err)
		return
	}

	id := uuid.NewString()
	pctx, cancel := context.WithCancel(context.Background())
	p := &pipeline{
		id:       id,
		gen:      m.gen,
		source:   m.source,
		stream:   m.stream,
		cancel:   cancel,
		pumpDone: make(chan struct{}),
	}
	c.pipe = p
	c.latest = TranscriptionUpdate{}
	go c.pump(pctx, p, m.frames)
	go c.forward(p)

	c.state = StateListening
	c.sync()
	c.log.Info("listening", "session", id, "locale", c.cfg.Locale,
		"rate", c.cfg.Session.SampleRate, "frame", c.cfg.Session.FrameSize)
	c.publish()
	if op.reply != nil {
		op.reply <- nil
	}
}

func (c *Controller) startFailed(op *opening, err error) {
	if op.reply != nil {
		c.log.Warn("start failed", "error", err)
		op.reply <- err
		return
	}
	c.log.Warn("restart failed", "error", err)
	c.publish()
	c.fail(err)
}

// abortOpening cancels a pipeline being opened. Whatever it produces later is
// released by handleOpened or by open itself.
func (c *Controller) abortOpening(err error) {
	op := c.opening
	if op == nil {
		return
	}
	c.opening = nil
	op.cancel()
	c.log.Info("opening aborted", "gen", op.gen, "reason", err)
	if op.reply != nil {
		op.reply <- err
	}
}

// stopPipeline closes the stream and the source together and returns to Idle.
func (c *Controller) stopPipeline() {
	if c.pipe == nil {
		c.state = StateIdle
		c.sync()
		c.publish()
		return
	}
	c.state = StateStopping
	c.sync()
	c.publish()

	c.teardown()

	c.state = StateIdle
	c.sync()
	c.publish()
}

// teardown stops the frame pump before closing the stream so that no frame
// produced after this point reaches it.
func (c *Controller) teardown() {
	p := c.pipe
	if p == nil {
		return
	}
	c.pipe = nil
	p.cancel()
	<-p.pumpDone
	if err := p.stream.Close(); err != nil {
		c.log.Debug("close recognition stream", "session", p.id, "error", err)
	}
	p.stream.Cancel()
	p.source.Stop()
	c.log.Info("pipeline stopped", "session", p.id)
}

func (c *Controller) pump(ctx context.Context, p *pipeline, frames <-chan Frame) {
	defer close(p.pumpDone)
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				if ctx.Err() == nil {
					_ = c.post(ctx, sourceEndedMsg{gen: p.gen})
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			p.stream.Feed(f)
		}
	}
}

func (c *Controller) forward(p *pipeline) {
	for ev := range p.stream.Events() {
		select {
		case c.inbox <- recognitionMsg{gen: p.gen, event: ev}:
		case <-c.done:
			return
		}
	}
}

func (c *Controller) handleRecognition(m recognitionMsg) {
	if c.pipe == nil || c.pipe.gen != m.gen {
		c.log.Debug("dropping event from stale stream", "gen", m.gen)
		return
	}
	id := c.pipe.id
	ev := m.event

	if ev.Err == nil {
		c.latest = ev.Update
		c.sync()
		if c.cb.OnTranscription != nil {
			c.cb.OnTranscription(ev.Update)
		}
	}

	if ev.Terminal() {
		if ev.Err != nil {
			err := &RecognitionStreamError{Session: id, Err: ev.Err}
			c.log.Error("recognition failed", "session", id, "error", ev.Err)
			c.stopPipeline()
			c.fail(err)
			return
		}
		c.log.Info("recognition finished", "session", id, "text", ev.Update.Text)
		c.stopPipeline()
		return
	}

	response, ok := c.matcher.Match(ev.Update)
	if !ok {
		return
	}
	c.log.Info("trigger recognized", "session", id, "word", c.matcher.Word)
	if err := c.responder.Say(response); err != nil {
		c.log.Error("speak response", "error", err)
		c.fail(err)
		return
	}
	if c.cb.OnTrigger != nil {
		c.cb.OnTrigger(c.matcher.Word, response)
	}
}

func (c *Controller) handleCall(s CallState) {
	c.log.Info("call state", "from", c.call, "to", s)
	c.call = s
	c.sync()

	switch {
	case s.Active():
		c.cancelRestart()
		c.abortOpening(fmt.Errorf("%w: %s", ErrCallActive, s))
		if c.state != StateIdle {
			c.log.Info("call started, stopping pipeline")
			c.stopPipeline()
			return
		}
	case s == CallDisconnected:
		c.scheduleRestart()
	}
	c.publish()
}

func (c *Controller) scheduleRestart() {
	c.cancelRestart()
	c.restartGen++
	gen := c.restartGen
	c.restart = c.afterFunc(c.cfg.RestartDelay, func() {
		_ = c.post(context.Background(), restartMsg{gen: gen})
	})
	c.log.Debug("restart scheduled", "delay", c.cfg.RestartDelay)
}

func (c *Controller) cancelRestart() {
	if c.restart != nil {
		c.restart.Stop()
		c.restart = nil
	}
	c.restartGen++
}

func (c *Controller) handleRestart(ctx context.Context, m restartMsg) {
	if m.gen != c.restartGen {
		return
	}
	c.restart = nil
	if c.call == CallDisconnected {
		c.call = CallIdle
		c.sync()
	}
	if c.state != StateIdle || c.opening != nil {
		c.publish()
		return
	}
	if c.auth != AuthAuthorized {
		c.log.Debug("not restarting, recognition not authorized", "status", c.auth)
		c.publish()
		return
	}
	c.log.Info("call ended, restarting")
	if err := c.start(ctx, nil); err != nil {
		c.startFailed(&opening{}, err)
	}
}

func (c *Controller) fail(err error) {
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}

func (c *Controller) shutdown() {
	c.cancelRestart()
	c.abortOpening(ErrClosed)
	c.teardown()
	c.state = StateIdle
	c.sync()
}

func (c *Controller) sync() {
	c.snapMu.Lock()
	c.snap = snapshot{state: c.state, call: c.call, auth: c.auth, latest: c.latest}
	c.snapMu.Unlock()
}

// uiState derives the start control from the session, authorization,
// availability and call state.
func (c *Controller) uiState() UIState {
	l := c.cfg.Labels
	ui := UIState{State: c.state}
	switch c.state {
	case StateListening:
		ui.Enabled, ui.Label, ui.Prompt = true, l.Stop, l.Listening
		return ui
	case StateStopping:
		ui.Label = l.Stopping
		return ui
	}
	switch {
	case c.auth == AuthDenied:
		ui.Label = l.Denied
	case c.auth == AuthRestricted:
		ui.Label = l.Restricted
	case c.auth == AuthNotDetermined:
		ui.Label = l.NotDetermined
	case !c.available:
		ui.Label = l.Unavailable
	default:
		ui.Label = l.Start
		ui.Enabled = c.call == CallIdle
	}
	return ui
}

func (c *Controller) publish() {
	ui := c.uiState()
	if c.lastUI != nil && *c.lastUI == ui {
		return
	}
	c.lastUI = &ui
	if c.cb.OnStateChanged != nil {
		c.cb.OnStateChanged(ui)
	}
}
