package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"whisperpad/internal/domain"
	"whisperpad/internal/engine"
	"whisperpad/internal/ports"
)

// StreamController orchestrates continuous live transcription: engine
// readiness, live capture feeding chunked recognition, the three-tier
// transcript, and the finalize/copy/save endgame.
type StreamController struct {
	capture   ports.CaptureDevice
	worker    ports.RecognitionWorker
	engine    *engine.Gateway
	settings  ports.SettingsStore
	output    ports.OutputSink
	transform ports.TextTransformer
	events    ports.EventSink
	log       *slog.Logger
	cfg       Config

	mu      sync.Mutex
	session *streamSession
}

type streamSession struct {
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	status   domain.StreamStatus
	settings domain.Settings
	buf      *transcriptBuffer
	duration int
	acquired bool

	discardPending bool
	pumpDone       chan struct{}
	tickDone       chan struct{}
}

func NewStreamController(
	capture ports.CaptureDevice,
	worker ports.RecognitionWorker,
	gateway *engine.Gateway,
	settings ports.SettingsStore,
	output ports.OutputSink,
	transform ports.TextTransformer,
	events ports.EventSink,
	logger *slog.Logger,
	cfg Config,
) *StreamController {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamController{
		capture:   capture,
		worker:    worker,
		engine:    gateway,
		settings:  settings,
		output:    output,
		transform: transform,
		events:    events,
		log:       logger.With("component", "stream"),
		cfg:       cfg,
	}
}

// Status returns the current session status, StreamIdle when none exists.
func (c *StreamController) Status() domain.StreamStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return domain.StreamIdle{}
	}
	return c.session.status
}

// Transcript returns the current three-tier transcript view.
func (c *StreamController) Transcript() domain.TranscriptView {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return domain.TranscriptView{}
	}
	return s.buf.view()
}

// Start begins a streaming session. A previous Completed or failed session is
// discarded; starting over an active one is rejected.
func (c *StreamController) Start(ctx context.Context) error {
	cfg, err := c.settings.Load()
	if err != nil {
		c.events.StreamError(domain.ErrorCodeCaptureStart, fmt.Sprintf("settings unavailable: %v", err))
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &streamSession{
		id:       uuid.NewString(),
		ctx:      sessionCtx,
		cancel:   cancel,
		status:   domain.StreamInitializing{},
		settings: cfg,
		buf:      &transcriptBuffer{},
	}

	c.mu.Lock()
	if prev := c.session; prev != nil {
		switch prev.status.(type) {
		case domain.StreamCompleted, domain.StreamFailed:
			c.session = nil
		default:
			c.mu.Unlock()
			cancel()
			return ErrSessionActive
		}
	}
	c.session = s
	c.mu.Unlock()
	c.events.StreamStatusChanged(domain.StreamInitializing{})

	if c.engine.State() == domain.EngineInitializing {
		c.events.StreamError(domain.ErrorCodeEngineBusy, "recognition engine is busy")
		c.drop(s)
		return ErrEngineBusy
	}
	if err := c.engine.Ensure(sessionCtx, cfg.ModelID); err != nil {
		c.fail(s, domain.ErrorCodeEngineLoad, err)
		return err
	}
	if !c.stillCurrent(s) {
		return nil
	}

	if err := c.worker.InitializeStreaming(sessionCtx, cfg.ModelID, cfg.ConfirmationCount, cfg.Language); err != nil {
		c.fail(s, domain.ErrorCodeEngineLoad, err)
		return fmt.Errorf("stream: initialize recognition: %w", err)
	}

	samples, err := c.capture.StartStream(sessionCtx)
	if err != nil {
		c.worker.Reset()
		c.fail(s, domain.ErrorCodeCaptureStart, err)
		return fmt.Errorf("stream: start capture: %w", err)
	}
	if !c.stillCurrent(s) {
		if stopErr := c.capture.StopStream(); stopErr != nil {
			c.log.Debug("capture stop after superseded start failed", "error", stopErr)
		}
		c.worker.Reset()
		return nil
	}

	c.engine.Acquire()
	c.mu.Lock()
	s.acquired = true
	s.pumpDone = make(chan struct{})
	s.tickDone = make(chan struct{})
	s.status = domain.StreamRecording{Duration: 0, Throughput: 0}
	c.mu.Unlock()
	c.events.StreamStatusChanged(domain.StreamRecording{})

	go c.runPump(s, samples)
	go c.runTicker(s)
	return nil
}

// Stop ends capture and finalizes the transcript. Only valid while
// Recording; the overflow auto-stop funnels through here as well.
func (c *StreamController) Stop(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	if _, ok := s.status.(domain.StreamRecording); !ok {
		c.mu.Unlock()
		return nil
	}
	s.status = domain.StreamProcessing{}
	c.mu.Unlock()
	c.events.StreamStatusChanged(domain.StreamProcessing{})

	// Tick and pump are cancelled together; no chunk is processed past here.
	s.cancel()
	if err := c.capture.StopStream(); err != nil {
		c.events.StreamError(domain.ErrorCodeCaptureStop, err.Error())
	}
	<-s.pumpDone
	<-s.tickDone

	text, err := c.worker.Finalize(ctx)
	c.worker.Reset()
	c.mu.Lock()
	if s.acquired {
		s.acquired = false
		c.mu.Unlock()
		c.engine.Release()
	} else {
		c.mu.Unlock()
	}

	if err != nil {
		c.events.StreamError(domain.ErrorCodeFinalize, err.Error())
		c.setStatus(s, domain.StreamFailed{Message: err.Error()})
		return fmt.Errorf("stream: finalize: %w", err)
	}

	if c.transform != nil {
		transformed, terr := c.transform.Apply(text)
		if terr != nil {
			c.log.Warn("transcript transform failed, using raw text", "error", terr)
		} else {
			text = transformed
		}
	}

	c.setStatus(s, domain.StreamCompleted{Text: text})

	// Side effects never gate or revert completion.
	if s.settings.NotifyOnComplete {
		if nerr := c.output.ShowNotification("Transcription complete", text); nerr != nil {
			c.log.Debug("completion notification failed", "error", nerr)
		}
	}
	if s.settings.PlaySoundOnComplete {
		if serr := c.output.PlayCompletionSound(); serr != nil {
			c.log.Debug("completion sound failed", "error", serr)
		}
	}
	if s.settings.OutputEnabled {
		path, serr := c.output.SaveToFile(text, s.settings)
		if serr != nil {
			c.events.StreamError(domain.ErrorCodeSave, serr.Error())
		} else {
			c.events.StreamSaved(path)
		}
	}
	return nil
}

// RequestClose asks to close the session. While an operation is active the
// captured audio/text is unsaved, so a confirm prompt is raised instead of
// discarding immediately.
func (c *StreamController) RequestClose() {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		c.events.StreamClosed()
		return
	}
	switch s.status.(type) {
	case domain.StreamRecording, domain.StreamProcessing:
		s.discardPending = true
		c.mu.Unlock()
		c.events.StreamDiscardPrompt()
	default:
		c.mu.Unlock()
		c.Cancel()
	}
}

// ConfirmDiscard completes a pending close prompt by cancelling the session.
func (c *StreamController) ConfirmDiscard() {
	c.mu.Lock()
	s := c.session
	pending := s != nil && s.discardPending
	c.mu.Unlock()
	if !pending {
		return
	}
	c.Cancel()
}

// DismissDiscard abandons a pending close prompt.
func (c *StreamController) DismissDiscard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.discardPending = false
	}
}

// Cancel tears down the session from any state and returns to Idle. Capture
// stop failures during cancellation are swallowed.
func (c *StreamController) Cancel() {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.mu.Unlock()

	s.cancel()
	if err := c.capture.StopStream(); err != nil {
		c.log.Debug("capture stop during cancel failed", "error", err)
	}
	if s.pumpDone != nil {
		<-s.pumpDone
	}
	if s.tickDone != nil {
		<-s.tickDone
	}
	c.worker.Reset()
	if s.acquired {
		c.engine.Release()
	}
	c.events.StreamStatusChanged(domain.StreamIdle{})
	c.events.StreamClosed()
}

// CopyAndClose copies the completed transcript to the clipboard and signals
// the shell to close. The status stays Completed; the action is repeatable.
func (c *StreamController) CopyAndClose() error {
	text, ok := c.completedText()
	if !ok {
		return ErrNoActiveSession
	}
	if err := c.output.CopyToClipboard(text); err != nil {
		c.events.StreamError(domain.ErrorCodeClipboard, err.Error())
		return fmt.Errorf("stream: copy transcript: %w", err)
	}
	c.events.StreamClosed()
	return nil
}

// SaveTranscript writes the completed transcript to the configured output
// location. Repeatable; the status stays Completed.
func (c *StreamController) SaveTranscript() error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return ErrNoActiveSession
	}
	comp, ok := s.status.(domain.StreamCompleted)
	if !ok {
		return ErrNoActiveSession
	}
	path, err := c.output.SaveToFile(comp.Text, s.settings)
	if err != nil {
		c.events.StreamError(domain.ErrorCodeSave, err.Error())
		return fmt.Errorf("stream: save transcript: %w", err)
	}
	c.events.StreamSaved(path)
	return nil
}

func (c *StreamController) completedText() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return "", false
	}
	comp, ok := c.session.status.(domain.StreamCompleted)
	if !ok {
		return "", false
	}
	return comp.Text, true
}

func (c *StreamController) runPump(s *streamSession, samples <-chan []byte) {
	defer close(s.pumpDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case buf, ok := <-samples:
			if !ok {
				return
			}
			res, err := c.worker.ProcessChunk(s.ctx, buf)
			if err != nil {
				if errors.Is(err, domain.ErrBufferOverflow) {
					// The producer is outrunning recognition; continuing
					// would corrupt ordering. Stop as if the user asked to.
					c.log.Warn("chunk backlog overflowed, stopping session")
					go func() { _ = c.Stop(context.Background()) }()
					return
				}
				if s.ctx.Err() != nil {
					return
				}
				c.log.Warn("chunk recognition failed", "error", err)
				c.events.StreamError(domain.ErrorCodeChunk, err.Error())
				continue
			}
			c.applyChunk(s, res)
		}
	}
}

func (c *StreamController) applyChunk(s *streamSession, res domain.ChunkResult) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	if _, ok := s.status.(domain.StreamRecording); !ok {
		c.mu.Unlock()
		return
	}
	s.buf.apply(res)
	next := domain.StreamRecording{Duration: s.duration, Throughput: res.Throughput}
	s.status = next
	c.mu.Unlock()

	c.events.StreamTranscript(s.buf.view())
	c.events.StreamStatusChanged(next)
}

func (c *StreamController) runTicker(s *streamSession) {
	defer close(s.tickDone)
	ticker := time.NewTicker(c.cfg.tick())
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.session != s {
				c.mu.Unlock()
				return
			}
			rec, ok := s.status.(domain.StreamRecording)
			if !ok {
				c.mu.Unlock()
				continue
			}
			s.duration++
			next := domain.StreamRecording{Duration: s.duration, Throughput: rec.Throughput}
			s.status = next
			c.mu.Unlock()
			c.events.StreamStatusChanged(next)
		}
	}
}

func (c *StreamController) setStatus(s *streamSession, status domain.StreamStatus) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	s.status = status
	c.mu.Unlock()
	c.events.StreamStatusChanged(status)
}

func (c *StreamController) stillCurrent(s *streamSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == s
}

// drop clears a session that failed before anything was running.
func (c *StreamController) drop(s *streamSession) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
	s.cancel()
	c.events.StreamStatusChanged(domain.StreamIdle{})
}

// fail leaves the session in a terminal failed state. The next Start or a
// close resets it.
func (c *StreamController) fail(s *streamSession, code domain.ErrorCode, err error) {
	s.cancel()
	c.events.StreamError(code, err.Error())
	c.setStatus(s, domain.StreamFailed{Message: err.Error()})
}
