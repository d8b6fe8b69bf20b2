package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"whisperpad/internal/domain"
	"whisperpad/internal/engine"
	"whisperpad/internal/ports"
)

// BatchController orchestrates discrete record-then-transcribe sessions:
// permission check, engine readiness, segmented capture with a one-second
// tick, pause/resume, and a single hand-off of the finished file to the
// recognition worker.
type BatchController struct {
	capture  ports.CaptureDevice
	worker   ports.RecognitionWorker
	engine   *engine.Gateway
	settings ports.SettingsStore
	events   ports.EventSink
	log      *slog.Logger
	cfg      Config

	mu      sync.Mutex
	session *batchSession
}

type batchSession struct {
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	status   domain.BatchStatus
	settings domain.Settings
	filePath string
	acquired bool
	tickDone chan struct{}
}

func NewBatchController(
	capture ports.CaptureDevice,
	worker ports.RecognitionWorker,
	gateway *engine.Gateway,
	settings ports.SettingsStore,
	events ports.EventSink,
	logger *slog.Logger,
	cfg Config,
) *BatchController {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchController{
		capture:  capture,
		worker:   worker,
		engine:   gateway,
		settings: settings,
		events:   events,
		log:      logger.With("component", "batch"),
		cfg:      cfg,
	}
}

// Status returns the current session status, BatchIdle when none is active.
func (c *BatchController) Status() domain.BatchStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return domain.BatchIdle{}
	}
	return c.session.status
}

// Start runs the full start preamble and, on success, moves the session to
// Recording with the tick running. Failures are reported through the event
// sink and leave the controller Idle.
func (c *BatchController) Start(ctx context.Context) error {
	cfg, err := c.settings.Load()
	if err != nil {
		c.events.BatchError(domain.ErrorCodeCaptureStart, fmt.Sprintf("settings unavailable: %v", err))
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &batchSession{
		id:       uuid.NewString(),
		ctx:      sessionCtx,
		cancel:   cancel,
		status:   domain.BatchIdle{},
		settings: cfg,
	}

	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		cancel()
		return ErrSessionActive
	}
	c.session = s
	c.mu.Unlock()

	perm, err := c.capture.RequestPermission(sessionCtx)
	if err != nil || perm != domain.PermissionGranted {
		c.events.BatchError(domain.ErrorCodePermission, "microphone access denied")
		c.drop(s)
		return ErrPermission
	}

	// The engine is shared with the streaming controller: a load in flight on
	// behalf of another session is reported as busy, never queued behind.
	if c.engine.State() == domain.EngineInitializing {
		c.events.BatchError(domain.ErrorCodeEngineBusy, "recognition engine is busy")
		c.drop(s)
		return ErrEngineBusy
	}
	if err := c.engine.Ensure(sessionCtx, cfg.ModelID); err != nil {
		c.events.BatchError(domain.ErrorCodeEngineLoad, err.Error())
		c.drop(s)
		return err
	}
	if !c.stillCurrent(s) {
		return nil
	}

	c.setStatus(s, domain.BatchPreparing{})

	path, err := c.capture.StartRecording(sessionCtx, s.id)
	if err != nil {
		c.events.BatchError(domain.ErrorCodeCaptureStart, err.Error())
		c.drop(s)
		c.events.BatchStatusChanged(domain.BatchIdle{})
		return fmt.Errorf("batch: start capture: %w", err)
	}
	if !c.stillCurrent(s) {
		// Cancelled while capture was starting; the capture is ours to clean up.
		if stopErr := c.capture.AbortRecording(); stopErr != nil {
			c.log.Debug("capture stop after superseded start failed", "error", stopErr)
		}
		return nil
	}

	c.engine.Acquire()
	c.mu.Lock()
	s.filePath = path
	s.acquired = true
	s.tickDone = make(chan struct{})
	s.status = domain.BatchRecording{Duration: 0}
	c.mu.Unlock()
	c.events.BatchStatusChanged(domain.BatchRecording{Duration: 0})

	go c.runTicker(s)
	return nil
}

// Pause freezes the duration and pauses capture. A no-op unless Recording.
func (c *BatchController) Pause() error {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	if _, ok := s.status.(domain.BatchRecording); !ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.capture.PauseRecording(); err != nil {
		c.events.BatchError(domain.ErrorCodeCaptureStop, err.Error())
		return fmt.Errorf("batch: pause capture: %w", err)
	}

	c.mu.Lock()
	if c.session == s {
		if rec, ok := s.status.(domain.BatchRecording); ok {
			s.status = domain.BatchPaused{Duration: rec.Duration}
		}
	}
	status := s.status
	c.mu.Unlock()
	c.events.BatchStatusChanged(status)
	return nil
}

// Resume restarts capture at the preserved duration. When the capture device
// refuses to resume, the session tries to salvage what was already recorded
// and finishes through the normal end path.
func (c *BatchController) Resume() error {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	paused, ok := s.status.(domain.BatchPaused)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.capture.ResumeRecording(); err != nil {
		c.events.BatchError(domain.ErrorCodeResume, err.Error())
		c.recoverAfterFailedResume(s, err)
		return fmt.Errorf("batch: resume capture: %w", err)
	}

	c.mu.Lock()
	if c.session == s {
		s.status = domain.BatchRecording{Duration: paused.Duration}
	}
	status := s.status
	c.mu.Unlock()
	c.events.BatchStatusChanged(status)
	return nil
}

// End stops capture, merges segments, emits completed or partial-success,
// and hands the file to the recognition worker once. A no-op unless the
// session is Recording or Paused.
func (c *BatchController) End(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	switch s.status.(type) {
	case domain.BatchRecording, domain.BatchPaused:
	default:
		c.mu.Unlock()
		return nil
	}
	s.status = domain.BatchEnding{}
	c.mu.Unlock()
	c.events.BatchStatusChanged(domain.BatchEnding{})

	result, err := c.capture.EndRecording()
	if err != nil {
		c.events.BatchError(domain.ErrorCodeCaptureStop, err.Error())
		c.finish(s)
		return fmt.Errorf("batch: end capture: %w", err)
	}

	c.emitRecordingResult(result)
	c.finish(s)

	go c.transcribe(ctx, result.OutputPath, s.settings.Language)
	return nil
}

// Cancel discards the session from any state and always returns to Idle.
// Capture-stop failures during cancellation are swallowed.
func (c *BatchController) Cancel() {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.mu.Unlock()

	s.cancel()
	if err := c.capture.AbortRecording(); err != nil {
		c.log.Debug("capture stop during cancel failed", "error", err)
	}
	if s.tickDone != nil {
		<-s.tickDone
	}
	if s.acquired {
		c.engine.Release()
	}
	c.events.BatchStatusChanged(domain.BatchIdle{})
}

func (c *BatchController) recoverAfterFailedResume(s *batchSession, resumeErr error) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	s.status = domain.BatchEnding{}
	c.mu.Unlock()
	c.events.BatchStatusChanged(domain.BatchEnding{})

	result, err := c.capture.EndRecording()
	if err != nil {
		// Recovery failed too; the resume error is the one the user acted on.
		c.events.BatchError(domain.ErrorCodeCaptureStop, resumeErr.Error())
		c.finish(s)
		return
	}
	c.emitRecordingResult(result)
	c.finish(s)
}

func (c *BatchController) emitRecordingResult(result domain.SegmentMergeResult) {
	if result.IsPartial {
		c.events.BatchPartialSuccess(result)
		return
	}
	c.events.BatchCompleted(result.OutputPath)
}

func (c *BatchController) transcribe(ctx context.Context, path string, language string) {
	text, err := c.worker.TranscribeFile(ctx, path, language)
	if err != nil {
		c.events.BatchError(domain.ErrorCodeTranscribe, err.Error())
		return
	}
	c.events.BatchTranscript(text)
}

func (c *BatchController) runTicker(s *batchSession) {
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
			rec, ok := s.status.(domain.BatchRecording)
			if !ok {
				// Duration freezes while Paused and during Ending.
				c.mu.Unlock()
				continue
			}
			next := domain.BatchRecording{Duration: rec.Duration + 1}
			s.status = next
			c.mu.Unlock()
			c.events.BatchStatusChanged(next)
		}
	}
}

func (c *BatchController) setStatus(s *batchSession, status domain.BatchStatus) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	s.status = status
	c.mu.Unlock()
	c.events.BatchStatusChanged(status)
}

func (c *BatchController) stillCurrent(s *batchSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == s
}

// drop clears a session that never reached Recording.
func (c *BatchController) drop(s *batchSession) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
	s.cancel()
}

// finish tears down a session that went through the end path.
func (c *BatchController) finish(s *batchSession) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()

	s.cancel()
	if s.tickDone != nil {
		<-s.tickDone
	}
	if s.acquired {
		c.engine.Release()
	}
	c.events.BatchStatusChanged(domain.BatchIdle{})
}
