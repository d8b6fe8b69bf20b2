package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"whisperpad/internal/domain"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeCapture struct {
	mu sync.Mutex

	permission    domain.PermissionStatus
	permissionErr error

	startErr   error
	path       string
	pauseErr   error
	resumeErr  error
	endResult  domain.SegmentMergeResult
	endErr     error
	endCalls   int
	abortErr   error
	abortCalls int

	streamCh     chan []byte
	streamErr    error
	streamClosed bool
	stopErr      error
	stopCalls    int
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{
		permission: domain.PermissionGranted,
		path:       "/tmp/rec-000.wav",
		endResult:  domain.SegmentMergeResult{OutputPath: "/tmp/rec.wav", UsedSegments: 1, TotalSegments: 1},
		streamCh:   make(chan []byte, 16),
	}
}

func (f *fakeCapture) RequestPermission(_ context.Context) (domain.PermissionStatus, error) {
	return f.permission, f.permissionErr
}

func (f *fakeCapture) StartRecording(_ context.Context, _ string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.path, nil
}

func (f *fakeCapture) PauseRecording() error  { return f.pauseErr }
func (f *fakeCapture) ResumeRecording() error { return f.resumeErr }

func (f *fakeCapture) EndRecording() (domain.SegmentMergeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	if f.endErr != nil {
		return domain.SegmentMergeResult{}, f.endErr
	}
	return f.endResult, nil
}

func (f *fakeCapture) AbortRecording() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortCalls++
	return f.abortErr
}

func (f *fakeCapture) StartStream(_ context.Context) (<-chan []byte, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.streamCh, nil
}

func (f *fakeCapture) StopStream() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if !f.streamClosed {
		close(f.streamCh)
		f.streamClosed = true
	}
	return f.stopErr
}

func (f *fakeCapture) snapshotCalls() (end int, abort int, stop int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endCalls, f.abortCalls, f.stopCalls
}

type fakeWorker struct {
	mu sync.Mutex

	transcribeText string
	transcribeErr  error

	initErr    error
	chunkByIdx map[int]domain.ChunkResult
	errByIdx   map[int]error
	chunkCalls int

	finalText  string
	finalErr   error
	resetCalls int
}

func (f *fakeWorker) TranscribeFile(_ context.Context, _ string, _ string) (string, error) {
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return f.transcribeText, nil
}

func (f *fakeWorker) InitializeStreaming(_ context.Context, _ string, _ int, _ string) error {
	return f.initErr
}

func (f *fakeWorker) ProcessChunk(_ context.Context, _ []byte) (domain.ChunkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.chunkCalls
	f.chunkCalls++
	if err, ok := f.errByIdx[idx]; ok {
		return domain.ChunkResult{}, err
	}
	if res, ok := f.chunkByIdx[idx]; ok {
		return res, nil
	}
	return domain.ChunkResult{}, nil
}

func (f *fakeWorker) Finalize(_ context.Context) (string, error) {
	if f.finalErr != nil {
		return "", f.finalErr
	}
	return f.finalText, nil
}

func (f *fakeWorker) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
}

func (f *fakeWorker) snapshotResets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resetCalls
}

type fakeLoader struct {
	mu          sync.Mutex
	delay       time.Duration
	loadErr     error
	loadCalls   int
	unloadCalls int
}

func (f *fakeLoader) LoadModel(_ context.Context, _ string) error {
	f.mu.Lock()
	f.loadCalls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.loadErr
}

func (f *fakeLoader) UnloadModel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloadCalls++
	return nil
}

func (f *fakeLoader) snapshotLoads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadCalls
}

type fakeSettings struct {
	settings domain.Settings
	err      error
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{settings: domain.Settings{
		ModelID:           "small",
		Language:          "en",
		ConfirmationCount: 2,
	}}
}

func (f *fakeSettings) Load() (domain.Settings, error) {
	return f.settings, f.err
}

type fakeOutput struct {
	mu sync.Mutex

	clipboard    []string
	clipboardErr error
	saved        []string
	savePath     string
	saveErr      error
	notifyCalls  int
	soundCalls   int
}

func (f *fakeOutput) CopyToClipboard(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clipboardErr != nil {
		return f.clipboardErr
	}
	f.clipboard = append(f.clipboard, text)
	return nil
}

func (f *fakeOutput) SaveToFile(text string, _ domain.Settings) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, text)
	if f.savePath == "" {
		return "/tmp/transcript.txt", nil
	}
	return f.savePath, nil
}

func (f *fakeOutput) ShowNotification(_ string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifyCalls++
	return nil
}

func (f *fakeOutput) PlayCompletionSound() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.soundCalls++
	return nil
}

type batchErrEvent struct {
	code   domain.ErrorCode
	detail string
}

type fakeSink struct {
	mu sync.Mutex

	batchStatuses  []domain.BatchStatus
	batchCompleted []string
	batchPartials  []domain.SegmentMergeResult
	batchText      []string
	batchErrors    []batchErrEvent

	streamStatuses []domain.StreamStatus
	streamViews    []domain.TranscriptView
	streamPrompts  int
	streamSaved    []string
	streamClosed   int
	streamErrors   []batchErrEvent
}

func (f *fakeSink) BatchStatusChanged(status domain.BatchStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchStatuses = append(f.batchStatuses, status)
}

func (f *fakeSink) BatchCompleted(outputPath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCompleted = append(f.batchCompleted, outputPath)
}

func (f *fakeSink) BatchPartialSuccess(result domain.SegmentMergeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchPartials = append(f.batchPartials, result)
}

func (f *fakeSink) BatchTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchText = append(f.batchText, text)
}

func (f *fakeSink) BatchError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchErrors = append(f.batchErrors, batchErrEvent{code: code, detail: detail})
}

func (f *fakeSink) StreamStatusChanged(status domain.StreamStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamStatuses = append(f.streamStatuses, status)
}

func (f *fakeSink) StreamTranscript(view domain.TranscriptView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamViews = append(f.streamViews, view)
}

func (f *fakeSink) StreamDiscardPrompt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamPrompts++
}

func (f *fakeSink) StreamSaved(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamSaved = append(f.streamSaved, path)
}

func (f *fakeSink) StreamClosed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamClosed++
}

func (f *fakeSink) StreamError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamErrors = append(f.streamErrors, batchErrEvent{code: code, detail: detail})
}

func (f *fakeSink) snapshotBatchStatuses() []domain.BatchStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.BatchStatus, len(f.batchStatuses))
	copy(out, f.batchStatuses)
	return out
}

func (f *fakeSink) snapshotStreamStatuses() []domain.StreamStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.StreamStatus, len(f.streamStatuses))
	copy(out, f.streamStatuses)
	return out
}

func (f *fakeSink) snapshotBatchErrors() []batchErrEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]batchErrEvent, len(f.batchErrors))
	copy(out, f.batchErrors)
	return out
}

func (f *fakeSink) snapshotStreamErrors() []batchErrEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]batchErrEvent, len(f.streamErrors))
	copy(out, f.streamErrors)
	return out
}

func (f *fakeSink) snapshotStreamViews() []domain.TranscriptView {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TranscriptView, len(f.streamViews))
	copy(out, f.streamViews)
	return out
}
