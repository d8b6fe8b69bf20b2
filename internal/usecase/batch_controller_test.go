package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"whisperpad/internal/domain"
	"whisperpad/internal/engine"
)

type batchFixture struct {
	controller *BatchController
	capture    *fakeCapture
	worker     *fakeWorker
	loader     *fakeLoader
	settings   *fakeSettings
	sink       *fakeSink
	gateway    *engine.Gateway
}

func newBatchFixture(t *testing.T, tick time.Duration) *batchFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &batchFixture{
		capture:  newFakeCapture(),
		worker:   &fakeWorker{transcribeText: "hello world"},
		loader:   &fakeLoader{},
		settings: newFakeSettings(),
		sink:     &fakeSink{},
	}
	f.gateway = engine.New(f.loader, logger)
	f.controller = NewBatchController(f.capture, f.worker, f.gateway, f.settings, f.sink, logger, Config{TickInterval: tick})
	return f
}

func TestBatchRecordThroughEnd(t *testing.T) {
	t.Parallel()
	f := newBatchFixture(t, 15*time.Millisecond)

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "three ticks", func() bool {
		rec, ok := f.controller.Status().(domain.BatchRecording)
		return ok && rec.Duration >= 3
	})

	if err := f.controller.End(context.Background()); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, ok := f.controller.Status().(domain.BatchIdle); !ok {
		t.Fatalf("status after End = %#v, want BatchIdle", f.controller.Status())
	}
	waitFor(t, "transcript event", func() bool {
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		return len(f.sink.batchText) == 1
	})

	statuses := f.sink.snapshotBatchStatuses()
	if len(statuses) < 4 {
		t.Fatalf("expected a full status sequence, got %#v", statuses)
	}
	if _, ok := statuses[0].(domain.BatchPreparing); !ok {
		t.Fatalf("first status = %#v, want BatchPreparing", statuses[0])
	}
	if rec, ok := statuses[1].(domain.BatchRecording); !ok || rec.Duration != 0 {
		t.Fatalf("second status = %#v, want BatchRecording{0}", statuses[1])
	}
	prev := -1
	sawEnding := false
	for _, st := range statuses {
		switch v := st.(type) {
		case domain.BatchRecording:
			if sawEnding {
				t.Fatalf("recording status after ending: %#v", statuses)
			}
			if v.Duration != prev+1 {
				t.Fatalf("duration jumped from %d to %d", prev, v.Duration)
			}
			prev = v.Duration
		case domain.BatchEnding:
			sawEnding = true
		}
	}
	if !sawEnding {
		t.Fatalf("no BatchEnding in %#v", statuses)
	}
	if _, ok := statuses[len(statuses)-1].(domain.BatchIdle); !ok {
		t.Fatalf("last status = %#v, want BatchIdle", statuses[len(statuses)-1])
	}

	f.sink.mu.Lock()
	completed := len(f.sink.batchCompleted)
	text := f.sink.batchText[0]
	f.sink.mu.Unlock()
	if completed != 1 {
		t.Fatalf("completed events = %d, want 1", completed)
	}
	if text != "hello world" {
		t.Fatalf("transcript = %q", text)
	}
	if loads := f.loader.snapshotLoads(); loads != 1 {
		t.Fatalf("model loads = %d, want 1", loads)
	}
}

func TestBatchPermissionDenied(t *testing.T) {
	t.Parallel()
	f := newBatchFixture(t, 0)
	f.capture.permission = domain.PermissionDenied

	err := f.controller.Start(context.Background())
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("Start = %v, want ErrPermission", err)
	}
	if _, ok := f.controller.Status().(domain.BatchIdle); !ok {
		t.Fatalf("status = %#v, want BatchIdle", f.controller.Status())
	}
	errs := f.sink.snapshotBatchErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodePermission {
		t.Fatalf("errors = %#v, want one permission error", errs)
	}
	if loads := f.loader.snapshotLoads(); loads != 0 {
		t.Fatalf("model loaded despite denied permission")
	}
}

func TestBatchRejectsBusyEngine(t *testing.T) {
	t.Parallel()
	f := newBatchFixture(t, 0)
	f.loader.delay = 300 * time.Millisecond

	go func() { _ = f.gateway.Ensure(context.Background(), "small") }()
	waitFor(t, "engine initializing", func() bool {
		return f.gateway.State() == domain.EngineInitializing
	})

	err := f.controller.Start(context.Background())
	if !errors.Is(err, ErrEngineBusy) {
		t.Fatalf("Start = %v, want ErrEngineBusy", err)
	}
	errs := f.sink.snapshotBatchErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeEngineBusy {
		t.Fatalf("errors = %#v, want one engine_busy error", errs)
	}
}

func TestBatchCaptureStartFailure(t *testing.T) {
	t.Parallel()
	f := newBatchFixture(t, 0)
	f.capture.startErr = errors.New("device unavailable")

	if err := f.controller.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with a failing capture device")
	}
	if _, ok := f.controller.Status().(domain.BatchIdle); !ok {
		t.Fatalf("status = %#v, want BatchIdle", f.controller.Status())
	}
	errs := f.sink.snapshotBatchErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeCaptureStart {
		t.Fatalf("errors = %#v, want one capture_start error", errs)
	}
	statuses := f.sink.snapshotBatchStatuses()
	if len(statuses) == 0 {
		t.Fatal("expected an Idle status announcement after the failed start")
	}
	if _, ok := statuses[len(statuses)-1].(domain.BatchIdle); !ok {
		t.Fatalf("last status = %#v, want BatchIdle", statuses[len(statuses)-1])
	}
}

func TestBatchPauseFreezesDuration(t *testing.T) {
	t.Parallel()
	f := newBatchFixture(t, 10*time.Millisecond)

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first tick", func() bool {
		rec, ok := f.controller.Status().(domain.BatchRecording)
		return ok && rec.Duration >= 1
	})

	if err := f.controller.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	paused, ok := f.controller.Status().(domain.BatchPaused)
	if !ok {
		t.Fatalf("status = %#v, want BatchPaused", f.controller.Status())
	}
	time.Sleep(60 * time.Millisecond)
	after, ok := f.controller.Status().(domain.BatchPaused)
	if !ok || after.Duration != paused.Duration {
		t.Fatalf("paused duration moved: %#v -> %#v", paused, f.controller.Status())
	}

	if err := f.controller.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	rec, ok := f.controller.Status().(domain.BatchRecording)
	if !ok || rec.Duration != paused.Duration {
		t.Fatalf("resumed status = %#v, want BatchRecording{%d}", f.controller.Status(), paused.Duration)
	}
	f.controller.Cancel()
}

func TestBatchCancelAlwaysReturnsIdle(t *testing.T) {
	t.Parallel()
	f := newBatchFixture(t, 10*time.Millisecond)
	f.capture.abortErr = errors.New("device wedged")

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "recording", func() bool {
		_, ok := f.controller.Status().(domain.BatchRecording)
		return ok
	})

	f.controller.Cancel()
	if _, ok := f.controller.Status().(domain.BatchIdle); !ok {
		t.Fatalf("status = %#v, want BatchIdle", f.controller.Status())
	}
	if errs := f.sink.snapshotBatchErrors(); len(errs) != 0 {
		t.Fatalf("cancel surfaced errors: %#v", errs)
	}
	_, aborts, _ := f.capture.snapshotCalls()
	if aborts != 1 {
		t.Fatalf("abort calls = %d, want 1", aborts)
	}
	statuses := f.sink.snapshotBatchStatuses()
	if _, ok := statuses[len(statuses)-1].(domain.BatchIdle); !ok {
		t.Fatalf("last status = %#v, want BatchIdle", statuses[len(statuses)-1])
	}
}

func TestBatchPartialSuccess(t *testing.T) {
	t.Parallel()
	f := newBatchFixture(t, 10*time.Millisecond)
	f.capture.endResult = domain.SegmentMergeResult{
		OutputPath:    "/tmp/rec.wav",
		IsPartial:     true,
		UsedSegments:  2,
		TotalSegments: 3,
	}

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "recording", func() bool {
		_, ok := f.controller.Status().(domain.BatchRecording)
		return ok
	})
	if err := f.controller.End(context.Background()); err != nil {
		t.Fatalf("End: %v", err)
	}

	f.sink.mu.Lock()
	partials := len(f.sink.batchPartials)
	completed := len(f.sink.batchCompleted)
	f.sink.mu.Unlock()
	if partials != 1 || completed != 0 {
		t.Fatalf("partials = %d, completed = %d, want 1/0", partials, completed)
	}
	// A partial merge is still a usable recording and must be transcribed.
	waitFor(t, "transcript event", func() bool {
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		return len(f.sink.batchText) == 1
	})
}

func TestBatchResumeFailureSalvagesRecording(t *testing.T) {
	t.Parallel()
	f := newBatchFixture(t, 10*time.Millisecond)
	f.capture.resumeErr = errors.New("device lost")

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "recording", func() bool {
		_, ok := f.controller.Status().(domain.BatchRecording)
		return ok
	})
	if err := f.controller.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := f.controller.Resume(); err == nil {
		t.Fatal("Resume succeeded with a failing capture device")
	}

	if _, ok := f.controller.Status().(domain.BatchIdle); !ok {
		t.Fatalf("status = %#v, want BatchIdle", f.controller.Status())
	}
	errs := f.sink.snapshotBatchErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeResume {
		t.Fatalf("errors = %#v, want one resume error", errs)
	}
	f.sink.mu.Lock()
	completed := len(f.sink.batchCompleted)
	f.sink.mu.Unlock()
	if completed != 1 {
		t.Fatalf("completed events = %d, want the salvaged recording announced", completed)
	}
}

func TestBatchResumeFailureWithBrokenEnd(t *testing.T) {
	t.Parallel()
	f := newBatchFixture(t, 10*time.Millisecond)
	f.capture.resumeErr = errors.New("device lost")
	f.capture.endErr = errors.New("merge failed")

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "recording", func() bool {
		_, ok := f.controller.Status().(domain.BatchRecording)
		return ok
	})
	if err := f.controller.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := f.controller.Resume(); err == nil {
		t.Fatal("Resume succeeded with a failing capture device")
	}

	// The stop failure is reported with the original resume error, not the
	// secondary one from the salvage attempt.
	errs := f.sink.snapshotBatchErrors()
	if len(errs) != 2 {
		t.Fatalf("errors = %#v, want resume + capture_stop", errs)
	}
	if errs[1].code != domain.ErrorCodeCaptureStop || errs[1].detail != "device lost" {
		t.Fatalf("second error = %#v, want capture_stop carrying the resume error", errs[1])
	}
	if _, ok := f.controller.Status().(domain.BatchIdle); !ok {
		t.Fatalf("status = %#v, want BatchIdle", f.controller.Status())
	}
}

func TestBatchStartWhileActive(t *testing.T) {
	t.Parallel()
	f := newBatchFixture(t, 10*time.Millisecond)

	if err := f.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "recording", func() bool {
		_, ok := f.controller.Status().(domain.BatchRecording)
		return ok
	})
	if err := f.controller.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start = %v, want ErrSessionActive", err)
	}
	f.controller.Cancel()
}

func TestBatchLifecycleOpsIgnoreIdle(t *testing.T) {
	t.Parallel()
	f := newBatchFixture(t, 0)

	if err := f.controller.Pause(); err != nil {
		t.Fatalf("Pause while idle: %v", err)
	}
	if err := f.controller.Resume(); err != nil {
		t.Fatalf("Resume while idle: %v", err)
	}
	if err := f.controller.End(context.Background()); err != nil {
		t.Fatalf("End while idle: %v", err)
	}
	f.controller.Cancel()
	if got := f.sink.snapshotBatchStatuses(); len(got) != 0 {
		t.Fatalf("idle no-ops emitted statuses: %#v", got)
	}
}
