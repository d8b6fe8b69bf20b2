package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whisperpad/internal/bootstrap"
	"whisperpad/internal/domain"
	"whisperpad/internal/hotkey"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to the settings file")
		logLevel   = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.Build(configPath, &logSink{log: logger}, logger)
	if err != nil {
		return err
	}

	idleTimeout := time.Duration(services.Settings.IdleTimeoutMinutes) * time.Minute
	go services.Gateway.RunIdleSweep(ctx, idleTimeout, time.Minute)

	if report := services.Validator.Redundancy(); len(report) > 0 {
		for _, pair := range report {
			logger.Warn("hotkey bindings coincide", "a", pair.A, "b", pair.B)
		}
	}

	dispatcher := hotkey.NewDispatcher(logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- dispatcher.Run(ctx, services.Validator.Bindings(), func(action domain.HotkeyAction) {
			dispatch(ctx, services, action, logger)
		})
	}()

	logger.Info("whisperpad ready",
		"model", services.Settings.ModelID,
		"daemon", services.Settings.DaemonURL,
		"idle_timeout", idleTimeout,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return err
		}
	}

	services.Batch.Cancel()
	services.Stream.Cancel()
	return nil
}

func dispatch(ctx context.Context, services bootstrap.Services, action domain.HotkeyAction, logger *slog.Logger) {
	switch action {
	case domain.ActionStartRecording:
		if err := services.Batch.Start(ctx); err != nil {
			logger.Warn("start recording rejected", "error", err)
		}
	case domain.ActionStopRecording:
		if err := services.Batch.End(ctx); err != nil {
			logger.Warn("stop recording failed", "error", err)
		}
	case domain.ActionPauseRecording:
		switch services.Batch.Status().(type) {
		case domain.BatchRecording:
			_ = services.Batch.Pause()
		case domain.BatchPaused:
			_ = services.Batch.Resume()
		}
	case domain.ActionCancelSession:
		services.Batch.Cancel()
		services.Stream.Cancel()
	case domain.ActionStartStreaming:
		switch services.Stream.Status().(type) {
		case domain.StreamRecording:
			if err := services.Stream.Stop(ctx); err != nil {
				logger.Warn("stop streaming failed", "error", err)
			}
		default:
			if err := services.Stream.Start(ctx); err != nil {
				logger.Warn("start streaming rejected", "error", err)
			}
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// logSink surfaces controller events on the log; a GUI shell would replace
// this with its own sink.
type logSink struct {
	log *slog.Logger
}

func (s *logSink) BatchStatusChanged(status domain.BatchStatus) {
	s.log.Info("batch status", "status", describeBatch(status))
}

func (s *logSink) BatchCompleted(outputPath string) {
	s.log.Info("recording completed", "path", outputPath)
}

func (s *logSink) BatchPartialSuccess(result domain.SegmentMergeResult) {
	s.log.Warn("recording completed with missing segments",
		"path", result.OutputPath,
		"used", result.UsedSegments,
		"total", result.TotalSegments,
	)
}

func (s *logSink) BatchTranscript(text string) {
	s.log.Info("transcript ready", "text", text)
}

func (s *logSink) BatchError(code domain.ErrorCode, detail string) {
	s.log.Error("batch session error", "code", code, "detail", detail)
}

func (s *logSink) StreamStatusChanged(status domain.StreamStatus) {
	s.log.Info("stream status", "status", describeStream(status))
}

func (s *logSink) StreamTranscript(view domain.TranscriptView) {
	s.log.Info("live transcript",
		"confirmed", view.Confirmed,
		"pending", view.Pending,
		"decoding", view.Decoding,
	)
}

func (s *logSink) StreamDiscardPrompt() {
	s.log.Warn("session active; cancel again to discard")
}

func (s *logSink) StreamSaved(path string) {
	s.log.Info("transcript saved", "path", path)
}

func (s *logSink) StreamClosed() {
	s.log.Info("stream session closed")
}

func (s *logSink) StreamError(code domain.ErrorCode, detail string) {
	s.log.Error("stream session error", "code", code, "detail", detail)
}

func describeBatch(status domain.BatchStatus) string {
	switch st := status.(type) {
	case domain.BatchIdle:
		return "idle"
	case domain.BatchPreparing:
		return "preparing"
	case domain.BatchRecording:
		return fmt.Sprintf("recording (%ds)", st.Duration)
	case domain.BatchPaused:
		return fmt.Sprintf("paused (%ds)", st.Duration)
	case domain.BatchEnding:
		return "ending"
	default:
		return "unknown"
	}
}

func describeStream(status domain.StreamStatus) string {
	switch st := status.(type) {
	case domain.StreamIdle:
		return "idle"
	case domain.StreamInitializing:
		return "initializing"
	case domain.StreamRecording:
		return fmt.Sprintf("recording (%ds, %.1fx)", st.Duration, st.Throughput)
	case domain.StreamProcessing:
		return "processing"
	case domain.StreamCompleted:
		return "completed"
	case domain.StreamFailed:
		return "error: " + st.Message
	default:
		return "unknown"
	}
}
