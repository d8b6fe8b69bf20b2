package ports

import (
	"context"
	"errors"

	"whisperpad/internal/domain"
)

// ErrReservedBySystem marks a shortcut registration rejected because the OS
// reserves the combination for itself.
var ErrReservedBySystem = errors.New("shortcut reserved by system")

// CaptureDevice wraps microphone access for both discrete recordings and live
// streaming. At most one mode is active at a time.
type CaptureDevice interface {
	RequestPermission(ctx context.Context) (domain.PermissionStatus, error)

	// StartRecording opens a new segmented recording and returns the path of
	// the first segment file.
	StartRecording(ctx context.Context, id string) (string, error)
	PauseRecording() error
	ResumeRecording() error
	// EndRecording stops capture and merges all segments into one output
	// file. A degraded merge is reported through the result, not an error.
	EndRecording() (domain.SegmentMergeResult, error)
	// AbortRecording stops capture and discards all segments.
	AbortRecording() error

	// StartStream begins live capture and returns the sample buffer channel.
	// The channel is closed by StopStream or when ctx is cancelled.
	StartStream(ctx context.Context) (<-chan []byte, error)
	StopStream() error
}

// RecognitionWorker performs the actual speech-to-text.
type RecognitionWorker interface {
	// TranscribeFile consumes a whole recording once.
	TranscribeFile(ctx context.Context, path string, language string) (string, error)

	InitializeStreaming(ctx context.Context, modelID string, confirmationCount int, language string) error
	// ProcessChunk feeds one sample buffer and returns the incremental
	// progress. domain.ErrBufferOverflow means the session must stop.
	ProcessChunk(ctx context.Context, samples []byte) (domain.ChunkResult, error)
	Finalize(ctx context.Context) (string, error)
	Reset()
}

// EngineLoader loads and releases the opaque recognition model. Owned by the
// engine gateway; controllers never touch it directly.
type EngineLoader interface {
	LoadModel(ctx context.Context, modelID string) error
	UnloadModel() error
}

// SettingsStore reads the user configuration snapshot at session start.
type SettingsStore interface {
	Load() (domain.Settings, error)
}

// OutputSink delivers finished transcripts to the outside world.
type OutputSink interface {
	CopyToClipboard(text string) error
	SaveToFile(text string, settings domain.Settings) (string, error)
	ShowNotification(title string, body string) error
	PlayCompletionSound() error
}

// ShortcutRegistrar attempts a provisional global shortcut registration. A
// nil error means the combination is available. ErrReservedBySystem (wrapped)
// identifies an OS-reserved combination; any other error is a generic
// conflict.
type ShortcutRegistrar interface {
	TryRegister(keyCode uint16, modifiers uint32) error
}

// TextTransformer post-processes a finished transcript.
type TextTransformer interface {
	Apply(text string) (string, error)
}

// EventSink emits controller state and results to the embedding shell.
type EventSink interface {
	BatchStatusChanged(status domain.BatchStatus)
	BatchCompleted(outputPath string)
	BatchPartialSuccess(result domain.SegmentMergeResult)
	BatchTranscript(text string)
	BatchError(code domain.ErrorCode, detail string)

	StreamStatusChanged(status domain.StreamStatus)
	StreamTranscript(view domain.TranscriptView)
	StreamDiscardPrompt()
	StreamSaved(path string)
	StreamClosed()
	StreamError(code domain.ErrorCode, detail string)
}
