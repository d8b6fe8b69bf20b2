package domain

import "errors"

// EngineState models the shared recognition engine lifecycle.
type EngineState string

const (
	EngineUnloaded     EngineState = "unloaded"
	EngineInitializing EngineState = "initializing"
	EngineReady        EngineState = "ready"
	EngineError        EngineState = "error"
)

// PermissionStatus reports microphone access.
type PermissionStatus string

const (
	PermissionUndetermined PermissionStatus = "undetermined"
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
)

// BatchStatus is the batch recording session status. It is a closed set of
// concrete types so a status can only carry the data that is valid for it.
type BatchStatus interface{ batchStatus() }

type BatchIdle struct{}

type BatchPreparing struct{}

// BatchRecording carries the elapsed duration in whole seconds.
type BatchRecording struct{ Duration int }

// BatchPaused freezes the duration accumulated so far.
type BatchPaused struct{ Duration int }

type BatchEnding struct{}

func (BatchIdle) batchStatus()      {}
func (BatchPreparing) batchStatus() {}
func (BatchRecording) batchStatus() {}
func (BatchPaused) batchStatus()    {}
func (BatchEnding) batchStatus()    {}

// StreamStatus is the streaming transcription session status.
type StreamStatus interface{ streamStatus() }

type StreamIdle struct{}

type StreamInitializing struct{}

// StreamRecording carries elapsed seconds and the current recognition
// throughput in audio seconds processed per wall-clock second.
type StreamRecording struct {
	Duration   int
	Throughput float64
}

type StreamProcessing struct{}

// StreamCompleted carries the finalized transcript.
type StreamCompleted struct{ Text string }

// StreamFailed carries a human-readable failure message.
type StreamFailed struct{ Message string }

func (StreamIdle) streamStatus()         {}
func (StreamInitializing) streamStatus() {}
func (StreamRecording) streamStatus()    {}
func (StreamProcessing) streamStatus()   {}
func (StreamCompleted) streamStatus()    {}
func (StreamFailed) streamStatus()       {}

// SegmentMergeResult describes the outcome of merging a multi-segment
// recording. IsPartial means some segments were unusable but the output is
// still a valid recording.
type SegmentMergeResult struct {
	OutputPath    string
	IsPartial     bool
	UsedSegments  int
	TotalSegments int
}

// ChunkResult is one incremental recognition update for a streaming session.
type ChunkResult struct {
	ConfirmedDelta string
	Pending        string
	Decoding       string
	Throughput     float64
}

// TranscriptView is the three-tier live transcript: Confirmed is final text,
// Pending is likely but revisable, Decoding is the live preview.
type TranscriptView struct {
	Confirmed string
	Pending   string
	Decoding  string
}

// ErrBufferOverflow signals that chunk recognition can no longer keep up with
// capture and the session must stop in an orderly way.
var ErrBufferOverflow = errors.New("recognition buffer overflow")

// ErrorCode identifies non-fatal and fatal session errors.
type ErrorCode string

const (
	ErrorCodePermission   ErrorCode = "permission"
	ErrorCodeEngineLoad   ErrorCode = "engine_load"
	ErrorCodeEngineBusy   ErrorCode = "engine_busy"
	ErrorCodeCaptureStart ErrorCode = "capture_start"
	ErrorCodeCaptureStop  ErrorCode = "capture_stop"
	ErrorCodeResume       ErrorCode = "resume"
	ErrorCodeChunk        ErrorCode = "chunk"
	ErrorCodeFinalize     ErrorCode = "finalize"
	ErrorCodeTranscribe   ErrorCode = "transcribe"
	ErrorCodeClipboard    ErrorCode = "clipboard"
	ErrorCodeSave         ErrorCode = "save"
)

// HotkeyAction identifies one of the fixed, globally bindable actions.
type HotkeyAction string

const (
	ActionStartRecording HotkeyAction = "start_recording"
	ActionStopRecording  HotkeyAction = "stop_recording"
	ActionPauseRecording HotkeyAction = "pause_recording"
	ActionCancelSession  HotkeyAction = "cancel_session"
	ActionStartStreaming HotkeyAction = "start_streaming"
)

// Actions lists every bindable action in a stable order.
func Actions() []HotkeyAction {
	return []HotkeyAction{
		ActionStartRecording,
		ActionStopRecording,
		ActionPauseRecording,
		ActionCancelSession,
		ActionStartStreaming,
	}
}

// Modifier bitmask for hotkey bindings.
const (
	ModCtrl  uint32 = 1 << 0
	ModShift uint32 = 1 << 1
	ModAlt   uint32 = 1 << 2
	ModCmd   uint32 = 1 << 3
)

// HotkeyBinding maps one action to a key combination.
type HotkeyBinding struct {
	Action    HotkeyAction `yaml:"action"`
	KeyCode   uint16       `yaml:"key_code"`
	Modifiers uint32       `yaml:"modifiers"`
}

// SameCombo reports whether two bindings share the key combination.
func (b HotkeyBinding) SameCombo(other HotkeyBinding) bool {
	return b.KeyCode == other.KeyCode && b.Modifiers == other.Modifiers
}

// HotkeyAlertKind is one of the three mutually exclusive rejection alerts.
type HotkeyAlertKind string

const (
	AlertInternalDuplicate HotkeyAlertKind = "internal_duplicate"
	AlertSystemConflict    HotkeyAlertKind = "system_conflict"
	AlertSystemReserved    HotkeyAlertKind = "system_reserved"
)

// Settings is the read-only configuration snapshot the controllers consume at
// session start.
type Settings struct {
	ModelID             string
	Language            string
	ConfirmationCount   int
	IdleTimeoutMinutes  int
	ChunkMillis         int
	NotifyOnComplete    bool
	PlaySoundOnComplete bool
	OutputEnabled       bool
	OutputDir           string
	DaemonURL           string
	RulesPath           string
	Bindings            []HotkeyBinding
}
