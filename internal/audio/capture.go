// Package audio captures microphone PCM through miniaudio, either into
// segmented WAV files for batch recordings or into a live sample channel for
// streaming sessions.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gen2brain/malgo"

	"whisperpad/internal/domain"
)

// Config describes how the microphone is captured.
type Config struct {
	SampleRate   int
	Channels     int
	ChunkMillis  int
	WorkDir      string
	StreamBuffer int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.ChunkMillis <= 0 {
		c.ChunkMillis = 20
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = 32
	}
	return c
}

// Capture implements ports.CaptureDevice. At most one recording or stream is
// active at a time.
type Capture struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	// batch state
	recID    string
	segDir   string
	segments []string
	seg      *segmentWriter
	paused   bool

	// stream state
	stream    chan []byte
	streaming bool
	dropped   int
}

func NewCapture(cfg Config, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{cfg: cfg.withDefaults(), log: logger.With("component", "audio")}
}

// RequestPermission probes for an available capture device. Environments
// that deny microphone access surface no usable device here.
func (c *Capture) RequestPermission(_ context.Context) (domain.PermissionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureContextLocked(); err != nil {
		return domain.PermissionDenied, nil
	}
	infos, err := c.malgoCtx.Devices(malgo.Capture)
	if err != nil || len(infos) == 0 {
		return domain.PermissionDenied, nil
	}
	return domain.PermissionGranted, nil
}

// StartRecording opens a segmented recording and returns the first segment
// path. Each pause/resume boundary starts a new segment.
func (c *Capture) StartRecording(_ context.Context, id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		return "", errors.New("audio: capture already active")
	}
	if err := c.ensureContextLocked(); err != nil {
		return "", err
	}

	segDir := filepath.Join(c.cfg.WorkDir, "whisperpad-"+id)
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return "", fmt.Errorf("audio: create segment dir: %w", err)
	}
	c.recID = id
	c.segDir = segDir
	c.segments = nil
	c.paused = false

	if err := c.openSegmentLocked(); err != nil {
		return "", err
	}

	device, err := c.initDeviceLocked(c.onRecordPCM)
	if err != nil {
		c.closeSegmentLocked()
		return "", err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		c.closeSegmentLocked()
		return "", fmt.Errorf("audio: start capture: %w", err)
	}
	c.device = device
	return c.segments[len(c.segments)-1], nil
}

// PauseRecording closes the current segment and stops pulling samples.
func (c *Capture) PauseRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil || c.paused {
		return errors.New("audio: no active recording")
	}
	c.paused = true
	c.closeSegmentLocked()
	return nil
}

// ResumeRecording opens the next segment and resumes pulling samples.
func (c *Capture) ResumeRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil || !c.paused {
		return errors.New("audio: recording is not paused")
	}
	if err := c.openSegmentLocked(); err != nil {
		return err
	}
	c.paused = false
	return nil
}

// EndRecording stops capture and merges all segments into one WAV file.
func (c *Capture) EndRecording() (domain.SegmentMergeResult, error) {
	c.mu.Lock()
	c.stopDeviceLocked()
	c.closeSegmentLocked()
	segments := c.segments
	outPath := filepath.Join(c.segDir, c.recID+".wav")
	c.segments = nil
	c.mu.Unlock()

	if len(segments) == 0 {
		return domain.SegmentMergeResult{}, errors.New("audio: no recording in progress")
	}
	return MergeSegments(segments, outPath)
}

// AbortRecording stops capture and discards all segments.
func (c *Capture) AbortRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopDeviceLocked()
	c.closeSegmentLocked()
	var firstErr error
	for _, path := range c.segments {
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.segments = nil
	return firstErr
}

// StartStream begins live capture. The returned channel closes on StopStream
// or when ctx is cancelled. When the consumer falls behind, buffers are
// dropped rather than blocking the device callback.
func (c *Capture) StartStream(ctx context.Context) (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		return nil, errors.New("audio: capture already active")
	}
	if err := c.ensureContextLocked(); err != nil {
		return nil, err
	}

	c.stream = make(chan []byte, c.cfg.StreamBuffer)
	c.dropped = 0

	device, err := c.initDeviceLocked(c.onStreamPCM)
	if err != nil {
		c.stream = nil
		return nil, err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		c.stream = nil
		return nil, fmt.Errorf("audio: start capture: %w", err)
	}
	c.device = device
	c.streaming = true

	go func() {
		<-ctx.Done()
		_ = c.StopStream()
	}()
	return c.stream, nil
}

// StopStream ends live capture and closes the sample channel.
func (c *Capture) StopStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return nil
	}
	c.streaming = false
	c.stopDeviceLocked()
	close(c.stream)
	c.stream = nil
	if c.dropped > 0 {
		c.log.Warn("dropped sample buffers during stream", "count", c.dropped)
	}
	return nil
}

func (c *Capture) ensureContextLocked() error {
	if c.malgoCtx != nil {
		return nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audio: init context: %w", err)
	}
	c.malgoCtx = ctx
	return nil
}

func (c *Capture) initDeviceLocked(onPCM func([]byte)) (*malgo.Device, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(c.cfg.Channels)
	deviceConfig.SampleRate = uint32(c.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(c.cfg.ChunkMillis)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, _ uint32) {
			onPCM(pInput)
		},
	}
	device, err := malgo.InitDevice(c.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("audio: init device: %w", err)
	}
	return device, nil
}

func (c *Capture) onRecordPCM(pcm []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || c.seg == nil {
		return
	}
	if err := c.seg.writePCM(pcm, c.cfg.SampleRate, c.cfg.Channels); err != nil {
		c.log.Warn("segment write failed", "error", err)
	}
}

func (c *Capture) onStreamPCM(pcm []byte) {
	buf := make([]byte, len(pcm))
	copy(buf, pcm)

	c.mu.Lock()
	stream := c.stream
	if stream == nil {
		c.mu.Unlock()
		return
	}
	select {
	case stream <- buf:
	default:
		c.dropped++
	}
	c.mu.Unlock()
}

func (c *Capture) openSegmentLocked() error {
	path := filepath.Join(c.segDir, fmt.Sprintf("%s-%03d.wav", c.recID, len(c.segments)))
	seg, err := newSegmentWriter(path, c.cfg.SampleRate, c.cfg.Channels)
	if err != nil {
		return err
	}
	c.seg = seg
	c.segments = append(c.segments, path)
	return nil
}

func (c *Capture) closeSegmentLocked() {
	if c.seg == nil {
		return
	}
	if err := c.seg.close(); err != nil {
		c.log.Warn("segment close failed", "path", c.seg.path, "error", err)
	}
	c.seg = nil
}

func (c *Capture) stopDeviceLocked() {
	if c.device == nil {
		return
	}
	_ = c.device.Stop()
	c.device.Uninit()
	c.device = nil
}
