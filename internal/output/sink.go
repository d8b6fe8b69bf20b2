// Package output delivers finished transcripts: clipboard, files on disk,
// and completion notifications.
package output

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/atotto/clipboard"
	"github.com/gen2brain/beeep"

	"whisperpad/internal/domain"
)

// Sink implements ports.OutputSink.
type Sink struct {
	log *slog.Logger
	now func() time.Time
}

func NewSink(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{log: logger.With("component", "output"), now: time.Now}
}

func (s *Sink) CopyToClipboard(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("output: clipboard write: %w", err)
	}
	return nil
}

// SaveToFile writes the transcript under the configured output directory and
// returns the resolved path.
func (s *Sink) SaveToFile(text string, settings domain.Settings) (string, error) {
	dir := settings.OutputDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("output: resolve home: %w", err)
		}
		dir = filepath.Join(home, "Documents")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("output: create output dir: %w", err)
	}

	path := filepath.Join(dir, "transcript-"+s.now().Format("20060102-150405")+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("output: write transcript: %w", err)
	}
	return path, nil
}

func (s *Sink) ShowNotification(title string, body string) error {
	return beeep.Notify(title, body, "")
}

func (s *Sink) PlayCompletionSound() error {
	return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
}
