// Package config loads the user settings snapshot from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"whisperpad/internal/domain"
)

const (
	DefaultModelID            = "small"
	DefaultConfirmationCount  = 2
	DefaultIdleTimeoutMinutes = 15
	DefaultDaemonURL          = "http://127.0.0.1:8765"
	DefaultChunkMillis        = 20

	minIdleTimeoutMinutes = 5
	maxIdleTimeoutMinutes = 60
	minChunkMillis        = 10
	maxChunkMillis        = 500
)

// DefaultBindings returns the factory hotkey bindings. Key codes follow the
// golang.design/x/hotkey mapping for the current platform.
func DefaultBindings() []domain.HotkeyBinding {
	mods := domain.ModCtrl | domain.ModShift
	return []domain.HotkeyBinding{
		{Action: domain.ActionStartRecording, KeyCode: 27, Modifiers: mods},
		{Action: domain.ActionStopRecording, KeyCode: 39, Modifiers: mods},
		{Action: domain.ActionPauseRecording, KeyCode: 33, Modifiers: mods},
		{Action: domain.ActionCancelSession, KeyCode: 9, Modifiers: mods},
		{Action: domain.ActionStartStreaming, KeyCode: 28, Modifiers: mods},
	}
}

type fileSettings struct {
	Model struct {
		ID                string `yaml:"id"`
		Language          string `yaml:"language"`
		ConfirmationCount int    `yaml:"confirmation_count"`
	} `yaml:"model"`
	Engine struct {
		IdleTimeoutMinutes int    `yaml:"idle_timeout_minutes"`
		DaemonURL          string `yaml:"daemon_url"`
	} `yaml:"engine"`
	Audio struct {
		ChunkMillis int `yaml:"chunk_millis"`
	} `yaml:"audio"`
	Output struct {
		Enabled             bool   `yaml:"enabled"`
		Directory           string `yaml:"directory"`
		NotifyOnComplete    *bool  `yaml:"notify_on_complete"`
		PlaySoundOnComplete bool   `yaml:"play_sound_on_complete"`
	} `yaml:"output"`
	Rules struct {
		Path string `yaml:"path"`
	} `yaml:"rules"`
	Hotkeys []domain.HotkeyBinding `yaml:"hotkeys"`
}

// Store implements ports.SettingsStore from a YAML file. Tests can override
// Lookup to inject deterministic environments.
type Store struct {
	Path   string
	Lookup func(string) (string, bool)
}

func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load resolves the settings snapshot: built-in defaults, then the YAML
// file, then environment overrides. A missing file is not an error.
func (s *Store) Load() (domain.Settings, error) {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	path := s.Path
	if path == "" {
		path = defaultPath(lookup)
	}

	cfg := domain.Settings{
		ModelID:            DefaultModelID,
		ConfirmationCount:  DefaultConfirmationCount,
		IdleTimeoutMinutes: DefaultIdleTimeoutMinutes,
		ChunkMillis:        DefaultChunkMillis,
		NotifyOnComplete:   true,
		DaemonURL:          DefaultDaemonURL,
		Bindings:           DefaultBindings(),
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return domain.Settings{}, fmt.Errorf("config: read %q: %w", path, err)
		default:
			var fs fileSettings
			if err := yaml.Unmarshal(raw, &fs); err != nil {
				return domain.Settings{}, fmt.Errorf("config: parse %q: %w", path, err)
			}
			applyFile(&cfg, fs)
		}
	}

	overrideString(lookup, "WHISPERPAD_MODEL", &cfg.ModelID)
	overrideString(lookup, "WHISPERPAD_LANGUAGE", &cfg.Language)
	overrideString(lookup, "WHISPERPAD_DAEMON_URL", &cfg.DaemonURL)
	overrideString(lookup, "WHISPERPAD_OUTPUT_DIR", &cfg.OutputDir)
	overrideString(lookup, "WHISPERPAD_RULES_FILE", &cfg.RulesPath)
	overrideInt(lookup, "WHISPERPAD_IDLE_TIMEOUT_MINUTES", &cfg.IdleTimeoutMinutes)

	if cfg.ConfirmationCount < 1 {
		cfg.ConfirmationCount = DefaultConfirmationCount
	}
	if cfg.IdleTimeoutMinutes < minIdleTimeoutMinutes {
		cfg.IdleTimeoutMinutes = minIdleTimeoutMinutes
	}
	if cfg.IdleTimeoutMinutes > maxIdleTimeoutMinutes {
		cfg.IdleTimeoutMinutes = maxIdleTimeoutMinutes
	}
	if cfg.ChunkMillis < minChunkMillis {
		cfg.ChunkMillis = DefaultChunkMillis
	}
	if cfg.ChunkMillis > maxChunkMillis {
		cfg.ChunkMillis = maxChunkMillis
	}
	if len(cfg.Bindings) == 0 {
		cfg.Bindings = DefaultBindings()
	}
	return cfg, nil
}

func applyFile(cfg *domain.Settings, fs fileSettings) {
	if fs.Model.ID != "" {
		cfg.ModelID = fs.Model.ID
	}
	if fs.Model.Language != "" {
		cfg.Language = fs.Model.Language
	}
	if fs.Model.ConfirmationCount > 0 {
		cfg.ConfirmationCount = fs.Model.ConfirmationCount
	}
	if fs.Engine.IdleTimeoutMinutes > 0 {
		cfg.IdleTimeoutMinutes = fs.Engine.IdleTimeoutMinutes
	}
	if fs.Engine.DaemonURL != "" {
		cfg.DaemonURL = fs.Engine.DaemonURL
	}
	if fs.Audio.ChunkMillis > 0 {
		cfg.ChunkMillis = fs.Audio.ChunkMillis
	}
	cfg.OutputEnabled = fs.Output.Enabled
	if fs.Output.Directory != "" {
		cfg.OutputDir = fs.Output.Directory
	}
	if fs.Output.NotifyOnComplete != nil {
		cfg.NotifyOnComplete = *fs.Output.NotifyOnComplete
	}
	cfg.PlaySoundOnComplete = fs.Output.PlaySoundOnComplete
	if fs.Rules.Path != "" {
		cfg.RulesPath = fs.Rules.Path
	}
	if len(fs.Hotkeys) > 0 {
		cfg.Bindings = mergeBindings(DefaultBindings(), fs.Hotkeys)
	}
}

// mergeBindings overlays file bindings onto the defaults so an incomplete
// hotkeys section never leaves an action unbound.
func mergeBindings(defaults []domain.HotkeyBinding, overrides []domain.HotkeyBinding) []domain.HotkeyBinding {
	byAction := make(map[domain.HotkeyAction]domain.HotkeyBinding, len(defaults))
	for _, b := range defaults {
		byAction[b.Action] = b
	}
	for _, b := range overrides {
		if _, ok := byAction[b.Action]; ok {
			byAction[b.Action] = b
		}
	}
	out := make([]domain.HotkeyBinding, 0, len(defaults))
	for _, action := range domain.Actions() {
		if b, ok := byAction[action]; ok {
			out = append(out, b)
		}
	}
	return out
}

func defaultPath(lookup func(string) (string, bool)) string {
	if v, ok := lookup("WHISPERPAD_CONFIG"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "whisperpad", "config.yaml")
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) {
	value, ok := lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return
	}
	*target = parsed
}
