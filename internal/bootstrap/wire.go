// Package bootstrap assembles the runtime dependency graph.
package bootstrap

import (
	"log/slog"
	"time"

	"whisperpad/internal/audio"
	"whisperpad/internal/config"
	"whisperpad/internal/domain"
	"whisperpad/internal/engine"
	"whisperpad/internal/hotkey"
	"whisperpad/internal/output"
	"whisperpad/internal/ports"
	"whisperpad/internal/providers/whisperd"
	"whisperpad/internal/rules"
	"whisperpad/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Settings  domain.Settings
	Gateway   *engine.Gateway
	Batch     *usecase.BatchController
	Stream    *usecase.StreamController
	Validator *hotkey.Validator
}

// Build wires all backend dependencies for the current runtime.
func Build(configPath string, events ports.EventSink, logger *slog.Logger) (Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store := config.NewStore(configPath)
	cfg, err := store.Load()
	if err != nil {
		return Services{}, err
	}

	worker := whisperd.NewClient(whisperd.Config{
		BaseURL:     cfg.DaemonURL,
		HTTPTimeout: 5 * time.Minute,
	}, logger)

	gateway := engine.New(worker, logger)
	capture := audio.NewCapture(audio.Config{ChunkMillis: cfg.ChunkMillis}, logger)

	rulesEngine, err := rules.Load(cfg.RulesPath, 0)
	if err != nil {
		return Services{}, err
	}

	batch := usecase.NewBatchController(
		capture, worker, gateway, store, events, logger, usecase.Config{},
	)
	stream := usecase.NewStreamController(
		capture, worker, gateway, store, output.NewSink(logger), rulesEngine,
		events, logger, usecase.Config{},
	)

	validator := hotkey.NewValidator(hotkey.SystemRegistrar{}, config.DefaultBindings(), cfg.Bindings)

	return Services{
		Settings:  cfg,
		Gateway:   gateway,
		Batch:     batch,
		Stream:    stream,
		Validator: validator,
	}, nil
}
