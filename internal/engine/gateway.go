// Package engine owns the shared recognition engine lifecycle. Both session
// controllers go through the gateway; they never touch the loader directly.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"whisperpad/internal/domain"
	"whisperpad/internal/ports"
)

// Gateway serializes access to the expensive-to-load recognition engine.
// Exactly one model load runs at a time engine-wide; concurrent callers join
// the in-flight load instead of starting a second one.
type Gateway struct {
	loader ports.EngineLoader
	log    *slog.Logger

	mu        sync.Mutex
	state     domain.EngineState
	reason    string
	modelID   string
	leases    int
	idleSince time.Time

	group singleflight.Group
}

func New(loader ports.EngineLoader, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		loader:    loader,
		log:       logger.With("component", "engine"),
		state:     domain.EngineUnloaded,
		idleSince: time.Now(),
	}
}

// State returns the current lifecycle state.
func (g *Gateway) State() domain.EngineState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Ready reports whether the engine is loaded and usable.
func (g *Gateway) Ready() bool {
	return g.State() == domain.EngineReady
}

// ErrorReason returns the last load failure message, if any.
func (g *Gateway) ErrorReason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// Ensure makes the engine Ready for modelID. It is a no-op when the engine is
// already Ready with the same model. While a load is in flight, additional
// callers suspend on that attempt and observe its outcome. A load failure is
// returned to every joined caller and is never retried silently.
func (g *Gateway) Ensure(ctx context.Context, modelID string) error {
	for {
		if g.readyFor(modelID) {
			return nil
		}

		_, err, _ := g.group.Do("initialize", func() (any, error) {
			if g.readyFor(modelID) {
				return nil, nil
			}

			g.mu.Lock()
			g.state = domain.EngineInitializing
			g.reason = ""
			g.mu.Unlock()

			g.log.Info("loading model", "model", modelID)
			if err := g.loader.LoadModel(ctx, modelID); err != nil {
				g.mu.Lock()
				g.state = domain.EngineError
				g.reason = err.Error()
				g.mu.Unlock()
				return nil, fmt.Errorf("engine: load model %q: %w", modelID, err)
			}

			g.mu.Lock()
			g.state = domain.EngineReady
			g.modelID = modelID
			g.idleSince = time.Now()
			g.mu.Unlock()
			g.log.Info("model ready", "model", modelID)
			return nil, nil
		})
		if err != nil {
			return err
		}
		if g.readyFor(modelID) {
			return nil
		}
		// The joined load was for a different model; run our own attempt.
	}
}

func (g *Gateway) readyFor(modelID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == domain.EngineReady && g.modelID == modelID
}

// Acquire marks a session as actively using the engine, blocking idle unload.
func (g *Gateway) Acquire() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leases++
}

// Release drops one session lease. The idle clock restarts when the last
// lease goes away.
func (g *Gateway) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.leases > 0 {
		g.leases--
	}
	if g.leases == 0 {
		g.idleSince = time.Now()
	}
}

// RunIdleSweep periodically unloads a Ready engine that has had no active
// session for at least timeout. It returns when ctx is cancelled.
func (g *Gateway) RunIdleSweep(ctx context.Context, timeout time.Duration, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep(timeout)
		}
	}
}

func (g *Gateway) sweep(timeout time.Duration) {
	g.mu.Lock()
	expired := g.state == domain.EngineReady && g.leases == 0 && time.Since(g.idleSince) >= timeout
	var model string
	if expired {
		model = g.modelID
		g.state = domain.EngineUnloaded
		g.modelID = ""
	}
	g.mu.Unlock()

	if !expired {
		return
	}
	if err := g.loader.UnloadModel(); err != nil {
		g.log.Warn("idle unload failed", "model", model, "error", err)
		return
	}
	g.log.Info("idle timeout, engine unloaded", "model", model)
}
