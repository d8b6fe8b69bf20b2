package hotkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	xhotkey "golang.design/x/hotkey"

	"whisperpad/internal/domain"
	"whisperpad/internal/ports"
)

func isReserved(err error) bool {
	return errors.Is(err, ports.ErrReservedBySystem)
}

// SystemRegistrar probes the OS global-shortcut table by registering the
// combination provisionally and releasing it immediately.
type SystemRegistrar struct{}

func (SystemRegistrar) TryRegister(keyCode uint16, modifiers uint32) error {
	hk := xhotkey.New(platformModifiers(modifiers), xhotkey.Key(keyCode))
	if err := hk.Register(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "reserved") {
			return fmt.Errorf("hotkey: %v: %w", err, ports.ErrReservedBySystem)
		}
		return fmt.Errorf("hotkey: register: %w", err)
	}
	return hk.Unregister()
}

// Dispatcher holds the committed bindings registered for real and forwards
// key-down events to the handler.
type Dispatcher struct {
	log *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{log: logger.With("component", "hotkey")}
}

// Run registers every binding and dispatches until ctx is cancelled. The
// handler runs on its own goroutine per event so a slow session operation
// never blocks the key event stream.
func (d *Dispatcher) Run(ctx context.Context, bindings []domain.HotkeyBinding, handle func(domain.HotkeyAction)) error {
	registered := make([]*xhotkey.Hotkey, 0, len(bindings))
	unregisterAll := func() {
		for _, hk := range registered {
			_ = hk.Unregister()
		}
	}

	for _, b := range bindings {
		hk := xhotkey.New(platformModifiers(b.Modifiers), xhotkey.Key(b.KeyCode))
		if err := hk.Register(); err != nil {
			unregisterAll()
			return fmt.Errorf("hotkey: register %s: %w", b.Action, err)
		}
		registered = append(registered, hk)
		d.log.Info("hotkey registered", "action", b.Action, "key", b.KeyCode, "modifiers", b.Modifiers)

		go func(hk *xhotkey.Hotkey, action domain.HotkeyAction) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hk.Keydown():
					go handle(action)
				}
			}
		}(hk, b.Action)
	}

	<-ctx.Done()
	unregisterAll()
	return nil
}
