// Package hotkey validates global shortcut bindings and dispatches the ones
// that survive validation.
package hotkey

import (
	"sync"

	"whisperpad/internal/domain"
	"whisperpad/internal/ports"
)

// Alert describes why a binding edit was rejected. Conflicting names the
// colliding action for internal duplicates and is empty otherwise.
type Alert struct {
	Kind        domain.HotkeyAlertKind
	Conflicting domain.HotkeyAction
}

// RedundancyPair flags two committed bindings that share a combination.
// Advisory only; defaults may legitimately coincide.
type RedundancyPair struct {
	A domain.HotkeyAction
	B domain.HotkeyAction
}

// Validator guards the binding set with a snapshot-before-mutate,
// commit-or-restore protocol. An edit is either fully applied or the set is
// exactly what it was before the attempt.
type Validator struct {
	registrar ports.ShortcutRegistrar
	defaults  map[domain.HotkeyAction]domain.HotkeyBinding

	mu       sync.Mutex
	bindings map[domain.HotkeyAction]domain.HotkeyBinding
	snapshot map[domain.HotkeyAction]domain.HotkeyBinding
	alert    *Alert
}

func NewValidator(
	registrar ports.ShortcutRegistrar,
	defaults []domain.HotkeyBinding,
	current []domain.HotkeyBinding,
) *Validator {
	v := &Validator{
		registrar: registrar,
		defaults:  indexBindings(defaults),
		bindings:  indexBindings(defaults),
	}
	for _, b := range current {
		v.bindings[b.Action] = b
	}
	return v
}

// Apply attempts to commit one binding edit. The internal duplicate check
// runs strictly before the system-level registration check. On rejection the
// binding set is rolled back and the returned alert stays raised until
// DismissAlert. On success the redundancy report for the committed set is
// returned.
func (v *Validator) Apply(edit domain.HotkeyBinding) (*Alert, []RedundancyPair) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.snapshot = cloneBindings(v.bindings)
	v.bindings[edit.Action] = edit

	if conflicting, ok := v.internalDuplicate(edit); ok {
		v.reject(Alert{Kind: domain.AlertInternalDuplicate, Conflicting: conflicting})
		return v.alert, nil
	}

	if err := v.registrar.TryRegister(edit.KeyCode, edit.Modifiers); err != nil {
		kind := domain.AlertSystemConflict
		if isReserved(err) {
			kind = domain.AlertSystemReserved
		}
		v.reject(Alert{Kind: kind})
		return v.alert, nil
	}

	// Accepted: the snapshot has served its purpose.
	v.snapshot = nil
	v.alert = nil
	return nil, v.redundancyLocked()
}

// DismissAlert clears the rejection alert, the rollback snapshot, and the
// conflicting-type marker.
func (v *Validator) DismissAlert() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alert = nil
	v.snapshot = nil
}

// Alert returns the currently raised alert, if any.
func (v *Validator) Alert() *Alert {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.alert == nil {
		return nil
	}
	a := *v.alert
	return &a
}

// Bindings returns a copy of the committed binding set in stable order.
func (v *Validator) Bindings() []domain.HotkeyBinding {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.HotkeyBinding, 0, len(v.bindings))
	for _, action := range domain.Actions() {
		if b, ok := v.bindings[action]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Redundancy recomputes the advisory coincidence report for the current set.
func (v *Validator) Redundancy() []RedundancyPair {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.redundancyLocked()
}

// internalDuplicate reports a non-default binding of a different action that
// shares the edit's combination. Two bindings still at their factory defaults
// are allowed to coincide.
func (v *Validator) internalDuplicate(edit domain.HotkeyBinding) (domain.HotkeyAction, bool) {
	for _, action := range domain.Actions() {
		if action == edit.Action {
			continue
		}
		other, ok := v.bindings[action]
		if !ok || !other.SameCombo(edit) {
			continue
		}
		if v.isDefault(other) && v.isDefault(edit) {
			continue
		}
		return action, true
	}
	return "", false
}

func (v *Validator) isDefault(b domain.HotkeyBinding) bool {
	def, ok := v.defaults[b.Action]
	return ok && def.SameCombo(b)
}

func (v *Validator) reject(alert Alert) {
	v.bindings = cloneBindings(v.snapshot)
	v.alert = &alert
}

func (v *Validator) redundancyLocked() []RedundancyPair {
	actions := domain.Actions()
	var pairs []RedundancyPair
	for i := 0; i < len(actions); i++ {
		a, okA := v.bindings[actions[i]]
		if !okA {
			continue
		}
		for j := i + 1; j < len(actions); j++ {
			b, okB := v.bindings[actions[j]]
			if okB && a.SameCombo(b) {
				pairs = append(pairs, RedundancyPair{A: actions[i], B: actions[j]})
			}
		}
	}
	return pairs
}

func indexBindings(bindings []domain.HotkeyBinding) map[domain.HotkeyAction]domain.HotkeyBinding {
	out := make(map[domain.HotkeyAction]domain.HotkeyBinding, len(bindings))
	for _, b := range bindings {
		out[b.Action] = b
	}
	return out
}

func cloneBindings(bindings map[domain.HotkeyAction]domain.HotkeyBinding) map[domain.HotkeyAction]domain.HotkeyBinding {
	out := make(map[domain.HotkeyAction]domain.HotkeyBinding, len(bindings))
	for action, b := range bindings {
		out[action] = b
	}
	return out
}
