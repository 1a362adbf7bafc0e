package client

import (
	"errors"
	"testing"
)

func TestOptimisticApplyConfirm(t *testing.T) {
	m := NewOptimisticManager()

	id := m.Apply("readiness", true, false)
	if got, ok := m.Pending("readiness"); !ok || got != true {
		t.Fatalf("Pending() = %v, %v; want true, true", got, ok)
	}
	if err := m.Confirm(id); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if _, ok := m.Pending("readiness"); ok {
		t.Error("confirmed entry must clear the pending value")
	}
	if err := m.Confirm(id); !errors.Is(err, ErrUnknownUpdate) {
		t.Errorf("double Confirm() error = %v, want ErrUnknownUpdate", err)
	}
}

func TestOptimisticRollbackRestoresBaseline(t *testing.T) {
	m := NewOptimisticManager()

	id := m.Apply("customization", "hat-red", "hat-blue")
	got, err := m.Rollback(id)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if got != "hat-blue" {
		t.Errorf("Rollback() = %v, want the pre-update snapshot", got)
	}
	if _, ok := m.Pending("customization"); ok {
		t.Error("rolled-back entry must clear the pending value")
	}
}

func TestOptimisticSupersedeKeepsFirstBaseline(t *testing.T) {
	m := NewOptimisticManager()

	first := m.Apply("customization", "hat-red", "hat-blue")
	second := m.Apply("customization", "hat-green", "hat-red")

	// The first id is superseded and no longer resolvable.
	if err := m.Confirm(first); !errors.Is(err, ErrUnknownUpdate) {
		t.Errorf("Confirm(superseded) error = %v, want ErrUnknownUpdate", err)
	}
	if got, ok := m.Pending("customization"); !ok || got != "hat-green" {
		t.Errorf("Pending() = %v, %v; want hat-green, true", got, ok)
	}

	// Rolling back the chain restores the state from before the first
	// unconfirmed write, not the intermediate prediction.
	got, err := m.Rollback(second)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if got != "hat-blue" {
		t.Errorf("Rollback() = %v, want hat-blue", got)
	}
}

func TestOptimisticUnknownID(t *testing.T) {
	m := NewOptimisticManager()
	if _, err := m.Rollback("nope"); !errors.Is(err, ErrUnknownUpdate) {
		t.Errorf("Rollback(unknown) error = %v, want ErrUnknownUpdate", err)
	}
	if err := m.Confirm("nope"); !errors.Is(err, ErrUnknownUpdate) {
		t.Errorf("Confirm(unknown) error = %v, want ErrUnknownUpdate", err)
	}
}

func TestOptimisticFieldsAreIndependent(t *testing.T) {
	m := NewOptimisticManager()

	readyID := m.Apply("readiness", true, false)
	m.Apply("customization", "hat-red", "hat-blue")

	if err := m.Confirm(readyID); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if _, ok := m.Pending("customization"); !ok {
		t.Error("confirming one field must not clear another")
	}
}
