package logfields

import (
	"errors"
	"testing"
)

func TestHelpersUseCanonicalKeys(t *testing.T) {
	if a := Subsystem("preview"); a.Key != KeySubsystem || a.Value.String() != "preview" {
		t.Fatalf("unexpected subsystem attr: %v", a)
	}
	if a := EntryCount(12); a.Key != KeyEntryCount || a.Value.Int64() != 12 {
		t.Fatalf("unexpected entry count attr: %v", a)
	}
	if a := Generation(3); a.Key != KeyGeneration || a.Value.Uint64() != 3 {
		t.Fatalf("unexpected generation attr: %v", a)
	}
}

func TestErrorHandlesNil(t *testing.T) {
	if a := Error(nil); a.Value.String() != "" {
		t.Fatalf("expected empty error value, got %q", a.Value.String())
	}
	if a := Error(errors.New("boom")); a.Value.String() != "boom" {
		t.Fatalf("expected boom, got %q", a.Value.String())
	}
}
