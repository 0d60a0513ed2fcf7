package topology

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Kinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		notFound bool
		cause    error
	}{
		{"unknown node", UnknownNodeError("add_link", "S9"), KindStructural, true, ErrNodeNotFound},
		{"unknown switch", UnknownSwitchError("reset", 7), KindSynchronization, true, ErrNodeNotFound},
		{"no route", NoRouteError("H1", "H2"), KindRouteComputation, false, ErrNoValidPath},
		{"exhausted", NewError("attach").Kind(KindResourceExhaustion).Cause(ErrIDExhausted).Err(), KindResourceExhaustion, false, ErrIDExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !IsKind(tt.err, tt.kind) {
				t.Errorf("IsKind(%v, %s) = false", tt.err, tt.kind)
			}
			for _, other := range []Kind{KindStructural, KindRouteComputation, KindSynchronization, KindResourceExhaustion} {
				if other != tt.kind && IsKind(tt.err, other) {
					t.Errorf("IsKind(%v, %s) = true", tt.err, other)
				}
			}
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if !errors.Is(tt.err, tt.cause) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.cause)
			}
		})
	}
}

func TestError_WrappedStillMatches(t *testing.T) {
	err := fmt.Errorf("load: %w", UnknownNodeError("add_link", "S9"))
	if !IsKind(err, KindStructural) || !IsNotFound(err) {
		t.Fatalf("wrapped error lost its classification: %v", err)
	}
	var te *Error
	if !errors.As(err, &te) {
		t.Fatal("errors.As failed")
	}
	if te.Entity != "node" || te.Name != "S9" || te.Op != "add_link" {
		t.Errorf("unexpected error fields %+v", te)
	}
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{UnknownNodeError("add_link", "S9"), `add_link node "S9": node not found`},
		{UnknownSwitchError("reset", 0x2a), "reset switch 000000000000002a: node not found"},
		{NewError("load").Cause(errors.New("boom")).Err(), "load : boom"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestKind_String(t *testing.T) {
	if KindResourceExhaustion.String() != "resource_exhaustion" || Kind(42).String() != "unknown" {
		t.Error("unexpected kind names")
	}
}
