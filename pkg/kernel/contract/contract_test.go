package contract

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRisk(t *testing.T) {
	yes, no := boolPtr(true), boolPtr(false)
	cases := []struct {
		name string
		c    Contract
		want RiskLevel
	}{
		{"pure", Contract{SideEffects: no}, RiskLow},
		{"pure ignores idempotence", Contract{SideEffects: no, Idempotent: no}, RiskLow},
		{"idempotent writer", Contract{SideEffects: yes, Idempotent: yes}, RiskMedium},
		{"repeatable writer", Contract{SideEffects: yes, Deterministic: yes}, RiskHigh},
		{"unpredictable writer", Contract{SideEffects: yes, Deterministic: no}, RiskCritical},
		{"unset", Contract{}, RiskCritical},
	}
	for _, tc := range cases {
		if got := tc.c.Risk(); got != tc.want {
			t.Errorf("%s: Risk() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestResolved(t *testing.T) {
	c := Contract{Reads: []string{"scope"}}
	want := Contract{
		SideEffects:   boolPtr(true),
		Deterministic: boolPtr(false),
		Idempotent:    boolPtr(false),
		Reads:         []string{"scope"},
		Writes:        []string{},
	}
	if diff := cmp.Diff(want, c.Resolved()); diff != "" {
		t.Errorf("Resolved() mismatch (-want +got):\n%s", diff)
	}
	if c.SideEffects != nil {
		t.Error("Resolved must not modify the receiver")
	}
}

func TestForType(t *testing.T) {
	tests := []struct {
		fnType string
		want   RiskLevel
	}{
		{"prompt", RiskLow},
		{"builtin", RiskLow},
		{"command", RiskCritical},
		{"extension", RiskCritical},
	}
	for _, tt := range tests {
		c := ForType(tt.fnType)
		if got := c.Risk(); got != tt.want {
			t.Errorf("ForType(%q).Risk() = %q, want %q", tt.fnType, got, tt.want)
		}
	}
}

func TestMerge(t *testing.T) {
	parent := ForType("command")
	parent.Writes = []string{"fs"}
	child := &Contract{Idempotent: boolPtr(true), Writes: []string{"fs", "net"}}

	m := Merge(&parent, child)
	if m.Risk() != RiskMedium {
		t.Errorf("risk = %q, want medium", m.Risk())
	}
	if len(m.Writes) != 2 || m.Writes[0] != "fs" || m.Writes[1] != "net" {
		t.Errorf("writes = %v", m.Writes)
	}
	if parent.Idempotent != nil {
		t.Error("merge must not modify parent")
	}

	if got := Merge(&parent, nil); got.Risk() != RiskCritical {
		t.Errorf("nil child risk = %q", got.Risk())
	}
}
