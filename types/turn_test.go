package types

import (
	"testing"
	"time"
)

func TestRole_IsValid(t *testing.T) {
	tests := []struct {
		role  Role
		valid bool
	}{
		{RoleUser, true},
		{RoleAssistant, true},
		{RoleSummary, true},
		{Role("system"), false},
		{Role(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestSession_CloneIsIndependent(t *testing.T) {
	now := time.Now()
	s := &Session{ID: "s1", Turns: []Turn{NewTurn(RoleUser, "hello", now)}, Version: 3}

	c := s.Clone()
	c.Turns = append(c.Turns, NewTurn(RoleAssistant, "hi", now))
	c.Turns[0].Content = "changed"

	if len(s.Turns) != 1 {
		t.Fatalf("original turns = %d, want 1", len(s.Turns))
	}
	if s.Turns[0].Content != "hello" {
		t.Errorf("original content = %q, want %q", s.Turns[0].Content, "hello")
	}
	if c.Version != 3 {
		t.Errorf("clone version = %d, want 3", c.Version)
	}
}

func TestSession_IsNew(t *testing.T) {
	if !(&Session{}).IsNew() {
		t.Error("zero session should be new")
	}
	if (&Session{Version: 1}).IsNew() {
		t.Error("committed session should not be new")
	}
}

func TestTurn_IsSummary(t *testing.T) {
	if !NewTurn(RoleSummary, "x", time.Now()).IsSummary() {
		t.Error("summary turn not recognised")
	}
	if NewTurn(RoleAssistant, "x", time.Now()).IsSummary() {
		t.Error("assistant turn reported as summary")
	}
}
