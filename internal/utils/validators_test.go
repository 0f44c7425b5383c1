package utils

import (
	"strings"
	"testing"
)

func TestIsValidSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"3f2b8f0e-4c1d-4b7a-9d7e-2f1a6c5b9e10", true},
		{"3F2B8F0E-4C1D-4B7A-9D7E-2F1A6C5B9E10", false},
		{"{3f2b8f0e-4c1d-4b7a-9d7e-2f1a6c5b9e10}", false},
		{"../../etc", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidSessionID(tt.id); got != tt.want {
			t.Errorf("IsValidSessionID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestIsValidIdentifier(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"student-42", true},
		{"quiz_7.v2", true},
		{"", false},
		{"a b", false},
		{"x/y", false},
		{strings.Repeat("a", 129), false},
	}
	for _, tt := range tests {
		if got := IsValidIdentifier(tt.id); got != tt.want {
			t.Errorf("IsValidIdentifier(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateSecureToken(32)
	if len(a) != 43 {
		t.Errorf("token length = %d, want 43", len(a))
	}
	if a == b {
		t.Error("two tokens are equal")
	}
	if strings.ContainsAny(a, "+/=") {
		t.Errorf("token %q is not URL-safe", a)
	}
}
