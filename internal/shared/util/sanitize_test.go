package util

import (
	"errors"
	"testing"
)

func TestSafeSegment(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "run-1", want: "run-1"},
		{in: "  7f3c  ", want: "7f3c"},
		{in: "", wantErr: true},
		{in: "..", wantErr: true},
		{in: "a/b", wantErr: true},
		{in: `a\b`, wantErr: true},
		{in: "x..y", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			got, err := SafeSegment(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSegment) {
					t.Fatalf("expected ErrInvalidSegment, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("SafeSegment(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}
