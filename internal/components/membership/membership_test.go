package membership_test

import (
	"errors"
	"testing"

	"github.com/drivebags/drivebags-go/internal/components/membership"
)

func TestEmailKeyer_Key(t *testing.T) {
	k := membership.NewEmailKeyer()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "bob@example.com", want: "bob@example.com"},
		{in: "  Bob@Example.COM ", want: "bob@example.com"},
		{in: "anna@bücher.example", want: "anna@xn--bcher-kva.example"},
		{in: "no-at-sign", wantErr: true},
		{in: "@example.com", wantErr: true},
		{in: "bob@", wantErr: true},
		{in: "bo b@example.com", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := k.Key(tt.in)
			if tt.wantErr {
				if !errors.Is(err, membership.ErrInvalidEmail) {
					t.Fatalf("expected ErrInvalidEmail, got %v (%q)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Key(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMustKey_InvalidIsEmpty(t *testing.T) {
	if got := membership.MustKey(membership.Default, "broken"); got != "" {
		t.Errorf("expected empty key, got %q", got)
	}
}
