package util

import "testing"

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"User@Example.COM ", "user@example.com"},
		{"  alice@test.io", "alice@test.io"},
		{"BOB@HOST.NET", "bob@host.net"},
		{"plain@addr.com", "plain@addr.com"},
	}

	for _, tt := range tests {
		if got := NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"mixed case with trailing space", "User@Example.COM ", "user@example.com", false},
		{"already normalized", "bob@host.net", "bob@host.net", false},
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
		{"missing domain", "user@", "", true},
		{"missing local part", "@example.com", "", true},
		{"not an address", "not-an-email", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateEmail(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ValidateEmail(%q) expected error, got %q", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateEmail(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ValidateEmail(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
