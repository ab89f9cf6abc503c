package policy

import "testing"

func TestIsAdmin(t *testing.T) {
	cases := []struct {
		name       string
		adminEmail string
		email      string
		want       bool
	}{
		{name: "exact match", adminEmail: "studio@atelier.dev", email: "studio@atelier.dev", want: true},
		{name: "case insensitive", adminEmail: "Studio@Atelier.dev", email: "studio@atelier.DEV", want: true},
		{name: "whitespace trimmed", adminEmail: " studio@atelier.dev ", email: "studio@atelier.dev", want: true},
		{name: "different address", adminEmail: "studio@atelier.dev", email: "client@example.com", want: false},
		{name: "no admin configured", adminEmail: "", email: "studio@atelier.dev", want: false},
		{name: "empty email", adminEmail: "studio@atelier.dev", email: "", want: false},
		{name: "both empty", adminEmail: "", email: "", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAdmin(tc.adminEmail, tc.email); got != tc.want {
				t.Fatalf("IsAdmin(%q, %q) = %v, want %v", tc.adminEmail, tc.email, got, tc.want)
			}
		})
	}
}
