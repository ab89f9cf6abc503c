// Package policy decides whether an identity has administrative
// privileges. The model is deliberately a single privileged email
// address, injected from configuration at startup — no roles table.
package policy

import "strings"

// IsAdmin reports whether email matches the configured admin address.
// The match is case-insensitive and exact. Returns false when either
// side is empty, so an unconfigured deployment has no admin.
func IsAdmin(adminEmail, email string) bool {
	adminEmail = strings.TrimSpace(adminEmail)
	email = strings.TrimSpace(email)
	if adminEmail == "" || email == "" {
		return false
	}
	return strings.EqualFold(adminEmail, email)
}
