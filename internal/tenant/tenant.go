// Package tenant validates and defaults the tenant that owns a job.
//
// Tenants scope the per-tenant concurrency cap on analysis jobs.
package tenant

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ErrInvalidTenantID is returned for empty or malformed tenant IDs.
var ErrInvalidTenantID = errors.New("invalid tenant ID")

// MaxLength bounds tenant IDs.
const MaxLength = 64

var validPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks a tenant ID: lowercase alphanumerics, '_' and '-',
// starting with an alphanumeric, at most MaxLength long.
func Validate(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTenantID)
	}
	if len(id) > MaxLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidTenantID, MaxLength)
	}
	if !validPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, id)
	}
	return nil
}

// Normalize lowercases id and replaces spaces, then validates it.
func Normalize(id string) (string, error) {
	id = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(id)), " ", "_")
	if err := Validate(id); err != nil {
		return "", err
	}
	return id, nil
}

// Default returns the tenant for single-tenant use: $REMEDYD_TENANT, then
// $USER, then "local".
func Default() string {
	for _, env := range []string{"REMEDYD_TENANT", "USER"} {
		if v := os.Getenv(env); v != "" {
			if id := sanitize(strings.ToLower(v)); id != "" {
				return id
			}
		}
	}
	return "local"
}

// sanitize keeps only characters valid in a tenant ID.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	out := strings.TrimLeft(b.String(), "_-")
	if len(out) > MaxLength {
		out = out[:MaxLength]
	}
	return out
}
