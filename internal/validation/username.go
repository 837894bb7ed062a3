// Package validation contains input validation helpers shared by handlers and services.
package validation

import (
	"errors"
	"regexp"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	roleNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// ValidateUsername checks username length and character set.
// Usernames are stored lowercase; uniqueness is case-insensitive.
func ValidateUsername(username string) error {
	if len(username) < 3 || len(username) > 30 {
		return errors.New("username must be between 3 and 30 characters")
	}
	if !usernamePattern.MatchString(username) {
		return errors.New("username may only contain letters, numbers, and underscores")
	}
	return nil
}

// ValidateRoleName checks a user-defined role name against the allowed shape.
func ValidateRoleName(name string) error {
	if name == "" {
		return errors.New("role name is required")
	}
	if len(name) > 64 {
		return errors.New("role name must be at most 64 characters")
	}
	if !roleNamePattern.MatchString(name) {
		return errors.New("role name must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}
