// Package uid generates the identifiers used for request ids, lock tokens
// and sync runs.
package uid

import "github.com/google/uuid"

// New generates a random identifier.
func New() string {
	return uuid.New().String()
}

// NewOrdered generates a time-ordered identifier, so history rows sort by
// creation when sorted by id. It falls back to a random id.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return New()
	}
	return id.String()
}

// IsValid checks if a string is a valid UUID.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
