package model

import (
	"regexp"
	"time"
)

// Variable is a named, mutable JSON value scoped to the orchestration service.
type Variable struct {
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VariableSet is the payload for creating or overwriting a variable.
type VariableSet struct {
	Value     any      `json:"value"`
	Tags      []string `json:"tags,omitempty"`
	Overwrite bool     `json:"overwrite"`
}

var reVariableName = regexp.MustCompile(`^[a-z0-9_-]{1,255}$`)

// ValidateVariableName checks that name uses lowercase letters, digits, '_' or '-'.
func ValidateVariableName(name string) error {
	if !reVariableName.MatchString(name) {
		return NewValidationError("invalid variable name",
			FieldError{Field: "name", Message: "must be 1-255 characters of [a-z0-9_-]"})
	}
	return nil
}
