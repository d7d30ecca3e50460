package models

import "fmt"

// NotFoundError reports an unknown knowledge-base or document identifier.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError reports a required field that is empty or otherwise invalid.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// MalformedInputError reports a persisted record or parameter that could not
// be decoded into its expected shape.
type MalformedInputError struct {
	Detail string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed input: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("malformed input: %s", e.Detail)
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}
