package service

import "fmt"

// NotFoundError reports a lookup for an id that does not exist. Absence is
// never cached, so a later create becomes visible immediately.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// DependencyError reports a failure of a required dependency. Degraded
// optional tiers (search, cache) are logged instead and never surface as
// this error.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}
