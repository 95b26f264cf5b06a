package grid

import "fmt"

// NotFoundError reports an unknown workspace, sheet, or document resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// PermissionError reports a closed-room or role-policy rejection. It is
// surfaced to the caller and never retried.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return e.Reason
}

// ValidationError reports an operation rejected before any state change,
// such as sorting a sheet with multi-row merges.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}
