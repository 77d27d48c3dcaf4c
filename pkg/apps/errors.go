package apps

import (
	"errors"
	"fmt"
)

// ErrDestroyed is returned by operations on a proxy or manager that has been torn down.
var ErrDestroyed = errors.New("destroyed")

// NotRegisteredError means no module is registered for the kind.
type NotRegisteredError struct {
	Kind string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("app kind %q is not registered", e.Kind)
}

// DuplicateError means the app id, or the instance of a singleton kind, already exists.
type DuplicateError struct {
	AppID string
	Kind  string
}

func (e *DuplicateError) Error() string {
	if e.Kind != "" && e.Kind == e.AppID {
		return fmt.Sprintf("singleton app %q already exists", e.Kind)
	}
	return fmt.Sprintf("app %q of kind %q already exists", e.AppID, e.Kind)
}

// BoxNotCreatedError means the window of the app is accessed before it exists.
type BoxNotCreatedError struct {
	AppID string
}

func (e *BoxNotCreatedError) Error() string {
	return fmt.Sprintf("box of app %q has not been created", e.AppID)
}

type InvalidParamsError struct {
	Reason string
}

func (e *InvalidParamsError) Error() string {
	return "invalid app params: " + e.Reason
}

// SetupError wraps a failure raised by an app's own setup.
type SetupError struct {
	AppID string
	Cause error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup of app %q failed: %v", e.AppID, e.Cause)
}

func (e *SetupError) Unwrap() error {
	return e.Cause
}
