package action

import (
	"errors"
	"fmt"
)

// RemoteError is the failure of an action on one target.
type RemoteError struct {
	Action string
	Target string
	Output string
	Err    error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("action %s failed on %s: %v", e.Action, e.Target, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Cause strips the wrapping added on the way up from a remote failure and
// returns the error reported by the action itself. Errors that do not come
// from an action are returned unchanged.
func Cause(err error) error {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Err
	}
	return err
}
