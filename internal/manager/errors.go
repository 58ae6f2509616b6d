package manager

import "errors"

var (
	// ErrNotFound is returned for actions on a name the registry does not track.
	ErrNotFound = errors.New("process not found")
	// ErrAlreadyRunning is returned by Start when the name is tracked and alive.
	ErrAlreadyRunning = errors.New("process already running")
	// ErrInvalid wraps rejected process definitions and configuration.
	ErrInvalid = errors.New("invalid request")
)

// keepErr carries an action error out of a registry update whose mutations
// must still be saved, such as a spawn failure recorded as errored.
type keepErr struct{ err error }

func (k *keepErr) Error() string { return k.err.Error() }
func (k *keepErr) Unwrap() error { return k.err }

func keep(err error) error {
	if err == nil {
		return nil
	}
	return &keepErr{err: err}
}
