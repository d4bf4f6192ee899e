package features

import "fmt"

// InputError ties a pipeline failure to the input that caused it.
type InputError struct {
	Path  string
	Stage string
	Err   error
}

func (e *InputError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

func inputError(path, stage string, err error) error {
	if err == nil {
		return nil
	}
	return &InputError{Path: path, Stage: stage, Err: err}
}
