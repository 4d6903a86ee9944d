package providers

import "fmt"

// ModelLoadError reports weights or a tokenizer that could not be located or parsed.
type ModelLoadError struct {
	Model string
	Path  string
	Err   error
}

func (e *ModelLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load model %s: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("load model %s from %s: %v", e.Model, e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }
