package generation

import "fmt"

// EncodingError reports text that a backend cannot represent as tokens.
type EncodingError struct {
	Model string
	Text  string
	Err   error
}

func (e *EncodingError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("encode %q: %v", e.Text, e.Err)
	}
	return fmt.Sprintf("%s: encode %q: %v", e.Model, e.Text, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// GenerationError reports a failed backend invocation during generation.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("generate: %v", e.Err)
	}
	return fmt.Sprintf("%s: generate: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
