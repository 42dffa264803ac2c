package codec

import "fmt"

// DecodeError reports a payload that could not be decoded.
type DecodeError struct {
	Format string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Format, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError reports a value that has no wire representation.
type EncodeError struct {
	Value any
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode lua: unsupported value of type %T", e.Value)
}
