package codec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDecode     = errors.New("codec: decode error")
	ErrEncode     = errors.New("codec: encode error")
	ErrConstraint = errors.New("codec: constraint not satisfied")

	ErrOutOfData          = fmt.Errorf("%w: can't read past the end of the stream", ErrDecode)
	ErrContainerTooLarge  = fmt.Errorf("%w: container size exceeds limit", ErrDecode)
	ErrUnsupported        = errors.New("codec: unsupported type")
	ErrEmbeddedTerminator = fmt.Errorf("%w: string contains a terminator byte", ErrEncode)
)

// PathError annotates an error with the chain of composite fields it was raised under,
// outermost first.
type PathError struct {
	Path []string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("codec: field '%s': %v", strings.Join(e.Path, "."), e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// annotate prepends typ.field to the path carried by err.
func annotate(err error, typ, field string) error {
	var pe *PathError
	if errors.As(err, &pe) {
		path := make([]string, 0, len(pe.Path)+2)
		path = append(path, typ, field)
		path = append(path, pe.Path...)
		return &PathError{Path: path, Err: pe.Err}
	}
	return &PathError{Path: []string{typ, field}, Err: err}
}
