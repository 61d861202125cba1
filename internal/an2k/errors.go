package an2k

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat matches every *FormatError.
	ErrFormat    = errors.New("an2k: malformed transaction")
	ErrTruncated = errors.New("an2k: truncated record")
	ErrBadTag    = errors.New("an2k: malformed field tag")
	ErrBadLength = errors.New("an2k: invalid record length")
)

// FormatError reports unparseable container structure at a byte offset.
type FormatError struct {
	Offset int64
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("an2k: offset %d: %s", e.Offset, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

func formatErr(offset int64, cause error, format string, args ...interface{}) error {
	return &FormatError{Offset: offset, Reason: fmt.Sprintf(format, args...), Err: cause}
}
